package retorno

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/saudeplus/tiss/internal/domain/claim"
	"github.com/saudeplus/tiss/internal/platform/errs"
)

// Canonical field keys produced by the alias tables.
const (
	fieldNumero = "numero"
	fieldStatus = "status"
	fieldPaid   = "paid"
	fieldDenied = "denied"
)

// Payer formats drift across tag spellings. New variants are additive
// entries here, not parser changes. Lookup keys are lowercased local
// names.
var outcomeFields = map[string]string{
	"numeroguiaprestador": fieldNumero,
	"numeroguia":          fieldNumero,
	"situacaoguia":        fieldStatus,
	"status":              fieldStatus,
	"valorpago":           fieldPaid,
	"valorliquido":        fieldPaid,
	"valorglosa":          fieldDenied,
	"valorglosado":        fieldDenied,
}

var denialFields = map[string]string{
	"codigoglosa":    "code",
	"codigo":         "code",
	"descricaoglosa": "reason",
	"motivo":         "reason",
	"valorglosado":   "amount",
	"valor":          "amount",
}

var (
	outcomeTags  = map[string]bool{"guia": true, "dadosguia": true, "guiaretorno": true}
	denialTags   = map[string]bool{"glosa": true, "motivoglosa": true}
	protocolTags = map[string]bool{"numeroprotocolo": true, "protocolo": true}
)

var (
	paidMarkers   = []string{"PAGO", "LIQUIDADO", "PAID", "SETTLED"}
	deniedMarkers = []string{"GLOSADO", "NEGADO", "RECUSADO", "DENIED"}
)

// Classify maps the payer's raw status text to the claim tri-state. An
// unrecognized status means still in flight, never silently paid.
func Classify(raw string) string {
	up := strings.ToUpper(raw)
	for _, m := range paidMarkers {
		if strings.Contains(up, m) {
			return claim.StatusPaid
		}
	}
	for _, m := range deniedMarkers {
		if strings.Contains(up, m) {
			return claim.StatusDenied
		}
	}
	return claim.StatusSubmitted
}

// Outcome is one decoded claim-outcome node.
type Outcome struct {
	Node         int
	GuiaNumero   string
	RawStatus    string
	Status       string
	PaidAmount   float64
	DeniedAmount float64
	Denials      []DenialEntry
}

// DenialEntry is one nested denial inside a claim-outcome node.
type DenialEntry struct {
	Code   string
	Reason string
	Amount float64
}

// NodeError records a malformed node that was isolated and skipped.
type NodeError struct {
	Node   int
	Detail string
}

// ParseResult is the full decode of one return document. Totals cover
// every well-formed node regardless of how application succeeds
// downstream.
type ParseResult struct {
	Protocolo   string
	Outcomes    []Outcome
	NodeErrors  []NodeError
	PaidTotal   float64
	DeniedTotal float64
	Total       float64
}

// Parse decodes a return document. A malformed individual node is
// isolated into NodeErrors while the rest of the document proceeds; only
// input that is not well-formed XML fails the whole document, with a
// ParseError at node -1.
func Parse(payload []byte) (*ParseResult, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	res := &ParseResult{}
	node := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &errs.ParseError{Node: -1, Detail: err.Error()}
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		name := strings.ToLower(se.Name.Local)
		switch {
		case protocolTags[name] && res.Protocolo == "":
			text, err := readText(dec)
			if err != nil {
				return nil, &errs.ParseError{Node: -1, Detail: err.Error()}
			}
			res.Protocolo = strings.TrimSpace(text)
		case outcomeTags[name]:
			node++
			o, detail, err := parseOutcome(dec, se, node)
			if err != nil {
				return nil, &errs.ParseError{Node: -1, Detail: err.Error()}
			}
			if detail != "" {
				res.NodeErrors = append(res.NodeErrors, NodeError{Node: node, Detail: detail})
				continue
			}
			res.Outcomes = append(res.Outcomes, *o)
			res.PaidTotal += o.PaidAmount
			res.DeniedTotal += o.DeniedAmount
		}
	}
	res.Total = res.PaidTotal + res.DeniedTotal
	return res, nil
}

// parseOutcome consumes one claim-outcome subtree. It always reads to
// the closing tag so a bad field never desynchronizes the outer walk;
// the first field problem is reported as the node detail.
func parseOutcome(dec *xml.Decoder, start xml.StartElement, node int) (*Outcome, string, error) {
	o := &Outcome{Node: node}
	var detail string
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, "", err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name == start.Name {
				if detail == "" && o.GuiaNumero == "" {
					detail = "missing claim number"
				}
				if detail != "" {
					return nil, detail, nil
				}
				o.Status = Classify(o.RawStatus)
				return o, "", nil
			}
		case xml.StartElement:
			name := strings.ToLower(t.Name.Local)
			switch {
			case denialTags[name]:
				d, derr, err := parseDenial(dec, t)
				if err != nil {
					return nil, "", err
				}
				if derr != "" {
					if detail == "" {
						detail = derr
					}
					continue
				}
				o.Denials = append(o.Denials, *d)
			default:
				field, ok := outcomeFields[name]
				if !ok {
					if err := dec.Skip(); err != nil {
						return nil, "", err
					}
					continue
				}
				text, err := readText(dec)
				if err != nil {
					return nil, "", err
				}
				if ferr := o.setField(field, text); ferr != nil && detail == "" {
					detail = ferr.Error()
				}
			}
		}
	}
}

func (o *Outcome) setField(field, text string) error {
	switch field {
	case fieldNumero:
		o.GuiaNumero = strings.TrimSpace(text)
	case fieldStatus:
		o.RawStatus = strings.TrimSpace(text)
	case fieldPaid:
		v, err := parseAmount(text)
		if err != nil {
			return fmt.Errorf("invalid paid amount %q", strings.TrimSpace(text))
		}
		o.PaidAmount = v
	case fieldDenied:
		v, err := parseAmount(text)
		if err != nil {
			return fmt.Errorf("invalid denied amount %q", strings.TrimSpace(text))
		}
		o.DeniedAmount = v
	}
	return nil
}

func parseDenial(dec *xml.Decoder, start xml.StartElement) (*DenialEntry, string, error) {
	d := &DenialEntry{}
	var detail string
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, "", err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name == start.Name {
				if detail != "" {
					return nil, detail, nil
				}
				return d, "", nil
			}
		case xml.StartElement:
			field, ok := denialFields[strings.ToLower(t.Name.Local)]
			if !ok {
				if err := dec.Skip(); err != nil {
					return nil, "", err
				}
				continue
			}
			text, err := readText(dec)
			if err != nil {
				return nil, "", err
			}
			switch field {
			case "code":
				d.Code = strings.TrimSpace(text)
			case "reason":
				d.Reason = strings.TrimSpace(text)
			case "amount":
				v, aerr := parseAmount(text)
				if aerr != nil && detail == "" {
					detail = fmt.Sprintf("invalid denial amount %q", strings.TrimSpace(text))
					continue
				}
				d.Amount = v
			}
		}
	}
}

// readText collects the character data of the current leaf element,
// skipping any unexpected children.
func readText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			return sb.String(), nil
		case xml.StartElement:
			if err := dec.Skip(); err != nil {
				return "", err
			}
		}
	}
}

// parseAmount accepts both decimal separators payers use: "1.234,56"
// and "1234.56".
func parseAmount(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if i := strings.LastIndexByte(s, ','); i >= 0 {
		s = strings.ReplaceAll(s[:i], ".", "") + "." + s[i+1:]
	}
	return strconv.ParseFloat(s, 64)
}
