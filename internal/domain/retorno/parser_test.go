package retorno

import (
	"errors"
	"strings"
	"testing"

	"github.com/saudeplus/tiss/internal/domain/claim"
	"github.com/saudeplus/tiss/internal/platform/errs"
)

const sampleReturn = `<?xml version="1.0" encoding="UTF-8"?>
<retornoLote>
  <numeroProtocolo>P-2026-001</numeroProtocolo>
  <guia>
    <numeroGuiaPrestador>2026ABC123DEF</numeroGuiaPrestador>
    <situacaoGuia>PAGO</situacaoGuia>
    <valorPago>1.234,56</valorPago>
  </guia>
  <guia>
    <numeroGuia>2026XYZ987GHI</numeroGuia>
    <status>GLOSADO</status>
    <valorLiquido>0.00</valorLiquido>
    <valorGlosa>50.00</valorGlosa>
    <glosa>
      <codigoGlosa>1802</codigoGlosa>
      <descricaoGlosa>Cobranca em duplicidade</descricaoGlosa>
      <valorGlosado>50,00</valorGlosado>
    </glosa>
  </guia>
</retornoLote>`

func TestParse(t *testing.T) {
	res, err := Parse([]byte(sampleReturn))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if res.Protocolo != "P-2026-001" {
		t.Errorf("expected protocol P-2026-001, got %q", res.Protocolo)
	}
	if len(res.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(res.Outcomes))
	}

	paid := res.Outcomes[0]
	if paid.GuiaNumero != "2026ABC123DEF" || paid.Status != claim.StatusPaid {
		t.Errorf("unexpected first outcome %+v", paid)
	}
	if paid.PaidAmount != 1234.56 {
		t.Errorf("expected comma-decimal 1234.56, got %v", paid.PaidAmount)
	}

	denied := res.Outcomes[1]
	if denied.GuiaNumero != "2026XYZ987GHI" || denied.Status != claim.StatusDenied {
		t.Errorf("unexpected second outcome %+v", denied)
	}
	if denied.DeniedAmount != 50.00 {
		t.Errorf("expected denied 50.00, got %v", denied.DeniedAmount)
	}
	if len(denied.Denials) != 1 {
		t.Fatalf("expected 1 nested denial, got %d", len(denied.Denials))
	}
	d := denied.Denials[0]
	if d.Code != "1802" || d.Reason != "Cobranca em duplicidade" || d.Amount != 50.00 {
		t.Errorf("unexpected denial entry %+v", d)
	}

	if res.PaidTotal != 1234.56 || res.DeniedTotal != 50.00 {
		t.Errorf("unexpected totals paid=%v denied=%v", res.PaidTotal, res.DeniedTotal)
	}
	if res.Total != 1284.56 {
		t.Errorf("expected total 1284.56, got %v", res.Total)
	}
}

func TestParse_MalformedNodeIsolated(t *testing.T) {
	doc := `<retornoLote>
	  <protocolo>P-002</protocolo>
	  <guia>
	    <numeroGuia>2026GOOD00001</numeroGuia>
	    <status>PAGO</status>
	    <valorPago>300.00</valorPago>
	  </guia>
	  <guia>
	    <numeroGuia>2026BAD000001</numeroGuia>
	    <status>PAGO</status>
	    <valorPago>not-a-number</valorPago>
	  </guia>
	</retornoLote>`

	res, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(res.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(res.Outcomes))
	}
	if len(res.NodeErrors) != 1 {
		t.Fatalf("expected 1 node error, got %d", len(res.NodeErrors))
	}
	ne := res.NodeErrors[0]
	if ne.Node != 2 || !strings.Contains(ne.Detail, "not-a-number") {
		t.Errorf("unexpected node error %+v", ne)
	}
	if res.PaidTotal != 300.00 {
		t.Errorf("totals must cover well-formed nodes only, got %v", res.PaidTotal)
	}
}

func TestParse_MissingClaimNumber(t *testing.T) {
	doc := `<retornoLote><guia><status>PAGO</status></guia></retornoLote>`
	res, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(res.Outcomes) != 0 || len(res.NodeErrors) != 1 {
		t.Fatalf("expected node error only, got %d/%d", len(res.Outcomes), len(res.NodeErrors))
	}
}

func TestParse_NotWellFormed(t *testing.T) {
	_, err := Parse([]byte(`<retornoLote><guia><numeroGuia>x`))
	var pe *errs.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Node != -1 {
		t.Errorf("document failure must report node -1, got %d", pe.Node)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"PAGO", claim.StatusPaid},
		{"Liquidado", claim.StatusPaid},
		{"SETTLED", claim.StatusPaid},
		{"GLOSADO", claim.StatusDenied},
		{"negado", claim.StatusDenied},
		{"EM ANALISE", claim.StatusSubmitted},
		{"", claim.StatusSubmitted},
	}
	for _, tc := range cases {
		if got := Classify(tc.raw); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"1.234,56", 1234.56},
		{"300.00", 300.00},
		{"300,5", 300.5},
		{" 42 ", 42},
		{"", 0},
	}
	for _, tc := range cases {
		got, err := parseAmount(tc.raw)
		if err != nil {
			t.Errorf("parseAmount(%q) error: %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseAmount(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
	if _, err := parseAmount("abc"); err == nil {
		t.Error("expected error for non-numeric amount")
	}
}
