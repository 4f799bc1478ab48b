// Package retorno ingests payer adjudication returns. The parser turns
// the XML document into per-claim outcomes; the service applies them to
// claims, opens denials, projects payments and writes the immutable
// audit record.
package retorno

import (
	"time"

	"github.com/google/uuid"
)

// Processing status of a return document. PROCESSING marks a record
// whose outcomes are still being applied; a crash leaves it behind and
// the next delivery of the same protocol resumes it.
const (
	StatusProcessing = "PROCESSING"
	StatusProcessed  = "PROCESSED"
	StatusError      = "ERROR"
)

// Per-node application results recorded on retorno_item. Skips and
// fallbacks are always observable here, never swallowed.
const (
	ItemApplied       = "APPLIED"
	ItemStillInFlight = "STILL_IN_FLIGHT"
	ItemSkipped       = "SKIPPED_UNKNOWN_CLAIM"
	ItemStateConflict = "STATE_CONFLICT"
	ItemNodeError     = "NODE_ERROR"
	ItemFailed        = "FAILED"
)

// Retorno is the audit record for one return document. It is created
// PROCESSING, finalized to PROCESSED once every outcome has been
// applied, and never mutated after that.
type Retorno struct {
	ID           uuid.UUID `db:"id" json:"id"`
	LoteID       uuid.UUID `db:"lote_id" json:"lote_id"`
	Protocolo    string    `db:"protocolo" json:"protocolo"`
	TotalAmount  float64   `db:"total_amount" json:"total_amount"`
	PaidAmount   float64   `db:"paid_amount" json:"paid_amount"`
	DeniedAmount float64   `db:"denied_amount" json:"denied_amount"`
	ClaimCount   int       `db:"claim_count" json:"claim_count"`
	DenialCount  int       `db:"denial_count" json:"denial_count"`
	Status       string    `db:"status" json:"status"`
	ErrorDetail  *string   `db:"error_detail" json:"error_detail,omitempty"`
	Items        []Item    `db:"-" json:"items,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Item is the audit row for one claim-outcome node of the document.
type Item struct {
	ID           uuid.UUID `db:"id" json:"id"`
	RetornoID    uuid.UUID `db:"retorno_id" json:"retorno_id"`
	Node         int       `db:"node" json:"node"`
	GuiaNumero   string    `db:"guia_numero" json:"guia_numero"`
	Outcome      string    `db:"outcome" json:"outcome"`
	PaidAmount   float64   `db:"paid_amount" json:"paid_amount"`
	DeniedAmount float64   `db:"denied_amount" json:"denied_amount"`
	DenialCount  int       `db:"denial_count" json:"denial_count"`
	Result       string    `db:"result" json:"result"`
	Detail       *string   `db:"detail" json:"detail,omitempty"`
}
