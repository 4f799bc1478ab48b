// Package claim owns the Guia lifecycle: authoring, validation, numbering,
// the status state machine and the application of adjudication outcomes.
package claim

import (
	"time"

	"github.com/google/uuid"
)

// Guia kinds.
const (
	KindConsulta    = "CONSULTA"
	KindSPSADT      = "SP_SADT"
	KindHonorarios  = "HONORARIOS"
	KindAutorizacao = "AUTORIZACAO"
	KindInternacao  = "INTERNACAO"
)

// Guia statuses.
const (
	StatusDraft     = "DRAFT"
	StatusFinalized = "FINALIZED"
	StatusSubmitted = "SUBMITTED"
	StatusPaid      = "PAID"
	StatusDenied    = "DENIED"
	StatusCancelled = "CANCELLED"
)

// transitions is the Guia state machine. DENIED to PAID is intentionally
// absent; that path goes through the explicit correction operation only.
var transitions = map[string][]string{
	StatusDraft:     {StatusFinalized, StatusCancelled},
	StatusFinalized: {StatusSubmitted, StatusCancelled},
	StatusSubmitted: {StatusPaid, StatusDenied},
	StatusPaid:      {},
	StatusDenied:    {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Guia maps to the guia table. Patient and professional fields are
// denormalized snapshots taken at creation time.
type Guia struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	Numero              string          `db:"numero" json:"numero"`
	Kind                string          `db:"kind" json:"kind" validate:"required,oneof=CONSULTA SP_SADT HONORARIOS AUTORIZACAO INTERNACAO"`
	Status              string          `db:"status" json:"status"`
	ConvenioID          uuid.UUID       `db:"convenio_id" json:"convenio_id" validate:"required"`
	LoteID              *uuid.UUID      `db:"lote_id" json:"lote_id,omitempty"`
	PatientName         string          `db:"patient_name" json:"patient_name" validate:"required,min=3,max=70"`
	PatientCard         string          `db:"patient_card" json:"patient_card" validate:"required,max=20"`
	ProfessionalName    string          `db:"professional_name" json:"professional_name" validate:"required,min=3,max=70"`
	ProfessionalLicense string          `db:"professional_license" json:"professional_license" validate:"required,max=15"`
	DiagnosisCode       string          `db:"diagnosis_code" json:"diagnosis_code" validate:"required,max=10"`
	Justification       *string         `db:"justification" json:"justification,omitempty"`
	Lines               []ProcedureLine `db:"-" json:"lines" validate:"dive"`
	TotalAmount         float64         `db:"total_amount" json:"total_amount"`
	PaidAmount          *float64        `db:"paid_amount" json:"paid_amount,omitempty"`
	DeniedAmount        *float64        `db:"denied_amount" json:"denied_amount,omitempty"`
	FinalizedAt         *time.Time      `db:"finalized_at" json:"finalized_at,omitempty"`
	SubmittedAt         *time.Time      `db:"submitted_at" json:"submitted_at,omitempty"`
	ProcessedAt         *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	Version             int             `db:"version" json:"version"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// GetVersion returns the current version.
func (g *Guia) GetVersion() int { return g.Version }

// SetVersion sets the current version.
func (g *Guia) SetVersion(v int) { g.Version = v }

// ComputeTotal recomputes every line total and the claim total. The total
// is always derived, never caller-supplied.
func (g *Guia) ComputeTotal() {
	var total float64
	for i := range g.Lines {
		g.Lines[i].LineTotal = float64(g.Lines[i].Quantity) * g.Lines[i].UnitPrice
		total += g.Lines[i].LineTotal
	}
	g.TotalAmount = total
}

// ProcedureLine is one billable service within a Guia.
type ProcedureLine struct {
	ID          uuid.UUID `db:"id" json:"id"`
	GuiaID      uuid.UUID `db:"guia_id" json:"guia_id"`
	Position    int       `db:"position" json:"position"`
	Code        string    `db:"code" json:"code" validate:"required,max=20"`
	Description string    `db:"description" json:"description" validate:"required,max=150"`
	Quantity    int       `db:"quantity" json:"quantity" validate:"gt=0"`
	UnitPrice   float64   `db:"unit_price" json:"unit_price" validate:"gt=0"`
	LineTotal   float64   `db:"line_total" json:"line_total"`
	ServiceDate time.Time `db:"service_date" json:"service_date" validate:"required"`
}
