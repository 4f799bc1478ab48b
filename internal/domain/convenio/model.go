// Package convenio holds the payer registry. Convenios are reference data
// consumed by claims and batches; they are deactivated, never deleted.
package convenio

import (
	"time"

	"github.com/google/uuid"
)

// Billing-table modes.
const (
	TableTUSS       = "TUSS"
	TablePropria    = "PROPRIA"
	TablePercentual = "PERCENTUAL"
)

// Convenio maps to the convenio table.
type Convenio struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"name" json:"name" validate:"required,min=2,max=120"`
	ANSCode         string    `db:"ans_code" json:"ans_code" validate:"required,min=4,max=20"`
	CNPJ            string    `db:"cnpj" json:"cnpj" validate:"required,len=14,numeric"`
	TableMode       string    `db:"table_mode" json:"table_mode" validate:"required,oneof=TUSS PROPRIA PERCENTUAL"`
	TablePercent    *float64  `db:"table_percent" json:"table_percent,omitempty"`
	PaymentTermDays int       `db:"payment_term_days" json:"payment_term_days" validate:"gte=0,lte=365"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
