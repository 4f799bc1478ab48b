// Package financial projects paid claims into the income ledger and the
// receivable records, guarded by an idempotency key so reprocessing a
// return never double-counts revenue.
package financial

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Receivable status and method values stamped on ledger records.
const (
	ReceivableStatusPaid = "paid"
	MethodInsurance      = "insurance"
)

// Transacao is one income-ledger entry, mapped to transacao_financeira.
type Transacao struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	IdempotencyKey  string     `db:"idempotency_key" json:"idempotency_key"`
	GuiaID          uuid.UUID  `db:"guia_id" json:"guia_id"`
	LoteID          *uuid.UUID `db:"lote_id" json:"lote_id,omitempty"`
	ConvenioID      uuid.UUID  `db:"convenio_id" json:"convenio_id"`
	Amount          float64    `db:"amount" json:"amount"`
	Description     string     `db:"description" json:"description"`
	TransactionDate time.Time  `db:"transaction_date" json:"transaction_date"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Recebimento is one settled receivable, mapped to recebimento. DueDate
// reflects the convenio's contractual payment term.
type Recebimento struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	IdempotencyKey string     `db:"idempotency_key" json:"idempotency_key"`
	GuiaID         uuid.UUID  `db:"guia_id" json:"guia_id"`
	LoteID         *uuid.UUID `db:"lote_id" json:"lote_id,omitempty"`
	ConvenioID     uuid.UUID  `db:"convenio_id" json:"convenio_id"`
	Amount         float64    `db:"amount" json:"amount"`
	Status         string     `db:"status" json:"status"`
	Method         string     `db:"method" json:"method"`
	ReceiptRef     string     `db:"receipt_ref" json:"receipt_ref"`
	DueDate        time.Time  `db:"due_date" json:"due_date"`
	ReceivedAt     time.Time  `db:"received_at" json:"received_at"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// PendingPayment parks a projection that could not reach the ledger so a
// background worker can retry it. The claim's PAID status is never
// rolled back on ledger failure.
type PendingPayment struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	IdempotencyKey  string     `db:"idempotency_key" json:"idempotency_key"`
	GuiaID          uuid.UUID  `db:"guia_id" json:"guia_id"`
	GuiaNumero      string     `db:"guia_numero" json:"guia_numero"`
	LoteID          *uuid.UUID `db:"lote_id" json:"lote_id,omitempty"`
	ConvenioID      uuid.UUID  `db:"convenio_id" json:"convenio_id"`
	Amount          float64    `db:"amount" json:"amount"`
	PaymentTermDays int        `db:"payment_term_days" json:"payment_term_days"`
	Attempts        int        `db:"attempts" json:"attempts"`
	LastError       string     `db:"last_error" json:"last_error"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// IdempotencyKey derives the ledger dedupe key for one claim within one
// return document.
func IdempotencyKey(guiaID, retornoID uuid.UUID) string {
	return guiaID.String() + ":" + retornoID.String()
}

const receiptAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func generateReceiptRef() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate receipt reference: %w", err)
	}
	for i := range b {
		b[i] = receiptAlphabet[int(b[i])%len(receiptAlphabet)]
	}
	return "REC-" + string(b), nil
}
