// Package glosa tracks payment denials and their time-boxed contestation
// workflow.
package glosa

import (
	"crypto/rand"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Glosa statuses.
const (
	StatusPending   = "PENDING"
	StatusContested = "CONTESTED"
	StatusReversed  = "REVERSED"
	StatusUpheld    = "UPHELD"
)

// ContestationWindow is the payer-mandated period for disputing a denial.
const ContestationWindow = 30 * 24 * time.Hour

// Glosa maps to the glosa table. DaysRemaining is derived at read time,
// never stored.
type Glosa struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	GuiaID               uuid.UUID  `db:"guia_id" json:"guia_id"`
	RetornoID            *uuid.UUID `db:"retorno_id" json:"retorno_id,omitempty"`
	Code                 string     `db:"code" json:"code"`
	Reason               string     `db:"reason" json:"reason"`
	Amount               float64    `db:"amount" json:"amount"`
	Status               string     `db:"status" json:"status"`
	ContestationDeadline time.Time  `db:"contestation_deadline" json:"contestation_deadline"`
	DaysRemaining        int        `db:"-" json:"days_remaining"`
	ContestationProtocol *string    `db:"contestation_protocol" json:"contestation_protocol,omitempty"`
	Justification        *string    `db:"justification" json:"justification,omitempty"`
	EvidenceRefs         []string   `db:"-" json:"evidence_refs,omitempty"`
	SettlementAmount     *float64   `db:"settlement_amount" json:"settlement_amount,omitempty"`
	ResolvedAt           *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// ComputeDaysRemaining derives the days left in the contestation window.
// Negative values mean the window expired.
func (g *Glosa) ComputeDaysRemaining(now time.Time) {
	g.DaysRemaining = int(math.Ceil(g.ContestationDeadline.Sub(now).Hours() / 24))
}

const protocolAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// generateProtocol produces a contestation protocol number.
func generateProtocol() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate contestation protocol: %w", err)
	}
	for i := range b {
		b[i] = protocolAlphabet[int(b[i])%len(protocolAlphabet)]
	}
	return "CT-" + string(b), nil
}
