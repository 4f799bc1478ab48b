// Package batch groups finalized claims into payer-scoped lotes and owns
// the claim-to-batch membership edge.
package batch

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lote statuses.
const (
	StatusOpen      = "OPEN"
	StatusClosed    = "CLOSED"
	StatusSubmitted = "SUBMITTED"
	StatusProcessed = "PROCESSED"
	StatusCancelled = "CANCELLED"
)

var transitions = map[string][]string{
	StatusOpen:      {StatusClosed, StatusCancelled},
	StatusClosed:    {StatusSubmitted, StatusCancelled},
	StatusSubmitted: {StatusProcessed},
	StatusProcessed: {},
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

// CompetencePattern matches the MM/YYYY competence period.
var CompetencePattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{4}$`)

// Lote maps to the lote table. TotalAmount always equals the sum of the
// member claims' totals; it is recomputed, never accumulated.
type Lote struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Numero         string     `db:"numero" json:"numero"`
	ConvenioID     uuid.UUID  `db:"convenio_id" json:"convenio_id" validate:"required"`
	Competence     string     `db:"competence" json:"competence" validate:"required"`
	Status         string     `db:"status" json:"status"`
	TotalAmount    float64    `db:"total_amount" json:"total_amount"`
	PaidAmount     *float64   `db:"paid_amount" json:"paid_amount,omitempty"`
	DeniedAmount   *float64   `db:"denied_amount" json:"denied_amount,omitempty"`
	ProtocolNumber *string    `db:"protocol_number" json:"protocol_number,omitempty"`
	ClaimCount     int        `db:"claim_count" json:"claim_count"`
	ClosedAt       *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	SubmittedAt    *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	ProcessedAt    *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	Version        int        `db:"version" json:"version"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// GetVersion returns the current version.
func (l *Lote) GetVersion() int { return l.Version }

// SetVersion sets the current version.
func (l *Lote) SetVersion(v int) { l.Version = v }

const (
	numeroPrefix    = "LT"
	numeroSuffixLen = 6
	base36Alphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NumeroPattern matches a generated batch number: prefix, the competence
// digits, and a six-character random suffix.
var NumeroPattern = regexp.MustCompile(`^LT\d{6}-[0-9A-Z]{6}$`)

// generateNumero builds a candidate batch number from the competence
// period. Uniqueness is probabilistic; callers retry on collision.
func generateNumero(competence string) (string, error) {
	b := make([]byte, numeroSuffixLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate batch number: %w", err)
	}
	for i := range b {
		b[i] = base36Alphabet[int(b[i])%len(base36Alphabet)]
	}
	digits := strings.ReplaceAll(competence, "/", "")
	return fmt.Sprintf("%s%s-%s", numeroPrefix, digits, b), nil
}
