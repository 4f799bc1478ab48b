// Package events records domain events in a transactional outbox and
// delivers them to subscribed webhook endpoints with HMAC-SHA256 signing
// and bounded retry.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the billing pipeline.
const (
	TypeClaimFinalized  = "claim.finalized"
	TypeClaimPaid       = "claim.paid"
	TypeClaimDenied     = "claim.denied"
	TypeBatchClosed     = "batch.closed"
	TypeBatchSubmitted  = "batch.submitted"
	TypeReturnProcessed = "return.processed"
	TypeDenialCreated   = "denial.created"
	TypeDenialContested = "denial.contested"
	TypeDenialResolved  = "denial.resolved"
)

// Outbox statuses.
const (
	StatusPending   = "PENDING"
	StatusDelivered = "DELIVERED"
	StatusFailed    = "FAILED"
)

// Event is a single outbox row. Events are written in the same transaction
// as the mutation that caused them and delivered asynchronously.
type Event struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Type          string          `json:"type" db:"event_type"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id" db:"aggregate_id"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	Status        string          `json:"status" db:"status"`
	Attempts      int             `json:"attempts" db:"attempts"`
	LastError     *string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty" db:"delivered_at"`
}
