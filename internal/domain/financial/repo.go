package financial

import (
	"context"

	"github.com/google/uuid"
)

// Ledger is the boundary to the income/receivables store. Writes are
// idempotent on IdempotencyKey: a duplicate write reports applied=false
// and changes nothing.
type Ledger interface {
	RecordIncome(ctx context.Context, t *Transacao) (applied bool, err error)
	RecordReceivable(ctx context.Context, r *Recebimento) (applied bool, err error)
	ListTransactions(ctx context.Context, guiaID *uuid.UUID, limit, offset int) ([]*Transacao, int, error)
	ListReceivables(ctx context.Context, guiaID *uuid.UUID, limit, offset int) ([]*Recebimento, int, error)
}

// PendingRepository stores payment projections awaiting retry.
type PendingRepository interface {
	Upsert(ctx context.Context, p *PendingPayment) error
	List(ctx context.Context, limit int) ([]*PendingPayment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
