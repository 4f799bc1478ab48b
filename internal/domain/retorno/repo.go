package retorno

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists the return audit records.
type Repository interface {
	Create(ctx context.Context, r *Retorno) error
	// SetItems replaces the per-node audit rows once application of the
	// document finishes. Replacement keeps a resumed run from stacking
	// duplicate rows on top of a crashed one.
	SetItems(ctx context.Context, retornoID uuid.UUID, items []Item) error
	// MarkProcessed finalizes a PROCESSING record. Only finalized
	// records short-circuit redelivery.
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Retorno, error)
	// GetByProtocolo is the reprocess dedupe lookup. It covers both
	// PROCESSED and interrupted PROCESSING records; ERROR records never
	// dedupe so a corrected document can be resubmitted.
	GetByProtocolo(ctx context.Context, protocolo string) (*Retorno, error)
	List(ctx context.Context, loteID *uuid.UUID, limit, offset int) ([]*Retorno, int, error)
}
