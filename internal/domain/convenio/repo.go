package convenio

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists convenios.
type Repository interface {
	Create(ctx context.Context, c *Convenio) error
	GetByID(ctx context.Context, id uuid.UUID) (*Convenio, error)
	Update(ctx context.Context, c *Convenio) error
	List(ctx context.Context, onlyActive bool, limit, offset int) ([]*Convenio, int, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// ReferenceCount reports how many claims and batches reference the
	// convenio. A referenced convenio has frozen billing fields.
	ReferenceCount(ctx context.Context, id uuid.UUID) (int, error)
}
