package glosa

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows denial listings.
type ListFilter struct {
	GuiaID *uuid.UUID
	Status string
}

// Repository persists glosas and their evidence references.
type Repository interface {
	Create(ctx context.Context, g *Glosa) error
	GetByID(ctx context.Context, id uuid.UUID) (*Glosa, error)
	Update(ctx context.Context, g *Glosa) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Glosa, int, error)
}
