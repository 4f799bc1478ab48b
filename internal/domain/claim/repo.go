package claim

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows claim listings.
type ListFilter struct {
	ConvenioID *uuid.UUID
	LoteID     *uuid.UUID
	Status     string
}

// Repository persists guias and their procedure lines.
type Repository interface {
	Create(ctx context.Context, g *Guia) error
	GetByID(ctx context.Context, id uuid.UUID) (*Guia, error)
	GetByNumero(ctx context.Context, numero string) (*Guia, error)
	NumeroExists(ctx context.Context, numero string) (bool, error)
	// Update persists the guia row guarded by its version; the stored
	// version must match g.Version or the update is rejected.
	Update(ctx context.Context, g *Guia) error
	ReplaceLines(ctx context.Context, g *Guia) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Guia, int, error)
}
