package batch

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows batch listings.
type ListFilter struct {
	ConvenioID *uuid.UUID
	Competence string
	Status     string
}

// Repository persists lotes. Membership lives on the guia rows; the
// aggregate queries below read it back.
type Repository interface {
	Create(ctx context.Context, l *Lote) error
	GetByID(ctx context.Context, id uuid.UUID) (*Lote, error)
	NumeroExists(ctx context.Context, numero string) (bool, error)
	// Update persists the lote row guarded by its version.
	Update(ctx context.Context, l *Lote) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Lote, int, error)
	// SumMembers returns the member total and count for the lote.
	SumMembers(ctx context.Context, loteID uuid.UUID) (float64, int, error)
	MemberIDs(ctx context.Context, loteID uuid.UUID) ([]uuid.UUID, error)
	// ClearMembers detaches every member claim from the lote.
	ClearMembers(ctx context.Context, loteID uuid.UUID) error
}
