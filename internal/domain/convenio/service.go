package convenio

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saudeplus/tiss/internal/platform/errs"
	"github.com/saudeplus/tiss/internal/platform/validation"
)

type Service struct {
	repo     Repository
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, validate: validation.New(), logger: logger}
}

const defaultPaymentTermDays = 30

func (s *Service) Create(ctx context.Context, c *Convenio) error {
	if c.PaymentTermDays == 0 {
		c.PaymentTermDays = defaultPaymentTermDays
	}
	c.Active = true

	ve := &errs.ValidationError{}
	validation.Collect(s.validate, c, ve)
	s.checkTableMode(c, ve)
	if err := ve.OrNil(); err != nil {
		return err
	}

	return s.repo.Create(ctx, c)
}

func (s *Service) checkTableMode(c *Convenio, ve *errs.ValidationError) {
	switch c.TableMode {
	case TablePercentual:
		if c.TablePercent == nil {
			ve.Add("table_percent", "is required when table_mode is PERCENTUAL")
		} else if *c.TablePercent <= 0 || *c.TablePercent > 100 {
			ve.Add("table_percent", "must be between 0 and 100")
		}
	default:
		if c.TablePercent != nil {
			ve.Add("table_percent", "only allowed when table_mode is PERCENTUAL")
		}
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Convenio, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, onlyActive bool, limit, offset int) ([]*Convenio, int, error) {
	return s.repo.List(ctx, onlyActive, limit, offset)
}

// Update replaces the convenio's fields. Once a convenio is referenced by
// claims or batches its billing identity (ANS code, CNPJ, table mode and
// percentage) is frozen; only name, payment term and active flag may change.
func (s *Service) Update(ctx context.Context, c *Convenio) error {
	current, err := s.repo.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}

	ve := &errs.ValidationError{}
	validation.Collect(s.validate, c, ve)
	s.checkTableMode(c, ve)

	refs, err := s.repo.ReferenceCount(ctx, c.ID)
	if err != nil {
		return err
	}
	if refs > 0 {
		if c.ANSCode != current.ANSCode {
			ve.Add("ans_code", "immutable while referenced by claims or batches")
		}
		if c.CNPJ != current.CNPJ {
			ve.Add("cnpj", "immutable while referenced by claims or batches")
		}
		if c.TableMode != current.TableMode {
			ve.Add("table_mode", "immutable while referenced by claims or batches")
		}
		if !percentEqual(c.TablePercent, current.TablePercent) {
			ve.Add("table_percent", "immutable while referenced by claims or batches")
		}
	}
	if err := ve.OrNil(); err != nil {
		return err
	}

	return s.repo.Update(ctx, c)
}

func percentEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Deactivate soft-deactivates the convenio. Existing claims and batches
// keep their reference; new claims can no longer be created against it.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("convenio_id", id.String()).Msg("convenio deactivated")
	return s.repo.SetActive(ctx, id, false)
}

func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	return s.repo.SetActive(ctx, id, true)
}
