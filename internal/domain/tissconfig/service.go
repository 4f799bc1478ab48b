package tissconfig

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/saudeplus/tiss/internal/platform/errs"
	"github.com/saudeplus/tiss/internal/platform/validation"
)

type Service struct {
	repo     Repository
	validate *validator.Validate
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validation.New()}
}

// Get returns the saved configuration, falling back to defaults when the
// provider has not configured anything yet.
func (s *Service) Get(ctx context.Context) (*Config, error) {
	c, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return Default(), nil
	}
	return c, nil
}

func (s *Service) Save(ctx context.Context, c *Config) error {
	ve := &errs.ValidationError{}
	validation.Collect(s.validate, c, ve)
	if err := ve.OrNil(); err != nil {
		return err
	}
	return s.repo.Save(ctx, c)
}
