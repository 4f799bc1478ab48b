package tissconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/saudeplus/tiss/internal/platform/errs"
)

type mockRepo struct {
	stored *Config
}

func (m *mockRepo) Get(_ context.Context) (*Config, error) {
	if m.stored == nil {
		return nil, nil
	}
	cp := *m.stored
	return &cp, nil
}

func (m *mockRepo) Save(_ context.Context, c *Config) error {
	cp := *c
	m.stored = &cp
	return nil
}

func validConfig() *Config {
	return &Config{
		RazaoSocial:  "Clinica Saude Plus LTDA",
		CNPJ:         "12345678000190",
		CNES:         "1234567",
		ProviderCode: "SP-001",
		TISSVersion:  "4.01.00",
	}
}

func TestGet_DefaultsWhenUnset(t *testing.T) {
	svc := NewService(&mockRepo{})
	cfg, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if cfg.TISSVersion == "" {
		t.Error("expected default TISS version")
	}
	if !cfg.ValidateOnFinalize {
		t.Error("expected validation enabled by default")
	}
}

func TestSaveAndGet(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo)

	cfg := validConfig()
	if err := svc.Save(context.Background(), cfg); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.RazaoSocial != cfg.RazaoSocial {
		t.Errorf("expected %q, got %q", cfg.RazaoSocial, got.RazaoSocial)
	}
}

func TestSave_Invalid(t *testing.T) {
	svc := NewService(&mockRepo{})
	cfg := validConfig()
	cfg.CNPJ = "123"
	cfg.CNES = ""

	err := svc.Save(context.Background(), cfg)
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Fields) < 2 {
		t.Errorf("expected both violations, got %v", ve.Fields)
	}
}
