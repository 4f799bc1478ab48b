package convenio

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saudeplus/tiss/internal/platform/errs"
)

type mockRepo struct {
	convenios map[uuid.UUID]*Convenio
	refs      map[uuid.UUID]int
}

func newMockRepo() *mockRepo {
	return &mockRepo{convenios: make(map[uuid.UUID]*Convenio), refs: make(map[uuid.UUID]int)}
}

func (m *mockRepo) Create(_ context.Context, c *Convenio) error {
	c.ID = uuid.New()
	cp := *c
	m.convenios[c.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Convenio, error) {
	c, ok := m.convenios[id]
	if !ok {
		return nil, &errs.NotFoundError{Resource: "convenio", Ref: id.String()}
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, c *Convenio) error {
	if _, ok := m.convenios[c.ID]; !ok {
		return &errs.NotFoundError{Resource: "convenio", Ref: c.ID.String()}
	}
	cp := *c
	m.convenios[c.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, onlyActive bool, limit, offset int) ([]*Convenio, int, error) {
	var out []*Convenio
	for _, c := range m.convenios {
		if !onlyActive || c.Active {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	c, ok := m.convenios[id]
	if !ok {
		return &errs.NotFoundError{Resource: "convenio", Ref: id.String()}
	}
	c.Active = active
	return nil
}

func (m *mockRepo) ReferenceCount(_ context.Context, id uuid.UUID) (int, error) {
	return m.refs[id], nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return NewService(repo, logger), repo
}

func validConvenio() *Convenio {
	return &Convenio{
		Name:      "Acme Health",
		ANSCode:   "123456",
		CNPJ:      "12345678000190",
		TableMode: TableTUSS,
	}
}

func TestCreateConvenio(t *testing.T) {
	svc, repo := newTestService()
	c := validConvenio()

	if err := svc.Create(context.Background(), c); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if c.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if !c.Active {
		t.Error("new convenio should be active")
	}
	if c.PaymentTermDays != defaultPaymentTermDays {
		t.Errorf("expected default payment term, got %d", c.PaymentTermDays)
	}
	if len(repo.convenios) != 1 {
		t.Errorf("expected 1 stored convenio, got %d", len(repo.convenios))
	}
}

func TestCreateConvenio_CollectsAllViolations(t *testing.T) {
	svc, _ := newTestService()
	c := &Convenio{Name: "X", CNPJ: "123", TableMode: "INVALID"}

	err := svc.Create(context.Background(), c)
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	// name too short, ans_code missing, cnpj wrong length, table_mode invalid
	if len(ve.Fields) < 4 {
		t.Errorf("expected all violations reported together, got %v", ve.Fields)
	}
}

func TestCreateConvenio_PercentualRequiresPercent(t *testing.T) {
	svc, _ := newTestService()
	c := validConvenio()
	c.TableMode = TablePercentual

	err := svc.Create(context.Background(), c)
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	pct := 80.0
	c.TablePercent = &pct
	if err := svc.Create(context.Background(), c); err != nil {
		t.Errorf("expected valid PERCENTUAL convenio, got %v", err)
	}
}

func TestCreateConvenio_PercentOnlyForPercentual(t *testing.T) {
	svc, _ := newTestService()
	c := validConvenio()
	pct := 80.0
	c.TablePercent = &pct

	err := svc.Create(context.Background(), c)
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdateConvenio_FrozenWhenReferenced(t *testing.T) {
	svc, repo := newTestService()
	c := validConvenio()
	if err := svc.Create(context.Background(), c); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	repo.refs[c.ID] = 2

	c.CNPJ = "98765432000109"
	err := svc.Update(context.Background(), c)
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for frozen field, got %v", err)
	}
}

func TestUpdateConvenio_AdministrativeFieldsStayMutable(t *testing.T) {
	svc, repo := newTestService()
	c := validConvenio()
	if err := svc.Create(context.Background(), c); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	repo.refs[c.ID] = 2

	c.Name = "Acme Health Renamed"
	c.PaymentTermDays = 45
	if err := svc.Update(context.Background(), c); err != nil {
		t.Errorf("administrative update should succeed, got %v", err)
	}
}

func TestDeactivateConvenio(t *testing.T) {
	svc, repo := newTestService()
	c := validConvenio()
	if err := svc.Create(context.Background(), c); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if err := svc.Deactivate(context.Background(), c.ID); err != nil {
		t.Fatalf("Deactivate error: %v", err)
	}
	if repo.convenios[c.ID].Active {
		t.Error("expected convenio to be inactive")
	}

	// No delete path exists; deactivation is the only removal mechanism.
	if err := svc.Reactivate(context.Background(), c.ID); err != nil {
		t.Fatalf("Reactivate error: %v", err)
	}
	if !repo.convenios[c.ID].Active {
		t.Error("expected convenio to be active again")
	}
}

func TestDeactivateConvenio_NotFound(t *testing.T) {
	svc, _ := newTestService()
	err := svc.Deactivate(context.Background(), uuid.New())
	if !errs.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}
