package glosa

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saudeplus/tiss/internal/platform/errs"
)

type mockRepo struct {
	glosas map[uuid.UUID]*Glosa
}

func newMockRepo() *mockRepo {
	return &mockRepo{glosas: make(map[uuid.UUID]*Glosa)}
}

func (m *mockRepo) Create(_ context.Context, g *Glosa) error {
	g.ID = uuid.New()
	cp := *g
	m.glosas[g.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Glosa, error) {
	g, ok := m.glosas[id]
	if !ok {
		return nil, &errs.NotFoundError{Resource: "glosa", Ref: id.String()}
	}
	cp := *g
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, g *Glosa) error {
	if _, ok := m.glosas[g.ID]; !ok {
		return &errs.NotFoundError{Resource: "glosa", Ref: g.ID.String()}
	}
	cp := *g
	m.glosas[g.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Glosa, int, error) {
	var out []*Glosa
	for _, g := range m.glosas {
		if f.Status != "" && g.Status != f.Status {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	return out, len(out), nil
}

type mockRecorder struct {
	types []string
	err   error
}

func (m *mockRecorder) Emit(_ context.Context, eventType, _, _ string, _ interface{}) error {
	if m.err != nil {
		return m.err
	}
	m.types = append(m.types, eventType)
	return nil
}

func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService() (*Service, *mockRepo, *mockRecorder) {
	repo := newMockRepo()
	recorder := &mockRecorder{}
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return NewService(repo, recorder, passthroughTx, logger), repo, recorder
}

func TestCreateGlosa(t *testing.T) {
	svc, _, recorder := newTestService()
	guiaID := uuid.New()

	g, err := svc.Create(context.Background(), guiaID, nil, "1802", "Cobranca em duplicidade", 50.00)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if g.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", g.Status)
	}
	if g.DaysRemaining != 30 {
		t.Errorf("expected 30 days remaining at creation, got %d", g.DaysRemaining)
	}
	wantDeadline := time.Now().Add(ContestationWindow)
	if diff := g.ContestationDeadline.Sub(wantDeadline); diff > time.Minute || diff < -time.Minute {
		t.Errorf("deadline %s not ~30 days out", g.ContestationDeadline)
	}
	if len(recorder.types) != 1 || recorder.types[0] != "denial.created" {
		t.Errorf("expected denial.created event, got %v", recorder.types)
	}
}

func TestCreateGlosa_Invalid(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Create(context.Background(), uuid.New(), nil, "", "reason", 0)
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Fields) != 2 {
		t.Errorf("expected code and amount violations, got %v", ve.Fields)
	}
}

func TestContestGlosa(t *testing.T) {
	svc, repo, recorder := newTestService()
	g, err := svc.Create(context.Background(), uuid.New(), nil, "1802", "Cobranca em duplicidade", 50.00)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := svc.Contest(context.Background(), g.ID, "Procedimento autorizado previamente", []string{"doc://autorizacao-123"})
	if err != nil {
		t.Fatalf("Contest error: %v", err)
	}
	if got.Status != StatusContested {
		t.Errorf("expected CONTESTED, got %s", got.Status)
	}
	if got.ContestationProtocol == nil || !strings.HasPrefix(*got.ContestationProtocol, "CT-") {
		t.Errorf("expected generated protocol, got %v", got.ContestationProtocol)
	}
	if len(repo.glosas[g.ID].EvidenceRefs) != 1 {
		t.Error("expected evidence refs to be stored")
	}
	if recorder.types[len(recorder.types)-1] != "denial.contested" {
		t.Errorf("expected denial.contested event, got %v", recorder.types)
	}
}

func TestContestGlosa_EventFailureFailsTheCall(t *testing.T) {
	svc, _, recorder := newTestService()
	g, err := svc.Create(context.Background(), uuid.New(), nil, "1802", "Cobranca em duplicidade", 50.00)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// Status change and outbox record share one transaction; a failed
	// outbox write must fail the contestation, not be logged away.
	recorder.err = errors.New("outbox insert failed")
	if _, err := svc.Contest(context.Background(), g.ID, "Procedimento autorizado", nil); err == nil {
		t.Fatal("expected Contest to fail when the event cannot be recorded")
	}
}

func TestContestGlosa_RequiresJustification(t *testing.T) {
	svc, _, _ := newTestService()
	g, _ := svc.Create(context.Background(), uuid.New(), nil, "1802", "x", 50.00)

	_, err := svc.Contest(context.Background(), g.ID, "", nil)
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestContestGlosa_AfterDeadline(t *testing.T) {
	svc, repo, _ := newTestService()
	g, err := svc.Create(context.Background(), uuid.New(), nil, "1802", "x", 50.00)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// Jump past the window.
	svc.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	_, err = svc.Contest(context.Background(), g.ID, "late", nil)
	var de *errs.DeadlineExpiredError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeadlineExpiredError, got %v", err)
	}
	if repo.glosas[g.ID].Status != StatusPending {
		t.Errorf("expired contestation must leave the status unchanged, got %s", repo.glosas[g.ID].Status)
	}
}

func TestContestGlosa_OnlyPending(t *testing.T) {
	svc, _, _ := newTestService()
	g, _ := svc.Create(context.Background(), uuid.New(), nil, "1802", "x", 50.00)
	if _, err := svc.Contest(context.Background(), g.ID, "first", nil); err != nil {
		t.Fatalf("Contest error: %v", err)
	}

	_, err := svc.Contest(context.Background(), g.ID, "second", nil)
	var se *errs.InvalidStateError
	if !errors.As(err, &se) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestResolveGlosa(t *testing.T) {
	svc, _, recorder := newTestService()
	g, _ := svc.Create(context.Background(), uuid.New(), nil, "1802", "x", 50.00)
	if _, err := svc.Contest(context.Background(), g.ID, "j", nil); err != nil {
		t.Fatalf("Contest error: %v", err)
	}

	amount := 50.00
	got, err := svc.Resolve(context.Background(), g.ID, StatusReversed, &amount)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got.Status != StatusReversed {
		t.Errorf("expected REVERSED, got %s", got.Status)
	}
	if got.SettlementAmount == nil || *got.SettlementAmount != 50.00 {
		t.Errorf("expected settlement 50.00, got %v", got.SettlementAmount)
	}
	if recorder.types[len(recorder.types)-1] != "denial.resolved" {
		t.Errorf("expected denial.resolved event, got %v", recorder.types)
	}
}

func TestResolveGlosa_OnlyContested(t *testing.T) {
	svc, _, _ := newTestService()
	g, _ := svc.Create(context.Background(), uuid.New(), nil, "1802", "x", 50.00)

	_, err := svc.Resolve(context.Background(), g.ID, StatusUpheld, nil)
	var se *errs.InvalidStateError
	if !errors.As(err, &se) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestResolveGlosa_InvalidStatus(t *testing.T) {
	svc, _, _ := newTestService()
	g, _ := svc.Create(context.Background(), uuid.New(), nil, "1802", "x", 50.00)
	if _, err := svc.Contest(context.Background(), g.ID, "j", nil); err != nil {
		t.Fatalf("Contest error: %v", err)
	}

	_, err := svc.Resolve(context.Background(), g.ID, "MAYBE", nil)
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDaysRemaining_Derived(t *testing.T) {
	g := &Glosa{ContestationDeadline: time.Now().Add(10 * 24 * time.Hour)}
	g.ComputeDaysRemaining(time.Now())
	if g.DaysRemaining != 10 {
		t.Errorf("expected 10 days remaining, got %d", g.DaysRemaining)
	}

	g.ComputeDaysRemaining(time.Now().Add(15 * 24 * time.Hour))
	if g.DaysRemaining >= 0 {
		t.Errorf("expected negative days after expiry, got %d", g.DaysRemaining)
	}
}
