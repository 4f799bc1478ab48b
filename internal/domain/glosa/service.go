package glosa

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saudeplus/tiss/internal/platform/errs"
	"github.com/saudeplus/tiss/internal/platform/events"
)

// TxFunc runs fn inside one database transaction. Denial transitions
// and their outbox events must commit together or not at all.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	repo     Repository
	recorder events.Recorder
	inTx     TxFunc
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, recorder events.Recorder, inTx TxFunc, logger zerolog.Logger) *Service {
	return &Service{repo: repo, recorder: recorder, inTx: inTx, logger: logger, now: time.Now}
}

// Create opens a PENDING denial with the 30-day contestation window.
func (s *Service) Create(ctx context.Context, guiaID uuid.UUID, retornoID *uuid.UUID, code, reason string, amount float64) (*Glosa, error) {
	ve := &errs.ValidationError{}
	if code == "" {
		ve.Add("code", "is required")
	}
	if amount <= 0 {
		ve.Add("amount", "must be positive")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	now := s.now()
	g := &Glosa{
		GuiaID:               guiaID,
		RetornoID:            retornoID,
		Code:                 code,
		Reason:               reason,
		Amount:               amount,
		Status:               StatusPending,
		ContestationDeadline: now.Add(ContestationWindow),
	}
	if err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, g); err != nil {
			return err
		}
		return s.recorder.Emit(ctx, events.TypeDenialCreated, "glosa", g.ID.String(), map[string]interface{}{
			"guia_id": guiaID.String(), "code": code, "amount": amount,
		})
	}); err != nil {
		return nil, err
	}
	g.ComputeDaysRemaining(now)
	return g, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Glosa, error) {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	g.ComputeDaysRemaining(s.now())
	return g, nil
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Glosa, int, error) {
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for _, g := range items {
		g.ComputeDaysRemaining(now)
	}
	return items, total, nil
}

// Contest disputes a PENDING denial before its deadline, attaching the
// justification and evidence and assigning a contestation protocol.
func (s *Service) Contest(ctx context.Context, id uuid.UUID, justification string, evidenceRefs []string) (*Glosa, error) {
	if justification == "" {
		return nil, (&errs.ValidationError{}).Add("justification", "is required")
	}

	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Status != StatusPending {
		return nil, &errs.InvalidStateError{Entity: "glosa", Current: g.Status, Reason: "only PENDING denials can be contested"}
	}
	now := s.now()
	g.ComputeDaysRemaining(now)
	if g.DaysRemaining <= 0 {
		return nil, &errs.DeadlineExpiredError{Deadline: g.ContestationDeadline}
	}

	protocol, err := generateProtocol()
	if err != nil {
		return nil, err
	}
	g.Status = StatusContested
	g.ContestationProtocol = &protocol
	g.Justification = &justification
	g.EvidenceRefs = evidenceRefs
	if err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, g); err != nil {
			return err
		}
		return s.recorder.Emit(ctx, events.TypeDenialContested, "glosa", g.ID.String(), map[string]interface{}{
			"protocol": protocol,
		})
	}); err != nil {
		return nil, err
	}
	return g, nil
}

// Resolve records the external adjudicator's final decision on a
// CONTESTED denial.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, finalStatus string, settlementAmount *float64) (*Glosa, error) {
	if finalStatus != StatusReversed && finalStatus != StatusUpheld {
		return nil, (&errs.ValidationError{}).Add("status", "must be REVERSED or UPHELD")
	}

	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Status != StatusContested {
		return nil, &errs.InvalidStateError{Entity: "glosa", Current: g.Status, Reason: "only CONTESTED denials can be resolved"}
	}

	now := s.now()
	g.Status = finalStatus
	g.SettlementAmount = settlementAmount
	g.ResolvedAt = &now
	if err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, g); err != nil {
			return err
		}
		return s.recorder.Emit(ctx, events.TypeDenialResolved, "glosa", g.ID.String(), map[string]interface{}{
			"final_status": finalStatus,
		})
	}); err != nil {
		return nil, err
	}
	return g, nil
}
