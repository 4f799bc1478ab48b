package claim

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saudeplus/tiss/internal/domain/convenio"
	"github.com/saudeplus/tiss/internal/domain/tissconfig"
	"github.com/saudeplus/tiss/internal/platform/errs"
	"github.com/saudeplus/tiss/internal/platform/events"
	"github.com/saudeplus/tiss/internal/platform/validation"
)

// ConvenioSource resolves payer references during claim validation.
type ConvenioSource interface {
	Get(ctx context.Context, id uuid.UUID) (*convenio.Convenio, error)
}

// ConfigSource supplies the provider's TISS configuration.
type ConfigSource interface {
	Get(ctx context.Context) (*tissconfig.Config, error)
}

// TxFunc runs fn inside one database transaction. Status transitions
// and their outbox events must commit together or not at all.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

const numeroMaxAttempts = 5

type Service struct {
	repo      Repository
	convenios ConvenioSource
	config    ConfigSource
	recorder  events.Recorder
	validate  *validator.Validate
	inTx      TxFunc
	logger    zerolog.Logger
}

func NewService(repo Repository, convenios ConvenioSource, config ConfigSource, recorder events.Recorder, inTx TxFunc, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		convenios: convenios,
		config:    config,
		recorder:  recorder,
		validate:  validation.New(),
		inTx:      inTx,
		logger:    logger,
	}
}

// Create validates and stores a new DRAFT guia. Every violated field is
// reported together; the total is computed from the lines, and the claim
// number is generated with collision retry.
func (s *Service) Create(ctx context.Context, g *Guia) error {
	ve := &errs.ValidationError{}
	validation.Collect(s.validate, g, ve)
	if len(g.Lines) == 0 {
		ve.Add("lines", "at least one procedure line is required")
	}

	conv, err := s.convenios.Get(ctx, g.ConvenioID)
	if err != nil {
		if errs.IsNotFound(err) {
			ve.Add("convenio_id", "convenio does not exist")
			return ve
		}
		return err
	}
	if !conv.Active {
		ve.Add("convenio_id", "convenio is not active")
	}
	if err := ve.OrNil(); err != nil {
		return err
	}

	g.Status = StatusDraft
	g.LoteID = nil
	g.PaidAmount = nil
	g.DeniedAmount = nil
	g.ComputeTotal()

	numero, err := s.uniqueNumero(ctx)
	if err != nil {
		return err
	}
	g.Numero = numero

	return s.repo.Create(ctx, g)
}

func (s *Service) uniqueNumero(ctx context.Context) (string, error) {
	for attempt := 0; attempt < numeroMaxAttempts; attempt++ {
		numero, err := generateNumero(time.Now())
		if err != nil {
			return "", err
		}
		exists, err := s.repo.NumeroExists(ctx, numero)
		if err != nil {
			return "", err
		}
		if !exists {
			return numero, nil
		}
		s.logger.Warn().Str("numero", numero).Int("attempt", attempt+1).Msg("claim number collision")
	}
	return "", &errs.InvalidStateError{Entity: "guia", Reason: "could not generate a unique claim number"}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Guia, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByNumero(ctx context.Context, numero string) (*Guia, error) {
	return s.repo.GetByNumero(ctx, numero)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Guia, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// ReplaceLines swaps the procedure lines of a DRAFT guia and recomputes
// its total.
func (s *Service) ReplaceLines(ctx context.Context, id uuid.UUID, lines []ProcedureLine) (*Guia, error) {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Status != StatusDraft {
		return nil, &errs.InvalidStateError{Entity: "guia", Current: g.Status, Reason: "lines can only change while in DRAFT"}
	}

	ve := &errs.ValidationError{}
	if len(lines) == 0 {
		ve.Add("lines", "at least one procedure line is required")
	}
	for i := range lines {
		validation.Collect(s.validate, &lines[i], ve)
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	g.Lines = lines
	g.ComputeTotal()
	if err := s.repo.ReplaceLines(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Finalize moves a DRAFT guia to FINALIZED, making it eligible for
// batching. When the provider configuration asks for it, structural
// validity is re-checked.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (*Guia, error) {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(g.Status, StatusFinalized) {
		return nil, &errs.InvalidStateError{Entity: "guia", Current: g.Status, Reason: "only DRAFT guias can be finalized"}
	}

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.ValidateOnFinalize {
		ve := &errs.ValidationError{}
		validation.Collect(s.validate, g, ve)
		if len(g.Lines) == 0 {
			ve.Add("lines", "at least one procedure line is required")
		}
		if g.TotalAmount <= 0 {
			ve.Add("total_amount", "must be positive")
		}
		if err := ve.OrNil(); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	g.Status = StatusFinalized
	g.FinalizedAt = &now
	if err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, g); err != nil {
			return err
		}
		return s.recorder.Emit(ctx, events.TypeClaimFinalized, "guia", g.ID.String(), map[string]interface{}{
			"numero": g.Numero, "total_amount": g.TotalAmount,
		})
	}); err != nil {
		return nil, err
	}
	return g, nil
}

// Cancel is only legal before the claim reaches the payer.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Guia, error) {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(g.Status, StatusCancelled) {
		return nil, &errs.InvalidStateError{Entity: "guia", Current: g.Status, Reason: "cannot cancel a claim already in flight with the payer"}
	}
	if g.LoteID != nil {
		return nil, &errs.InvalidStateError{Entity: "guia", Current: g.Status, Reason: "remove the claim from its batch before cancelling"}
	}
	g.Status = StatusCancelled
	if err := s.repo.Update(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// MarkSubmitted is called by the batch workflow when its lote is
// submitted. It is not exposed on the HTTP surface.
func (s *Service) MarkSubmitted(ctx context.Context, id, loteID uuid.UUID) error {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(g.Status, StatusSubmitted) {
		return &errs.InvalidStateError{Entity: "guia", Current: g.Status, Reason: "only FINALIZED guias can be submitted"}
	}
	if g.LoteID == nil || *g.LoteID != loteID {
		return &errs.InvalidStateError{Entity: "guia", Current: g.Status, Reason: "guia is not a member of the submitting batch"}
	}
	now := time.Now()
	g.Status = StatusSubmitted
	g.SubmittedAt = &now
	return s.repo.Update(ctx, g)
}

// ApplyReturn applies one adjudication outcome to the claim named by
// numero. An outcome classified SUBMITTED means still in flight and leaves
// the claim untouched. Amounts always land on the claim so partial
// payments remain visible.
func (s *Service) ApplyReturn(ctx context.Context, numero, outcomeStatus string, paidAmount, deniedAmount float64) (*Guia, error) {
	g, err := s.repo.GetByNumero(ctx, numero)
	if err != nil {
		return nil, err
	}
	if outcomeStatus == StatusSubmitted {
		return g, nil
	}
	if !CanTransition(g.Status, outcomeStatus) {
		return nil, &errs.InvalidStateError{Entity: "guia", Current: g.Status, Reason: "return outcome " + outcomeStatus + " is not applicable"}
	}

	now := time.Now()
	g.Status = outcomeStatus
	g.PaidAmount = &paidAmount
	g.DeniedAmount = &deniedAmount
	g.ProcessedAt = &now

	eventType := events.TypeClaimPaid
	if outcomeStatus == StatusDenied {
		eventType = events.TypeClaimDenied
	}
	if err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, g); err != nil {
			return err
		}
		return s.recorder.Emit(ctx, eventType, "guia", g.ID.String(), map[string]interface{}{
			"numero": g.Numero, "paid_amount": paidAmount, "denied_amount": deniedAmount,
		})
	}); err != nil {
		return nil, err
	}
	return g, nil
}

// CorrectToPaid is the explicit correction path for a DENIED claim whose
// denial was later reversed. It is the only way out of DENIED.
func (s *Service) CorrectToPaid(ctx context.Context, id uuid.UUID, paidAmount float64) (*Guia, error) {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Status != StatusDenied {
		return nil, &errs.InvalidStateError{Entity: "guia", Current: g.Status, Reason: "only DENIED claims can be corrected to PAID"}
	}
	if paidAmount <= 0 {
		return nil, (&errs.ValidationError{}).Add("paid_amount", "must be positive")
	}

	now := time.Now()
	g.Status = StatusPaid
	g.PaidAmount = &paidAmount
	g.ProcessedAt = &now
	if err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, g); err != nil {
			return err
		}
		return s.recorder.Emit(ctx, events.TypeClaimPaid, "guia", g.ID.String(), map[string]interface{}{
			"numero": g.Numero, "paid_amount": paidAmount, "corrected": true,
		})
	}); err != nil {
		return nil, err
	}
	return g, nil
}
