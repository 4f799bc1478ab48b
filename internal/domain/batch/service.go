package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saudeplus/tiss/internal/domain/claim"
	"github.com/saudeplus/tiss/internal/domain/convenio"
	"github.com/saudeplus/tiss/internal/platform/errs"
	"github.com/saudeplus/tiss/internal/platform/events"
)

// ClaimStore is the slice of the claim repository the batch workflow needs
// to manage membership.
type ClaimStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*claim.Guia, error)
	Update(ctx context.Context, g *claim.Guia) error
}

// ClaimSubmitter marks member claims SUBMITTED when the lote is submitted.
type ClaimSubmitter interface {
	MarkSubmitted(ctx context.Context, id, loteID uuid.UUID) error
}

// ConvenioSource resolves payer references.
type ConvenioSource interface {
	Get(ctx context.Context, id uuid.UUID) (*convenio.Convenio, error)
}

// TxFunc runs fn inside one database transaction. Membership mutations
// span the lote row and every named guia row and must be atomic.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

const numeroMaxAttempts = 5

type Service struct {
	repo      Repository
	claims    ClaimStore
	submitter ClaimSubmitter
	convenios ConvenioSource
	recorder  events.Recorder
	inTx      TxFunc
	logger    zerolog.Logger
}

func NewService(repo Repository, claims ClaimStore, submitter ClaimSubmitter, convenios ConvenioSource, recorder events.Recorder, inTx TxFunc, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		claims:    claims,
		submitter: submitter,
		convenios: convenios,
		recorder:  recorder,
		inTx:      inTx,
		logger:    logger,
	}
}

// Create opens an empty lote for an active convenio and competence period.
func (s *Service) Create(ctx context.Context, l *Lote) error {
	ve := &errs.ValidationError{}
	if !CompetencePattern.MatchString(l.Competence) {
		ve.Add("competence", "must be in MM/YYYY format")
	}

	conv, err := s.convenios.Get(ctx, l.ConvenioID)
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

	numero, err := s.uniqueNumero(ctx, l.Competence)
	if err != nil {
		return err
	}
	l.Numero = numero
	l.Status = StatusOpen
	l.TotalAmount = 0
	l.ClaimCount = 0
	return s.repo.Create(ctx, l)
}

func (s *Service) uniqueNumero(ctx context.Context, competence string) (string, error) {
	for attempt := 0; attempt < numeroMaxAttempts; attempt++ {
		numero, err := generateNumero(competence)
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
		s.logger.Warn().Str("numero", numero).Int("attempt", attempt+1).Msg("batch number collision")
	}
	return "", &errs.InvalidStateError{Entity: "lote", Reason: "could not generate a unique batch number"}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Lote, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Lote, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// AddClaims attaches the named claims to an OPEN lote. The call is
// all-or-nothing: every claim must be FINALIZED, unbatched and belong to
// the lote's convenio, or the whole call is rejected with an itemized
// ConflictError and nothing changes. The lote total is recomputed as the
// sum over all members afterwards.
func (s *Service) AddClaims(ctx context.Context, loteID uuid.UUID, claimIDs []uuid.UUID) (*Lote, error) {
	if len(claimIDs) == 0 {
		return nil, (&errs.ValidationError{}).Add("claim_ids", "at least one claim is required")
	}

	var result *Lote
	err := s.inTx(ctx, func(ctx context.Context) error {
		l, err := s.repo.GetByID(ctx, loteID)
		if err != nil {
			return err
		}
		if l.Status != StatusOpen {
			return &errs.InvalidStateError{Entity: "lote", Current: l.Status, Reason: "claims can only be added to an OPEN batch"}
		}

		ce := &errs.ConflictError{Op: "addClaims"}
		seen := make(map[uuid.UUID]bool, len(claimIDs))
		members := make([]*claim.Guia, 0, len(claimIDs))
		for _, id := range claimIDs {
			if seen[id] {
				ce.Add(id.String(), "duplicated in request")
				continue
			}
			seen[id] = true

			g, err := s.claims.GetByID(ctx, id)
			if err != nil {
				if errs.IsNotFound(err) {
					ce.Add(id.String(), "claim not found")
					continue
				}
				return err
			}
			if g.Status != claim.StatusFinalized {
				ce.Add(id.String(), "claim is "+g.Status+", must be FINALIZED")
				continue
			}
			if g.LoteID != nil {
				ce.Add(id.String(), "claim already belongs to a batch")
				continue
			}
			if g.ConvenioID != l.ConvenioID {
				ce.Add(id.String(), "claim belongs to a different convenio")
				continue
			}
			members = append(members, g)
		}
		if err := ce.OrNil(); err != nil {
			return err
		}

		for _, g := range members {
			id := l.ID
			g.LoteID = &id
			if err := s.claims.Update(ctx, g); err != nil {
				return err
			}
		}

		sum, count, err := s.repo.SumMembers(ctx, l.ID)
		if err != nil {
			return err
		}
		l.TotalAmount = sum
		l.ClaimCount = count
		if err := s.repo.Update(ctx, l); err != nil {
			return err
		}
		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close seals a non-empty lote for submission.
func (s *Service) Close(ctx context.Context, loteID uuid.UUID) (*Lote, error) {
	l, err := s.repo.GetByID(ctx, loteID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(l.Status, StatusClosed) {
		return nil, &errs.InvalidStateError{Entity: "lote", Current: l.Status, Reason: "only an OPEN batch can be closed"}
	}
	_, count, err := s.repo.SumMembers(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, &errs.InvalidStateError{Entity: "lote", Current: l.Status, Reason: "empty batch"}
	}

	now := time.Now()
	l.Status = StatusClosed
	l.ClosedAt = &now
	if err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, l); err != nil {
			return err
		}
		return s.recorder.Emit(ctx, events.TypeBatchClosed, "lote", l.ID.String(), map[string]interface{}{
			"numero": l.Numero, "total_amount": l.TotalAmount, "claim_count": l.ClaimCount,
		})
	}); err != nil {
		return nil, err
	}
	return l, nil
}

// Submit records the payer protocol and marks every member claim
// SUBMITTED in the same transaction.
func (s *Service) Submit(ctx context.Context, loteID uuid.UUID, protocolNumber string) (*Lote, error) {
	if protocolNumber == "" {
		return nil, (&errs.ValidationError{}).Add("protocol_number", "is required")
	}

	var result *Lote
	err := s.inTx(ctx, func(ctx context.Context) error {
		l, err := s.repo.GetByID(ctx, loteID)
		if err != nil {
			return err
		}
		if !CanTransition(l.Status, StatusSubmitted) {
			return &errs.InvalidStateError{Entity: "lote", Current: l.Status, Reason: "only a CLOSED batch can be submitted"}
		}

		ids, err := s.repo.MemberIDs(ctx, l.ID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.submitter.MarkSubmitted(ctx, id, l.ID); err != nil {
				return err
			}
		}

		now := time.Now()
		l.Status = StatusSubmitted
		l.SubmittedAt = &now
		l.ProtocolNumber = &protocolNumber
		if err := s.repo.Update(ctx, l); err != nil {
			return err
		}
		if err := s.recorder.Emit(ctx, events.TypeBatchSubmitted, "lote", l.ID.String(), map[string]interface{}{
			"numero": l.Numero, "protocol_number": protocolNumber,
		}); err != nil {
			return err
		}
		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkProcessed stamps the adjudication totals after return processing.
// Called by the return orchestrator, not exposed over HTTP.
func (s *Service) MarkProcessed(ctx context.Context, loteID uuid.UUID, paidTotal, deniedTotal float64) error {
	l, err := s.repo.GetByID(ctx, loteID)
	if err != nil {
		return err
	}
	if !CanTransition(l.Status, StatusProcessed) {
		return &errs.InvalidStateError{Entity: "lote", Current: l.Status, Reason: "only a SUBMITTED batch can be processed"}
	}
	now := time.Now()
	l.Status = StatusProcessed
	l.PaidAmount = &paidTotal
	l.DeniedAmount = &deniedTotal
	l.ProcessedAt = &now
	return s.repo.Update(ctx, l)
}

// Cancel abandons an OPEN or CLOSED lote and releases its members back to
// batching eligibility.
func (s *Service) Cancel(ctx context.Context, loteID uuid.UUID) (*Lote, error) {
	var result *Lote
	err := s.inTx(ctx, func(ctx context.Context) error {
		l, err := s.repo.GetByID(ctx, loteID)
		if err != nil {
			return err
		}
		if !CanTransition(l.Status, StatusCancelled) {
			return &errs.InvalidStateError{Entity: "lote", Current: l.Status, Reason: "cannot cancel a batch already submitted"}
		}
		if err := s.repo.ClearMembers(ctx, l.ID); err != nil {
			return err
		}
		l.Status = StatusCancelled
		l.TotalAmount = 0
		l.ClaimCount = 0
		if err := s.repo.Update(ctx, l); err != nil {
			return err
		}
		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
