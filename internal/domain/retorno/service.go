package retorno

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saudeplus/tiss/internal/domain/batch"
	"github.com/saudeplus/tiss/internal/domain/claim"
	"github.com/saudeplus/tiss/internal/domain/convenio"
	"github.com/saudeplus/tiss/internal/domain/financial"
	"github.com/saudeplus/tiss/internal/domain/glosa"
	"github.com/saudeplus/tiss/internal/platform/errs"
	"github.com/saudeplus/tiss/internal/platform/events"
)

// ClaimApplier applies one decoded outcome to its claim.
type ClaimApplier interface {
	ApplyReturn(ctx context.Context, numero, outcomeStatus string, paidAmount, deniedAmount float64) (*claim.Guia, error)
}

// DenialCreator opens a Glosa per nested denial entry.
type DenialCreator interface {
	Create(ctx context.Context, guiaID uuid.UUID, retornoID *uuid.UUID, code, reason string, amount float64) (*glosa.Glosa, error)
}

// PaymentRecorder projects a paid claim into the ledger.
type PaymentRecorder interface {
	RecordClaimPayment(ctx context.Context, req financial.PaymentRequest) error
}

// BatchSource resolves the lote and records its processed totals.
type BatchSource interface {
	Get(ctx context.Context, id uuid.UUID) (*batch.Lote, error)
	MarkProcessed(ctx context.Context, loteID uuid.UUID, paidTotal, deniedTotal float64) error
}

// ConvenioSource supplies payment terms for receivable due dates.
type ConvenioSource interface {
	Get(ctx context.Context, id uuid.UUID) (*convenio.Convenio, error)
}

type Service struct {
	repo      Repository
	claims    ClaimApplier
	denials   DenialCreator
	payments  PaymentRecorder
	batches   BatchSource
	convenios ConvenioSource
	recorder  events.Recorder
	logger    zerolog.Logger
}

func NewService(repo Repository, claims ClaimApplier, denials DenialCreator, payments PaymentRecorder,
	batches BatchSource, convenios ConvenioSource, recorder events.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		claims:    claims,
		denials:   denials,
		payments:  payments,
		batches:   batches,
		convenios: convenios,
		recorder:  recorder,
		logger:    logger,
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Retorno, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, loteID *uuid.UUID, limit, offset int) ([]*Retorno, int, error) {
	return s.repo.List(ctx, loteID, limit, offset)
}

// Process ingests one return document for a submitted lote. Reprocessing
// a finalized protocol returns the original audit record unchanged; a
// protocol left PROCESSING by a crash is resumed and finalized. Claim
// application is per-node independent: unknown claims and state
// conflicts are audited and skipped, never abort the document.
func (s *Service) Process(ctx context.Context, loteID uuid.UUID, payload []byte) (*Retorno, error) {
	lote, err := s.batches.Get(ctx, loteID)
	if err != nil {
		return nil, err
	}

	parsed, perr := Parse(payload)
	if perr != nil {
		return s.recordDocumentError(ctx, lote, perr)
	}

	protocolo := parsed.Protocolo
	if protocolo == "" && lote.ProtocolNumber != nil {
		protocolo = *lote.ProtocolNumber
	}
	if protocolo == "" {
		return nil, (&errs.ValidationError{}).Add("protocolo", "return document carries no protocol number")
	}

	// Dedupe precedes the state check: an at-least-once channel may
	// redeliver after the lote already moved to PROCESSED.
	rt, err := s.repo.GetByProtocolo(ctx, protocolo)
	switch {
	case err == nil && rt.Status == StatusProcessed:
		s.logger.Info().Str("protocolo", protocolo).Msg("return already processed, returning existing record")
		return rt, nil
	case err == nil:
		// A PROCESSING record is a crashed run. Re-applying is safe: claim
		// transitions are state-guarded and the ledger dedupes on the
		// idempotency key, so the resume below picks up where it stopped.
		s.logger.Warn().Str("protocolo", protocolo).Str("retorno_id", rt.ID.String()).
			Msg("resuming interrupted return application")
	case errs.IsNotFound(err):
		if lote.Status != batch.StatusSubmitted {
			return nil, &errs.InvalidStateError{Entity: "lote", Current: lote.Status, Reason: "returns apply to SUBMITTED batches only"}
		}

		denialCount := 0
		for _, o := range parsed.Outcomes {
			denialCount += len(o.Denials)
		}

		// The audit record is created in PROCESSING before outcomes are
		// applied so per-node rows and glosas can reference it; it is
		// finalized only after every outcome landed. Counts and totals
		// come from the parse, independent of application results.
		rt = &Retorno{
			ID:           uuid.New(),
			LoteID:       lote.ID,
			Protocolo:    protocolo,
			TotalAmount:  parsed.Total,
			PaidAmount:   parsed.PaidTotal,
			DeniedAmount: parsed.DeniedTotal,
			ClaimCount:   len(parsed.Outcomes),
			DenialCount:  denialCount,
			Status:       StatusProcessing,
		}
		if err := s.repo.Create(ctx, rt); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	var items []Item
	for _, o := range parsed.Outcomes {
		items = append(items, s.applyOutcome(ctx, rt.ID, lote, o))
	}
	for _, ne := range parsed.NodeErrors {
		detail := ne.Detail
		items = append(items, Item{Node: ne.Node, Result: ItemNodeError, Detail: &detail})
	}
	if err := s.repo.SetItems(ctx, rt.ID, items); err != nil {
		return nil, err
	}
	rt.Items = items

	if err := s.batches.MarkProcessed(ctx, lote.ID, parsed.PaidTotal, parsed.DeniedTotal); err != nil {
		// A resumed run may find the lote already PROCESSED by the crashed
		// one; anything else aborts before the record is finalized.
		var ise *errs.InvalidStateError
		if !errors.As(err, &ise) {
			return nil, err
		}
		s.logger.Debug().Str("lote_id", lote.ID.String()).Msg("lote totals already recorded")
	}

	if err := s.repo.MarkProcessed(ctx, rt.ID); err != nil {
		return nil, err
	}
	rt.Status = StatusProcessed

	if err := s.recorder.Emit(ctx, events.TypeReturnProcessed, "retorno", rt.ID.String(), map[string]interface{}{
		"lote_id": lote.ID.String(), "protocolo": protocolo,
		"paid_total": parsed.PaidTotal, "denied_total": parsed.DeniedTotal,
		"claims": rt.ClaimCount, "denials": rt.DenialCount, "node_errors": len(parsed.NodeErrors),
	}); err != nil {
		s.logger.Warn().Err(err).Str("retorno_id", rt.ID.String()).Msg("emit return.processed failed")
	}
	return rt, nil
}

// applyOutcome applies one node to its claim and returns the audit item.
func (s *Service) applyOutcome(ctx context.Context, retornoID uuid.UUID, lote *batch.Lote, o Outcome) Item {
	item := Item{
		Node:         o.Node,
		GuiaNumero:   o.GuiaNumero,
		Outcome:      o.Status,
		PaidAmount:   o.PaidAmount,
		DeniedAmount: o.DeniedAmount,
		DenialCount:  len(o.Denials),
	}

	g, err := s.claims.ApplyReturn(ctx, o.GuiaNumero, o.Status, o.PaidAmount, o.DeniedAmount)
	if err != nil {
		var ise *errs.InvalidStateError
		switch {
		case errs.IsNotFound(err):
			s.logger.Warn().Str("numero", o.GuiaNumero).Int("node", o.Node).Msg("return references unknown claim, skipping")
			item.Result = ItemSkipped
		case errors.As(err, &ise):
			s.logger.Warn().Err(err).Str("numero", o.GuiaNumero).Msg("return outcome conflicts with claim state")
			item.Result = ItemStateConflict
		default:
			s.logger.Error().Err(err).Str("numero", o.GuiaNumero).Msg("apply return outcome failed")
			item.Result = ItemFailed
		}
		detail := err.Error()
		item.Detail = &detail
		return item
	}

	if o.Status == claim.StatusSubmitted {
		item.Result = ItemStillInFlight
		return item
	}
	item.Result = ItemApplied

	for _, d := range o.Denials {
		if _, derr := s.denials.Create(ctx, g.ID, &retornoID, d.Code, d.Reason, d.Amount); derr != nil {
			s.logger.Error().Err(derr).Str("numero", o.GuiaNumero).Str("code", d.Code).Msg("create glosa failed")
			detail := appendDetail(item.Detail, fmt.Sprintf("glosa %s: %v", d.Code, derr))
			item.Detail = &detail
		}
	}

	if o.Status == claim.StatusPaid && o.PaidAmount > 0 {
		if perr := s.recordPayment(ctx, retornoID, lote, g, o.PaidAmount); perr != nil {
			s.logger.Warn().Err(perr).Str("numero", o.GuiaNumero).Msg("ledger projection deferred")
			detail := appendDetail(item.Detail, "ledger projection deferred: "+perr.Error())
			item.Detail = &detail
		}
	}
	return item
}

func (s *Service) recordPayment(ctx context.Context, retornoID uuid.UUID, lote *batch.Lote, g *claim.Guia, amount float64) error {
	termDays := 0
	if conv, err := s.convenios.Get(ctx, g.ConvenioID); err == nil {
		termDays = conv.PaymentTermDays
	} else {
		s.logger.Warn().Err(err).Str("convenio_id", g.ConvenioID.String()).Msg("convenio lookup failed, due date defaults to today")
	}
	loteID := lote.ID
	return s.payments.RecordClaimPayment(ctx, financial.PaymentRequest{
		GuiaID:          g.ID,
		GuiaNumero:      g.Numero,
		LoteID:          &loteID,
		ConvenioID:      g.ConvenioID,
		RetornoID:       retornoID,
		Amount:          amount,
		PaymentTermDays: termDays,
	})
}

// recordDocumentError persists the ERROR audit record for an
// unparseable document. ERROR records carry a synthetic protocol so the
// unique key never blocks a corrected resubmission.
func (s *Service) recordDocumentError(ctx context.Context, lote *batch.Lote, perr error) (*Retorno, error) {
	detail := perr.Error()
	rt := &Retorno{
		ID:          uuid.New(),
		LoteID:      lote.ID,
		Status:      StatusError,
		Protocolo:   "ERR-" + uuid.NewString(),
		ErrorDetail: &detail,
	}
	if err := s.repo.Create(ctx, rt); err != nil {
		return nil, err
	}
	s.logger.Error().Str("lote_id", lote.ID.String()).Str("detail", detail).Msg("return document unparseable")
	return rt, perr
}

func appendDetail(existing *string, msg string) string {
	if existing == nil || *existing == "" {
		return msg
	}
	return *existing + "; " + msg
}
