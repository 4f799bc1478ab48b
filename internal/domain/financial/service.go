package financial

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saudeplus/tiss/internal/platform/errs"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond
	retryBatchSize    = 50
)

// PaymentRequest carries everything the bridge needs to project one paid
// claim into the ledger.
type PaymentRequest struct {
	GuiaID          uuid.UUID
	GuiaNumero      string
	LoteID          *uuid.UUID
	ConvenioID      uuid.UUID
	RetornoID       uuid.UUID
	Amount          float64
	PaymentTermDays int
}

// Bridge writes income and receivable records for paid claims. Ledger
// failures never propagate to claim state: the projection is parked and
// retried by a background worker.
type Bridge struct {
	ledger     Ledger
	pending    PendingRepository
	logger     zerolog.Logger
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	sleep      func(time.Duration)
}

type BridgeOption func(*Bridge)

func WithTimeout(d time.Duration) BridgeOption { return func(b *Bridge) { b.timeout = d } }
func WithMaxRetries(n int) BridgeOption        { return func(b *Bridge) { b.maxRetries = n } }
func WithBackoff(d time.Duration) BridgeOption { return func(b *Bridge) { b.backoff = d } }

func NewBridge(ledger Ledger, pending PendingRepository, logger zerolog.Logger, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		ledger:     ledger,
		pending:    pending,
		logger:     logger,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RecordClaimPayment projects a paid claim into the ledger, retrying with
// backoff. On exhaustion the projection is parked for the retry worker
// and an IntegrationError is returned so the caller can log it; the
// caller must not roll back the claim.
func (b *Bridge) RecordClaimPayment(ctx context.Context, req PaymentRequest) error {
	if req.Amount <= 0 {
		return (&errs.ValidationError{}).Add("amount", "must be positive")
	}

	key := IdempotencyKey(req.GuiaID, req.RetornoID)
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if lastErr = b.project(ctx, req, key); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < b.maxRetries {
			b.sleep(b.backoff * time.Duration(attempt))
		}
	}

	b.logger.Error().Err(lastErr).
		Str("guia_id", req.GuiaID.String()).
		Str("idempotency_key", key).
		Msg("ledger projection failed, parking for retry")
	if err := b.park(ctx, req, lastErr); err != nil {
		b.logger.Error().Err(err).Str("guia_id", req.GuiaID.String()).Msg("park pending payment failed")
	}
	return &errs.IntegrationError{Op: "ledger.record", Err: lastErr}
}

func (b *Bridge) project(ctx context.Context, req PaymentRequest, key string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	now := time.Now()

	applied, err := b.ledger.RecordIncome(ctx, &Transacao{
		IdempotencyKey:  key,
		GuiaID:          req.GuiaID,
		LoteID:          req.LoteID,
		ConvenioID:      req.ConvenioID,
		Amount:          req.Amount,
		Description:     fmt.Sprintf("Pagamento guia %s", req.GuiaNumero),
		TransactionDate: now,
	})
	if err != nil {
		return fmt.Errorf("record income: %w", err)
	}
	if !applied {
		b.logger.Debug().Str("idempotency_key", key).Msg("income already recorded, skipping")
	}

	receiptRef, err := generateReceiptRef()
	if err != nil {
		return err
	}
	if _, err := b.ledger.RecordReceivable(ctx, &Recebimento{
		IdempotencyKey: key,
		GuiaID:         req.GuiaID,
		LoteID:         req.LoteID,
		ConvenioID:     req.ConvenioID,
		Amount:         req.Amount,
		Status:         ReceivableStatusPaid,
		Method:         MethodInsurance,
		ReceiptRef:     receiptRef,
		DueDate:        now.AddDate(0, 0, req.PaymentTermDays),
		ReceivedAt:     now,
	}); err != nil {
		return fmt.Errorf("record receivable: %w", err)
	}
	return nil
}

func (b *Bridge) park(ctx context.Context, req PaymentRequest, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return b.pending.Upsert(ctx, &PendingPayment{
		IdempotencyKey:  IdempotencyKey(req.GuiaID, req.RetornoID),
		GuiaID:          req.GuiaID,
		GuiaNumero:      req.GuiaNumero,
		LoteID:          req.LoteID,
		ConvenioID:      req.ConvenioID,
		Amount:          req.Amount,
		PaymentTermDays: req.PaymentTermDays,
		Attempts:        b.maxRetries,
		LastError:       msg,
	})
}

// RetryPending drains parked projections, one attempt each per pass.
func (b *Bridge) RetryPending(ctx context.Context) {
	items, err := b.pending.List(ctx, retryBatchSize)
	if err != nil {
		b.logger.Error().Err(err).Msg("list pending payments failed")
		return
	}
	for _, p := range items {
		req := PaymentRequest{
			GuiaID:          p.GuiaID,
			GuiaNumero:      p.GuiaNumero,
			LoteID:          p.LoteID,
			ConvenioID:      p.ConvenioID,
			RetornoID:       retornoIDFromKey(p.IdempotencyKey, p.GuiaID),
			Amount:          p.Amount,
			PaymentTermDays: p.PaymentTermDays,
		}
		if err := b.project(ctx, req, p.IdempotencyKey); err != nil {
			p.Attempts++
			p.LastError = err.Error()
			if uerr := b.pending.Upsert(ctx, p); uerr != nil {
				b.logger.Error().Err(uerr).Str("id", p.ID.String()).Msg("update pending payment failed")
			}
			continue
		}
		if derr := b.pending.Delete(ctx, p.ID); derr != nil {
			b.logger.Error().Err(derr).Str("id", p.ID.String()).Msg("delete pending payment failed")
		} else {
			b.logger.Info().Str("idempotency_key", p.IdempotencyKey).Msg("pending payment projected")
		}
	}
}

// RunRetryLoop drives RetryPending on a fixed interval until ctx is done.
func (b *Bridge) RunRetryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.RetryPending(ctx)
		}
	}
}

func (b *Bridge) ListTransactions(ctx context.Context, guiaID *uuid.UUID, limit, offset int) ([]*Transacao, int, error) {
	return b.ledger.ListTransactions(ctx, guiaID, limit, offset)
}

func (b *Bridge) ListReceivables(ctx context.Context, guiaID *uuid.UUID, limit, offset int) ([]*Recebimento, int, error) {
	return b.ledger.ListReceivables(ctx, guiaID, limit, offset)
}

// retornoIDFromKey recovers the return id suffix of an idempotency key.
// Parked rows do not carry the return id separately.
func retornoIDFromKey(key string, guiaID uuid.UUID) uuid.UUID {
	prefix := guiaID.String() + ":"
	if len(key) > len(prefix) {
		if id, err := uuid.Parse(key[len(prefix):]); err == nil {
			return id
		}
	}
	return uuid.Nil
}
