package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Endpoint is a webhook destination. Patterns can be exact ("claim.paid")
// or wildcard ("claim.*", "*.resolved").
type Endpoint struct {
	URL      string
	Secret   string
	Patterns []string
}

func (ep Endpoint) matches(eventType string) bool {
	for _, pat := range ep.Patterns {
		if pat == eventType || pat == "*" {
			return true
		}
		if strings.HasPrefix(pat, "*.") && strings.HasSuffix(eventType, pat[1:]) {
			return true
		}
		if strings.HasSuffix(pat, ".*") && strings.HasPrefix(eventType, pat[:len(pat)-1]) {
			return true
		}
	}
	return false
}

// SignPayload computes the hex-encoded HMAC-SHA256 of the payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the HMAC-SHA256 of
// payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.httpClient = c }
}

func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) { d.batchSize = n }
}

// Dispatcher drains the outbox and POSTs pending events to every matching
// endpoint. An event is DELIVERED once every matching endpoint accepted it;
// after maxAttempts failed rounds it is marked FAILED and left for manual
// inspection.
type Dispatcher struct {
	repo        OutboxRepository
	endpoints   []Endpoint
	httpClient  *http.Client
	maxAttempts int
	batchSize   int
	logger      zerolog.Logger
}

func NewDispatcher(repo OutboxRepository, endpoints []Endpoint, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		repo:        repo,
		endpoints:   endpoints,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		batchSize:   50,
		logger:      logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run polls the outbox until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.DispatchPending(ctx); err != nil {
				d.logger.Warn().Err(err).Msg("outbox dispatch round failed")
			}
		}
	}
}

// DispatchPending delivers one batch of pending events.
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	pending, err := d.repo.ListPending(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("list pending events: %w", err)
	}
	for _, e := range pending {
		d.dispatchOne(ctx, e)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, e *Event) {
	var firstErr error
	delivered := 0
	matched := 0
	for _, ep := range d.endpoints {
		if !ep.matches(e.Type) {
			continue
		}
		matched++
		if err := d.deliver(ctx, ep, e); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			d.logger.Warn().Err(err).
				Str("event_id", e.ID.String()).
				Str("event_type", e.Type).
				Str("url", ep.URL).
				Int("attempt", e.Attempts+1).
				Msg("webhook delivery failed")
			continue
		}
		delivered++
	}

	// No subscriber cares about this event; nothing to retry.
	if matched == 0 || delivered == matched {
		if err := d.repo.MarkDelivered(ctx, e.ID); err != nil {
			d.logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("mark delivered failed")
		}
		return
	}

	attempts := e.Attempts + 1
	final := attempts >= d.maxAttempts
	if err := d.repo.MarkFailed(ctx, e.ID, attempts, firstErr.Error(), final); err != nil {
		d.logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("mark failed failed")
	}
	if final {
		d.logger.Error().
			Str("event_id", e.ID.String()).
			Str("event_type", e.Type).
			Int("attempts", attempts).
			Msg("webhook delivery abandoned")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, e *Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, ep.Secret))
	req.Header.Set("X-Webhook-Event", e.Type)
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil
}
