// Package relayer moves attested bridge deliveries from a message source into the hook executor
package relayer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/chain"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/hooks"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/metrics"
	"github.com/rs/zerolog"
)

var relayerLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	relayerLog = zerolog.New(out).With().Timestamp().Str("component", "relayer").Logger()
}

// Source hands out attested messages until they are acknowledged
type Source interface {
	Fetch(ctx context.Context) ([]chain.InboundMessage, error)
	Ack(ctx context.Context, msg chain.InboundMessage) error
}

// Deliverer executes one message on the destination chain
type Deliverer interface {
	Deliver(ctx context.Context, msg chain.InboundMessage) (*hooks.Delivery, error)
}

type Config struct {
	// Interval between polls of the source
	Interval time.Duration
	// MaxRetries bounds the extra attempts for a transiently failing delivery within one poll
	MaxRetries int
	// RetryDelay is the first backoff, doubled after every attempt
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:   2 * time.Second,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

type Relayer struct {
	source    Source
	deliverer Deliverer
	cfg       Config
}

func New(source Source, deliverer Deliverer, cfg Config) *Relayer {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	return &Relayer{source: source, deliverer: deliverer, cfg: cfg}
}

// Run polls until ctx is cancelled
func (r *Relayer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	relayerLog.Info().Dur("interval", r.cfg.Interval).Msg("Relayer started")
	for {
		select {
		case <-ctx.Done():
			relayerLog.Info().Msg("Relayer stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				relayerLog.Error().Err(err).Msg("Poll failed")
			}
		}
	}
}

// Poll fetches once and handles every message. It returns how many messages were acknowledged.
// Messages that still fail transiently after the retries stay unacknowledged for the next poll.
func (r *Relayer) Poll(ctx context.Context) (int, error) {
	msgs, err := r.source.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch deliveries: %w", err)
	}

	acked := 0
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return acked, ctx.Err()
		}
		if err := r.deliverWithRetry(ctx, msg); err != nil {
			metrics.RelayAttempts.WithLabelValues("exhausted").Inc()
			relayerLog.Warn().Err(err).
				Uint32("domain", msg.SourceDomain).
				Uint64("nonce", msg.Nonce).
				Msg("Delivery will be retried on the next poll")
			continue
		}
		if err := r.source.Ack(ctx, msg); err != nil {
			relayerLog.Error().Err(err).Uint32("domain", msg.SourceDomain).Uint64("nonce", msg.Nonce).Msg("Ack failed")
			continue
		}
		acked++
	}
	return acked, nil
}

// deliverWithRetry returns nil once the message is settled, delivered or permanently rejected
func (r *Relayer) deliverWithRetry(ctx context.Context, msg chain.InboundMessage) error {
	var lastErr error
	delay := r.cfg.RetryDelay

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		delivery, err := r.deliverer.Deliver(ctx, msg)
		if err == nil {
			metrics.RelayAttempts.WithLabelValues("delivered").Inc()
			relayerLog.Info().
				Str("id", delivery.Record.ID.String()).
				Str("state", string(delivery.Record.State)).
				Msg("Delivery settled")
			return nil
		}
		if !hooks.Retryable(err) {
			metrics.RelayAttempts.WithLabelValues("rejected").Inc()
			relayerLog.Warn().Err(err).
				Uint32("domain", msg.SourceDomain).
				Uint64("nonce", msg.Nonce).
				Msg("Delivery rejected, dropping message")
			return nil
		}
		metrics.RelayAttempts.WithLabelValues("retry").Inc()
		lastErr = err
	}
	return fmt.Errorf("delivery failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
