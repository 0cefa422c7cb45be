// Package sweeper periodically reports transfers that have been in flight for too long. It never
// changes a record: destination failures are resolved by operators.
package sweeper

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/metrics"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/store"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var sweeperLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	sweeperLog = zerolog.New(out).With().Timestamp().Str("component", "sweeper").Logger()
}

// Config sets when a transfer counts as stale and how often to look
type Config struct {
	// Schedule is a cron expression, e.g. "@every 1m"
	Schedule  string
	Threshold time.Duration
	Now       func() time.Time
}

func DefaultConfig() Config {
	return Config{Schedule: "@every 1m", Threshold: 30 * time.Minute}
}

// Stale is one transfer found past the threshold
type Stale struct {
	ID    transfer.ID
	State transfer.State
	Age   time.Duration
}

type Sweeper struct {
	records store.RecordStore
	cfg     Config
	cron    *cron.Cron
}

func New(records store.RecordStore, cfg Config) *Sweeper {
	defaults := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = defaults.Schedule
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaults.Threshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{records: records, cfg: cfg}
}

// Sweep lists in-flight records older than the threshold and updates the gauge
func (s *Sweeper) Sweep(ctx context.Context) ([]Stale, error) {
	inFlight := []transfer.State{
		transfer.StateInitiated,
		transfer.StateBridgePending,
		transfer.StateAwaitingDestinationExecution,
	}
	recs, err := s.records.ListByState(ctx, inFlight...)
	if err != nil {
		return nil, fmt.Errorf("list in-flight transfers: %w", err)
	}

	now := s.cfg.Now()
	counts := make(map[transfer.State]int, len(inFlight))
	var stale []Stale
	for _, rec := range recs {
		age := now.Sub(rec.UpdatedAt)
		if age < s.cfg.Threshold {
			continue
		}
		counts[rec.State]++
		stale = append(stale, Stale{ID: rec.ID, State: rec.State, Age: age})
		sweeperLog.Warn().
			Str("id", rec.ID.String()).
			Str("state", string(rec.State)).
			Dur("age", age).
			Uint32("domain", rec.BridgeDomain).
			Uint64("nonce", rec.BridgeNonce).
			Msg("Transfer is stale")
	}
	for _, state := range inFlight {
		metrics.StaleTransfers.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
	return stale, nil
}

// Start schedules Sweep on the configured cron expression
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			sweeperLog.Error().Err(err).Msg("Sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron = c
	c.Start()
	sweeperLog.Info().Str("schedule", s.cfg.Schedule).Dur("threshold", s.cfg.Threshold).Msg("Sweeper started")
	return nil
}

// Stop waits for a running sweep to finish
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
