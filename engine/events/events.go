// Package events publishes the transfer facts external consumers (indexers, relayers) follow
package events

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/metrics"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/units"
	"github.com/rs/zerolog"
)

var eventsLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	eventsLog = zerolog.New(out).With().Timestamp().Str("component", "events").Logger()
}

// Type names a transfer fact
type Type string

const (
	TypeInitiated Type = "transfer.initiated"
	TypeCompleted Type = "transfer.completed"
	TypeFailed    Type = "transfer.failed"
)

// Event is the wire form of a transfer fact
type Event struct {
	Type        Type      `json:"type"`
	TransferID  string    `json:"transfer_id"`
	Sender      string    `json:"sender"`
	SourceChain uint64    `json:"source_chain"`
	SourceToken string    `json:"source_token"`
	DestChain   uint64    `json:"dest_chain"`
	DestToken   string    `json:"dest_token"`
	Amount      string    `json:"amount"`
	Recipient   string    `json:"recipient"`
	Protocol    string    `json:"protocol"`
	AmountOut   string    `json:"amount_out,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// FromRecord builds the event for a record in its current state
func FromRecord(t Type, rec *transfer.Record) Event {
	ev := Event{
		Type:        t,
		TransferID:  rec.ID.String(),
		Sender:      rec.Sender.Hex(),
		SourceChain: rec.SourceChain,
		SourceToken: rec.SourceToken,
		DestChain:   rec.DestChain,
		DestToken:   rec.DestToken,
		Amount:      units.String(rec.AmountIn),
		Recipient:   rec.Recipient.Hex(),
		Protocol:    rec.Protocol.String(),
		Reason:      rec.FailureReason,
		At:          rec.UpdatedAt,
	}
	if rec.AmountOut != nil {
		ev.AmountOut = rec.AmountOut.Dec()
	}
	return ev
}

// Publisher hands events to one sink
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Emit publishes and records the outcome. Publishing never fails the caller: the record is
// already persisted and is the source of truth.
func Emit(ctx context.Context, pub Publisher, ev Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		metrics.EventsPublished.WithLabelValues(string(ev.Type), "error").Inc()
		eventsLog.Error().Err(err).Str("type", string(ev.Type)).Str("id", ev.TransferID).Msg("Failed to publish event")
		return
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type), "ok").Inc()
}

// LogPublisher writes events to the structured log
type LogPublisher struct {
	Logger zerolog.Logger
}

// NewLogPublisher logs through the events component logger
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{Logger: eventsLog}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.Logger.Info().
		Str("type", string(ev.Type)).
		Str("id", ev.TransferID).
		Str("protocol", ev.Protocol).
		Str("amount", ev.Amount).
		Uint64("destChain", ev.DestChain).
		Str("reason", ev.Reason).
		Msg("Transfer event")
	return nil
}

// Fanout publishes to every publisher and joins their errors
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the published event types in order, optionally filtered to one transfer
func (r *Recorder) Types(transferID string) []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Type
	for _, ev := range r.events {
		if transferID == "" || ev.TransferID == transferID {
			out = append(out, ev.Type)
		}
	}
	return out
}
