// Package hooks executes attested bridge deliveries on the destination chain: it authenticates the
// message, claims it against replay, then either hands the funds to the recipient or swaps them
// into the destination token first.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/chain"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/events"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/metrics"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/store"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var hooksLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	hooksLog = zerolog.New(out).With().Timestamp().Str("component", "hooks").Logger()
}

var tracer = otel.Tracer("github.com/Cogwheel-Validator/spectra-stable-router/engine/hooks")

var (
	ErrUnauthorizedSender = errors.New("unauthorized hook sender")
	ErrReplayedMessage    = errors.New("message already processed")
	ErrInvalidPayload     = errors.New("invalid hook payload")
	ErrUnknownTransfer    = errors.New("payload references an unknown transfer")
	ErrUnexpectedState    = errors.New("transfer is not awaiting delivery")
	// ErrMessageMismatch means the message is not the bridge message recorded for the transfer
	ErrMessageMismatch = errors.New("message does not match the recorded bridge send")
	// ErrRecordNotReady means the source side has not recorded the bridge send yet
	ErrRecordNotReady = errors.New("transfer is not bridge pending yet")
	// ErrCompletionNotRecorded means funds reached the recipient but the record could not be updated
	ErrCompletionNotRecorded = errors.New("delivered but completion not recorded")
)

// Retryable reports whether a delivery error may succeed if the same message is delivered again.
// Rejections of the message itself are permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	for _, permanent := range []error{
		ErrUnauthorizedSender, ErrReplayedMessage, ErrInvalidPayload, ErrUnknownTransfer, ErrUnexpectedState,
		ErrMessageMismatch, ErrCompletionNotRecorded,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}

// Delivery is the outcome of one accepted message. A destination failure (swap below minimum)
// is a Delivery with a FAILED record, not an error.
type Delivery struct {
	Record  *transfer.Record
	Payload Payload
}

// Config wires the executor's collaborators
type Config struct {
	Catalog   *catalog.Store
	Ledger    chain.TokenLedger
	Pools     chain.SwapPool
	Records   store.RecordStore
	Guard     ReplayGuard
	Publisher events.Publisher
}

// Executor is the destination entry point invoked by a relayer
type Executor struct {
	catalog   *catalog.Store
	ledger    chain.TokenLedger
	pools     chain.SwapPool
	records   store.RecordStore
	guard     ReplayGuard
	publisher events.Publisher
}

// NewExecutor creates an executor. A nil Guard falls back to a process local one.
func NewExecutor(cfg Config) *Executor {
	e := &Executor{
		catalog:   cfg.Catalog,
		ledger:    cfg.Ledger,
		pools:     cfg.Pools,
		records:   cfg.Records,
		guard:     cfg.Guard,
		publisher: cfg.Publisher,
	}
	if e.guard == nil {
		e.guard = NewMemoryGuard()
	}
	return e
}

// Deliver handles one attested inbound message
func (e *Executor) Deliver(ctx context.Context, msg chain.InboundMessage) (*Delivery, error) {
	ctx, span := tracer.Start(ctx, "hooks.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("bridge.source_domain", int64(msg.SourceDomain)),
		attribute.Int64("bridge.nonce", int64(msg.Nonce)),
	)

	delivery, err := e.deliver(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.HookDeliveries.WithLabelValues(resultLabel(err)).Inc()
		hooksLog.Warn().Err(err).
			Uint32("domain", msg.SourceDomain).
			Uint64("nonce", msg.Nonce).
			Str("sender", msg.Sender.Hex()).
			Msg("Delivery rejected")
		return nil, err
	}
	span.SetAttributes(attribute.String("transfer.state", string(delivery.Record.State)))
	metrics.HookDeliveries.WithLabelValues(string(delivery.Record.State)).Inc()
	return delivery, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorizedSender):
		return "unauthorized"
	case errors.Is(err, ErrReplayedMessage):
		return "replayed"
	case errors.Is(err, ErrMessageMismatch):
		return "mismatch"
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrUnknownTransfer), errors.Is(err, ErrUnexpectedState):
		return "rejected"
	case errors.Is(err, ErrCompletionNotRecorded):
		return "unrecorded"
	default:
		return "retry"
	}
}

func (e *Executor) deliver(ctx context.Context, msg chain.InboundMessage) (*Delivery, error) {
	snap := e.catalog.Snapshot()
	if !snap.HookAuthorized(msg.SourceDomain, msg.Sender) {
		return nil, fmt.Errorf("%w: %s on domain %d", ErrUnauthorizedSender, msg.Sender.Hex(), msg.SourceDomain)
	}
	dest, ok := snap.Chain(msg.DestChain)
	if !ok {
		return nil, fmt.Errorf("%w: unknown destination chain %d", ErrInvalidPayload, msg.DestChain)
	}
	if msg.Amount == nil {
		return nil, fmt.Errorf("%w: missing amount", ErrInvalidPayload)
	}

	claimed, err := e.guard.Claim(ctx, msg.SourceDomain, msg.Nonce)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: %d/%d", ErrReplayedMessage, msg.SourceDomain, msg.Nonce)
	}

	delivery, err := e.execute(ctx, snap, dest, msg)
	// a mismatching message must not burn the (domain, nonce) of the genuine one
	if err != nil && (Retryable(err) || errors.Is(err, ErrMessageMismatch)) {
		if relErr := e.guard.Release(ctx, msg.SourceDomain, msg.Nonce); relErr != nil {
			hooksLog.Error().Err(relErr).
				Uint32("domain", msg.SourceDomain).
				Uint64("nonce", msg.Nonce).
				Msg("Failed to release claim, message will not be retried")
		}
	}
	return delivery, err
}

// execute runs with the message claimed. Errors returned from here before any fund movement are
// transient unless they match a permanent sentinel.
func (e *Executor) execute(ctx context.Context, snap *catalog.Snapshot, dest catalog.Chain, msg chain.InboundMessage) (*Delivery, error) {
	payload, err := DecodePayload(msg.Payload)
	if err != nil {
		return nil, err
	}

	rec, err := e.records.Get(ctx, payload.TransferID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, payload.TransferID)
	}
	if err != nil {
		return nil, err
	}
	switch rec.State {
	case transfer.StateBridgePending:
	case transfer.StateInitiated:
		return nil, fmt.Errorf("%w: %s", ErrRecordNotReady, rec.ID)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrUnexpectedState, rec.ID, rec.State)
	}
	if err := matchRecord(rec, msg, payload); err != nil {
		return nil, err
	}

	log := hooksLog.With().Str("id", rec.ID.String()).Logger()

	// the catalog may have changed since the source side validated
	if err := catalog.CheckDeliverable(snap, rec.DestChain, payload.DestToken); err != nil {
		return e.fail(ctx, rec, payload, "destination", fmt.Sprintf("destination check failed: %v", err))
	}

	if payload.SameToken() {
		if msg.Token != payload.DestToken {
			return nil, fmt.Errorf("%w: same-token delivery of %s as %s", ErrInvalidPayload, msg.Token, payload.DestToken)
		}
		if err := e.ledger.Transfer(ctx, rec.DestChain, payload.DestToken, dest.HookExecutor, payload.Recipient, msg.Amount); err != nil {
			return nil, fmt.Errorf("deliver %s: %w", rec.ID, err)
		}
		log.Info().Str("amount", msg.Amount.Dec()).Msg("Delivered without swap")
		return e.complete(ctx, rec, payload, msg.Amount)
	}

	rec, err = e.records.Transition(ctx, rec.ID, transfer.StateAwaitingDestinationExecution, transfer.Update{
		Reason: "bridge delivered, swapping",
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, swapErr := e.pools.Swap(ctx, chain.SwapRequest{
		Chain:    rec.DestChain,
		Pool:     payload.SwapPool,
		TokenIn:  msg.Token,
		TokenOut: payload.DestToken,
		AmountIn: msg.Amount,
		MinOut:   payload.MinOut,
		FeeTier:  payload.FeeTier,
		Account:  dest.HookExecutor,
	})
	metrics.HookSwapDuration.Observe(time.Since(start).Seconds())

	if swapErr != nil {
		return e.fail(ctx, rec, payload, "destination_swap", fmt.Sprintf("destination swap failed: %v", swapErr))
	}
	if payload.MinOut != nil && out.Lt(payload.MinOut) {
		return e.fail(ctx, rec, payload, "destination_swap",
			fmt.Sprintf("destination swap returned %s, below minimum %s", out.Dec(), payload.MinOut.Dec()))
	}
	if err := e.ledger.Transfer(ctx, rec.DestChain, payload.DestToken, dest.HookExecutor, payload.Recipient, out); err != nil {
		return e.fail(ctx, rec, payload, "destination_delivery", fmt.Sprintf("delivery after swap failed: %v", err))
	}
	log.Info().Str("amount_out", out.Dec()).Str("token", payload.DestToken).Msg("Delivered after swap")
	return e.complete(ctx, rec, payload, out)
}

// matchRecord binds the message to the bridge send recorded for rec. Nothing the message carries
// is trusted beyond what the source side recorded.
func matchRecord(rec *transfer.Record, msg chain.InboundMessage, payload Payload) error {
	mismatch := func(field string) error {
		return fmt.Errorf("%w: %s differs for transfer %s", ErrMessageMismatch, field, rec.ID)
	}
	switch {
	case msg.SourceDomain != rec.BridgeDomain || msg.Nonce != rec.BridgeNonce:
		return mismatch("bridge domain and nonce")
	case rec.DestChain != msg.DestChain:
		return mismatch("destination chain")
	case rec.BridgedToken != msg.Token:
		return mismatch("bridged token")
	case rec.BridgedAmount == nil || !rec.BridgedAmount.Eq(msg.Amount):
		return mismatch("amount")
	case rec.DestToken != payload.DestToken:
		return mismatch("destination token")
	case rec.Recipient != payload.Recipient:
		return mismatch("recipient")
	case !sameAmount(rec.MinOutput, payload.MinOut):
		return mismatch("minimum output")
	case payload.SameToken() != (rec.DestToken == rec.BridgedToken):
		return mismatch("swap instruction")
	}
	return nil
}

// sameAmount treats nil as zero, the payload encodes a missing minimum as 0
func sameAmount(a, b *uint256.Int) bool {
	if a == nil {
		a = new(uint256.Int)
	}
	if b == nil {
		b = new(uint256.Int)
	}
	return a.Eq(b)
}

func (e *Executor) complete(ctx context.Context, rec *transfer.Record, payload Payload, amount *uint256.Int) (*Delivery, error) {
	updated, err := e.records.Transition(ctx, rec.ID, transfer.StateCompleted, transfer.Update{
		Reason:    "delivered",
		AmountOut: amount,
	})
	if err != nil {
		// funds have moved, a retry must not deliver twice
		hooksLog.Error().Err(err).Str("id", rec.ID.String()).Msg("Delivered but failed to record completion")
		return nil, fmt.Errorf("%w: %s: %w", ErrCompletionNotRecorded, rec.ID, err)
	}
	metrics.TransfersCompleted.WithLabelValues(updated.Protocol.String()).Inc()
	events.Emit(ctx, e.publisher, events.FromRecord(events.TypeCompleted, updated))
	return &Delivery{Record: updated, Payload: payload}, nil
}

// fail moves the record to FAILED. Funds stay in the hook executor's custody.
func (e *Executor) fail(ctx context.Context, rec *transfer.Record, payload Payload, stage, reason string) (*Delivery, error) {
	updated, err := e.records.Transition(ctx, rec.ID, transfer.StateFailed, transfer.Update{Reason: reason})
	if err != nil {
		return nil, err
	}
	metrics.TransfersFailed.WithLabelValues(stage).Inc()
	hooksLog.Warn().Str("id", rec.ID.String()).Str("reason", reason).Msg("Transfer failed on destination, funds held by hook executor")
	events.Emit(ctx, e.publisher, events.FromRecord(events.TypeFailed, updated))
	return &Delivery{Record: updated, Payload: payload}, nil
}
