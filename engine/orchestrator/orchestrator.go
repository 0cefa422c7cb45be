// Package orchestrator runs the source side of a transfer: it validates the intent, takes custody
// of the funds, records the transfer and hands it to the bridge.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/chain"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/events"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/feeledger"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/hooks"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/metrics"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/selector"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/store"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var orchestratorLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	orchestratorLog = zerolog.New(out).With().Timestamp().Str("component", "orchestrator").Logger()
}

var tracer = otel.Tracer("github.com/Cogwheel-Validator/spectra-stable-router/engine/orchestrator")

var (
	// ErrCustody means the caller's funds could not be taken; nothing was recorded
	ErrCustody = errors.New("could not take custody of funds")
	// ErrSourceExecution means the record exists and was moved to FAILED
	ErrSourceExecution = errors.New("source execution failed")
)

// Config wires the orchestrator's collaborators
type Config struct {
	Catalog  *catalog.Store
	Selector *selector.Selector
	Ledger   chain.TokenLedger
	Bridge   chain.Bridge
	Pools    chain.SwapPool
	Fees     *feeledger.Ledger
	Records  store.RecordStore
	// Collector is the identity fees are recorded under; it must be authorized in Fees
	Collector string
	Publisher events.Publisher
	Now       func() time.Time
	// Instance salts transfer ids; a random one is drawn when zero
	Instance uuid.UUID
	// RecordRetries bounds the attempts at moving a sent transfer to BRIDGE_PENDING before the
	// update is parked for RetryPending
	RecordRetries    uint
	RecordRetryDelay time.Duration
}

// Default bounds for recording a bridge send
const (
	DefaultRecordRetries    = 4
	DefaultRecordRetryDelay = 50 * time.Millisecond
)

// Result is the outcome of Initiate. Record is nil when validation or custody failed.
type Result struct {
	Record    *transfer.Record
	Operation *selector.Operation
}

// Orchestrator is safe for concurrent use. Independent transfers never share a lock across an
// external call.
type Orchestrator struct {
	catalog   *catalog.Store
	selector  *selector.Selector
	ledger    chain.TokenLedger
	bridge    chain.Bridge
	pools     chain.SwapPool
	fees      *feeledger.Ledger
	records   store.RecordStore
	collector string
	publisher events.Publisher
	now       func() time.Time

	instance      transfer.Instance
	recordRetries uint
	recordDelay   time.Duration

	counter atomic.Uint64
	nonceMu sync.Mutex
	nonces  map[common.Address]uint64

	// sends whose BRIDGE_PENDING transition could not be stored yet
	parkedMu sync.Mutex
	parked   map[transfer.ID]transfer.Update
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		catalog:   cfg.Catalog,
		selector:  cfg.Selector,
		ledger:    cfg.Ledger,
		bridge:    cfg.Bridge,
		pools:     cfg.Pools,
		fees:      cfg.Fees,
		records:   cfg.Records,
		collector: cfg.Collector,
		publisher: cfg.Publisher,
		now:       cfg.Now,

		instance:      transfer.Instance(cfg.Instance),
		recordRetries: cfg.RecordRetries,
		recordDelay:   cfg.RecordRetryDelay,

		nonces: make(map[common.Address]uint64),
		parked: make(map[transfer.ID]transfer.Update),
	}
	if o.selector == nil {
		o.selector = selector.New(selector.DefaultConfig())
	}
	if o.now == nil {
		o.now = time.Now
	}
	if cfg.Instance == uuid.Nil {
		o.instance = transfer.Instance(uuid.New())
	}
	if o.recordRetries == 0 {
		o.recordRetries = DefaultRecordRetries
	}
	if o.recordDelay <= 0 {
		o.recordDelay = DefaultRecordRetryDelay
	}
	return o
}

func (o *Orchestrator) nextID(sender common.Address) transfer.ID {
	o.nonceMu.Lock()
	o.nonces[sender]++
	nonce := o.nonces[sender]
	o.nonceMu.Unlock()
	return transfer.NewID(o.instance, sender, nonce, o.counter.Add(1))
}

// Initiate validates intent and starts the transfer. Validation and custody failures return an
// error and create nothing. Once the record exists, a failing source swap or bridge send moves it
// to FAILED and the error wraps ErrSourceExecution; the result still carries the record.
func (o *Orchestrator) Initiate(ctx context.Context, intent selector.Intent) (*Result, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Initiate")
	defer span.End()
	span.SetAttributes(
		attribute.String("transfer.source_token", intent.SourceToken),
		attribute.Int64("transfer.source_chain", int64(intent.SourceChain)),
		attribute.String("transfer.dest_token", intent.DestToken),
		attribute.Int64("transfer.dest_chain", int64(intent.DestChain)),
	)

	result, err := o.initiate(ctx, intent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if result != nil && result.Record != nil {
		span.SetAttributes(
			attribute.String("transfer.id", result.Record.ID.String()),
			attribute.String("transfer.state", string(result.Record.State)),
		)
	}
	return result, err
}

func (o *Orchestrator) initiate(ctx context.Context, intent selector.Intent) (*Result, error) {
	snap := o.catalog.Snapshot()
	op, err := o.selector.Validate(snap, intent)
	if err != nil {
		return nil, err
	}
	result := &Result{Operation: op}
	router := op.SourceChain.Router

	// take custody before anything is recorded
	if err := o.lockFunds(ctx, op); err != nil {
		return nil, err
	}

	if err := o.fees.Record(o.collector, intent.SourceToken, op.Fee); err != nil {
		o.returnFunds(ctx, op)
		return nil, fmt.Errorf("record fee: %w", err)
	}

	now := o.now()
	rec := &transfer.Record{
		ID:             o.nextID(intent.Sender),
		State:          transfer.StateInitiated,
		Protocol:       op.Protocol,
		Sender:         intent.Sender,
		Recipient:      intent.Recipient,
		SourceChain:    intent.SourceChain,
		SourceToken:    intent.SourceToken,
		DestChain:      intent.DestChain,
		DestToken:      intent.DestToken,
		AmountIn:       intent.Amount.Clone(),
		Fee:            op.Fee.Clone(),
		BridgedToken:   op.BridgedToken,
		MinOutput:      op.MinOutput.Clone(),
		RouteKey:       op.Route.Key(),
		CatalogVersion: op.CatalogVersion,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.records.Create(ctx, rec); err != nil {
		o.returnFunds(ctx, op)
		return nil, fmt.Errorf("create record: %w", err)
	}
	result.Record = rec
	metrics.TransfersInitiated.WithLabelValues(op.Protocol.String()).Inc()
	events.Emit(ctx, o.publisher, events.FromRecord(events.TypeInitiated, rec))

	log := orchestratorLog.With().Str("id", rec.ID.String()).Str("protocol", op.Protocol.String()).Logger()
	log.Info().
		Str("amount", intent.Amount.Dec()).
		Str("fee", op.Fee.Dec()).
		Str("route", fmt.Sprintf("%s/%d -> %s/%d", intent.SourceToken, intent.SourceChain, intent.DestToken, intent.DestChain)).
		Msg("Transfer initiated")

	if !op.NativeRefund.IsZero() {
		if err := o.ledger.Transfer(ctx, intent.SourceChain, catalog.NativeCurrency, router, intent.Sender, op.NativeRefund); err != nil {
			// the excess stays in custody; the transfer itself is unaffected
			log.Error().Err(err).Str("refund", op.NativeRefund.Dec()).Msg("Failed to refund excess native fee")
		}
	}

	bridged := op.NetAmount
	if op.SourceSwap != nil {
		out, err := o.pools.Swap(ctx, chain.SwapRequest{
			Chain:    op.SourceSwap.Chain,
			Pool:     op.SourceSwap.Pool,
			TokenIn:  op.SourceSwap.TokenIn,
			TokenOut: op.SourceSwap.TokenOut,
			AmountIn: op.NetAmount,
			MinOut:   op.SourceSwap.MinOut,
			FeeTier:  op.SourceSwap.FeeTier,
			Account:  router,
		})
		if err == nil && op.SourceSwap.MinOut != nil && out.Lt(op.SourceSwap.MinOut) {
			err = fmt.Errorf("%w: got %s", chain.ErrSlippage, out.Dec())
		}
		if err != nil {
			return o.fail(ctx, result, "source_swap", fmt.Sprintf("source swap failed: %v", err))
		}
		bridged = out
	}

	payload, err := hooks.EncodePayload(payloadFor(rec.ID, op))
	if err != nil {
		return o.fail(ctx, result, "source_send", fmt.Sprintf("encode payload: %v", err))
	}
	receipt, err := o.bridge.Send(ctx, chain.OutboundMessage{
		Protocol:          op.Protocol,
		SourceChain:       intent.SourceChain,
		DestChain:         intent.DestChain,
		DestinationDomain: op.Route.DestinationDomain,
		Bridge:            op.Route.Bridge,
		PoolID:            op.Route.PoolID,
		Token:             op.BridgedToken,
		Amount:            bridged,
		From:              router,
		Recipient:         op.DestChain.HookExecutor,
		Payload:           payload,
		NativeFee:         op.NativeFee,
	})
	if err != nil {
		return o.fail(ctx, result, "source_send", fmt.Sprintf("bridge send failed: %v", err))
	}

	update := transfer.Update{
		Reason:        "bridge message sent",
		BridgedAmount: bridged,
		BridgeDomain:  receipt.Domain,
		BridgeNonce:   receipt.Nonce,
	}
	updated, err := o.recordSend(ctx, rec.ID, update)
	if err != nil {
		if permanentRecordError(err) {
			log.Error().Err(err).Uint32("domain", receipt.Domain).Uint64("nonce", receipt.Nonce).Msg("Failed to record bridge send")
			return result, fmt.Errorf("record bridge send: %w", err)
		}
		// the message is in flight; deliveries see ErrRecordNotReady and are retried until
		// RetryPending stores the transition
		o.park(rec.ID, update)
		log.Error().Err(err).Uint32("domain", receipt.Domain).Uint64("nonce", receipt.Nonce).
			Msg("Failed to record bridge send, parked for retry")
		return result, nil
	}
	result.Record = updated
	log.Info().
		Str("bridged", bridged.Dec()+" "+op.BridgedToken).
		Uint32("domain", receipt.Domain).
		Uint64("nonce", receipt.Nonce).
		Msg("Bridge message sent")
	return result, nil
}

// recordSend stores the BRIDGE_PENDING transition with exponential backoff. The caller's
// cancellation does not stop it since the bridge message is already out.
func (o *Orchestrator) recordSend(ctx context.Context, id transfer.ID, update transfer.Update) (*transfer.Record, error) {
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     o.recordDelay,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          2,
		MaxInterval:         20 * o.recordDelay,
	}
	ctx = context.WithoutCancel(ctx)
	return backoff.Retry(ctx, func() (*transfer.Record, error) {
		rec, err := o.records.Transition(ctx, id, transfer.StateBridgePending, update)
		if err != nil && permanentRecordError(err) {
			return nil, backoff.Permanent(err)
		}
		return rec, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(o.recordRetries))
}

func permanentRecordError(err error) bool {
	return errors.Is(err, store.ErrRecordNotFound) || errors.Is(err, transfer.ErrInvalidTransition)
}

func (o *Orchestrator) park(id transfer.ID, update transfer.Update) {
	o.parkedMu.Lock()
	defer o.parkedMu.Unlock()
	o.parked[id] = update
}

// Parked returns how many sent transfers still wait for their BRIDGE_PENDING transition
func (o *Orchestrator) Parked() int {
	o.parkedMu.Lock()
	defer o.parkedMu.Unlock()
	return len(o.parked)
}

// RetryPending stores the parked BRIDGE_PENDING transitions and returns how many are left.
// Transitions the store rejects for good are dropped and logged.
func (o *Orchestrator) RetryPending(ctx context.Context) int {
	o.parkedMu.Lock()
	parked := make(map[transfer.ID]transfer.Update, len(o.parked))
	for id, update := range o.parked {
		parked[id] = update
	}
	o.parkedMu.Unlock()

	for id, update := range parked {
		if ctx.Err() != nil {
			break
		}
		log := orchestratorLog.With().Str("id", id.String()).Uint32("domain", update.BridgeDomain).Uint64("nonce", update.BridgeNonce).Logger()
		_, err := o.records.Transition(ctx, id, transfer.StateBridgePending, update)
		switch {
		case err == nil:
			log.Info().Msg("Recorded parked bridge send")
		case permanentRecordError(err):
			log.Error().Err(err).Msg("Dropping parked bridge send")
		default:
			log.Warn().Err(err).Msg("Parked bridge send still not recorded")
			continue
		}
		o.parkedMu.Lock()
		delete(o.parked, id)
		o.parkedMu.Unlock()
	}
	return o.Parked()
}

func payloadFor(id transfer.ID, op *selector.Operation) hooks.Payload {
	p := hooks.Payload{
		TransferID: id,
		DestToken:  op.Intent.DestToken,
		Recipient:  op.Intent.Recipient,
		MinOut:     op.MinOutput,
		ExtraData:  op.Route.ExtraData,
	}
	if op.DestSwap != nil {
		p.SwapPool = op.DestSwap.Pool
		p.FeeTier = op.DestSwap.FeeTier
	}
	return p
}

// lockFunds pulls the amount and the prepaid native fee into the source router. A failure on the
// second leg returns the first.
func (o *Orchestrator) lockFunds(ctx context.Context, op *selector.Operation) error {
	intent := op.Intent
	router := op.SourceChain.Router
	if err := o.ledger.TransferFrom(ctx, intent.SourceChain, intent.SourceToken, router, intent.Sender, router, intent.Amount); err != nil {
		return fmt.Errorf("%w: %w", ErrCustody, err)
	}
	if prepaid := intent.PrepaidNative; prepaid != nil && !prepaid.IsZero() {
		if err := o.ledger.TransferFrom(ctx, intent.SourceChain, catalog.NativeCurrency, router, intent.Sender, router, prepaid); err != nil {
			o.refund(ctx, intent.SourceChain, intent.SourceToken, router, intent.Sender, intent.Amount)
			return fmt.Errorf("%w: %w", ErrCustody, err)
		}
	}
	return nil
}

// returnFunds undoes lockFunds
func (o *Orchestrator) returnFunds(ctx context.Context, op *selector.Operation) {
	intent := op.Intent
	router := op.SourceChain.Router
	o.refund(ctx, intent.SourceChain, intent.SourceToken, router, intent.Sender, intent.Amount)
	if intent.PrepaidNative != nil {
		o.refund(ctx, intent.SourceChain, catalog.NativeCurrency, router, intent.Sender, intent.PrepaidNative)
	}
}

func (o *Orchestrator) refund(ctx context.Context, chainID uint64, token string, from, to common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	if err := o.ledger.Transfer(ctx, chainID, token, from, to, amount); err != nil {
		orchestratorLog.Error().Err(err).
			Uint64("chain", chainID).
			Str("token", token).
			Str("to", to.Hex()).
			Str("amount", amount.Dec()).
			Msg("Failed to return custody")
	}
}

// fail moves the record to FAILED. Funds stay in the source router's custody.
func (o *Orchestrator) fail(ctx context.Context, result *Result, stage, reason string) (*Result, error) {
	id := result.Record.ID
	updated, err := o.records.Transition(ctx, id, transfer.StateFailed, transfer.Update{Reason: reason})
	if err != nil {
		orchestratorLog.Error().Err(err).Str("id", id.String()).Str("reason", reason).Msg("Failed to record failure")
		return result, fmt.Errorf("%w: %s (record not updated: %w)", ErrSourceExecution, reason, err)
	}
	result.Record = updated
	metrics.TransfersFailed.WithLabelValues(stage).Inc()
	orchestratorLog.Warn().Str("id", id.String()).Str("reason", reason).Msg("Transfer failed on source")
	events.Emit(ctx, o.publisher, events.FromRecord(events.TypeFailed, updated))
	return result, fmt.Errorf("%w: %s", ErrSourceExecution, reason)
}

// Get returns a transfer record
func (o *Orchestrator) Get(ctx context.Context, id transfer.ID) (*transfer.Record, error) {
	return o.records.Get(ctx, id)
}
