package hooks_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog/catalogtest"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/chain"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/events"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/hooks"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/sim"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/store"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

var (
	sender    = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	recipient = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	executor  = catalogtest.HookExecutor(catalog.ChainArbitrum)
)

type harness struct {
	catalog  *catalog.Store
	ledger   *sim.Ledger
	pools    *sim.Pools
	records  *store.Memory
	recorder *events.Recorder
	executor *hooks.Executor
}

func newHarness() *harness {
	h := &harness{
		catalog:  catalogtest.Store(),
		ledger:   sim.NewLedger(),
		records:  store.NewMemory(),
		recorder: &events.Recorder{},
	}
	h.pools = sim.NewPools(h.ledger, h.catalog)
	h.executor = hooks.NewExecutor(hooks.Config{
		Catalog:   h.catalog,
		Ledger:    h.ledger,
		Pools:     h.pools,
		Records:   h.records,
		Publisher: h.recorder,
	})
	return h
}

// pending stores a Base -> Arbitrum record in state and credits the bridged USDC to the executor
func (h *harness) pending(t *testing.T, counter uint64, destToken string, state transfer.State) *transfer.Record {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	rec := &transfer.Record{
		ID:            transfer.NewID(transfer.Instance{}, sender, counter, counter),
		State:         transfer.StateInitiated,
		Protocol:      catalog.ProtocolBurnMint,
		Sender:        sender,
		Recipient:     recipient,
		SourceChain:   catalog.ChainBase,
		SourceToken:   "USDC",
		DestChain:     catalog.ChainArbitrum,
		DestToken:     destToken,
		AmountIn:      units.FromWhole(100, 6),
		Fee:           uint256.NewInt(100000),
		BridgedToken:  "USDC",
		BridgedAmount: uint256.NewInt(99900000),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if destToken != "USDC" {
		rec.Protocol = catalog.ProtocolBurnMintWithHook
		rec.MinOutput = units.MustParse("99000000000000000000")
	}
	assert.NoError(t, h.records.Create(ctx, rec))
	if state == transfer.StateBridgePending {
		_, err := h.records.Transition(ctx, rec.ID, transfer.StateBridgePending, transfer.Update{BridgeDomain: 6, BridgeNonce: counter})
		assert.NoError(t, err)
	}
	h.ledger.Mint(catalog.ChainArbitrum, "USDC", executor, uint256.NewInt(99900000))
	return rec
}

func message(t *testing.T, rec *transfer.Record, p hooks.Payload, nonce uint64) chain.InboundMessage {
	t.Helper()
	p.TransferID = rec.ID
	p.DestToken = rec.DestToken
	p.Recipient = recipient
	payload, err := hooks.EncodePayload(p)
	assert.NoError(t, err)
	return chain.InboundMessage{
		SourceDomain: 6,
		Nonce:        nonce,
		Sender:       catalogtest.Router(catalog.ChainBase),
		DestChain:    catalog.ChainArbitrum,
		Token:        "USDC",
		Amount:       uint256.NewInt(99900000),
		Payload:      payload,
	}
}

func TestDeliver_SameTokenCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := h.pending(t, 1, "USDC", transfer.StateBridgePending)

	delivery, err := h.executor.Deliver(ctx, message(t, rec, hooks.Payload{}, 1))
	assert.NoError(t, err)
	assert.Equal(t, delivery.Record.State, transfer.StateCompleted)
	assert.Equal(t, delivery.Record.AmountOut.Uint64(), uint64(99900000))
	assert.Equal(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", recipient).Uint64(), uint64(99900000))
	assert.True(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", executor).IsZero())
	assert.Equal(t, h.recorder.Types(rec.ID.String()), []events.Type{events.TypeCompleted})
}

func TestDeliver_ReplayIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := h.pending(t, 1, "USDC", transfer.StateBridgePending)
	msg := message(t, rec, hooks.Payload{}, 1)

	_, err := h.executor.Deliver(ctx, msg)
	assert.NoError(t, err)

	_, err = h.executor.Deliver(ctx, msg)
	assert.True(t, errors.Is(err, hooks.ErrReplayedMessage))
	assert.False(t, hooks.Retryable(err))
	// delivered exactly once
	assert.Equal(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", recipient).Uint64(), uint64(99900000))
}

func TestDeliver_UnauthorizedSenderLeavesRecordUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := h.pending(t, 1, "USDC", transfer.StateBridgePending)
	msg := message(t, rec, hooks.Payload{}, 1)
	msg.Sender = common.HexToAddress("0x00000000000000000000000000000000000bad00")

	_, err := h.executor.Deliver(ctx, msg)
	assert.True(t, errors.Is(err, hooks.ErrUnauthorizedSender))

	got, err := h.records.Get(ctx, rec.ID)
	assert.NoError(t, err)
	assert.Equal(t, got.State, transfer.StateBridgePending)
	assert.Equal(t, len(h.recorder.Events()), 0)

	// a forged message does not burn the nonce for the real one
	msg.Sender = catalogtest.Router(catalog.ChainBase)
	delivery, err := h.executor.Deliver(ctx, msg)
	assert.NoError(t, err)
	assert.Equal(t, delivery.Record.State, transfer.StateCompleted)
}

func TestDeliver_MessageMustMatchRecordedSend(t *testing.T) {
	mallory := common.HexToAddress("0x0000000000000000000000000000000000000bad")

	cases := []struct {
		name  string
		forge func(msg *chain.InboundMessage, p *hooks.Payload)
	}{
		{
			name:  "recipient",
			forge: func(_ *chain.InboundMessage, p *hooks.Payload) { p.Recipient = mallory },
		},
		{
			name:  "inflated amount",
			forge: func(msg *chain.InboundMessage, _ *hooks.Payload) { msg.Amount = units.FromWhole(1000, 6) },
		},
		{
			name:  "smaller amount",
			forge: func(msg *chain.InboundMessage, _ *hooks.Payload) { msg.Amount = uint256.NewInt(1) },
		},
		{
			name:  "nonce",
			forge: func(msg *chain.InboundMessage, _ *hooks.Payload) { msg.Nonce = 777 },
		},
		{
			name: "domain",
			forge: func(msg *chain.InboundMessage, _ *hooks.Payload) {
				// Base's router is authorized on its omnichain endpoint too
				msg.SourceDomain = 30184
			},
		},
		{
			name: "minimum output",
			forge: func(_ *chain.InboundMessage, p *hooks.Payload) {
				p.MinOut = uint256.NewInt(1)
			},
		},
		{
			name: "swap instruction",
			forge: func(_ *chain.InboundMessage, p *hooks.Payload) {
				p.SwapPool = catalogtest.PoolArbitrumUSDCToUSDe
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness()
			rec := h.pending(t, 1, "USDC", transfer.StateBridgePending)
			// extra funds sitting in custody must stay there
			h.ledger.Mint(catalog.ChainArbitrum, "USDC", executor, units.FromWhole(1000, 6))

			p := hooks.Payload{TransferID: rec.ID, DestToken: rec.DestToken, Recipient: recipient}
			genuine := message(t, rec, hooks.Payload{}, 1)
			forged := genuine
			tc.forge(&forged, &p)
			payload, err := hooks.EncodePayload(p)
			assert.NoError(t, err)
			forged.Payload = payload

			_, err = h.executor.Deliver(ctx, forged)
			assert.True(t, errors.Is(err, hooks.ErrMessageMismatch))
			assert.False(t, hooks.Retryable(err))

			got, err := h.records.Get(ctx, rec.ID)
			assert.NoError(t, err)
			assert.Equal(t, got.State, transfer.StateBridgePending)
			assert.True(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", mallory).IsZero())
			assert.True(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", recipient).IsZero())
			assert.Equal(t, len(h.recorder.Events()), 0)

			// the genuine message still settles the transfer
			delivery, err := h.executor.Deliver(ctx, genuine)
			assert.NoError(t, err)
			assert.Equal(t, delivery.Record.State, transfer.StateCompleted)
			assert.Equal(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", recipient).Uint64(), uint64(99900000))
			assert.True(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", mallory).IsZero())
		})
	}
}

func TestDeliver_SwapCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := h.pending(t, 1, "USDe", transfer.StateBridgePending)
	h.pools.SetRate(catalogtest.PoolArbitrumUSDCToUSDe, decimal.RequireFromString("0.999"))

	minOut := units.MustParse("99000000000000000000")
	delivery, err := h.executor.Deliver(ctx, message(t, rec, hooks.Payload{
		SwapPool: catalogtest.PoolArbitrumUSDCToUSDe,
		FeeTier:  500,
		MinOut:   minOut,
	}, 1))
	assert.NoError(t, err)
	assert.Equal(t, delivery.Record.State, transfer.StateCompleted)
	assert.Equal(t, delivery.Record.AmountOut.Dec(), "99800100000000000000")
	assert.False(t, delivery.Record.AmountOut.Lt(minOut))

	states := []transfer.State{}
	for _, tr := range delivery.Record.History {
		states = append(states, tr.To)
	}
	assert.Equal(t, states, []transfer.State{
		transfer.StateBridgePending,
		transfer.StateAwaitingDestinationExecution,
		transfer.StateCompleted,
	})
	assert.Equal(t, h.ledger.Balance(catalog.ChainArbitrum, "USDe", recipient).Dec(), "99800100000000000000")
}

func TestDeliver_SwapBelowMinimumFailsAndKeepsFunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := h.pending(t, 1, "USDe", transfer.StateBridgePending)
	h.pools.SetRate(catalogtest.PoolArbitrumUSDCToUSDe, decimal.RequireFromString("0.95"))

	delivery, err := h.executor.Deliver(ctx, message(t, rec, hooks.Payload{
		SwapPool: catalogtest.PoolArbitrumUSDCToUSDe,
		FeeTier:  500,
		MinOut:   units.MustParse("99000000000000000000"),
	}, 1))
	assert.NoError(t, err)
	assert.Equal(t, delivery.Record.State, transfer.StateFailed)
	assert.True(t, delivery.Record.FailureReason != "")

	assert.Equal(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", executor).Uint64(), uint64(99900000))
	assert.True(t, h.ledger.Balance(catalog.ChainArbitrum, "USDe", recipient).IsZero())
	assert.True(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", recipient).IsZero())
	assert.Equal(t, h.recorder.Types(rec.ID.String()), []events.Type{events.TypeFailed})
}

func TestDeliver_RecordNotReadyIsRetryable(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := h.pending(t, 1, "USDC", transfer.StateInitiated)
	msg := message(t, rec, hooks.Payload{}, 1)

	_, err := h.executor.Deliver(ctx, msg)
	assert.True(t, errors.Is(err, hooks.ErrRecordNotReady))
	assert.True(t, hooks.Retryable(err))

	_, err = h.records.Transition(ctx, rec.ID, transfer.StateBridgePending, transfer.Update{BridgeDomain: 6, BridgeNonce: 1})
	assert.NoError(t, err)

	// the claim was released, so the same message goes through now
	delivery, err := h.executor.Deliver(ctx, msg)
	assert.NoError(t, err)
	assert.Equal(t, delivery.Record.State, transfer.StateCompleted)
}

func TestDeliver_InvalidPayload(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := h.pending(t, 1, "USDC", transfer.StateBridgePending)
	msg := message(t, rec, hooks.Payload{}, 1)
	msg.Payload = []byte{0x01, 0x02}

	_, err := h.executor.Deliver(ctx, msg)
	assert.True(t, errors.Is(err, hooks.ErrInvalidPayload))
	assert.False(t, hooks.Retryable(err))

	got, err := h.records.Get(ctx, rec.ID)
	assert.NoError(t, err)
	assert.Equal(t, got.State, transfer.StateBridgePending)
}

func TestDeliver_UnknownTransfer(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := h.pending(t, 1, "USDC", transfer.StateBridgePending)
	msg := message(t, rec, hooks.Payload{}, 1)

	payload, err := hooks.EncodePayload(hooks.Payload{TransferID: transfer.NewID(transfer.Instance{}, sender, 99, 99), DestToken: "USDC", Recipient: recipient})
	assert.NoError(t, err)
	msg.Payload = payload

	_, err = h.executor.Deliver(ctx, msg)
	assert.True(t, errors.Is(err, hooks.ErrUnknownTransfer))
}

func TestDeliver_NonNativeDestinationFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := h.pending(t, 1, "USDC", transfer.StateBridgePending)
	// catalog changed while the message was in flight
	assert.NoError(t, h.catalog.SetNative(catalog.ChainArbitrum, "USDC", false))

	delivery, err := h.executor.Deliver(ctx, message(t, rec, hooks.Payload{}, 1))
	assert.NoError(t, err)
	assert.Equal(t, delivery.Record.State, transfer.StateFailed)
	assert.Equal(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", executor).Uint64(), uint64(99900000))
}

func TestPayloadRoundTrip(t *testing.T) {
	in := hooks.Payload{
		TransferID: transfer.NewID(transfer.Instance{}, sender, 1, 2),
		DestToken:  "USDe",
		Recipient:  recipient,
		MinOut:     units.MustParse("99000000000000000000"),
		SwapPool:   catalogtest.PoolArbitrumUSDCToUSDe,
		FeeTier:    500,
		ExtraData:  []byte{0xca, 0xfe},
	}
	data, err := hooks.EncodePayload(in)
	assert.NoError(t, err)

	out, err := hooks.DecodePayload(data)
	assert.NoError(t, err)
	assert.Equal(t, out.TransferID, in.TransferID)
	assert.Equal(t, out.DestToken, "USDe")
	assert.Equal(t, out.Recipient, recipient)
	assert.Equal(t, out.MinOut.Dec(), in.MinOut.Dec())
	assert.Equal(t, out.SwapPool, in.SwapPool)
	assert.Equal(t, out.FeeTier, uint32(500))
	assert.Equal(t, out.ExtraData, []byte{0xca, 0xfe})
	assert.False(t, out.SameToken())
}
