package transfer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zeebo/assert"
)

var sender = common.HexToAddress("0x000000000000000000000000000000000000a11c")

func TestNewID(t *testing.T) {
	a := transfer.NewID(transfer.Instance{}, sender, 1, 1)
	assert.Equal(t, a, transfer.NewID(transfer.Instance{}, sender, 1, 1))
	assert.True(t, a != transfer.NewID(transfer.Instance{}, sender, 1, 2))
	assert.True(t, a != transfer.NewID(transfer.Instance{}, sender, 2, 1))
	assert.True(t, a != transfer.NewID(transfer.Instance{}, common.HexToAddress("0x01"), 1, 1))
	// a restarted or second issuer reuses nonces and counters
	assert.True(t, a != transfer.NewID(transfer.Instance{1}, sender, 1, 1))

	parsed, err := transfer.ParseID(a.String())
	assert.NoError(t, err)
	assert.Equal(t, parsed, a)

	_, err = transfer.ParseID("0x1234")
	assert.True(t, errors.Is(err, transfer.ErrInvalidID))
}

func TestRecord_ForwardOnly(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rec := &transfer.Record{State: transfer.StateInitiated, CreatedAt: now}

	assert.NoError(t, rec.Apply(transfer.StateBridgePending, transfer.Update{BridgeDomain: 3, BridgeNonce: 7}, now))
	assert.Equal(t, rec.BridgeNonce, uint64(7))
	assert.NoError(t, rec.Apply(transfer.StateAwaitingDestinationExecution, transfer.Update{}, now))

	err := rec.Apply(transfer.StateBridgePending, transfer.Update{}, now)
	assert.True(t, errors.Is(err, transfer.ErrInvalidTransition))

	assert.NoError(t, rec.Apply(transfer.StateCompleted, transfer.Update{AmountOut: uint256.NewInt(5)}, now))
	assert.Equal(t, rec.AmountOut.Uint64(), uint64(5))
	assert.Equal(t, len(rec.History), 3)

	for _, next := range []transfer.State{
		transfer.StateInitiated,
		transfer.StateBridgePending,
		transfer.StateAwaitingDestinationExecution,
		transfer.StateFailed,
	} {
		assert.Error(t, rec.Apply(next, transfer.Update{}, now))
	}
}

func TestRecord_FailureReason(t *testing.T) {
	rec := &transfer.Record{State: transfer.StateBridgePending}
	assert.NoError(t, rec.Apply(transfer.StateFailed, transfer.Update{Reason: "slippage"}, time.Now()))
	assert.Equal(t, rec.FailureReason, "slippage")
	assert.True(t, rec.State.Terminal())
}

func TestCanTransition(t *testing.T) {
	assert.False(t, transfer.CanTransition(transfer.StateInitiated, transfer.StateCompleted))
	assert.False(t, transfer.CanTransition(transfer.StateInitiated, transfer.StateAwaitingDestinationExecution))
	assert.True(t, transfer.CanTransition(transfer.StateBridgePending, transfer.StateCompleted))
	assert.False(t, transfer.CanTransition(transfer.StateFailed, transfer.StateCompleted))
}

func TestRecord_CloneIsDeep(t *testing.T) {
	rec := &transfer.Record{State: transfer.StateInitiated, AmountIn: uint256.NewInt(10)}
	cp := rec.Clone()
	cp.AmountIn.SetUint64(20)
	assert.NoError(t, cp.Apply(transfer.StateBridgePending, transfer.Update{}, time.Now()))

	assert.Equal(t, rec.AmountIn.Uint64(), uint64(10))
	assert.Equal(t, rec.State, transfer.StateInitiated)
	assert.Equal(t, len(rec.History), 0)
}
