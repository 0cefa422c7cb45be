package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/events"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go"
	"github.com/zeebo/assert"
)

type mockPublisher struct {
	publishFunc func(ev events.Event) error
}

func (m *mockPublisher) Publish(_ context.Context, ev events.Event) error {
	return m.publishFunc(ev)
}

func sampleRecord() *transfer.Record {
	sender := common.HexToAddress("0x000000000000000000000000000000000000a11c")
	rec := &transfer.Record{
		ID:          transfer.NewID(transfer.Instance{}, sender, 1, 1),
		State:       transfer.StateFailed,
		Protocol:    catalog.ProtocolBurnMintWithHook,
		Sender:      sender,
		Recipient:   common.HexToAddress("0x0000000000000000000000000000000000000b0b"),
		SourceChain: catalog.ChainBase,
		SourceToken: "USDC",
		DestChain:   catalog.ChainArbitrum,
		DestToken:   "USDe",
		AmountIn:    uint256.NewInt(100000000),
		UpdatedAt:   time.Unix(1700000000, 0),
	}
	rec.FailureReason = "destination swap below minimum output"
	return rec
}

func TestFromRecord(t *testing.T) {
	ev := events.FromRecord(events.TypeFailed, sampleRecord())
	assert.Equal(t, ev.Protocol, "BURN_MINT_WITH_HOOK")
	assert.Equal(t, ev.Amount, "100000000")
	assert.Equal(t, ev.Reason, "destination swap below minimum output")
	assert.Equal(t, ev.AmountOut, "")
}

func TestNewMessage(t *testing.T) {
	ev := events.FromRecord(events.TypeCompleted, sampleRecord())
	msg, err := events.NewMessage("stablerouter", ev)
	assert.NoError(t, err)
	assert.Equal(t, msg.Subject, "stablerouter.transfer.completed")

	_, err = uuid.Parse(msg.Header.Get(nats.MsgIdHdr))
	assert.NoError(t, err)

	var decoded events.Event
	assert.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, decoded.TransferID, ev.TransferID)
	assert.Equal(t, decoded.Type, events.TypeCompleted)

	// re-emitting the same event keeps its id, a stream can drop the copy
	again, err := events.NewMessage("stablerouter", events.FromRecord(events.TypeCompleted, sampleRecord()))
	assert.NoError(t, err)
	assert.Equal(t, again.Header.Get(nats.MsgIdHdr), msg.Header.Get(nats.MsgIdHdr))

	failed, err := events.NewMessage("stablerouter", events.FromRecord(events.TypeFailed, sampleRecord()))
	assert.NoError(t, err)
	assert.True(t, failed.Header.Get(nats.MsgIdHdr) != msg.Header.Get(nats.MsgIdHdr))

	other := sampleRecord()
	other.ID = transfer.NewID(transfer.Instance{}, other.Sender, 2, 2)
	next, err := events.NewMessage("stablerouter", events.FromRecord(events.TypeCompleted, other))
	assert.NoError(t, err)
	assert.True(t, next.Header.Get(nats.MsgIdHdr) != msg.Header.Get(nats.MsgIdHdr))
}

func TestFanoutJoinsErrors(t *testing.T) {
	rec := &events.Recorder{}
	broken := &mockPublisher{publishFunc: func(events.Event) error { return errors.New("broker down") }}

	fan := events.Fanout{broken, rec}
	err := fan.Publish(context.Background(), events.Event{Type: events.TypeInitiated, TransferID: "a"})
	assert.Error(t, err)
	// the healthy sink still received it
	assert.Equal(t, rec.Types(""), []events.Type{events.TypeInitiated})
}

func TestEmitSwallowsErrors(t *testing.T) {
	calls := 0
	pub := &mockPublisher{publishFunc: func(events.Event) error {
		calls++
		return errors.New("broker down")
	}}
	events.Emit(context.Background(), pub, events.Event{Type: events.TypeCompleted})
	events.Emit(context.Background(), nil, events.Event{Type: events.TypeCompleted})
	assert.Equal(t, calls, 1)
}
