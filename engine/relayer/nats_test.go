package relayer

import (
	"context"
	"testing"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go"
	"github.com/zeebo/assert"
)

func TestNATSSource_BuffersUntilAck(t *testing.T) {
	ctx := context.Background()
	s := newBufferedSource("relay-secret")

	in := chain.InboundMessage{
		SourceDomain: 6,
		Nonce:        9,
		Sender:       common.HexToAddress("0x0000000000000000000000000000000000102105"),
		DestChain:    42161,
		Token:        "USDC",
		Amount:       uint256.NewInt(99900000),
		Payload:      []byte{0x01, 0x02},
	}
	msg, err := EncodeDelivery("", "relay-secret", in)
	assert.NoError(t, err)
	assert.Equal(t, msg.Subject, DefaultDeliverySubject)

	s.handle(msg)
	// duplicate while buffered
	s.handle(msg)
	// malformed
	s.handle(&nats.Msg{Subject: DefaultDeliverySubject, Data: []byte("{")})

	got, err := s.Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(got), 1)
	assert.Equal(t, got[0].Sender, in.Sender)
	assert.Equal(t, got[0].Amount.Uint64(), uint64(99900000))
	assert.Equal(t, got[0].Payload, []byte{0x01, 0x02})

	// still there until acknowledged
	got, err = s.Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(got), 1)

	assert.NoError(t, s.Ack(ctx, got[0]))
	got, err = s.Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(got), 0)
}

func TestNATSSource_DropsUnauthenticatedDeliveries(t *testing.T) {
	ctx := context.Background()
	s := newBufferedSource("relay-secret")

	in := chain.InboundMessage{
		SourceDomain: 6,
		Nonce:        1,
		Sender:       common.HexToAddress("0x0000000000000000000000000000000000102105"),
		DestChain:    42161,
		Token:        "USDC",
		Amount:       uint256.NewInt(99900000),
	}
	forged, err := EncodeDelivery("", "guess", in)
	assert.NoError(t, err)
	s.handle(forged)

	bare, err := EncodeDelivery("", "relay-secret", in)
	assert.NoError(t, err)
	bare.Header.Del(TokenHeader)
	s.handle(bare)

	got, err := s.Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(got), 0)

	// a rejected copy does not shadow the genuine message
	genuine, err := EncodeDelivery("", "relay-secret", in)
	assert.NoError(t, err)
	s.handle(genuine)
	got, err = s.Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(got), 1)
}

func TestNewNATSSource_RequiresToken(t *testing.T) {
	_, err := NewNATSSource(nil, "", "")
	assert.Error(t, err)
}
