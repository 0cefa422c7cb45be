package hooks

import (
	"fmt"
	"math/big"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var payloadArgs abi.Arguments

func init() {
	newType := func(t string) abi.Type {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		return typ
	}
	payloadArgs = abi.Arguments{
		{Name: "transferId", Type: newType("bytes32")},
		{Name: "destToken", Type: newType("string")},
		{Name: "recipient", Type: newType("address")},
		{Name: "minOut", Type: newType("uint256")},
		{Name: "swapPool", Type: newType("address")},
		{Name: "feeTier", Type: newType("uint24")},
		{Name: "extraData", Type: newType("bytes")},
	}
}

// Payload is what the source side tells the destination to do with the delivered funds
type Payload struct {
	TransferID transfer.ID
	DestToken  string
	Recipient  common.Address
	MinOut     *uint256.Int
	// SwapPool is zero for same-token delivery
	SwapPool  common.Address
	FeeTier   uint32
	ExtraData []byte
}

// SameToken reports whether the payload asks for delivery without a swap
func (p Payload) SameToken() bool {
	return p.SwapPool == (common.Address{})
}

// EncodePayload ABI encodes a payload for the bridge message body
func EncodePayload(p Payload) ([]byte, error) {
	minOut := new(big.Int)
	if p.MinOut != nil {
		minOut = p.MinOut.ToBig()
	}
	extra := p.ExtraData
	if extra == nil {
		extra = []byte{}
	}
	return payloadArgs.Pack(
		[32]byte(p.TransferID),
		p.DestToken,
		p.Recipient,
		minOut,
		p.SwapPool,
		new(big.Int).SetUint64(uint64(p.FeeTier)),
		extra,
	)
}

// DecodePayload reverses EncodePayload
func DecodePayload(data []byte) (Payload, error) {
	values, err := payloadArgs.Unpack(data)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if len(values) != len(payloadArgs) {
		return Payload{}, fmt.Errorf("%w: got %d fields", ErrInvalidPayload, len(values))
	}

	id, ok1 := values[0].([32]byte)
	destToken, ok2 := values[1].(string)
	recipient, ok3 := values[2].(common.Address)
	minOut, ok4 := values[3].(*big.Int)
	pool, ok5 := values[4].(common.Address)
	feeTier, ok6 := values[5].(*big.Int)
	extra, ok7 := values[6].([]byte)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 || !ok7 {
		return Payload{}, fmt.Errorf("%w: unexpected field types", ErrInvalidPayload)
	}

	amount, overflow := uint256.FromBig(minOut)
	if overflow {
		return Payload{}, fmt.Errorf("%w: minOut overflows", ErrInvalidPayload)
	}
	return Payload{
		TransferID: transfer.ID(id),
		DestToken:  destToken,
		Recipient:  recipient,
		MinOut:     amount,
		SwapPool:   pool,
		FeeTier:    uint32(feeTier.Uint64()),
		ExtraData:  extra,
	}, nil
}
