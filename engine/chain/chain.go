// Package chain declares the on-chain collaborators the engine drives: the token ledger, the
// bridge networks and the swap pools
package chain

import (
	"context"
	"errors"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrSlippage              = errors.New("swap output below minimum")
)

// TokenLedger holds balances per (chain, token, account)
type TokenLedger interface {
	BalanceOf(ctx context.Context, chainID uint64, token string, account common.Address) (*uint256.Int, error)
	// Transfer moves funds out of an account the engine controls
	Transfer(ctx context.Context, chainID uint64, token string, from, to common.Address, amount *uint256.Int) error
	// TransferFrom moves a user's funds, spending the allowance granted to spender
	TransferFrom(ctx context.Context, chainID uint64, token string, spender, from, to common.Address, amount *uint256.Int) error
}

// OutboundMessage is one bridge send
type OutboundMessage struct {
	Protocol    catalog.Protocol
	SourceChain uint64
	DestChain   uint64
	// DestinationDomain is the protocol specific id of DestChain taken from the route
	DestinationDomain uint32
	Bridge            common.Address
	PoolID            uint32
	Token             string
	Amount            *uint256.Int
	// From is the source custody account the bridged amount is taken from
	From common.Address
	// Recipient is the destination hook executor
	Recipient common.Address
	Payload   []byte
	NativeFee *uint256.Int
}

// Receipt identifies a sent message by its source domain and nonce
type Receipt struct {
	Domain uint32
	Nonce  uint64
}

// Bridge sends value and a payload across chains
type Bridge interface {
	Send(ctx context.Context, msg OutboundMessage) (Receipt, error)
}

// InboundMessage is an attested bridge delivery: the funds have landed in the destination hook
// executor's custody and the payload asks what to do with them
type InboundMessage struct {
	SourceDomain uint32         `json:"source_domain"`
	Nonce        uint64         `json:"nonce"`
	Sender       common.Address `json:"sender"`
	DestChain    uint64         `json:"dest_chain"`
	Token        string         `json:"token"`
	Amount       *uint256.Int   `json:"amount"`
	Payload      []byte         `json:"payload"`
}

// SwapRequest is an exact input swap from Account's balance back into Account
type SwapRequest struct {
	Chain    uint64
	Pool     common.Address
	TokenIn  string
	TokenOut string
	AmountIn *uint256.Int
	MinOut   *uint256.Int
	FeeTier  uint32
	Account  common.Address
}

// SwapPool executes swaps. A swap that cannot meet MinOut fails with ErrSlippage and moves nothing.
type SwapPool interface {
	Swap(ctx context.Context, req SwapRequest) (*uint256.Int, error)
}
