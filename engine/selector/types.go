package selector

import (
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Intent is a caller's transfer request. It only lives for the duration of validation.
type Intent struct {
	Sender      common.Address
	SourceChain uint64
	SourceToken string
	DestChain   uint64
	DestToken   string
	// Amount is in source token base units
	Amount    *uint256.Int
	Recipient common.Address
	// MinOutput is in destination token base units
	MinOutput *uint256.Int
	// RouteData optionally carries an ABI encoded destination swap instruction
	RouteData []byte
	// PrepaidNative is the native currency sent along to cover bridge messaging fees
	PrepaidNative *uint256.Int
}

// SwapInstruction describes one swap the orchestrator or the hook executor performs
type SwapInstruction struct {
	Chain    uint64
	Pool     common.Address
	TokenIn  string
	TokenOut string
	FeeTier  uint32
	MinOut   *uint256.Int
}

// Operation is a validated and priced intent, ready to execute
type Operation struct {
	Intent      Intent
	Route       catalog.Route
	Protocol    catalog.Protocol
	SourceChain catalog.Chain
	DestChain   catalog.Chain

	// Fee is charged on the input amount in the source token
	Fee       *uint256.Int
	NetAmount *uint256.Int
	// BridgedToken is what crosses the bridge: the anchor for burn-mint protocols, the source
	// token otherwise
	BridgedToken string
	// SourceSwap is set when the source token must become the bridged token before sending
	SourceSwap *SwapInstruction
	// DestSwap is set when the bridged token differs from the destination token
	DestSwap *SwapInstruction
	// ExpectedOutput is the net amount rescaled to destination decimals, before swap slippage
	ExpectedOutput *uint256.Int
	MinOutput      *uint256.Int

	NativeFee    *uint256.Int
	NativeRefund *uint256.Int

	CatalogVersion uint64
}

// SameToken reports whether the bridged token is delivered as is
func (o *Operation) SameToken() bool {
	return o.DestSwap == nil
}
