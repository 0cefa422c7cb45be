package catalog

import (
	"github.com/ethereum/go-ethereum/common"
)

// Well known chain ids
const (
	ChainEthereum  uint64 = 1
	ChainOptimism  uint64 = 10
	ChainPolygon   uint64 = 137
	ChainBase      uint64 = 8453
	ChainArbitrum  uint64 = 42161
	ChainAvalanche uint64 = 43114
)

// NativeCurrency is the ledger symbol used for the gas token that prepaid bridge fees are paid in
const NativeCurrency = "NATIVE"

// Chain is immutable reference data for one supported chain
type Chain struct {
	ID   uint64
	Name string
	// BurnMintDomain is the domain id used by the burn-and-mint protocol
	BurnMintDomain uint32
	// OmnichainEndpoint is the endpoint id used by omnichain-token and liquidity-pool messages
	OmnichainEndpoint uint32
	// Router is the identity bridge messages originating from this chain report as sender
	Router common.Address
	// HookExecutor is the destination custody account bridge deliveries land in
	HookExecutor common.Address
	Enabled      bool
}

// DomainFor returns the message domain this chain is addressed by for the given protocol
func (c Chain) DomainFor(p Protocol) uint32 {
	if p.UsesOmnichainEndpoint() {
		return c.OmnichainEndpoint
	}
	return c.BurnMintDomain
}

// Token describes one stablecoin and where it is issued
type Token struct {
	Symbol   string
	Decimals uint8
	// DirectProtocol is used when the same token moves between two chains it is native on
	DirectProtocol Protocol
	// Native holds the chains the issuer mints the token on
	Native map[uint64]bool
	// Bridged holds chains where only a wrapped or pool-bridged representation exists
	Bridged map[uint64]bool
}

func (t Token) clone() Token {
	out := t
	out.Native = make(map[uint64]bool, len(t.Native))
	for k, v := range t.Native {
		out.Native[k] = v
	}
	out.Bridged = make(map[uint64]bool, len(t.Bridged))
	for k, v := range t.Bridged {
		out.Bridged[k] = v
	}
	return out
}

// Route is an administrator configured execution record for one four-tuple
type Route struct {
	FromToken string
	FromChain uint64
	ToToken   string
	ToChain   uint64

	Protocol Protocol
	// DestinationDomain is the protocol specific id of the destination chain
	DestinationDomain uint32
	Bridge            common.Address
	// PoolID is the liquidity-pool bridge pool, zero for other protocols
	PoolID uint32
	// SwapPool is the destination pool; the zero address means same-token delivery
	SwapPool common.Address
	// SourceSwapPool converts the source token into the bridged token before sending
	SourceSwapPool common.Address
	FeeTier        uint32
	ExtraData      []byte
}

// Key returns the deterministic route key for this record
func (r Route) Key() common.Hash {
	return RouteKey(r.FromToken, r.FromChain, r.ToToken, r.ToChain)
}

// HasDestinationSwap reports whether the route swaps before delivery
func (r Route) HasDestinationSwap() bool {
	return r.SwapPool != (common.Address{})
}

// HasSourceSwap reports whether the route swaps before bridging
func (r Route) HasSourceSwap() bool {
	return r.SourceSwapPool != (common.Address{})
}
