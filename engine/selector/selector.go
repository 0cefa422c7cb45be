// Package selector turns a transfer intent into a validated, priced operation. It reads one
// catalog snapshot and has no side effects.
package selector

import (
	"fmt"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/metrics"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var selectorLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	selectorLog = zerolog.New(out).With().Timestamp().Str("component", "selector").Logger()
}

// DefaultFeeBps is the protocol fee charged on every transfer
const DefaultFeeBps = 10

// DefaultSourceSlippageBps bounds the source side swap into the bridged token
const DefaultSourceSlippageBps = 50

// nativeDecimals is the precision of every supported chain's gas token
const nativeDecimals = 18

// Config holds the pricing parameters
type Config struct {
	FeeBps            uint64
	SourceSlippageBps uint64
	// MinNativeFee is the prepaid native amount each protocol needs at minimum
	MinNativeFee map[catalog.Protocol]*uint256.Int
}

// DefaultMinNativeFees returns the per protocol prepaid minimums in wei
func DefaultMinNativeFees() map[catalog.Protocol]*uint256.Int {
	milli := units.FromWhole(1, nativeDecimals-3)
	twoMilli := new(uint256.Int).Mul(milli, uint256.NewInt(2))
	return map[catalog.Protocol]*uint256.Int{
		catalog.ProtocolBurnMint:                  uint256.NewInt(0),
		catalog.ProtocolBurnMintWithHook:          milli.Clone(),
		catalog.ProtocolOmnichainToken:            milli.Clone(),
		catalog.ProtocolOmnichainTokenWithCompose: twoMilli.Clone(),
		catalog.ProtocolLiquidityPool:             milli.Clone(),
		catalog.ProtocolLiquidityPoolWithSwap:     twoMilli.Clone(),
	}
}

// DefaultConfig returns 10 bps and the default native fee minimums
func DefaultConfig() Config {
	return Config{
		FeeBps:            DefaultFeeBps,
		SourceSlippageBps: DefaultSourceSlippageBps,
		MinNativeFee:      DefaultMinNativeFees(),
	}
}

// Selector validates intents
type Selector struct {
	cfg Config
}

// New creates a selector. Zero rates and missing native minimums fall back to the defaults.
func New(cfg Config) *Selector {
	if cfg.FeeBps == 0 {
		cfg.FeeBps = DefaultFeeBps
	}
	if cfg.SourceSlippageBps == 0 {
		cfg.SourceSlippageBps = DefaultSourceSlippageBps
	}
	defaults := DefaultMinNativeFees()
	if cfg.MinNativeFee == nil {
		cfg.MinNativeFee = defaults
	}
	for p, v := range defaults {
		if _, ok := cfg.MinNativeFee[p]; !ok {
			cfg.MinNativeFee[p] = v
		}
	}
	return &Selector{cfg: cfg}
}

// FeeBps returns the configured fee rate
func (s *Selector) FeeBps() uint64 {
	return s.cfg.FeeBps
}

// MinNativeFee returns the prepaid native minimum for a protocol
func (s *Selector) MinNativeFee(p catalog.Protocol) *uint256.Int {
	if !p.RequiresPrepaidFee() {
		return uint256.NewInt(0)
	}
	if v, ok := s.cfg.MinNativeFee[p]; ok {
		return v.Clone()
	}
	return uint256.NewInt(0)
}

// Validate checks an intent against one snapshot and prices it
func (s *Selector) Validate(snap *catalog.Snapshot, intent Intent) (*Operation, error) {
	op, err := s.validate(snap, intent)
	if err != nil {
		class := Classify(err)
		metrics.ValidationRejections.WithLabelValues(string(class)).Inc()
		selectorLog.Debug().
			Err(err).
			Str("class", string(class)).
			Str("sourceToken", intent.SourceToken).
			Uint64("sourceChain", intent.SourceChain).
			Str("destToken", intent.DestToken).
			Uint64("destChain", intent.DestChain).
			Msg("Intent rejected")
		return nil, err
	}
	return op, nil
}

func (s *Selector) validate(snap *catalog.Snapshot, intent Intent) (*Operation, error) {
	if snap.Paused() {
		return nil, ErrPaused
	}
	if intent.Amount == nil || intent.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if intent.Recipient == (common.Address{}) {
		return nil, ErrZeroRecipient
	}
	if intent.SourceChain == intent.DestChain {
		return nil, ErrSameChain
	}
	if !snap.IsSupportedChain(intent.SourceChain) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, intent.SourceChain)
	}
	if !snap.IsSupportedChain(intent.DestChain) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, intent.DestChain)
	}
	sourceChain, _ := snap.Chain(intent.SourceChain)
	destChain, _ := snap.Chain(intent.DestChain)

	sourceToken, ok := snap.Token(intent.SourceToken)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, intent.SourceToken)
	}
	destToken, ok := snap.Token(intent.DestToken)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, intent.DestToken)
	}
	if !snap.IsAvailable(intent.SourceChain, intent.SourceToken) {
		return nil, fmt.Errorf("%w: %s on %s", ErrSourceUnavailable, intent.SourceToken, sourceChain.Name)
	}
	// the configured route is authoritative but never overrides the native check
	if err := catalog.CheckDeliverable(snap, intent.DestChain, intent.DestToken); err != nil {
		return nil, err
	}

	route, ok := snap.Route(intent.SourceToken, intent.SourceChain, intent.DestToken, intent.DestChain)
	if !ok {
		return nil, ErrRouteNotConfigured
	}
	protocol := route.Protocol
	if protocol == catalog.ProtocolNone {
		return nil, ErrProtocolUnavailable
	}

	fee, err := units.ApplyBps(intent.Amount, s.cfg.FeeBps)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	net := new(uint256.Int).Sub(intent.Amount, fee)

	prepaid := intent.PrepaidNative
	if prepaid == nil {
		prepaid = uint256.NewInt(0)
	}
	nativeFee := s.MinNativeFee(protocol)
	if prepaid.Lt(nativeFee) {
		return nil, fmt.Errorf("insufficient %s fee: need %s wei, sent %s: %w",
			protocol, nativeFee.Dec(), prepaid.Dec(), ErrInsufficientFee)
	}
	refund := new(uint256.Int).Sub(prepaid, nativeFee)

	op := &Operation{
		Intent:         intent,
		Route:          route,
		Protocol:       protocol,
		SourceChain:    sourceChain,
		DestChain:      destChain,
		Fee:            fee,
		NetAmount:      net,
		NativeFee:      nativeFee,
		NativeRefund:   refund,
		CatalogVersion: snap.Version(),
	}

	op.BridgedToken = intent.SourceToken
	if protocol.IsBurnMint() {
		op.BridgedToken = snap.AnchorToken()
	}
	bridgedToken, ok := snap.Token(op.BridgedToken)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, op.BridgedToken)
	}

	if intent.SourceToken != op.BridgedToken {
		if !route.HasSourceSwap() {
			return nil, fmt.Errorf("%w: %s to %s on %s", ErrMissingSwapPool, intent.SourceToken, op.BridgedToken, sourceChain.Name)
		}
		bridgedAmount, err := units.Convert(net, sourceToken.Decimals, bridgedToken.Decimals)
		if err != nil {
			return nil, err
		}
		sourceMinOut, err := units.MinOutput(bridgedAmount, s.cfg.SourceSlippageBps)
		if err != nil {
			return nil, err
		}
		op.SourceSwap = &SwapInstruction{
			Chain:    intent.SourceChain,
			Pool:     route.SourceSwapPool,
			TokenIn:  intent.SourceToken,
			TokenOut: op.BridgedToken,
			FeeTier:  route.FeeTier,
			MinOut:   sourceMinOut,
		}
	}

	expected, err := units.Convert(net, sourceToken.Decimals, destToken.Decimals)
	if err != nil {
		return nil, err
	}
	op.ExpectedOutput = expected
	op.MinOutput = intent.MinOutput

	if intent.DestToken != op.BridgedToken {
		swap, err := destinationSwap(route, intent)
		if err != nil {
			return nil, err
		}
		if swap.MinOut == nil || swap.MinOut.IsZero() {
			return nil, ErrZeroMinOutput
		}
		if swap.MinOut.Gt(expected) {
			return nil, fmt.Errorf("%w: %s > %s", ErrMinOutputTooHigh, swap.MinOut.Dec(), expected.Dec())
		}
		swap.Chain = intent.DestChain
		swap.TokenIn = op.BridgedToken
		swap.TokenOut = intent.DestToken
		op.DestSwap = swap
		op.MinOutput = swap.MinOut.Clone()
	}
	if op.MinOutput == nil {
		op.MinOutput = uint256.NewInt(0)
	}

	selectorLog.Debug().
		Str("protocol", protocol.String()).
		Str("fee", fee.Dec()).
		Str("bridged", op.BridgedToken).
		Bool("destinationSwap", op.DestSwap != nil).
		Msg("Intent validated")
	return op, nil
}

// destinationSwap prefers the configured pool and falls back to caller route data
func destinationSwap(route catalog.Route, intent Intent) (*SwapInstruction, error) {
	var rd *RouteData
	if len(intent.RouteData) > 0 {
		decoded, err := DecodeRouteData(intent.RouteData)
		if err != nil {
			return nil, err
		}
		rd = &decoded
	}

	swap := &SwapInstruction{MinOut: intent.MinOutput}
	switch {
	case route.HasDestinationSwap():
		if rd != nil && rd.SwapPool != (common.Address{}) && rd.SwapPool != route.SwapPool {
			return nil, ErrRouteDataConflicts
		}
		swap.Pool = route.SwapPool
		swap.FeeTier = route.FeeTier
	case rd != nil && rd.SwapPool != (common.Address{}):
		swap.Pool = rd.SwapPool
		swap.FeeTier = rd.FeeTier
	default:
		return nil, fmt.Errorf("%w: deliver %s", ErrMissingSwapPool, intent.DestToken)
	}

	if (swap.MinOut == nil || swap.MinOut.IsZero()) && rd != nil {
		swap.MinOut = rd.MinOut
	}
	if swap.MinOut != nil {
		swap.MinOut = swap.MinOut.Clone()
	}
	return swap, nil
}
