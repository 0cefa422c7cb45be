package planner

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/metrics"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var plannerLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	plannerLog = zerolog.New(out).With().Timestamp().Str("component", "planner").Logger()
}

var (
	ErrUnknownChain = errors.New("unknown chain")
	ErrUnknownToken = errors.New("unknown token")
)

// venueDEX labels swap steps
const venueDEX = "DEX"

var estimates = map[catalog.Protocol]Estimate{
	catalog.ProtocolBurnMint:                  {Cost: costRange("0.10", "0.30"), Time: 10 * time.Second},
	catalog.ProtocolBurnMintWithHook:          {Cost: costRange("0.40", "0.60"), Time: 30 * time.Second},
	catalog.ProtocolOmnichainToken:            {Cost: costRange("0.40", "0.60"), Time: 35 * time.Second},
	catalog.ProtocolOmnichainTokenWithCompose: {Cost: costRange("0.40", "0.60"), Time: 35 * time.Second},
	catalog.ProtocolLiquidityPool:             {Cost: costRange("0.30", "0.50"), Time: 30 * time.Second},
	catalog.ProtocolLiquidityPoolWithSwap:     {Cost: costRange("0.40", "0.60"), Time: 35 * time.Second},
}

// swapThenBurnMint covers a source swap into the anchor followed by a burn-mint bridge
var swapThenBurnMint = Estimate{Cost: costRange("0.30", "0.50"), Time: 20 * time.Second}

func costRange(min, max string) CostRange {
	return CostRange{Min: decimal.RequireFromString(min), Max: decimal.RequireFromString(max)}
}

// EstimateFor returns the advisory estimate for a protocol; sourceSwap adds the cost of
// converting the source token first
func EstimateFor(protocol catalog.Protocol, sourceSwap bool) Estimate {
	if protocol == catalog.ProtocolBurnMint && sourceSwap {
		return swapThenBurnMint
	}
	return estimates[protocol]
}

// Planner computes route plans against one asset table. It holds no mutable state, so the same
// table and request always produce the same plan.
type Planner struct {
	table AssetTable
}

// New creates a planner reading from table, typically one catalog snapshot
func New(table AssetTable) *Planner {
	return &Planner{table: table}
}

// Plan applies the routing rules in priority order. Expected "no route" outcomes come back as a
// plan with a Rejection; an error means the request named a chain or token the table does not know.
func (p *Planner) Plan(req Request) (*RoutePlan, error) {
	fromChain, ok := p.table.Chain(req.FromChain)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, req.FromChain)
	}
	toChain, ok := p.table.Chain(req.ToChain)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, req.ToChain)
	}
	if _, ok := p.table.Token(req.FromToken); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, req.FromToken)
	}
	toToken, ok := p.table.Token(req.ToToken)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, req.ToToken)
	}

	plannerLog.Debug().
		Str("from", req.FromToken).
		Uint64("fromChain", req.FromChain).
		Str("to", req.ToToken).
		Uint64("toChain", req.ToChain).
		Msg("Planning route")

	plan := p.plan(req, fromChain, toChain, toToken)
	if plan.Supported() {
		metrics.PlanRequests.WithLabelValues("planned").Inc()
	} else {
		metrics.PlanRequests.WithLabelValues(plan.Rejection.Code).Inc()
		plannerLog.Debug().Str("route", req.String()).Str("reason", plan.Rejection.Message).Msg("Route rejected")
	}
	return plan, nil
}

func (p *Planner) plan(req Request, fromChain, toChain catalog.Chain, toToken catalog.Token) *RoutePlan {
	plan := &RoutePlan{Request: req}
	anchor := p.table.AnchorToken()

	if req.FromChain == req.ToChain {
		return reject(plan, RejectSameChain, "source and destination chain are the same")
	}
	if !p.table.IsAvailable(req.FromChain, req.FromToken) {
		return reject(plan, RejectSourceUnavailable,
			fmt.Sprintf("%s is not available on %s", req.FromToken, fromChain.Name))
	}
	if !p.table.IsNative(req.FromChain, req.FromToken) {
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("%s on %s is a bridged representation", req.FromToken, fromChain.Name))
	}

	// Rule 1: anchor to anchor bridges directly
	if req.FromToken == anchor && req.ToToken == anchor {
		plan.Protocol = catalog.ProtocolBurnMint
		plan.Steps = []Step{
			bridgeStep(fromChain, anchor, catalog.ProtocolBurnMint, "Direct "+anchor+" transfer via burn-and-mint"),
		}
		plan.Estimate = EstimateFor(catalog.ProtocolBurnMint, false)
		return plan
	}

	// Rule 2: anything else into the anchor swaps on the source chain first
	if req.ToToken == anchor {
		plan.Protocol = catalog.ProtocolBurnMint
		plan.Steps = []Step{
			swapStep(fromChain, req.FromToken, anchor, fmt.Sprintf("Swap %s to %s for burn-and-mint bridge", req.FromToken, anchor)),
			bridgeStep(fromChain, anchor, catalog.ProtocolBurnMint, "Bridge "+anchor+" via burn-and-mint"),
		}
		plan.Estimate = EstimateFor(catalog.ProtocolBurnMint, true)
		return plan
	}

	// Rule 3: any other destination token must be issuer-native there
	if err := catalog.CheckDeliverable(p.table, req.ToChain, req.ToToken); err != nil {
		code := RejectNotNative
		if errors.Is(err, catalog.ErrNotRoutable) {
			code = RejectNotRoutable
		}
		return reject(plan, code, err.Error())
	}

	if req.FromToken == req.ToToken && p.table.IsNative(req.FromChain, req.FromToken) {
		protocol := toToken.DirectProtocol
		plan.Protocol = protocol
		plan.Steps = []Step{
			bridgeStep(fromChain, req.FromToken, protocol, fmt.Sprintf("Direct native %s transfer", req.FromToken)),
		}
		plan.Estimate = EstimateFor(protocol, false)
		return plan
	}

	plan.Protocol = catalog.ProtocolBurnMintWithHook
	if req.FromToken != anchor {
		plan.Steps = append(plan.Steps, swapStep(fromChain, req.FromToken, anchor, ""))
	}
	plan.Steps = append(plan.Steps,
		bridgeStep(fromChain, anchor, catalog.ProtocolBurnMint, ""),
		swapStep(toChain, anchor, req.ToToken, fmt.Sprintf("Swap to native %s on destination", req.ToToken)),
	)
	plan.Estimate = EstimateFor(catalog.ProtocolBurnMintWithHook, false)
	return plan
}

func reject(plan *RoutePlan, code, message string) *RoutePlan {
	plan.Rejection = &Rejection{Code: code, Message: message}
	plan.Protocol = catalog.ProtocolNone
	plan.Warnings = nil
	return plan
}

func swapStep(chain catalog.Chain, from, to, reason string) Step {
	return Step{
		Action:    ActionSwap,
		Chain:     chain.ID,
		ChainName: chain.Name,
		FromToken: from,
		ToToken:   to,
		Venue:     venueDEX,
		Reason:    reason,
	}
}

func bridgeStep(chain catalog.Chain, token string, protocol catalog.Protocol, reason string) Step {
	return Step{
		Action:    ActionBridge,
		Chain:     chain.ID,
		ChainName: chain.Name,
		FromToken: token,
		ToToken:   token,
		Venue:     protocol.String(),
		Reason:    reason,
	}
}
