package planner

import (
	"fmt"
	"sort"
	"strings"
)

// IsTokenAvailable reports whether any representation of token exists on chain
func (p *Planner) IsTokenAvailable(chain uint64, token string) bool {
	return p.table.IsAvailable(chain, token)
}

// ValidDestinationTokens lists the tokens that may be delivered on chain, ordered by symbol
func (p *Planner) ValidDestinationTokens(chain uint64) []string {
	var out []string
	for _, token := range p.table.Tokens() {
		if p.table.IsNative(chain, token.Symbol) {
			out = append(out, token.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

// AllRoutes plans every cross-chain pair of tokens available on the source chain and returns the
// supported plans, ordered by source chain, source token, destination chain, destination token
func (p *Planner) AllRoutes() []*RoutePlan {
	chains := p.table.Chains()
	tokens := p.table.Tokens()

	var out []*RoutePlan
	for _, from := range chains {
		for _, fromToken := range tokens {
			if !p.table.IsAvailable(from.ID, fromToken.Symbol) {
				continue
			}
			for _, to := range chains {
				if from.ID == to.ID {
					continue
				}
				for _, toToken := range tokens {
					plan, err := p.Plan(Request{
						FromChain: from.ID,
						FromToken: fromToken.Symbol,
						ToChain:   to.ID,
						ToToken:   toToken.Symbol,
					})
					if err != nil || !plan.Supported() {
						continue
					}
					out = append(out, plan)
				}
			}
		}
	}
	return out
}

// Recommendation renders a plan as a short human readable summary
func Recommendation(plan *RoutePlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Route: %s\n", plan.Request)
	if !plan.Supported() {
		fmt.Fprintf(&b, "Unavailable: %s", plan.Rejection.Message)
		return b.String()
	}
	fmt.Fprintf(&b, "Protocol: %s\n", plan.Protocol)
	fmt.Fprintf(&b, "Cost: %s\n", plan.Estimate.Cost)
	fmt.Fprintf(&b, "Time: ~%d seconds\n\nSteps:", int(plan.Estimate.Time.Seconds()))
	for i, step := range plan.Steps {
		fmt.Fprintf(&b, "\n%d. %s", i+1, DescribeStep(step))
	}
	for _, warning := range plan.Warnings {
		fmt.Fprintf(&b, "\nWarning: %s", warning)
	}
	return b.String()
}

// DescribeStep renders one step
func DescribeStep(step Step) string {
	switch step.Action {
	case ActionSwap:
		return fmt.Sprintf("Swap %s -> %s on %s (%s)", step.FromToken, step.ToToken, step.ChainName, step.Venue)
	case ActionBridge:
		if step.Reason == "" {
			return fmt.Sprintf("Bridge %s via %s", step.FromToken, step.Venue)
		}
		return fmt.Sprintf("Bridge %s via %s (%s)", step.FromToken, step.Venue, step.Reason)
	case ActionDeliver:
		return fmt.Sprintf("Deliver %s to recipient", step.ToToken)
	}
	return ""
}
