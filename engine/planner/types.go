package planner

import (
	"fmt"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/shopspring/decimal"
)

// AssetTable is everything the planner reads. It is satisfied by *catalog.Snapshot.
type AssetTable interface {
	catalog.NativeTable
	AnchorToken() string
	Token(symbol string) (catalog.Token, bool)
	Chains() []catalog.Chain
	Tokens() []catalog.Token
}

// Request is the four-tuple a plan is computed for
type Request struct {
	FromChain uint64
	FromToken string
	ToChain   uint64
	ToToken   string
}

func (r Request) String() string {
	return fmt.Sprintf("%s@%d -> %s@%d", r.FromToken, r.FromChain, r.ToToken, r.ToChain)
}

// Action is one kind of step in a plan
type Action string

const (
	ActionSwap    Action = "swap"
	ActionBridge  Action = "bridge"
	ActionDeliver Action = "deliver"
)

// Step is one ordered action of a plan
type Step struct {
	Action    Action `json:"action"`
	Chain     uint64 `json:"chain"`
	ChainName string `json:"chain_name"`
	FromToken string `json:"from_token,omitempty"`
	ToToken   string `json:"to_token,omitempty"`
	// Venue is "DEX" for swaps and the protocol name for bridges
	Venue  string `json:"venue"`
	Reason string `json:"reason,omitempty"`
}

// Rejection codes
const (
	RejectSameChain         = "same_chain"
	RejectSourceUnavailable = "source_unavailable"
	RejectNotNative         = "not_native"
	RejectNotRoutable       = "not_routable"
)

// Rejection explains why no route exists
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CostRange is an advisory USD cost band
type CostRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func (c CostRange) String() string {
	return fmt.Sprintf("$%s-%s", c.Min.StringFixed(2), c.Max.StringFixed(2))
}

// Estimate is the advisory cost and settlement time for a protocol
type Estimate struct {
	Cost CostRange
	Time time.Duration
}

// RoutePlan is the planner's answer for one request. Exactly one of Rejection or Steps is set.
type RoutePlan struct {
	Request   Request
	Rejection *Rejection
	Protocol  catalog.Protocol
	Steps     []Step
	Estimate  Estimate
	Warnings  []string
}

// Supported reports whether a route was planned
func (p *RoutePlan) Supported() bool {
	return p.Rejection == nil
}
