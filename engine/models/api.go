// Package models holds the JSON bodies of the HTTP API. Amounts are decimal strings in base units.
package models

import "time"

type ChainInfo struct {
	ID                uint64 `json:"id"`
	Name              string `json:"name"`
	BurnMintDomain    uint32 `json:"burn_mint_domain"`
	OmnichainEndpoint uint32 `json:"omnichain_endpoint"`
	Enabled           bool   `json:"enabled"`
}

type ChainsResponse struct {
	CatalogVersion uint64      `json:"catalog_version"`
	Paused         bool        `json:"paused"`
	Chains         []ChainInfo `json:"chains"`
}

// DestinationTokensResponse lists the tokens a chain can receive, i.e. the ones issued natively there
type DestinationTokensResponse struct {
	ChainID uint64   `json:"chain_id"`
	Tokens  []string `json:"tokens"`
}

// PlanRequest - POST body
type PlanRequest struct {
	FromChain uint64 `json:"from_chain"` // e.g., 8453
	FromToken string `json:"from_token"` // e.g., "USDC"
	ToChain   uint64 `json:"to_chain"`   // e.g., 42161
	ToToken   string `json:"to_token"`   // e.g., "USDe"
}

type StepInfo struct {
	Action      string `json:"action"`
	Chain       uint64 `json:"chain"`
	ChainName   string `json:"chain_name"`
	FromToken   string `json:"from_token,omitempty"`
	ToToken     string `json:"to_token,omitempty"`
	Venue       string `json:"venue"`
	Reason      string `json:"reason,omitempty"`
	Description string `json:"description"`
}

type RejectionInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PlanResponse struct {
	Request   PlanRequest    `json:"request"`
	Supported bool           `json:"supported"`
	Rejection *RejectionInfo `json:"rejection,omitempty"`
	Protocol  string         `json:"protocol,omitempty"`
	Steps     []StepInfo     `json:"steps,omitempty"`
	// EstimatedCost is an advisory USD band, e.g. "$0.40-0.60"
	EstimatedCost    string   `json:"estimated_cost,omitempty"`
	EstimatedSeconds int      `json:"estimated_seconds,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	Recommendation   string   `json:"recommendation"`
}

type RoutesResponse struct {
	CatalogVersion uint64         `json:"catalog_version"`
	Routes         []PlanResponse `json:"routes"`
}

// TransferRequest - POST body. RouteData is optional 0x hex of an ABI encoded swap instruction.
type TransferRequest struct {
	Sender        string `json:"sender"`
	SourceChain   uint64 `json:"source_chain"`
	SourceToken   string `json:"source_token"`
	DestChain     uint64 `json:"dest_chain"`
	DestToken     string `json:"dest_token"`
	Amount        string `json:"amount"`
	Recipient     string `json:"recipient"`
	MinOutput     string `json:"min_output,omitempty"`
	RouteData     string `json:"route_data,omitempty"`
	PrepaidNative string `json:"prepaid_native,omitempty"`
}

type TransitionInfo struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

type TransferInfo struct {
	ID            string           `json:"id"`
	State         string           `json:"state"`
	Protocol      string           `json:"protocol"`
	Sender        string           `json:"sender"`
	Recipient     string           `json:"recipient"`
	SourceChain   uint64           `json:"source_chain"`
	SourceToken   string           `json:"source_token"`
	DestChain     uint64           `json:"dest_chain"`
	DestToken     string           `json:"dest_token"`
	AmountIn      string           `json:"amount_in"`
	Fee           string           `json:"fee"`
	BridgedToken  string           `json:"bridged_token"`
	BridgedAmount string           `json:"bridged_amount,omitempty"`
	MinOutput     string           `json:"min_output,omitempty"`
	AmountOut     string           `json:"amount_out,omitempty"`
	BridgeDomain  uint32           `json:"bridge_domain,omitempty"`
	BridgeNonce   uint64           `json:"bridge_nonce,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	History       []TransitionInfo `json:"history"`
}

type TransferResponse struct {
	Transfer       TransferInfo `json:"transfer"`
	NetAmount      string       `json:"net_amount"`
	ExpectedOutput string       `json:"expected_output"`
	NativeRefund   string       `json:"native_refund,omitempty"`
	// Error is set when the record exists but source execution failed
	Error string `json:"error,omitempty"`
}

// DeliveryRequest - POST body for an attested bridge delivery. Payload is 0x hex.
type DeliveryRequest struct {
	SourceDomain uint32 `json:"source_domain"`
	Nonce        uint64 `json:"nonce"`
	Sender       string `json:"sender"`
	DestChain    uint64 `json:"dest_chain"`
	Token        string `json:"token"`
	Amount       string `json:"amount"`
	Payload      string `json:"payload"`
}

type DeliveryResponse struct {
	Transfer TransferInfo `json:"transfer"`
}

// FundRequest - POST body of the simulation faucet
type FundRequest struct {
	Chain   uint64 `json:"chain"`
	Token   string `json:"token"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type FeeInfo struct {
	Token     string `json:"token"`
	Total     string `json:"total"`
	Available string `json:"available"`
	// Display is Total in whole token units
	Display string `json:"display,omitempty"`
}

type FeesResponse struct {
	FeeBps uint64    `json:"fee_bps"`
	Fees   []FeeInfo `json:"fees"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	// Class is "caller" or "configuration" for validation errors
	Class string `json:"class,omitempty"`
}
