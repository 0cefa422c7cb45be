package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/chain"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/models"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/planner"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/selector"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}

func writeClassified(w http.ResponseWriter, status int, err error, class selector.Class) {
	writeJSON(w, status, models.ErrorResponse{Error: err.Error(), Class: string(class)})
}

func planResponse(plan *planner.RoutePlan) models.PlanResponse {
	resp := models.PlanResponse{
		Request: models.PlanRequest{
			FromChain: plan.Request.FromChain,
			FromToken: plan.Request.FromToken,
			ToChain:   plan.Request.ToChain,
			ToToken:   plan.Request.ToToken,
		},
		Supported:      plan.Supported(),
		Warnings:       plan.Warnings,
		Recommendation: planner.Recommendation(plan),
	}
	if !plan.Supported() {
		resp.Rejection = &models.RejectionInfo{Code: plan.Rejection.Code, Message: plan.Rejection.Message}
		return resp
	}
	resp.Protocol = plan.Protocol.String()
	resp.EstimatedCost = plan.Estimate.Cost.String()
	resp.EstimatedSeconds = int(plan.Estimate.Time.Seconds())
	for _, step := range plan.Steps {
		resp.Steps = append(resp.Steps, models.StepInfo{
			Action:      string(step.Action),
			Chain:       step.Chain,
			ChainName:   step.ChainName,
			FromToken:   step.FromToken,
			ToToken:     step.ToToken,
			Venue:       step.Venue,
			Reason:      step.Reason,
			Description: planner.DescribeStep(step),
		})
	}
	return resp
}

func transferInfo(rec *transfer.Record) models.TransferInfo {
	info := models.TransferInfo{
		ID:            rec.ID.String(),
		State:         string(rec.State),
		Protocol:      rec.Protocol.String(),
		Sender:        rec.Sender.Hex(),
		Recipient:     rec.Recipient.Hex(),
		SourceChain:   rec.SourceChain,
		SourceToken:   rec.SourceToken,
		DestChain:     rec.DestChain,
		DestToken:     rec.DestToken,
		AmountIn:      units.String(rec.AmountIn),
		Fee:           units.String(rec.Fee),
		BridgedToken:  rec.BridgedToken,
		BridgeDomain:  rec.BridgeDomain,
		BridgeNonce:   rec.BridgeNonce,
		FailureReason: rec.FailureReason,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		History:       make([]models.TransitionInfo, 0, len(rec.History)),
	}
	if rec.BridgedAmount != nil {
		info.BridgedAmount = rec.BridgedAmount.Dec()
	}
	if rec.MinOutput != nil {
		info.MinOutput = rec.MinOutput.Dec()
	}
	if rec.AmountOut != nil {
		info.AmountOut = rec.AmountOut.Dec()
	}
	for _, t := range rec.History {
		info.History = append(info.History, models.TransitionInfo{
			From:   string(t.From),
			To:     string(t.To),
			Reason: t.Reason,
			At:     t.At,
		})
	}
	return info
}

func intentFrom(req models.TransferRequest) (selector.Intent, error) {
	sender, err := hexAddress("sender", req.Sender)
	if err != nil {
		return selector.Intent{}, err
	}
	recipient, err := hexAddress("recipient", req.Recipient)
	if err != nil {
		return selector.Intent{}, err
	}
	amount, err := units.Parse(req.Amount)
	if err != nil {
		return selector.Intent{}, err
	}
	intent := selector.Intent{
		Sender:        sender,
		SourceChain:   req.SourceChain,
		SourceToken:   req.SourceToken,
		DestChain:     req.DestChain,
		DestToken:     req.DestToken,
		Amount:        amount,
		Recipient:     recipient,
		MinOutput:     new(uint256.Int),
		PrepaidNative: new(uint256.Int),
	}
	if req.MinOutput != "" {
		if intent.MinOutput, err = units.Parse(req.MinOutput); err != nil {
			return selector.Intent{}, fmt.Errorf("min_output: %w", err)
		}
	}
	if req.PrepaidNative != "" {
		if intent.PrepaidNative, err = units.Parse(req.PrepaidNative); err != nil {
			return selector.Intent{}, fmt.Errorf("prepaid_native: %w", err)
		}
	}
	if req.RouteData != "" {
		if intent.RouteData, err = hexutil.Decode(req.RouteData); err != nil {
			return selector.Intent{}, fmt.Errorf("%w: %v", selector.ErrInvalidRouteData, err)
		}
	}
	return intent, nil
}

func inboundFrom(req models.DeliveryRequest) (chain.InboundMessage, error) {
	sender, err := hexAddress("sender", req.Sender)
	if err != nil {
		return chain.InboundMessage{}, err
	}
	amount, err := units.Parse(req.Amount)
	if err != nil {
		return chain.InboundMessage{}, err
	}
	payload, err := hexutil.Decode(req.Payload)
	if err != nil {
		return chain.InboundMessage{}, fmt.Errorf("payload: %w", err)
	}
	return chain.InboundMessage{
		SourceDomain: req.SourceDomain,
		Nonce:        req.Nonce,
		Sender:       sender,
		DestChain:    req.DestChain,
		Token:        req.Token,
		Amount:       amount,
		Payload:      payload,
	}, nil
}

func hexAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s %q is not a hex address", field, value)
	}
	return common.HexToAddress(value), nil
}
