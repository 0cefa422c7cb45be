package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/chain"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/feeledger"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/hooks"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/models"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/orchestrator"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/planner"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/selector"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/store"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
)

// Transfers starts and looks up transfers; *orchestrator.Orchestrator satisfies it
type Transfers interface {
	Initiate(ctx context.Context, intent selector.Intent) (*orchestrator.Result, error)
	Get(ctx context.Context, id transfer.ID) (*transfer.Record, error)
}

// Deliverer executes attested bridge deliveries; *hooks.Executor satisfies it
type Deliverer interface {
	Deliver(ctx context.Context, msg chain.InboundMessage) (*hooks.Delivery, error)
}

// Faucet funds simulated accounts; *sim.Faucet satisfies it
type Faucet interface {
	Fund(chainID uint64, token string, account common.Address, amount *uint256.Int) error
}

// API holds the handlers' collaborators. Every request reads one catalog snapshot.
type API struct {
	Catalog   *catalog.Store
	Transfers Transfers
	// Deliverer is optional; the relay endpoint is mounted only with both it and RelayToken
	Deliverer Deliverer
	// RelayToken is the bearer token relayers present on the deliver endpoint
	RelayToken string
	// Faucet is only set when running on the simulated ledger
	Faucet Faucet
	Fees   *feeledger.Ledger
	FeeBps uint64
}

// Routes mounts the v1 endpoints
func (a *API) Routes(r chi.Router) {
	r.Get("/chains", a.listChains)
	r.Get("/chains/{chainID}/destination-tokens", a.destinationTokens)
	r.Post("/plan", a.plan)
	r.Get("/routes", a.listRoutes)
	r.Post("/transfers", a.initiateTransfer)
	r.Get("/transfers/{id}", a.getTransfer)
	r.Get("/fees", a.listFees)
	if a.Deliverer != nil && a.RelayToken != "" {
		r.With(bearerTokenMiddleware(a.RelayToken)).Post("/relay/deliver", a.deliver)
	}
	if a.Faucet != nil {
		r.Post("/sim/fund", a.fund)
	}
}

// Ready reports whether a catalog is loaded
func (a *API) Ready() bool {
	return a != nil && a.Catalog != nil && a.Catalog.Snapshot() != nil
}

func (a *API) listChains(w http.ResponseWriter, r *http.Request) {
	snap := a.Catalog.Snapshot()
	resp := models.ChainsResponse{CatalogVersion: snap.Version(), Paused: snap.Paused()}
	for _, c := range snap.Chains() {
		resp.Chains = append(resp.Chains, models.ChainInfo{
			ID:                c.ID,
			Name:              c.Name,
			BurnMintDomain:    c.BurnMintDomain,
			OmnichainEndpoint: c.OmnichainEndpoint,
			Enabled:           c.Enabled,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) destinationTokens(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "chainID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid chain id %q", chi.URLParam(r, "chainID")))
		return
	}
	snap := a.Catalog.Snapshot()
	if !snap.IsSupportedChain(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %d", planner.ErrUnknownChain, id))
		return
	}
	tokens := planner.New(snap).ValidDestinationTokens(id)
	if tokens == nil {
		tokens = []string{}
	}
	writeJSON(w, http.StatusOK, models.DestinationTokensResponse{ChainID: id, Tokens: tokens})
}

func (a *API) plan(w http.ResponseWriter, r *http.Request) {
	var req models.PlanRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	plan, err := planner.New(a.Catalog.Snapshot()).Plan(planner.Request{
		FromChain: req.FromChain,
		FromToken: req.FromToken,
		ToChain:   req.ToChain,
		ToToken:   req.ToToken,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse(plan))
}

func (a *API) listRoutes(w http.ResponseWriter, r *http.Request) {
	snap := a.Catalog.Snapshot()
	resp := models.RoutesResponse{CatalogVersion: snap.Version(), Routes: []models.PlanResponse{}}
	for _, plan := range planner.New(snap).AllRoutes() {
		resp.Routes = append(resp.Routes, planResponse(plan))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) initiateTransfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	intent, err := intentFrom(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.Transfers.Initiate(r.Context(), intent)
	if err != nil && (result == nil || result.Record == nil) {
		writeTransferError(w, err)
		return
	}

	resp := models.TransferResponse{
		Transfer:       transferInfo(result.Record),
		NetAmount:      units.String(result.Operation.NetAmount),
		ExpectedOutput: units.String(result.Operation.ExpectedOutput),
	}
	if result.Operation.NativeRefund != nil && !result.Operation.NativeRefund.IsZero() {
		resp.NativeRefund = result.Operation.NativeRefund.Dec()
	}
	if err != nil {
		// the record exists and is FAILED, funds stay with the router
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) getTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := transfer.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := a.Transfers.Get(r.Context(), id)
	if err != nil {
		writeTransferError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transferInfo(rec))
}

func (a *API) deliver(w http.ResponseWriter, r *http.Request) {
	var req models.DeliveryRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	msg, err := inboundFrom(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	delivery, err := a.Deliverer.Deliver(r.Context(), msg)
	if err != nil {
		writeError(w, deliveryStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, models.DeliveryResponse{Transfer: transferInfo(delivery.Record)})
}

func (a *API) fund(w http.ResponseWriter, r *http.Request) {
	var req models.FundRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	account, err := hexAddress("account", req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := units.Parse(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.Faucet.Fund(req.Chain, req.Token, account, amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) listFees(w http.ResponseWriter, r *http.Request) {
	snap := a.Catalog.Snapshot()
	resp := models.FeesResponse{FeeBps: a.FeeBps, Fees: []models.FeeInfo{}}
	for _, t := range a.Fees.Totals() {
		info := models.FeeInfo{Token: t.Token, Total: t.Total.Dec(), Available: t.Available.Dec()}
		if token, ok := snap.Token(t.Token); ok {
			info.Display = units.Format(t.Total, token.Decimals)
		}
		resp.Fees = append(resp.Fees, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeTransferError maps initiation and lookup failures to a status and error class
func writeTransferError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, selector.ErrPaused):
		writeClassified(w, http.StatusServiceUnavailable, err, selector.ClassConfiguration)
	case selector.Classify(err) == selector.ClassCaller:
		writeClassified(w, http.StatusBadRequest, err, selector.ClassCaller)
	case selector.Classify(err) == selector.ClassConfiguration:
		writeClassified(w, http.StatusUnprocessableEntity, err, selector.ClassConfiguration)
	case errors.Is(err, orchestrator.ErrCustody):
		writeClassified(w, http.StatusUnprocessableEntity, err, selector.ClassCaller)
	case errors.Is(err, store.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		Logger.Error().Err(err).Msg("Transfer request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func deliveryStatus(err error) int {
	switch {
	case errors.Is(err, hooks.ErrUnauthorizedSender):
		return http.StatusForbidden
	case errors.Is(err, hooks.ErrReplayedMessage), errors.Is(err, hooks.ErrUnexpectedState),
		errors.Is(err, hooks.ErrMessageMismatch):
		return http.StatusConflict
	case errors.Is(err, hooks.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, hooks.ErrUnknownTransfer):
		return http.StatusNotFound
	case hooks.Retryable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
