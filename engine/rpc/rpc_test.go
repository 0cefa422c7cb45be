package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog/catalogtest"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/events"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/feeledger"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/hooks"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/models"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/orchestrator"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/rpc"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/selector"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/sim"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/store"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/zeebo/assert"
)

var (
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

const relayToken = "relay-secret"

type harness struct {
	handler http.Handler
	ledger  *sim.Ledger
	bridge  *sim.Bridge
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat := catalogtest.Store()
	ledger := sim.NewLedger()
	pools := sim.NewPools(ledger, cat)
	bridge := sim.NewBridge(ledger, cat, 0)
	records := store.NewMemory()
	fees := feeledger.New("treasury")
	recorder := &events.Recorder{}

	orch := orchestrator.New(orchestrator.Config{
		Catalog:   cat,
		Selector:  selector.New(selector.DefaultConfig()),
		Ledger:    ledger,
		Bridge:    bridge,
		Pools:     pools,
		Fees:      fees,
		Records:   records,
		Collector: "treasury",
		Publisher: recorder,
	})
	executor := hooks.NewExecutor(hooks.Config{
		Catalog:   cat,
		Ledger:    ledger,
		Pools:     pools,
		Records:   records,
		Publisher: recorder,
	})

	server, err := rpc.NewServer(context.Background(), &rpc.ServerConfig{Address: "127.0.0.1:0"}, &rpc.API{
		Catalog:    cat,
		Transfers:  orch,
		Deliverer:  executor,
		RelayToken: relayToken,
		Faucet:     sim.NewFaucet(ledger, cat),
		Fees:       fees,
		FeeBps:     selector.DefaultFeeBps,
	})
	assert.NoError(t, err)
	return &harness{handler: server.Handler(), ledger: ledger, bridge: bridge}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return h.doWithToken(t, method, path, relayToken, body)
}

func (h *harness) doWithToken(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		assert.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestHealthAndReady(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, h.do(t, http.MethodGet, "/server/health", nil).Code, http.StatusOK)
	assert.Equal(t, h.do(t, http.MethodGet, "/server/ready", nil).Code, http.StatusOK)
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	_, err := rpc.NewServer(context.Background(), nil, &rpc.API{})
	assert.Error(t, err)
}

func TestReady_ReportsCatalogVersion(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/server/ready", nil)
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, body["status"], "ready")
	assert.Equal(t, body["catalog_version"], float64(1))
}

func TestListChains(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/v1/chains", nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Header().Get("Cache-Control"), "no-store, no-cache, must-revalidate")

	var resp models.ChainsResponse
	decode(t, rec, &resp)
	assert.Equal(t, len(resp.Chains), len(catalog.MainnetChains()))
	assert.Equal(t, resp.CatalogVersion, uint64(1))
}

func TestDestinationTokens(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/v1/chains/8453/destination-tokens", nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	var resp models.DestinationTokensResponse
	decode(t, rec, &resp)
	// USDT only exists bridged on Base
	assert.Equal(t, resp.Tokens, []string{"USDC"})

	assert.Equal(t, h.do(t, http.MethodGet, "/v1/chains/999/destination-tokens", nil).Code, http.StatusNotFound)
	assert.Equal(t, h.do(t, http.MethodGet, "/v1/chains/base/destination-tokens", nil).Code, http.StatusBadRequest)
}

func TestPlan(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/plan", models.PlanRequest{
		FromChain: catalog.ChainBase, FromToken: "USDC", ToChain: catalog.ChainArbitrum, ToToken: "USDC",
	})
	assert.Equal(t, rec.Code, http.StatusOK)
	var ok models.PlanResponse
	decode(t, rec, &ok)
	assert.True(t, ok.Supported)
	assert.Equal(t, ok.Protocol, "BURN_MINT")
	assert.True(t, len(ok.Steps) > 0)

	rec = h.do(t, http.MethodPost, "/v1/plan", models.PlanRequest{
		FromChain: catalog.ChainArbitrum, FromToken: "PYUSD", ToChain: catalog.ChainBase, ToToken: "PYUSD",
	})
	assert.Equal(t, rec.Code, http.StatusOK)
	var rejected models.PlanResponse
	decode(t, rec, &rejected)
	assert.False(t, rejected.Supported)
	assert.Equal(t, rejected.Rejection.Code, "not_native")

	rec = h.do(t, http.MethodPost, "/v1/plan", models.PlanRequest{
		FromChain: catalog.ChainBase, FromToken: "DOGE", ToChain: catalog.ChainArbitrum, ToToken: "USDC",
	})
	assert.Equal(t, rec.Code, http.StatusBadRequest)
}

func TestPlan_RejectsUnknownFields(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/v1/plan", map[string]interface{}{"from_chain": 8453, "amount": "1"})
	assert.Equal(t, rec.Code, http.StatusBadRequest)
}

func TestListRoutes(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/v1/routes", nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	var resp models.RoutesResponse
	decode(t, rec, &resp)
	assert.True(t, len(resp.Routes) > 0)
	for _, route := range resp.Routes {
		assert.True(t, route.Supported)
	}
}

func TestTransferLifecycle(t *testing.T) {
	h := newHarness(t)
	amount := units.FromWhole(100, 6)
	rec := h.do(t, http.MethodPost, "/v1/sim/fund", models.FundRequest{
		Chain: catalog.ChainBase, Token: "USDC", Account: alice.Hex(), Amount: amount.Dec(),
	})
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, h.ledger.Allowance(catalog.ChainBase, "USDC", alice, catalogtest.Router(catalog.ChainBase)).Dec(), amount.Dec())

	rec = h.do(t, http.MethodPost, "/v1/transfers", models.TransferRequest{
		Sender:      alice.Hex(),
		SourceChain: catalog.ChainBase,
		SourceToken: "USDC",
		DestChain:   catalog.ChainArbitrum,
		DestToken:   "USDC",
		Amount:      amount.Dec(),
		Recipient:   bob.Hex(),
	})
	assert.Equal(t, rec.Code, http.StatusCreated)
	var created models.TransferResponse
	decode(t, rec, &created)
	assert.Equal(t, created.Transfer.State, "BRIDGE_PENDING")
	assert.Equal(t, created.Transfer.Fee, "100000")
	assert.Equal(t, created.NetAmount, "99900000")

	msgs, err := h.bridge.Fetch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, len(msgs), 1)
	delivery := models.DeliveryRequest{
		SourceDomain: msgs[0].SourceDomain,
		Nonce:        msgs[0].Nonce,
		Sender:       msgs[0].Sender.Hex(),
		DestChain:    msgs[0].DestChain,
		Token:        msgs[0].Token,
		Amount:       msgs[0].Amount.Dec(),
		Payload:      hexutil.Encode(msgs[0].Payload),
	}

	rec = h.do(t, http.MethodPost, "/v1/relay/deliver", delivery)
	assert.Equal(t, rec.Code, http.StatusOK)
	var delivered models.DeliveryResponse
	decode(t, rec, &delivered)
	assert.Equal(t, delivered.Transfer.State, "COMPLETED")
	assert.Equal(t, delivered.Transfer.AmountOut, "99900000")

	// the same message again
	rec = h.do(t, http.MethodPost, "/v1/relay/deliver", delivery)
	assert.Equal(t, rec.Code, http.StatusConflict)

	rec = h.do(t, http.MethodGet, "/v1/transfers/"+created.Transfer.ID, nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	var fetched models.TransferInfo
	decode(t, rec, &fetched)
	assert.Equal(t, fetched.State, "COMPLETED")
	assert.Equal(t, len(fetched.History), 2)
	assert.Equal(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", bob).Uint64(), uint64(99900000))

	rec = h.do(t, http.MethodGet, "/v1/fees", nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	var fees models.FeesResponse
	decode(t, rec, &fees)
	assert.Equal(t, fees.FeeBps, uint64(10))
	assert.Equal(t, len(fees.Fees), 1)
	assert.Equal(t, fees.Fees[0].Total, "100000")
	assert.Equal(t, fees.Fees[0].Display, "0.1")
}

func TestTransfer_NonNativeDestination(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/v1/transfers", models.TransferRequest{
		Sender:      alice.Hex(),
		SourceChain: catalog.ChainArbitrum,
		SourceToken: "PYUSD",
		DestChain:   catalog.ChainBase,
		DestToken:   "PYUSD",
		Amount:      "100000000",
		Recipient:   bob.Hex(),
	})
	assert.Equal(t, rec.Code, http.StatusUnprocessableEntity)
	var resp models.ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, resp.Class, "configuration")
	assert.True(t, strings.Contains(resp.Error, "token not native on destination"))
}

func TestTransfer_CallerErrors(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/transfers", models.TransferRequest{
		Sender: "alice", SourceChain: catalog.ChainBase, SourceToken: "USDC",
		DestChain: catalog.ChainArbitrum, DestToken: "USDC", Amount: "1", Recipient: bob.Hex(),
	})
	assert.Equal(t, rec.Code, http.StatusBadRequest)

	rec = h.do(t, http.MethodPost, "/v1/transfers", models.TransferRequest{
		Sender: alice.Hex(), SourceChain: catalog.ChainBase, SourceToken: "USDC",
		DestChain: catalog.ChainArbitrum, DestToken: "USDC", Amount: "0", Recipient: bob.Hex(),
	})
	assert.Equal(t, rec.Code, http.StatusBadRequest)
	var resp models.ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, resp.Class, "caller")

	// valid intent but nothing approved
	rec = h.do(t, http.MethodPost, "/v1/transfers", models.TransferRequest{
		Sender: alice.Hex(), SourceChain: catalog.ChainBase, SourceToken: "USDC",
		DestChain: catalog.ChainArbitrum, DestToken: "USDC", Amount: "1000000", Recipient: bob.Hex(),
	})
	assert.Equal(t, rec.Code, http.StatusUnprocessableEntity)
}

func TestGetTransfer_Errors(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, h.do(t, http.MethodGet, "/v1/transfers/0x1234", nil).Code, http.StatusBadRequest)
	missing := "0x" + strings.Repeat("ab", 32)
	assert.Equal(t, h.do(t, http.MethodGet, "/v1/transfers/"+missing, nil).Code, http.StatusNotFound)
}

func TestDeliver_UnauthorizedSender(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/v1/relay/deliver", models.DeliveryRequest{
		SourceDomain: 6,
		Nonce:        1,
		Sender:       alice.Hex(),
		DestChain:    catalog.ChainArbitrum,
		Token:        "USDC",
		Amount:       "1",
		Payload:      "0x00",
	})
	assert.Equal(t, rec.Code, http.StatusForbidden)
}

// bridgeSend initiates a Base -> Arbitrum USDC transfer to bob and returns the bridge message as a delivery request
func (h *harness) bridgeSend(t *testing.T) models.DeliveryRequest {
	t.Helper()
	amount := units.FromWhole(100, 6)
	rec := h.do(t, http.MethodPost, "/v1/sim/fund", models.FundRequest{
		Chain: catalog.ChainBase, Token: "USDC", Account: alice.Hex(), Amount: amount.Dec(),
	})
	assert.Equal(t, rec.Code, http.StatusOK)
	rec = h.do(t, http.MethodPost, "/v1/transfers", models.TransferRequest{
		Sender: alice.Hex(), SourceChain: catalog.ChainBase, SourceToken: "USDC",
		DestChain: catalog.ChainArbitrum, DestToken: "USDC", Amount: amount.Dec(), Recipient: bob.Hex(),
	})
	assert.Equal(t, rec.Code, http.StatusCreated)

	msgs, err := h.bridge.Fetch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, len(msgs), 1)
	return models.DeliveryRequest{
		SourceDomain: msgs[0].SourceDomain,
		Nonce:        msgs[0].Nonce,
		Sender:       msgs[0].Sender.Hex(),
		DestChain:    msgs[0].DestChain,
		Token:        msgs[0].Token,
		Amount:       msgs[0].Amount.Dec(),
		Payload:      hexutil.Encode(msgs[0].Payload),
	}
}

func TestDeliver_RequiresRelayToken(t *testing.T) {
	h := newHarness(t)
	delivery := h.bridgeSend(t)

	assert.Equal(t, h.doWithToken(t, http.MethodPost, "/v1/relay/deliver", "", delivery).Code, http.StatusUnauthorized)
	assert.Equal(t, h.doWithToken(t, http.MethodPost, "/v1/relay/deliver", "guess", delivery).Code, http.StatusUnauthorized)
	assert.True(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", bob).IsZero())

	assert.Equal(t, h.do(t, http.MethodPost, "/v1/relay/deliver", delivery).Code, http.StatusOK)
	assert.Equal(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", bob).Uint64(), uint64(99900000))
}

func TestDeliver_NotMountedWithoutRelayToken(t *testing.T) {
	cat := catalogtest.Store()
	ledger := sim.NewLedger()
	executor := hooks.NewExecutor(hooks.Config{
		Catalog: cat,
		Ledger:  ledger,
		Pools:   sim.NewPools(ledger, cat),
		Records: store.NewMemory(),
	})
	server, err := rpc.NewServer(context.Background(), &rpc.ServerConfig{Address: "127.0.0.1:0"}, &rpc.API{
		Catalog:   cat,
		Transfers: orchestrator.New(orchestrator.Config{Catalog: cat}),
		Deliverer: executor,
		Fees:      feeledger.New("treasury"),
	})
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/relay/deliver", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.True(t, rec.Code == http.StatusNotFound || rec.Code == http.StatusMethodNotAllowed)
}

func TestDeliver_ForgedMessageIsRejected(t *testing.T) {
	h := newHarness(t)
	genuine := h.bridgeSend(t)
	mallory := common.HexToAddress("0x0000000000000000000000000000000000000bad")

	payload, err := hexutil.Decode(genuine.Payload)
	assert.NoError(t, err)
	p, err := hooks.DecodePayload(payload)
	assert.NoError(t, err)
	p.Recipient = mallory
	forgedPayload, err := hooks.EncodePayload(p)
	assert.NoError(t, err)

	forged := genuine
	forged.Payload = hexutil.Encode(forgedPayload)
	assert.Equal(t, h.do(t, http.MethodPost, "/v1/relay/deliver", forged).Code, http.StatusConflict)

	inflated := genuine
	inflated.Nonce = genuine.Nonce + 100
	inflated.Amount = units.FromWhole(1000, 6).Dec()
	assert.Equal(t, h.do(t, http.MethodPost, "/v1/relay/deliver", inflated).Code, http.StatusConflict)
	assert.True(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", mallory).IsZero())
	assert.True(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", bob).IsZero())

	rec := h.do(t, http.MethodPost, "/v1/relay/deliver", genuine)
	assert.Equal(t, rec.Code, http.StatusOK)
	var delivered models.DeliveryResponse
	decode(t, rec, &delivered)
	assert.Equal(t, delivered.Transfer.State, "COMPLETED")
	assert.Equal(t, h.ledger.Balance(catalog.ChainArbitrum, "USDC", bob).Uint64(), uint64(99900000))
}
