package sim_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog/catalogtest"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/chain"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/sim"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

var (
	alice  = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	router = catalogtest.Router(catalog.ChainBase)
)

func TestLedger_TransferFromSpendsAllowance(t *testing.T) {
	ctx := context.Background()
	ledger := sim.NewLedger()
	ledger.Mint(catalog.ChainBase, "USDC", alice, uint256.NewInt(100))

	err := ledger.TransferFrom(ctx, catalog.ChainBase, "USDC", router, alice, router, uint256.NewInt(10))
	assert.True(t, errors.Is(err, chain.ErrInsufficientAllowance))

	ledger.Approve(catalog.ChainBase, "USDC", alice, router, uint256.NewInt(60))
	assert.NoError(t, ledger.TransferFrom(ctx, catalog.ChainBase, "USDC", router, alice, router, uint256.NewInt(50)))
	assert.Equal(t, ledger.Allowance(catalog.ChainBase, "USDC", alice, router).Uint64(), uint64(10))
	assert.Equal(t, ledger.Balance(catalog.ChainBase, "USDC", router).Uint64(), uint64(50))

	ledger.Approve(catalog.ChainBase, "USDC", alice, router, uint256.NewInt(1000))
	err = ledger.TransferFrom(ctx, catalog.ChainBase, "USDC", router, alice, router, uint256.NewInt(51))
	assert.True(t, errors.Is(err, chain.ErrInsufficientBalance))
	// balances are per chain
	assert.True(t, ledger.Balance(catalog.ChainArbitrum, "USDC", alice).IsZero())
}

func TestBridge_ReleasesAfterDelayAndMintsOnce(t *testing.T) {
	ctx := context.Background()
	store := catalogtest.Store()
	ledger := sim.NewLedger()
	bridge := sim.NewBridge(ledger, store, 10*time.Second)

	now := time.Unix(1700000000, 0)
	bridge.SetClock(func() time.Time { return now })

	ledger.Mint(catalog.ChainBase, "USDC", router, uint256.NewInt(1000))
	receipt, err := bridge.Send(ctx, chain.OutboundMessage{
		Protocol:    catalog.ProtocolBurnMint,
		SourceChain: catalog.ChainBase,
		DestChain:   catalog.ChainArbitrum,
		Token:       "USDC",
		Amount:      uint256.NewInt(1000),
		From:        router,
		Recipient:   catalogtest.HookExecutor(catalog.ChainArbitrum),
	})
	assert.NoError(t, err)
	assert.Equal(t, receipt.Domain, uint32(6))
	assert.Equal(t, receipt.Nonce, uint64(1))
	assert.True(t, ledger.Balance(catalog.ChainBase, "USDC", router).IsZero())

	msgs, err := bridge.Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(msgs), 0)

	now = now.Add(10 * time.Second)
	msgs, err = bridge.Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(msgs), 1)
	assert.Equal(t, msgs[0].Sender, router)

	executor := catalogtest.HookExecutor(catalog.ChainArbitrum)
	assert.Equal(t, ledger.Balance(catalog.ChainArbitrum, "USDC", executor).Uint64(), uint64(1000))

	// redelivered until acknowledged, minted only once
	msgs, err = bridge.Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(msgs), 1)
	assert.Equal(t, ledger.Balance(catalog.ChainArbitrum, "USDC", executor).Uint64(), uint64(1000))

	assert.NoError(t, bridge.Ack(ctx, msgs[0]))
	assert.Equal(t, bridge.Pending(), 0)
	assert.True(t, errors.Is(bridge.Ack(ctx, msgs[0]), sim.ErrUnknownMessage))
}

func TestBridge_OmnichainUsesEndpointDomain(t *testing.T) {
	ctx := context.Background()
	store := catalogtest.Store()
	ledger := sim.NewLedger()
	bridge := sim.NewBridge(ledger, store, 0)

	arbRouter := catalogtest.Router(catalog.ChainArbitrum)
	ledger.Mint(catalog.ChainArbitrum, "DAI", arbRouter, units.FromWhole(1, 18))
	ledger.Mint(catalog.ChainArbitrum, catalog.NativeCurrency, arbRouter, units.FromWhole(1, 15))

	receipt, err := bridge.Send(ctx, chain.OutboundMessage{
		Protocol:    catalog.ProtocolOmnichainToken,
		SourceChain: catalog.ChainArbitrum,
		DestChain:   catalog.ChainOptimism,
		Bridge:      catalogtest.BridgeContract,
		Token:       "DAI",
		Amount:      units.FromWhole(1, 18),
		From:        arbRouter,
		NativeFee:   units.FromWhole(1, 15),
	})
	assert.NoError(t, err)
	assert.Equal(t, receipt.Domain, uint32(30110))
	assert.Equal(t, ledger.Balance(catalog.ChainArbitrum, catalog.NativeCurrency, catalogtest.BridgeContract).Dec(),
		units.FromWhole(1, 15).Dec())
}

func TestPools_RateAndSlippage(t *testing.T) {
	ctx := context.Background()
	store := catalogtest.Store()
	ledger := sim.NewLedger()
	pools := sim.NewPools(ledger, store)

	executor := catalogtest.HookExecutor(catalog.ChainArbitrum)
	ledger.Mint(catalog.ChainArbitrum, "USDC", executor, units.FromWhole(100, 6))

	req := chain.SwapRequest{
		Chain:    catalog.ChainArbitrum,
		Pool:     catalogtest.PoolArbitrumUSDCToUSDe,
		TokenIn:  "USDC",
		TokenOut: "USDe",
		AmountIn: units.FromWhole(100, 6),
		MinOut:   units.FromWhole(99, 18),
		Account:  executor,
	}

	pools.SetRate(catalogtest.PoolArbitrumUSDCToUSDe, decimal.RequireFromString("0.95"))
	_, err := pools.Swap(ctx, req)
	assert.True(t, errors.Is(err, chain.ErrSlippage))
	// nothing moved
	assert.Equal(t, ledger.Balance(catalog.ChainArbitrum, "USDC", executor).Dec(), units.FromWhole(100, 6).Dec())

	pools.SetRate(catalogtest.PoolArbitrumUSDCToUSDe, decimal.RequireFromString("0.995"))
	out, err := pools.Swap(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, out.Dec(), "99500000000000000000")
	assert.True(t, ledger.Balance(catalog.ChainArbitrum, "USDC", executor).IsZero())
	assert.Equal(t, ledger.Balance(catalog.ChainArbitrum, "USDe", executor).Dec(), out.Dec())
}

func TestFaucet_FundsAndApproves(t *testing.T) {
	store := catalogtest.Store()
	ledger := sim.NewLedger()
	faucet := sim.NewFaucet(ledger, store)
	account := common.HexToAddress("0x000000000000000000000000000000000000a11c")
	router := catalogtest.Router(catalog.ChainBase)

	assert.NoError(t, faucet.Fund(catalog.ChainBase, "USDC", account, units.FromWhole(10, 6)))
	assert.NoError(t, faucet.Fund(catalog.ChainBase, "USDC", account, units.FromWhole(5, 6)))
	assert.Equal(t, ledger.Balance(catalog.ChainBase, "USDC", account).Uint64(), uint64(15000000))
	assert.Equal(t, ledger.Allowance(catalog.ChainBase, "USDC", account, router).Uint64(), uint64(15000000))

	assert.Error(t, faucet.Fund(999, "USDC", account, units.FromWhole(1, 6)))
	// PYUSD is not deployed on Base
	assert.Error(t, faucet.Fund(catalog.ChainBase, "PYUSD", account, units.FromWhole(1, 6)))
	assert.Error(t, faucet.Fund(catalog.ChainBase, "USDC", account, uint256.NewInt(0)))
}
