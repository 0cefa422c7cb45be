// Package catalogtest provides a populated catalog for tests across the engine
package catalogtest

import (
	"fmt"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/ethereum/go-ethereum/common"
)

// Pools used by the fixture routes
var (
	PoolArbitrumUSDCToUSDe  = common.HexToAddress("0x00000000000000000000000000000000000a0001")
	PoolEthereumPYUSDToUSDe = common.HexToAddress("0x00000000000000000000000000000000000a0002")
	PoolOptimismUSDTToDAI   = common.HexToAddress("0x00000000000000000000000000000000000a0003")
	PoolArbitrumDAIToUSDC   = common.HexToAddress("0x00000000000000000000000000000000000a0004")
	BridgeContract          = common.HexToAddress("0x00000000000000000000000000000000000b0001")
)

// Router returns the fixture router address for a chain
func Router(chainID uint64) common.Address {
	return common.HexToAddress(fmt.Sprintf("0x%040x", 0x100000+chainID))
}

// HookExecutor returns the fixture destination custody address for a chain
func HookExecutor(chainID uint64) common.Address {
	return common.HexToAddress(fmt.Sprintf("0x%040x", 0x200000+chainID))
}

// Config returns mainnet chains and tokens with routers, executors and a small route table
func Config() catalog.Config {
	chains := catalog.MainnetChains()
	for i := range chains {
		chains[i].Router = Router(chains[i].ID)
		chains[i].HookExecutor = HookExecutor(chains[i].ID)
	}

	return catalog.Config{
		AnchorToken: "USDC",
		Chains:      chains,
		Tokens:      catalog.MainnetTokens(),
		Routes: []catalog.Route{
			{
				FromToken: "USDC", FromChain: catalog.ChainBase,
				ToToken: "USDC", ToChain: catalog.ChainArbitrum,
				Protocol: catalog.ProtocolBurnMint, DestinationDomain: 3, Bridge: BridgeContract,
			},
			{
				FromToken: "USDC", FromChain: catalog.ChainBase,
				ToToken: "USDe", ToChain: catalog.ChainArbitrum,
				Protocol: catalog.ProtocolBurnMintWithHook, DestinationDomain: 3, Bridge: BridgeContract,
				SwapPool: PoolArbitrumUSDCToUSDe, FeeTier: 500,
			},
			{
				FromToken: "DAI", FromChain: catalog.ChainArbitrum,
				ToToken: "DAI", ToChain: catalog.ChainOptimism,
				Protocol: catalog.ProtocolOmnichainToken, DestinationDomain: 30111, Bridge: BridgeContract,
			},
			{
				FromToken: "USDT", FromChain: catalog.ChainArbitrum,
				ToToken: "USDT", ToChain: catalog.ChainPolygon,
				Protocol: catalog.ProtocolLiquidityPool, DestinationDomain: 30109, Bridge: BridgeContract,
				PoolID: 2,
			},
			{
				// configured by mistake: USDT on Base is pool-bridged, validation must still refuse it
				FromToken: "USDT", FromChain: catalog.ChainArbitrum,
				ToToken: "USDT", ToChain: catalog.ChainBase,
				Protocol: catalog.ProtocolLiquidityPool, DestinationDomain: 30184, Bridge: BridgeContract,
				PoolID: 2,
			},
			{
				FromToken: "PYUSD", FromChain: catalog.ChainArbitrum,
				ToToken: "USDe", ToChain: catalog.ChainEthereum,
				Protocol: catalog.ProtocolOmnichainTokenWithCompose, DestinationDomain: 30101, Bridge: BridgeContract,
				SwapPool: PoolEthereumPYUSDToUSDe, FeeTier: 500,
			},
			{
				FromToken: "USDT", FromChain: catalog.ChainArbitrum,
				ToToken: "DAI", ToChain: catalog.ChainOptimism,
				Protocol: catalog.ProtocolLiquidityPoolWithSwap, DestinationDomain: 30111, Bridge: BridgeContract,
				PoolID: 2, SwapPool: PoolOptimismUSDTToDAI, FeeTier: 100,
			},
			{
				FromToken: "DAI", FromChain: catalog.ChainArbitrum,
				ToToken: "USDC", ToChain: catalog.ChainBase,
				Protocol: catalog.ProtocolBurnMint, DestinationDomain: 6, Bridge: BridgeContract,
				SourceSwapPool: PoolArbitrumDAIToUSDC, FeeTier: 100,
			},
		},
	}
}

// Snapshot returns a snapshot of Config
func Snapshot() *catalog.Snapshot {
	return catalog.NewSnapshot(Config())
}

// Store returns a fresh store serving Snapshot
func Store() *catalog.Store {
	return catalog.NewStore(Snapshot())
}
