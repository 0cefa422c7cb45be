package catalog

// MainnetChains returns the chain reference data for the supported mainnets. Router and hook
// executor addresses are deployment specific and left empty.
func MainnetChains() []Chain {
	return []Chain{
		{ID: ChainEthereum, Name: "Ethereum", BurnMintDomain: 0, OmnichainEndpoint: 30101, Enabled: true},
		{ID: ChainOptimism, Name: "Optimism", BurnMintDomain: 2, OmnichainEndpoint: 30111, Enabled: true},
		{ID: ChainPolygon, Name: "Polygon", BurnMintDomain: 7, OmnichainEndpoint: 30109, Enabled: true},
		{ID: ChainBase, Name: "Base", BurnMintDomain: 6, OmnichainEndpoint: 30184, Enabled: true},
		{ID: ChainArbitrum, Name: "Arbitrum", BurnMintDomain: 3, OmnichainEndpoint: 30110, Enabled: true},
		{ID: ChainAvalanche, Name: "Avalanche", BurnMintDomain: 1, OmnichainEndpoint: 30106, Enabled: true},
	}
}

// MainnetTokens returns the stablecoins and the chains their issuers deploy on
func MainnetTokens() []Token {
	return []Token{
		{
			Symbol:         "USDC",
			Decimals:       6,
			DirectProtocol: ProtocolBurnMint,
			Native: chainSet(ChainEthereum, ChainOptimism, ChainPolygon, ChainBase,
				ChainArbitrum, ChainAvalanche),
		},
		{
			Symbol:         "PYUSD",
			Decimals:       6,
			DirectProtocol: ProtocolOmnichainToken,
			Native:         chainSet(ChainEthereum, ChainArbitrum),
		},
		{
			Symbol:         "USDT",
			Decimals:       6,
			DirectProtocol: ProtocolLiquidityPool,
			Native: chainSet(ChainEthereum, ChainOptimism, ChainPolygon, ChainArbitrum,
				ChainAvalanche),
			// USDT on Base only exists as a pool-bridged representation
			Bridged: chainSet(ChainBase),
		},
		{
			Symbol:         "DAI",
			Decimals:       18,
			DirectProtocol: ProtocolOmnichainToken,
			Native: chainSet(ChainEthereum, ChainOptimism, ChainPolygon, ChainArbitrum,
				ChainAvalanche),
		},
		{
			Symbol:         "USDe",
			Decimals:       18,
			DirectProtocol: ProtocolOmnichainToken,
			Native:         chainSet(ChainEthereum, ChainArbitrum),
		},
		{
			Symbol:         "crvUSD",
			Decimals:       18,
			DirectProtocol: ProtocolOmnichainToken,
			Native:         chainSet(ChainEthereum),
		},
	}
}

func chainSet(ids ...uint64) map[uint64]bool {
	out := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
