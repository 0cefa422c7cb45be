package sim

import (
	"fmt"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Faucet funds simulated accounts and pre-approves the chain's router, so a local transfer only
// needs the intent
type Faucet struct {
	ledger  *Ledger
	catalog *catalog.Store
}

func NewFaucet(ledger *Ledger, store *catalog.Store) *Faucet {
	return &Faucet{ledger: ledger, catalog: store}
}

// Fund mints amount of token to account on chainID and adds it to the router's allowance
func (f *Faucet) Fund(chainID uint64, token string, account common.Address, amount *uint256.Int) error {
	snap := f.catalog.Snapshot()
	c, ok := snap.Chain(chainID)
	if !ok {
		return fmt.Errorf("unknown chain %d", chainID)
	}
	if token != catalog.NativeCurrency && !snap.IsAvailable(chainID, token) {
		return fmt.Errorf("%s does not exist on %s", token, c.Name)
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("amount must be positive")
	}

	f.ledger.Mint(chainID, token, account, amount)
	allowance := new(uint256.Int).Add(f.ledger.Allowance(chainID, token, account, c.Router), amount)
	f.ledger.Approve(chainID, token, account, c.Router, allowance)
	simLog.Info().
		Uint64("chain", chainID).
		Str("token", token).
		Str("account", account.Hex()).
		Str("amount", amount.Dec()).
		Msg("Faucet funded account")
	return nil
}
