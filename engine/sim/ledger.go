// Package sim provides in-process stand-ins for the token ledger, the bridges and the swap pools.
// The service runs on them in local mode and the engine's scenario tests drive them directly.
package sim

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var simLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	simLog = zerolog.New(out).With().Timestamp().Str("component", "sim").Logger()
}

type balanceKey struct {
	chain   uint64
	token   string
	account common.Address
}

type allowanceKey struct {
	balanceKey
	spender common.Address
}

// Ledger is an in-memory multi-chain token ledger with ERC-20 style allowances
type Ledger struct {
	mu         sync.Mutex
	balances   map[balanceKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[balanceKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

// Mint credits an account
func (l *Ledger) Mint(chainID uint64, token string, account common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(balanceKey{chainID, token, account}, amount)
}

// Burn debits an account
func (l *Ledger) Burn(chainID uint64, token string, account common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debit(balanceKey{chainID, token, account}, amount)
}

// Approve sets the allowance spender may move out of owner's balance
func (l *Ledger) Approve(chainID uint64, token string, owner, spender common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{balanceKey{chainID, token, owner}, spender}] = amount.Clone()
}

// Allowance returns what spender may still move out of owner's balance
func (l *Ledger) Allowance(chainID uint64, token string, owner, spender common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.allowances[allowanceKey{balanceKey{chainID, token, owner}, spender}]; ok {
		return v.Clone()
	}
	return uint256.NewInt(0)
}

func (l *Ledger) BalanceOf(_ context.Context, chainID uint64, token string, account common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(balanceKey{chainID, token, account}), nil
}

// Balance is BalanceOf without a context, for tests and the local console
func (l *Ledger) Balance(chainID uint64, token string, account common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(balanceKey{chainID, token, account})
}

func (l *Ledger) Transfer(_ context.Context, chainID uint64, token string, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(balanceKey{chainID, token, from}, amount); err != nil {
		return err
	}
	l.credit(balanceKey{chainID, token, to}, amount)
	return nil
}

func (l *Ledger) TransferFrom(_ context.Context, chainID uint64, token string, spender, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{balanceKey{chainID, token, from}, spender}
	allowance, ok := l.allowances[key]
	if !ok || allowance.Lt(amount) {
		return fmt.Errorf("%w: %s %s on chain %d", chain.ErrInsufficientAllowance, spender.Hex(), token, chainID)
	}
	if err := l.debit(balanceKey{chainID, token, from}, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	l.credit(balanceKey{chainID, token, to}, amount)
	return nil
}

func (l *Ledger) balance(key balanceKey) *uint256.Int {
	if v, ok := l.balances[key]; ok {
		return v.Clone()
	}
	return uint256.NewInt(0)
}

func (l *Ledger) credit(key balanceKey, amount *uint256.Int) {
	v, ok := l.balances[key]
	if !ok {
		v = new(uint256.Int)
		l.balances[key] = v
	}
	v.Add(v, amount)
}

func (l *Ledger) debit(key balanceKey, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	v, ok := l.balances[key]
	if !ok || v.Lt(amount) {
		return fmt.Errorf("%w: %s %s on chain %d", chain.ErrInsufficientBalance, key.account.Hex(), key.token, key.chain)
	}
	v.Sub(v, amount)
	return nil
}
