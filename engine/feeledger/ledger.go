package feeledger

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/metrics"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/units"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var ledgerLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	ledgerLog = zerolog.New(out).With().Timestamp().Str("component", "feeledger").Logger()
}

var (
	ErrUnauthorizedCollector = errors.New("caller is not an authorized fee collector")
	ErrInsufficientFees      = errors.New("withdrawal exceeds collected fees")
	ErrInvalidAmount         = errors.New("withdrawal amount must be positive")
)

// account is the accumulator for one token. Its mutex gives one writer at a time per token.
type account struct {
	mu        sync.Mutex
	total     uint256.Int
	withdrawn uint256.Int
}

// Ledger accumulates protocol fees per token
type Ledger struct {
	mu         sync.RWMutex
	accounts   map[string]*account
	collectors map[string]bool
}

// New creates a ledger with the given collectors authorized
func New(collectors ...string) *Ledger {
	l := &Ledger{
		accounts:   make(map[string]*account),
		collectors: make(map[string]bool),
	}
	for _, c := range collectors {
		l.collectors[c] = true
	}
	return l
}

// Authorize grants or revokes a collector's right to record and withdraw fees
func (l *Ledger) Authorize(collector string, allowed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if allowed {
		l.collectors[collector] = true
	} else {
		delete(l.collectors, collector)
	}
	ledgerLog.Info().Str("collector", collector).Bool("allowed", allowed).Msg("Collector authorization changed")
}

func (l *Ledger) isCollector(collector string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collectors[collector]
}

func (l *Ledger) account(token string) *account {
	l.mu.RLock()
	acc, ok := l.accounts[token]
	l.mu.RUnlock()
	if ok {
		return acc
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok = l.accounts[token]; !ok {
		acc = &account{}
		l.accounts[token] = acc
	}
	return acc
}

// Record adds a collected fee to the token's running total
func (l *Ledger) Record(collector, token string, amount *uint256.Int) error {
	if !l.isCollector(collector) {
		return fmt.Errorf("%w: %s", ErrUnauthorizedCollector, collector)
	}
	if amount == nil || amount.IsZero() {
		return nil
	}

	acc := l.account(token)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	var next uint256.Int
	if _, overflow := next.AddOverflow(&acc.total, amount); overflow {
		return fmt.Errorf("fee total for %s: %w", token, units.ErrOverflow)
	}
	acc.total = next
	metrics.FeesCollected.WithLabelValues(token).Add(amountFloat(amount))
	return nil
}

// Total returns every fee ever recorded for token
func (l *Ledger) Total(token string) *uint256.Int {
	acc := l.account(token)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.total.Clone()
}

// Available returns recorded fees not yet withdrawn
func (l *Ledger) Available(token string) *uint256.Int {
	acc := l.account(token)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return new(uint256.Int).Sub(&acc.total, &acc.withdrawn)
}

// Withdraw marks amount of the token's fees as paid out
func (l *Ledger) Withdraw(collector, token string, amount *uint256.Int) error {
	if !l.isCollector(collector) {
		return fmt.Errorf("%w: %s", ErrUnauthorizedCollector, collector)
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}

	acc := l.account(token)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	available := new(uint256.Int).Sub(&acc.total, &acc.withdrawn)
	if amount.Gt(available) {
		return fmt.Errorf("%w: %s requested %s, available %s", ErrInsufficientFees, token, amount.Dec(), available.Dec())
	}
	acc.withdrawn.Add(&acc.withdrawn, amount)
	ledgerLog.Info().Str("collector", collector).Str("token", token).Str("amount", amount.Dec()).Msg("Fees withdrawn")
	return nil
}

// TokenTotals is a point-in-time view of one token's accumulator
type TokenTotals struct {
	Token     string
	Total     *uint256.Int
	Available *uint256.Int
}

// Totals lists every token with recorded fees, ordered by symbol
func (l *Ledger) Totals() []TokenTotals {
	l.mu.RLock()
	tokens := make([]string, 0, len(l.accounts))
	for token := range l.accounts {
		tokens = append(tokens, token)
	}
	l.mu.RUnlock()
	sort.Strings(tokens)

	out := make([]TokenTotals, 0, len(tokens))
	for _, token := range tokens {
		acc := l.account(token)
		acc.mu.Lock()
		out = append(out, TokenTotals{
			Token:     token,
			Total:     acc.total.Clone(),
			Available: new(uint256.Int).Sub(&acc.total, &acc.withdrawn),
		})
		acc.mu.Unlock()
	}
	return out
}

func amountFloat(amount *uint256.Int) float64 {
	f, _ := amount.ToBig().Float64()
	return f
}
