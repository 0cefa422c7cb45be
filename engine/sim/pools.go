package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/chain"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Pools prices every pool at a constant rate after rescaling between token decimals. Stable to
// stable pools default to 1:1.
type Pools struct {
	ledger  *Ledger
	catalog *catalog.Store

	mu    sync.RWMutex
	rates map[common.Address]decimal.Decimal
	fail  map[common.Address]error
}

// NewPools creates pools settling against ledger
func NewPools(ledger *Ledger, store *catalog.Store) *Pools {
	return &Pools{
		ledger:  ledger,
		catalog: store,
		rates:   make(map[common.Address]decimal.Decimal),
		fail:    make(map[common.Address]error),
	}
}

// SetRate overrides the output per unit of input for one pool, e.g. 0.97
func (p *Pools) SetRate(pool common.Address, rate decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[pool] = rate
}

// FailWith makes every swap through pool return err; nil clears it
func (p *Pools) FailWith(pool common.Address, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.fail, pool)
		return
	}
	p.fail[pool] = err
}

// Quote returns the output a swap would produce
func (p *Pools) Quote(req chain.SwapRequest) (*uint256.Int, error) {
	snap := p.catalog.Snapshot()
	in, ok := snap.Token(req.TokenIn)
	if !ok {
		return nil, fmt.Errorf("unknown token %s", req.TokenIn)
	}
	out, ok := snap.Token(req.TokenOut)
	if !ok {
		return nil, fmt.Errorf("unknown token %s", req.TokenOut)
	}
	converted, err := units.Convert(req.AmountIn, in.Decimals, out.Decimals)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	rate, ok := p.rates[req.Pool]
	p.mu.RUnlock()
	if !ok {
		return converted, nil
	}
	scaled := decimal.NewFromBigInt(converted.ToBig(), 0).Mul(rate).Floor()
	result, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, units.ErrOverflow
	}
	return result, nil
}

func (p *Pools) Swap(_ context.Context, req chain.SwapRequest) (*uint256.Int, error) {
	p.mu.RLock()
	failure := p.fail[req.Pool]
	p.mu.RUnlock()
	if failure != nil {
		return nil, failure
	}

	out, err := p.Quote(req)
	if err != nil {
		return nil, err
	}
	if req.MinOut != nil && out.Lt(req.MinOut) {
		return nil, fmt.Errorf("%w: got %s, want at least %s", chain.ErrSlippage, out.Dec(), req.MinOut.Dec())
	}
	if err := p.ledger.Burn(req.Chain, req.TokenIn, req.Account, req.AmountIn); err != nil {
		return nil, err
	}
	p.ledger.Mint(req.Chain, req.TokenOut, req.Account, out)

	simLog.Debug().
		Str("pool", req.Pool.Hex()).
		Str("in", req.AmountIn.Dec()+" "+req.TokenIn).
		Str("out", out.Dec()+" "+req.TokenOut).
		Msg("Swap executed")
	return out, nil
}
