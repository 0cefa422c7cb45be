package feeledger_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/feeledger"
	"github.com/holiman/uint256"
	"github.com/zeebo/assert"
)

func TestLedger_RecordRequiresAuthorization(t *testing.T) {
	ledger := feeledger.New()

	err := ledger.Record("router", "USDC", uint256.NewInt(100))
	assert.True(t, errors.Is(err, feeledger.ErrUnauthorizedCollector))
	assert.True(t, ledger.Total("USDC").IsZero())

	ledger.Authorize("router", true)
	assert.NoError(t, ledger.Record("router", "USDC", uint256.NewInt(100)))
	assert.Equal(t, ledger.Total("USDC").Uint64(), uint64(100))

	ledger.Authorize("router", false)
	assert.Error(t, ledger.Record("router", "USDC", uint256.NewInt(100)))
}

func TestLedger_TotalsAreMonotonic(t *testing.T) {
	ledger := feeledger.New("router")

	var last uint64
	for i := 1; i <= 10; i++ {
		assert.NoError(t, ledger.Record("router", "USDC", uint256.NewInt(100000)))
		total := ledger.Total("USDC").Uint64()
		assert.True(t, total > last)
		last = total
	}
	assert.Equal(t, last, uint64(1000000))

	// withdrawals reduce what is available, never the recorded total
	assert.NoError(t, ledger.Withdraw("router", "USDC", uint256.NewInt(400000)))
	assert.Equal(t, ledger.Total("USDC").Uint64(), uint64(1000000))
	assert.Equal(t, ledger.Available("USDC").Uint64(), uint64(600000))

	err := ledger.Withdraw("router", "USDC", uint256.NewInt(600001))
	assert.True(t, errors.Is(err, feeledger.ErrInsufficientFees))
}

func TestLedger_WithdrawRejectsEmptyAmounts(t *testing.T) {
	ledger := feeledger.New("router")
	assert.NoError(t, ledger.Record("router", "USDC", uint256.NewInt(100)))

	assert.True(t, errors.Is(ledger.Withdraw("router", "USDC", nil), feeledger.ErrInvalidAmount))
	assert.True(t, errors.Is(ledger.Withdraw("router", "USDC", new(uint256.Int)), feeledger.ErrInvalidAmount))
	// tokens without an account are rejected the same way
	assert.True(t, errors.Is(ledger.Withdraw("router", "DAI", nil), feeledger.ErrInvalidAmount))
	assert.Equal(t, ledger.Available("USDC").Uint64(), uint64(100))
}

func TestLedger_ConcurrentRecordsNoLostUpdates(t *testing.T) {
	ledger := feeledger.New("router")

	const workers = 16
	const perWorker = 250
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			token := "USDC"
			if w%2 == 1 {
				token = "DAI"
			}
			for i := 0; i < perWorker; i++ {
				if err := ledger.Record("router", token, uint256.NewInt(3)); err != nil {
					t.Errorf("record: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, ledger.Total("USDC").Uint64(), uint64(workers/2*perWorker*3))
	assert.Equal(t, ledger.Total("DAI").Uint64(), uint64(workers/2*perWorker*3))
}

func TestLedger_Overflow(t *testing.T) {
	ledger := feeledger.New("router")
	max := new(uint256.Int).SetAllOne()

	assert.NoError(t, ledger.Record("router", "USDC", max))
	assert.Error(t, ledger.Record("router", "USDC", uint256.NewInt(1)))
	assert.True(t, ledger.Total("USDC").Eq(max))
}

func TestLedger_Totals(t *testing.T) {
	ledger := feeledger.New("router")
	assert.NoError(t, ledger.Record("router", "USDT", uint256.NewInt(7)))
	assert.NoError(t, ledger.Record("router", "DAI", uint256.NewInt(5)))

	totals := ledger.Totals()
	assert.Equal(t, len(totals), 2)
	assert.Equal(t, totals[0].Token, "DAI")
	assert.Equal(t, totals[1].Token, "USDT")
	assert.Equal(t, totals[1].Available.Uint64(), uint64(7))
}
