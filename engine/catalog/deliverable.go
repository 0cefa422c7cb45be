package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrTokenNotNative = errors.New("token not native on destination")
	ErrNotRoutable    = errors.New("cannot be routed")
)

// NativeTable is the subset of a snapshot that answers where tokens are issued
type NativeTable interface {
	IsNative(chain uint64, token string) bool
	IsAvailable(chain uint64, token string) bool
	Chain(id uint64) (Chain, bool)
}

// CheckDeliverable returns nil when symbol may be delivered on chain. A token that only exists
// there as a bridged representation gets a chain specific error, e.g. "USDT cannot be routed to
// Base"; both errors match ErrTokenNotNative.
func CheckDeliverable(table NativeTable, chainID uint64, symbol string) error {
	if table.IsNative(chainID, symbol) {
		return nil
	}
	if table.IsAvailable(chainID, symbol) {
		name := fmt.Sprintf("chain %d", chainID)
		if chain, ok := table.Chain(chainID); ok && chain.Name != "" {
			name = chain.Name
		}
		return fmt.Errorf("%s %w to %s: %w", symbol, ErrNotRoutable, name, ErrTokenNotNative)
	}
	return ErrTokenNotNative
}
