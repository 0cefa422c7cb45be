package catalog

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var catalogLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	catalogLog = zerolog.New(out).With().Timestamp().Str("component", "catalog").Logger()
}

// Store is the versioned configuration store. Reads are lock free, administrator writes are
// serialized and publish a fresh snapshot.
type Store struct {
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex
}

// NewStore creates a store serving the given snapshot
func NewStore(initial *Snapshot) *Store {
	if initial == nil {
		initial = NewSnapshot(Config{})
	}
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Snapshot returns the current immutable view
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

func (s *Store) update(change string, fn func(next *Snapshot) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.current.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	s.current.Store(next)
	catalogLog.Info().Str("change", change).Uint64("version", next.version).Msg("Catalog updated")
	return nil
}

// Replace swaps in a freshly loaded catalog, keeping the version sequence monotonic
func (s *Store) Replace(next *Snapshot) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	replacement := next.clone()
	replacement.version = s.current.Load().version + 1
	s.current.Store(replacement)
	catalogLog.Info().Uint64("version", replacement.version).Int("routes", len(replacement.routes)).Msg("Catalog replaced")
}

// SetRoute creates or updates the route for its four-tuple
func (s *Store) SetRoute(route Route) error {
	return s.update("set_route", func(next *Snapshot) error {
		if _, ok := next.chains[route.FromChain]; !ok {
			return fmt.Errorf("route source chain %d is not in the catalog", route.FromChain)
		}
		if _, ok := next.chains[route.ToChain]; !ok {
			return fmt.Errorf("route destination chain %d is not in the catalog", route.ToChain)
		}
		if route.Protocol == ProtocolNone {
			return fmt.Errorf("route protocol must be set")
		}
		next.routes[route.Key()] = route
		return nil
	})
}

// RemoveRoute deletes the configured route for a four-tuple, if any
func (s *Store) RemoveRoute(fromToken string, fromChain uint64, toToken string, toChain uint64) error {
	return s.update("remove_route", func(next *Snapshot) error {
		delete(next.routes, RouteKey(fromToken, fromChain, toToken, toChain))
		return nil
	})
}

// SetNative marks token as issuer-native (or not) on chain
func (s *Store) SetNative(chain uint64, symbol string, native bool) error {
	return s.update("set_native", func(next *Snapshot) error {
		token, ok := next.tokens[symbol]
		if !ok {
			return fmt.Errorf("unknown token %s", symbol)
		}
		token.Native[chain] = native
		if native {
			delete(token.Bridged, chain)
		}
		next.tokens[symbol] = token
		return nil
	})
}

// SetBridged records that only a bridged representation of token exists on chain
func (s *Store) SetBridged(chain uint64, symbol string, bridged bool) error {
	return s.update("set_bridged", func(next *Snapshot) error {
		token, ok := next.tokens[symbol]
		if !ok {
			return fmt.Errorf("unknown token %s", symbol)
		}
		if bridged && token.Native[chain] {
			return fmt.Errorf("%s is native on chain %d", symbol, chain)
		}
		token.Bridged[chain] = bridged
		next.tokens[symbol] = token
		return nil
	})
}

// AuthorizeHook allows or revokes sender as a hook caller for messages from domain
func (s *Store) AuthorizeHook(domain uint32, sender common.Address, allowed bool) error {
	return s.update("authorize_hook", func(next *Snapshot) error {
		if allowed {
			next.addHookSender(domain, sender)
			return nil
		}
		delete(next.hookSenders[domain], sender)
		return nil
	})
}

// SetPaused toggles the circuit breaker for new transfers
func (s *Store) SetPaused(paused bool) error {
	return s.update("set_paused", func(next *Snapshot) error {
		next.paused = paused
		return nil
	})
}
