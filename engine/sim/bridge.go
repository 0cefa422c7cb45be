package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/chain"
)

var ErrUnknownMessage = errors.New("unknown bridge message")

type pendingMessage struct {
	inbound chain.InboundMessage
	readyAt time.Time
	minted  bool
}

type messageKey struct {
	domain uint32
	nonce  uint64
}

// Bridge burns on the source chain and, once the attestation delay has passed, mints into the
// destination hook executor. Released messages are handed out by Fetch until acknowledged.
type Bridge struct {
	ledger  *Ledger
	catalog *catalog.Store
	delay   time.Duration
	now     func() time.Time

	mu      sync.Mutex
	nonces  map[uint32]uint64
	pending map[messageKey]*pendingMessage
	order   []messageKey
}

// NewBridge creates a bridge releasing messages after delay
func NewBridge(ledger *Ledger, store *catalog.Store, delay time.Duration) *Bridge {
	return &Bridge{
		ledger:  ledger,
		catalog: store,
		delay:   delay,
		now:     time.Now,
		nonces:  make(map[uint32]uint64),
		pending: make(map[messageKey]*pendingMessage),
	}
}

// SetClock replaces the time source
func (b *Bridge) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *Bridge) Send(_ context.Context, msg chain.OutboundMessage) (chain.Receipt, error) {
	snap := b.catalog.Snapshot()
	source, ok := snap.Chain(msg.SourceChain)
	if !ok {
		return chain.Receipt{}, fmt.Errorf("unknown source chain %d", msg.SourceChain)
	}
	if _, ok := snap.Chain(msg.DestChain); !ok {
		return chain.Receipt{}, fmt.Errorf("unknown destination chain %d", msg.DestChain)
	}

	if err := b.ledger.Burn(msg.SourceChain, msg.Token, msg.From, msg.Amount); err != nil {
		return chain.Receipt{}, err
	}
	if msg.NativeFee != nil && !msg.NativeFee.IsZero() {
		if err := b.ledger.Transfer(context.Background(), msg.SourceChain, catalog.NativeCurrency, msg.From, msg.Bridge, msg.NativeFee); err != nil {
			b.ledger.Mint(msg.SourceChain, msg.Token, msg.From, msg.Amount)
			return chain.Receipt{}, err
		}
	}

	domain := source.DomainFor(msg.Protocol)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonces[domain]++
	receipt := chain.Receipt{Domain: domain, Nonce: b.nonces[domain]}
	key := messageKey{receipt.Domain, receipt.Nonce}
	b.pending[key] = &pendingMessage{
		inbound: chain.InboundMessage{
			SourceDomain: domain,
			Nonce:        receipt.Nonce,
			Sender:       source.Router,
			DestChain:    msg.DestChain,
			Token:        msg.Token,
			Amount:       msg.Amount.Clone(),
			Payload:      append([]byte(nil), msg.Payload...),
		},
		readyAt: b.now().Add(b.delay),
	}
	b.order = append(b.order, key)

	simLog.Debug().
		Str("protocol", msg.Protocol.String()).
		Uint32("domain", domain).
		Uint64("nonce", receipt.Nonce).
		Str("amount", msg.Amount.Dec()).
		Msg("Bridge message sent")
	return receipt, nil
}

// Fetch returns every released, unacknowledged message. The first release mints the bridged
// amount into the destination hook executor.
func (b *Bridge) Fetch(_ context.Context) ([]chain.InboundMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := b.catalog.Snapshot()
	now := b.now()
	var out []chain.InboundMessage
	for _, key := range b.order {
		p := b.pending[key]
		if p == nil || now.Before(p.readyAt) {
			continue
		}
		if !p.minted {
			dest, ok := snap.Chain(p.inbound.DestChain)
			if !ok {
				continue
			}
			b.ledger.Mint(p.inbound.DestChain, p.inbound.Token, dest.HookExecutor, p.inbound.Amount)
			p.minted = true
		}
		msg := p.inbound
		msg.Amount = p.inbound.Amount.Clone()
		out = append(out, msg)
	}
	return out, nil
}

// Ack drops a message from redelivery
func (b *Bridge) Ack(_ context.Context, msg chain.InboundMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := messageKey{msg.SourceDomain, msg.Nonce}
	if _, ok := b.pending[key]; !ok {
		return ErrUnknownMessage
	}
	delete(b.pending, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

// Pending counts messages not yet acknowledged
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
