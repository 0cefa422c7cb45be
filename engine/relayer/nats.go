package relayer

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/chain"
	"github.com/nats-io/nats.go"
)

// DefaultDeliverySubject is where external relayers publish attested deliveries
const DefaultDeliverySubject = "stablerouter.deliveries"

// TokenHeader carries the shared relay token on every delivery
const TokenHeader = "Authorization"

type messageKey struct {
	domain uint32
	nonce  uint64
}

// NATSSource buffers deliveries received on a subject until they are acknowledged. Duplicates of a
// buffered message are dropped; the hook executor's replay guard covers the rest. Messages that do
// not carry the relay token are dropped before they reach the buffer.
type NATSSource struct {
	sub   *nats.Subscription
	token []byte

	mu      sync.Mutex
	pending map[messageKey]chain.InboundMessage
	order   []messageKey
}

// NewNATSSource subscribes to subject on conn and accepts deliveries carrying token
func NewNATSSource(conn *nats.Conn, subject, token string) (*NATSSource, error) {
	if token == "" {
		return nil, fmt.Errorf("a relay token is required to accept deliveries")
	}
	if subject == "" {
		subject = DefaultDeliverySubject
	}
	s := newBufferedSource(token)
	sub, err := conn.Subscribe(subject, s.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	relayerLog.Info().Str("subject", subject).Msg("Listening for deliveries")
	return s, nil
}

func newBufferedSource(token string) *NATSSource {
	return &NATSSource{
		token:   []byte("Bearer " + token),
		pending: make(map[messageKey]chain.InboundMessage),
	}
}

func (s *NATSSource) handle(m *nats.Msg) {
	if subtle.ConstantTimeCompare([]byte(m.Header.Get(TokenHeader)), s.token) != 1 {
		relayerLog.Warn().Str("subject", m.Subject).Msg("Dropping unauthenticated delivery")
		return
	}
	var msg chain.InboundMessage
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		relayerLog.Warn().Err(err).Str("subject", m.Subject).Msg("Dropping malformed delivery")
		return
	}
	if msg.Amount == nil {
		relayerLog.Warn().Str("subject", m.Subject).Msg("Dropping delivery without amount")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := messageKey{msg.SourceDomain, msg.Nonce}
	if _, ok := s.pending[key]; ok {
		return
	}
	s.pending[key] = msg
	s.order = append(s.order, key)
}

func (s *NATSSource) Fetch(_ context.Context) ([]chain.InboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chain.InboundMessage, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.pending[key])
	}
	return out, nil
}

func (s *NATSSource) Ack(_ context.Context, msg chain.InboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := messageKey{msg.SourceDomain, msg.Nonce}
	if _, ok := s.pending[key]; !ok {
		return nil
	}
	delete(s.pending, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close unsubscribes
func (s *NATSSource) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// EncodeDelivery builds the NATS message an external relayer publishes for msg
func EncodeDelivery(subject, token string, msg chain.InboundMessage) (*nats.Msg, error) {
	if subject == "" {
		subject = DefaultDeliverySubject
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode delivery: %w", err)
	}
	out := nats.NewMsg(subject)
	out.Data = data
	out.Header.Set(TokenHeader, "Bearer "+token)
	return out, nil
}
