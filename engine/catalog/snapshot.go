package catalog

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is an immutable view of the catalog. Every request reads from exactly one snapshot.
type Snapshot struct {
	version     uint64
	anchorToken string
	paused      bool
	chains      map[uint64]Chain
	tokens      map[string]Token
	routes      map[common.Hash]Route
	// hookSenders maps source domain -> allowed remote senders
	hookSenders map[uint32]map[common.Address]bool
}

// Config is the plain data a snapshot is built from
type Config struct {
	AnchorToken string
	Paused      bool
	Chains      []Chain
	Tokens      []Token
	Routes      []Route
	// HookSenders lists extra senders per source domain on top of each chain's router
	HookSenders map[uint32][]common.Address
}

// NewSnapshot builds a snapshot at version 1. Every enabled chain's router is authorized as a
// hook sender for both of its domains.
func NewSnapshot(cfg Config) *Snapshot {
	s := &Snapshot{
		version:     1,
		anchorToken: cfg.AnchorToken,
		paused:      cfg.Paused,
		chains:      make(map[uint64]Chain, len(cfg.Chains)),
		tokens:      make(map[string]Token, len(cfg.Tokens)),
		routes:      make(map[common.Hash]Route, len(cfg.Routes)),
		hookSenders: make(map[uint32]map[common.Address]bool),
	}
	for _, chain := range cfg.Chains {
		s.chains[chain.ID] = chain
		if chain.Router != (common.Address{}) {
			s.addHookSender(chain.BurnMintDomain, chain.Router)
			s.addHookSender(chain.OmnichainEndpoint, chain.Router)
		}
	}
	for _, token := range cfg.Tokens {
		t := token.clone()
		if t.DirectProtocol == ProtocolNone {
			t.DirectProtocol = ProtocolOmnichainToken
		}
		s.tokens[t.Symbol] = t
	}
	for _, route := range cfg.Routes {
		s.routes[route.Key()] = route
	}
	for domain, senders := range cfg.HookSenders {
		for _, sender := range senders {
			s.addHookSender(domain, sender)
		}
	}
	return s
}

func (s *Snapshot) addHookSender(domain uint32, sender common.Address) {
	set, ok := s.hookSenders[domain]
	if !ok {
		set = make(map[common.Address]bool)
		s.hookSenders[domain] = set
	}
	set[sender] = true
}

// clone returns a deep copy with the next version number
func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		version:     s.version + 1,
		anchorToken: s.anchorToken,
		paused:      s.paused,
		chains:      make(map[uint64]Chain, len(s.chains)),
		tokens:      make(map[string]Token, len(s.tokens)),
		routes:      make(map[common.Hash]Route, len(s.routes)),
		hookSenders: make(map[uint32]map[common.Address]bool, len(s.hookSenders)),
	}
	for k, v := range s.chains {
		out.chains[k] = v
	}
	for k, v := range s.tokens {
		out.tokens[k] = v.clone()
	}
	for k, v := range s.routes {
		out.routes[k] = v
	}
	for domain, senders := range s.hookSenders {
		set := make(map[common.Address]bool, len(senders))
		for k, v := range senders {
			set[k] = v
		}
		out.hookSenders[domain] = set
	}
	return out
}

func (s *Snapshot) Version() uint64     { return s.version }
func (s *Snapshot) AnchorToken() string { return s.anchorToken }
func (s *Snapshot) Paused() bool        { return s.paused }

// Chain returns the chain with the given id
func (s *Snapshot) Chain(id uint64) (Chain, bool) {
	chain, ok := s.chains[id]
	return chain, ok
}

// Token returns the token with the given symbol
func (s *Snapshot) Token(symbol string) (Token, bool) {
	token, ok := s.tokens[symbol]
	if !ok {
		return Token{}, false
	}
	return token.clone(), true
}

// IsSupportedChain reports whether the chain is known and enabled
func (s *Snapshot) IsSupportedChain(id uint64) bool {
	chain, ok := s.chains[id]
	return ok && chain.Enabled
}

// IsNative reports whether token is issuer-native on chain. Unknown tokens are never native.
func (s *Snapshot) IsNative(chain uint64, token string) bool {
	t, ok := s.tokens[token]
	return ok && t.Native[chain]
}

// IsAvailable reports whether any representation of token, native or bridged, exists on chain
func (s *Snapshot) IsAvailable(chain uint64, token string) bool {
	t, ok := s.tokens[token]
	return ok && (t.Native[chain] || t.Bridged[chain])
}

// Route looks up the configured route for a four-tuple
func (s *Snapshot) Route(fromToken string, fromChain uint64, toToken string, toChain uint64) (Route, bool) {
	route, ok := s.routes[RouteKey(fromToken, fromChain, toToken, toChain)]
	return route, ok
}

// HookAuthorized reports whether sender may trigger destination execution for messages from domain
func (s *Snapshot) HookAuthorized(domain uint32, sender common.Address) bool {
	return s.hookSenders[domain][sender]
}

// Chains returns all chains ordered by id
func (s *Snapshot) Chains() []Chain {
	out := make([]Chain, 0, len(s.chains))
	for _, chain := range s.chains {
		out = append(out, chain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tokens returns all tokens ordered by symbol
func (s *Snapshot) Tokens() []Token {
	out := make([]Token, 0, len(s.tokens))
	for _, token := range s.tokens {
		out = append(out, token.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Routes returns all configured routes in key order
func (s *Snapshot) Routes() []Route {
	out := make([]Route, 0, len(s.routes))
	for _, route := range s.routes {
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := out[i].Key(), out[j].Key()
		return ki.Cmp(kj) < 0
	})
	return out
}
