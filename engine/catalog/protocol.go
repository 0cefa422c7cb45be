package catalog

import (
	"fmt"
	"strings"
)

// Protocol identifies the bridge mechanism a route executes with
type Protocol uint8

const (
	ProtocolNone Protocol = iota
	ProtocolBurnMint
	ProtocolBurnMintWithHook
	ProtocolOmnichainToken
	ProtocolOmnichainTokenWithCompose
	ProtocolLiquidityPool
	ProtocolLiquidityPoolWithSwap
)

var protocolNames = map[Protocol]string{
	ProtocolNone:                      "NONE",
	ProtocolBurnMint:                  "BURN_MINT",
	ProtocolBurnMintWithHook:          "BURN_MINT_WITH_HOOK",
	ProtocolOmnichainToken:            "OMNICHAIN_TOKEN",
	ProtocolOmnichainTokenWithCompose: "OMNICHAIN_TOKEN_WITH_COMPOSE",
	ProtocolLiquidityPool:             "LIQUIDITY_POOL",
	ProtocolLiquidityPoolWithSwap:     "LIQUIDITY_POOL_WITH_SWAP",
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PROTOCOL(%d)", uint8(p))
}

// ParseProtocol accepts the upper snake case names used in config files, case insensitive
func ParseProtocol(s string) (Protocol, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for p, name := range protocolNames {
		if name == want {
			return p, nil
		}
	}
	return ProtocolNone, fmt.Errorf("unknown protocol %q", s)
}

// MarshalText lets protocols appear by name in JSON and TOML
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Protocol) UnmarshalText(text []byte) error {
	parsed, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// IsBurnMint reports whether the protocol moves the anchor token through burn-and-mint
func (p Protocol) IsBurnMint() bool {
	return p == ProtocolBurnMint || p == ProtocolBurnMintWithHook
}

// UsesOmnichainEndpoint reports whether messages of this protocol are addressed by
// omnichain endpoint id rather than burn-mint domain id
func (p Protocol) UsesOmnichainEndpoint() bool {
	switch p {
	case ProtocolOmnichainToken, ProtocolOmnichainTokenWithCompose,
		ProtocolLiquidityPool, ProtocolLiquidityPoolWithSwap:
		return true
	}
	return false
}

// RequiresPrepaidFee is true for every protocol except the plain burn-mint path
func (p Protocol) RequiresPrepaidFee() bool {
	return p != ProtocolBurnMint && p != ProtocolNone
}

// AllProtocols lists the executable protocols in declaration order
func AllProtocols() []Protocol {
	return []Protocol{
		ProtocolBurnMint,
		ProtocolBurnMintWithHook,
		ProtocolOmnichainToken,
		ProtocolOmnichainTokenWithCompose,
		ProtocolLiquidityPool,
		ProtocolLiquidityPoolWithSwap,
	}
}
