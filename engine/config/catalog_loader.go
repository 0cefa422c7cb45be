package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	getter "github.com/hashicorp/go-getter"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var ErrInvalidCatalog = errors.New("invalid catalog")

// LoadCatalog reads a catalog file. The format follows the suffix: .json, .yaml/.yml, anything
// else is parsed as toml.
func LoadCatalog(filePath string) (catalog.Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return catalog.Config{}, fmt.Errorf("failed to read catalog file: %w", err)
	}
	file, err := ParseCatalog(data, formatOf(filePath))
	if err != nil {
		return catalog.Config{}, err
	}
	return file.Convert()
}

// ParseCatalog decodes raw catalog bytes in the given format ("json", "yaml" or "toml")
func ParseCatalog(data []byte, format string) (*CatalogFile, error) {
	var file CatalogFile
	switch format {
	case "json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse JSON catalog: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse YAML catalog: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse TOML catalog: %w", err)
		}
	}
	return &file, nil
}

func formatOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return "toml"
}

// ResolveCatalog loads the catalog from a local path, or downloads it with go-getter first when the
// source is remote
func ResolveCatalog(ctx context.Context, src string) (catalog.Config, error) {
	if _, err := os.Stat(src); err == nil {
		return LoadCatalog(src)
	}

	dir, err := os.MkdirTemp("", "stablerouter-catalog")
	if err != nil {
		return catalog.Config{}, fmt.Errorf("failed to create download dir: %w", err)
	}
	defer os.RemoveAll(dir)

	dst := filepath.Join(dir, "catalog"+remoteExt(src))
	if err := FetchCatalog(ctx, src, dst); err != nil {
		return catalog.Config{}, err
	}
	return LoadCatalog(dst)
}

// FetchCatalog downloads a single catalog file from any go-getter source into dst
func FetchCatalog(ctx context.Context, src, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	client := getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Mode: getter.ClientModeFile,
	}
	configLog.Info().Str("src", src).Str("dst", dst).Msg("Downloading catalog")
	if err := client.Get(); err != nil {
		return fmt.Errorf("failed to download catalog: %w", err)
	}
	return nil
}

// remoteExt keeps the file suffix of a remote source so the right decoder is picked
func remoteExt(src string) string {
	// go-getter forced getters look like git::https://...
	if i := strings.Index(src, "::"); i >= 0 {
		src = src[i+2:]
	}
	p := src
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		p = u.Path
	}
	// subdirectory selector
	if i := strings.Index(p, "//"); i >= 0 {
		p = p[i+2:]
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".json", ".yaml", ".yml", ".toml":
		return ext
	}
	return ".toml"
}

// Convert validates the entries and produces the catalog snapshot config
func (f *CatalogFile) Convert() (catalog.Config, error) {
	cfg := catalog.Config{
		AnchorToken: f.AnchorToken,
		Paused:      f.Paused,
		HookSenders: make(map[uint32][]common.Address),
	}
	if cfg.AnchorToken == "" {
		cfg.AnchorToken = "USDC"
	}

	if len(f.Chains) == 0 {
		cfg.Chains = catalog.MainnetChains()
	}
	for _, entry := range f.Chains {
		chain, err := entry.convert()
		if err != nil {
			return catalog.Config{}, err
		}
		cfg.Chains = append(cfg.Chains, chain)
	}
	chains := make(map[uint64]catalog.Chain, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		if _, dup := chains[chain.ID]; dup {
			return catalog.Config{}, fmt.Errorf("%w: chain %d listed twice", ErrInvalidCatalog, chain.ID)
		}
		chains[chain.ID] = chain
	}

	if len(f.Tokens) == 0 {
		cfg.Tokens = catalog.MainnetTokens()
	}
	for _, entry := range f.Tokens {
		token, err := entry.convert(chains)
		if err != nil {
			return catalog.Config{}, err
		}
		cfg.Tokens = append(cfg.Tokens, token)
	}
	tokens := make(map[string]bool, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		if tokens[token.Symbol] {
			return catalog.Config{}, fmt.Errorf("%w: token %s listed twice", ErrInvalidCatalog, token.Symbol)
		}
		tokens[token.Symbol] = true
	}
	if !tokens[cfg.AnchorToken] {
		return catalog.Config{}, fmt.Errorf("%w: anchor token %s is not listed", ErrInvalidCatalog, cfg.AnchorToken)
	}

	seen := make(map[common.Hash]bool, len(f.Routes))
	for i, entry := range f.Routes {
		route, err := entry.convert(chains, tokens)
		if err != nil {
			return catalog.Config{}, fmt.Errorf("route %d: %w", i, err)
		}
		if seen[route.Key()] {
			return catalog.Config{}, fmt.Errorf("%w: route %s/%d -> %s/%d listed twice", ErrInvalidCatalog,
				route.FromToken, route.FromChain, route.ToToken, route.ToChain)
		}
		seen[route.Key()] = true
		cfg.Routes = append(cfg.Routes, route)
	}

	for _, entry := range f.HookSenders {
		sender, err := address("hook sender", entry.Sender, true)
		if err != nil {
			return catalog.Config{}, err
		}
		cfg.HookSenders[entry.Domain] = append(cfg.HookSenders[entry.Domain], sender)
	}
	return cfg, nil
}

func (e ChainEntry) convert() (catalog.Chain, error) {
	if e.ID == 0 || e.Name == "" {
		return catalog.Chain{}, fmt.Errorf("%w: chain needs an id and a name", ErrInvalidCatalog)
	}
	router, err := address("router of "+e.Name, e.Router, false)
	if err != nil {
		return catalog.Chain{}, err
	}
	executor, err := address("hook executor of "+e.Name, e.HookExecutor, false)
	if err != nil {
		return catalog.Chain{}, err
	}
	return catalog.Chain{
		ID:                e.ID,
		Name:              e.Name,
		BurnMintDomain:    e.BurnMintDomain,
		OmnichainEndpoint: e.OmnichainEndpoint,
		Router:            router,
		HookExecutor:      executor,
		Enabled:           !e.Disabled,
	}, nil
}

func (e TokenEntry) convert(chains map[uint64]catalog.Chain) (catalog.Token, error) {
	if e.Symbol == "" {
		return catalog.Token{}, fmt.Errorf("%w: token without a symbol", ErrInvalidCatalog)
	}
	token := catalog.Token{
		Symbol:   e.Symbol,
		Decimals: e.Decimals,
		Native:   make(map[uint64]bool, len(e.Native)),
		Bridged:  make(map[uint64]bool, len(e.Bridged)),
	}
	if e.DirectProtocol != "" {
		p, err := catalog.ParseProtocol(e.DirectProtocol)
		if err != nil {
			return catalog.Token{}, fmt.Errorf("%w: token %s: %v", ErrInvalidCatalog, e.Symbol, err)
		}
		token.DirectProtocol = p
	}
	for _, id := range e.Native {
		if _, ok := chains[id]; !ok {
			return catalog.Token{}, fmt.Errorf("%w: token %s native on unknown chain %d", ErrInvalidCatalog, e.Symbol, id)
		}
		token.Native[id] = true
	}
	for _, id := range e.Bridged {
		if _, ok := chains[id]; !ok {
			return catalog.Token{}, fmt.Errorf("%w: token %s bridged on unknown chain %d", ErrInvalidCatalog, e.Symbol, id)
		}
		if token.Native[id] {
			return catalog.Token{}, fmt.Errorf("%w: token %s both native and bridged on chain %d", ErrInvalidCatalog, e.Symbol, id)
		}
		token.Bridged[id] = true
	}
	return token, nil
}

func (e RouteEntry) convert(chains map[uint64]catalog.Chain, tokens map[string]bool) (catalog.Route, error) {
	if !tokens[e.FromToken] || !tokens[e.ToToken] {
		return catalog.Route{}, fmt.Errorf("%w: unknown token in %s -> %s", ErrInvalidCatalog, e.FromToken, e.ToToken)
	}
	if _, ok := chains[e.FromChain]; !ok {
		return catalog.Route{}, fmt.Errorf("%w: unknown source chain %d", ErrInvalidCatalog, e.FromChain)
	}
	dest, ok := chains[e.ToChain]
	if !ok {
		return catalog.Route{}, fmt.Errorf("%w: unknown destination chain %d", ErrInvalidCatalog, e.ToChain)
	}
	protocol, err := catalog.ParseProtocol(e.Protocol)
	if err != nil || protocol == catalog.ProtocolNone {
		return catalog.Route{}, fmt.Errorf("%w: protocol %q", ErrInvalidCatalog, e.Protocol)
	}

	route := catalog.Route{
		FromToken:         e.FromToken,
		FromChain:         e.FromChain,
		ToToken:           e.ToToken,
		ToChain:           e.ToChain,
		Protocol:          protocol,
		DestinationDomain: dest.DomainFor(protocol),
		PoolID:            e.PoolID,
		FeeTier:           e.FeeTier,
	}
	if e.DestinationDomain != nil {
		route.DestinationDomain = *e.DestinationDomain
	}
	if route.Bridge, err = address("bridge", e.Bridge, false); err != nil {
		return catalog.Route{}, err
	}
	if route.SwapPool, err = address("swap pool", e.SwapPool, false); err != nil {
		return catalog.Route{}, err
	}
	if route.SourceSwapPool, err = address("source swap pool", e.SourceSwapPool, false); err != nil {
		return catalog.Route{}, err
	}
	if e.ExtraData != "" {
		if route.ExtraData, err = hexutil.Decode(e.ExtraData); err != nil {
			return catalog.Route{}, fmt.Errorf("%w: extra_data: %v", ErrInvalidCatalog, err)
		}
	}
	if e.FromToken != e.ToToken && !route.HasDestinationSwap() && !route.HasSourceSwap() {
		return catalog.Route{}, fmt.Errorf("%w: %s -> %s changes token without a swap pool", ErrInvalidCatalog, e.FromToken, e.ToToken)
	}
	return route, nil
}

func address(what, value string, required bool) (common.Address, error) {
	if value == "" {
		if required {
			return common.Address{}, fmt.Errorf("%w: %s is required", ErrInvalidCatalog, what)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not a hex address", ErrInvalidCatalog, what, value)
	}
	return common.HexToAddress(value), nil
}
