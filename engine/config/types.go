package config

import "time"

// Store and replay guard backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const minRelayTokenLen = 16

type ServiceConfig struct {
	// rpc configs
	Port int    `toml:"port" mapstructure:"port"`
	Host string `toml:"host" mapstructure:"host"`

	// CORS configs
	AllowedOrigins []string `toml:"allowed_origins" mapstructure:"allowed_origins"`

	// rate limiting configs
	RatePerMinute         int `toml:"rate_per_minute" mapstructure:"rate_per_minute"`
	MaxConcurrentRequests int `toml:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`

	LogLevel string `toml:"log_level" mapstructure:"log_level"`

	// OpenTelemetry configs
	ServiceName    string  `toml:"service_name" mapstructure:"service_name"`
	ServiceVersion string  `toml:"service_version" mapstructure:"service_version"`
	Environment    string  `toml:"environment" mapstructure:"environment"` // PROD, DEV, TEST, LOCAL
	EnableTracing  bool    `toml:"enable_tracing" mapstructure:"enable_tracing"`
	UseOTLPTraces  bool    `toml:"use_otlp_traces" mapstructure:"use_otlp_traces"`
	OTLPTracesURL  string  `toml:"otlp_traces_url" mapstructure:"otlp_traces_url"`
	TraceSampling  float64 `toml:"trace_sampling" mapstructure:"trace_sampling"`
	EnableMetrics  bool    `toml:"enable_metrics" mapstructure:"enable_metrics"`
	UsePrometheus  bool    `toml:"use_prometheus" mapstructure:"use_prometheus"`
	UseOTLPMetrics bool    `toml:"use_otlp_metrics" mapstructure:"use_otlp_metrics"`
	OTLPMetricsURL string  `toml:"otlp_metrics_url" mapstructure:"otlp_metrics_url"`
	EnableLogs     bool    `toml:"enable_logs" mapstructure:"enable_logs"`
	UseOTLPLogs    bool    `toml:"use_otlp_logs" mapstructure:"use_otlp_logs"`
	OTLPLogsURL    string  `toml:"otlp_logs_url" mapstructure:"otlp_logs_url"`
	InsecureOTLP   bool    `toml:"insecure_otlp" mapstructure:"insecure_otlp"`

	// Development mode uses stdout exporters
	DevelopmentMode bool `toml:"development_mode" mapstructure:"development_mode"`

	// Catalog is a local file or any go-getter source (https, s3, git) of a toml, json or yaml catalog
	Catalog string `toml:"catalog" mapstructure:"catalog"`

	// record store: memory or postgres
	StoreBackend string `toml:"store_backend" mapstructure:"store_backend"`
	PostgresDSN  string `toml:"postgres_dsn" mapstructure:"postgres_dsn"`

	// replay guard: memory, redis or postgres
	ReplayBackend string        `toml:"replay_backend" mapstructure:"replay_backend"`
	RedisURL      string        `toml:"redis_url" mapstructure:"redis_url"`
	ReplayTTL     time.Duration `toml:"replay_ttl" mapstructure:"replay_ttl"`

	// NATS is optional, events are only logged without it
	NatsURL           string `toml:"nats_url" mapstructure:"nats_url"`
	NatsSubjectPrefix string `toml:"nats_subject_prefix" mapstructure:"nats_subject_prefix"`
	DeliverySubject   string `toml:"delivery_subject" mapstructure:"delivery_subject"`
	// NatsStream publishes events into this JetStream stream, deduplicated by message id
	NatsStream string `toml:"nats_stream" mapstructure:"nats_stream"`

	// RelayToken authenticates external relayers; deliveries are only accepted over http and NATS when set
	RelayToken string `toml:"relay_token" mapstructure:"relay_token"`

	// fees
	FeeBps            uint64 `toml:"fee_bps" mapstructure:"fee_bps"`
	SourceSlippageBps uint64 `toml:"source_slippage_bps" mapstructure:"source_slippage_bps"`
	FeeCollector      string `toml:"fee_collector" mapstructure:"fee_collector"`

	// relayer
	RelayInterval   time.Duration `toml:"relay_interval" mapstructure:"relay_interval"`
	RelayMaxRetries int           `toml:"relay_max_retries" mapstructure:"relay_max_retries"`

	// sweeper
	SweepSchedule  string        `toml:"sweep_schedule" mapstructure:"sweep_schedule"`
	StaleThreshold time.Duration `toml:"stale_threshold" mapstructure:"stale_threshold"`

	// SimBridgeDelay is how long the simulated bridge holds a message before attesting it
	SimBridgeDelay time.Duration `toml:"sim_bridge_delay" mapstructure:"sim_bridge_delay"`
}

// CatalogFile is the on-disk catalog. Chains and tokens fall back to the mainnet reference data
// when omitted.
type CatalogFile struct {
	AnchorToken string            `toml:"anchor_token" json:"anchor_token" yaml:"anchor_token"`
	Paused      bool              `toml:"paused" json:"paused" yaml:"paused"`
	Chains      []ChainEntry      `toml:"chains" json:"chains" yaml:"chains"`
	Tokens      []TokenEntry      `toml:"tokens" json:"tokens" yaml:"tokens"`
	Routes      []RouteEntry      `toml:"routes" json:"routes" yaml:"routes"`
	HookSenders []HookSenderEntry `toml:"hook_senders" json:"hook_senders" yaml:"hook_senders"`
}

type ChainEntry struct {
	ID                uint64 `toml:"id" json:"id" yaml:"id"`
	Name              string `toml:"name" json:"name" yaml:"name"`
	BurnMintDomain    uint32 `toml:"burn_mint_domain" json:"burn_mint_domain" yaml:"burn_mint_domain"`
	OmnichainEndpoint uint32 `toml:"omnichain_endpoint" json:"omnichain_endpoint" yaml:"omnichain_endpoint"`
	Router            string `toml:"router" json:"router" yaml:"router"`
	HookExecutor      string `toml:"hook_executor" json:"hook_executor" yaml:"hook_executor"`
	// Disabled chains stay listed but are not routable
	Disabled bool `toml:"disabled" json:"disabled" yaml:"disabled"`
}

type TokenEntry struct {
	Symbol         string   `toml:"symbol" json:"symbol" yaml:"symbol"`
	Decimals       uint8    `toml:"decimals" json:"decimals" yaml:"decimals"`
	DirectProtocol string   `toml:"direct_protocol" json:"direct_protocol" yaml:"direct_protocol"`
	Native         []uint64 `toml:"native" json:"native" yaml:"native"`
	Bridged        []uint64 `toml:"bridged" json:"bridged" yaml:"bridged"`
}

type RouteEntry struct {
	FromToken string `toml:"from_token" json:"from_token" yaml:"from_token"`
	FromChain uint64 `toml:"from_chain" json:"from_chain" yaml:"from_chain"`
	ToToken   string `toml:"to_token" json:"to_token" yaml:"to_token"`
	ToChain   uint64 `toml:"to_chain" json:"to_chain" yaml:"to_chain"`
	Protocol  string `toml:"protocol" json:"protocol" yaml:"protocol"`
	// DestinationDomain defaults to the destination chain's domain for the protocol
	DestinationDomain *uint32 `toml:"destination_domain" json:"destination_domain" yaml:"destination_domain"`
	Bridge            string  `toml:"bridge" json:"bridge" yaml:"bridge"`
	PoolID            uint32  `toml:"pool_id" json:"pool_id" yaml:"pool_id"`
	SwapPool          string  `toml:"swap_pool" json:"swap_pool" yaml:"swap_pool"`
	SourceSwapPool    string  `toml:"source_swap_pool" json:"source_swap_pool" yaml:"source_swap_pool"`
	FeeTier           uint32  `toml:"fee_tier" json:"fee_tier" yaml:"fee_tier"`
	// ExtraData is 0x prefixed hex
	ExtraData string `toml:"extra_data" json:"extra_data" yaml:"extra_data"`
}

type HookSenderEntry struct {
	Domain uint32 `toml:"domain" json:"domain" yaml:"domain"`
	Sender string `toml:"sender" json:"sender" yaml:"sender"`
}
