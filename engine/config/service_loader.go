package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/selector"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/telemetry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. STABLEROUTER_PORT
const EnvPrefix = "STABLEROUTER"

// LoadServiceConfig loads the service config from the given toml file, or from the environment
// when configPath is nil
func LoadServiceConfig(configPath *string) (*ServiceConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == nil {
		// if no file expect envs
		config, err := loadEnv(v)
		if err != nil {
			return nil, fmt.Errorf("failed to load env config: %w", err)
		}
		return config, nil
	}
	config, err := loadFile(v, *configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load file config: %w", err)
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "stable-router")
	v.SetDefault("service_version", "1.0.0")
	v.SetDefault("environment", "LOCAL")
	v.SetDefault("store_backend", BackendMemory)
	v.SetDefault("replay_backend", BackendMemory)
	v.SetDefault("replay_ttl", 7*24*time.Hour)
	v.SetDefault("fee_bps", selector.DefaultFeeBps)
	v.SetDefault("source_slippage_bps", selector.DefaultSourceSlippageBps)
	v.SetDefault("relay_interval", 2*time.Second)
	v.SetDefault("relay_max_retries", 3)
	v.SetDefault("sweep_schedule", "@every 1m")
	v.SetDefault("stale_threshold", 30*time.Minute)
	v.SetDefault("sim_bridge_delay", 2*time.Second)
}

func loadEnv(v *viper.Viper) (*ServiceConfig, error) {
	// a missing .env is fine, the environment may come from docker or systemd
	_ = godotenv.Load()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	var config ServiceConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal env config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

// bindEnvKeys binds each config key so Unmarshal sees env values without a config file
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"port", "host", "allowed_origins",
		"rate_per_minute", "max_concurrent_requests", "log_level",
		"service_name", "service_version", "environment",
		"enable_tracing", "use_otlp_traces", "otlp_traces_url", "trace_sampling",
		"enable_metrics", "use_prometheus", "use_otlp_metrics", "otlp_metrics_url",
		"enable_logs", "use_otlp_logs", "otlp_logs_url",
		"insecure_otlp", "development_mode",
		"catalog", "store_backend", "postgres_dsn",
		"replay_backend", "redis_url", "replay_ttl",
		"nats_url", "nats_subject_prefix", "delivery_subject", "nats_stream", "relay_token",
		"fee_bps", "source_slippage_bps", "fee_collector",
		"relay_interval", "relay_max_retries",
		"sweep_schedule", "stale_threshold",
		"sim_bridge_delay",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

func loadFile(v *viper.Viper, configPath string) (*ServiceConfig, error) {
	if !strings.HasSuffix(configPath, ".toml") {
		return nil, fmt.Errorf("config file must be a toml file")
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	// env still overrides file values, secrets like the postgres dsn usually arrive that way
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ServiceConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

func verifyConfig(config *ServiceConfig) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if config.Host == "" {
		return fmt.Errorf("host is required")
	}
	if len(config.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed_origins is required")
	}
	if _, err := zerolog.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", config.LogLevel)
	}
	if config.Catalog == "" {
		return fmt.Errorf("catalog is required")
	}

	switch config.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if config.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("store_backend must be %s or %s", BackendMemory, BackendPostgres)
	}

	switch config.ReplayBackend {
	case BackendMemory:
	case BackendRedis:
		if config.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis replay guard")
		}
	case BackendPostgres:
		if config.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres replay guard")
		}
	default:
		return fmt.Errorf("replay_backend must be %s, %s or %s", BackendMemory, BackendRedis, BackendPostgres)
	}

	if config.FeeBps > 10000 || config.SourceSlippageBps > 10000 {
		return fmt.Errorf("fee_bps and source_slippage_bps must not exceed 10000")
	}
	if config.FeeCollector != "" && !common.IsHexAddress(config.FeeCollector) {
		return fmt.Errorf("fee_collector %q is not a hex address", config.FeeCollector)
	}
	if config.TraceSampling < 0 || config.TraceSampling > 1 {
		return fmt.Errorf("trace_sampling must be between 0 and 1")
	}
	if config.RelayToken != "" && len(config.RelayToken) < minRelayTokenLen {
		return fmt.Errorf("relay_token must be at least %d characters", minRelayTokenLen)
	}
	if config.RelayMaxRetries < 0 {
		return fmt.Errorf("relay_max_retries must not be negative")
	}
	return nil
}

// Address returns host:port for the http listener
func (c *ServiceConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Level returns the parsed log level, info when unset
func (c *ServiceConfig) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}

// Telemetry maps the otel settings onto the telemetry package config
func (c *ServiceConfig) Telemetry() *telemetry.Config {
	return &telemetry.Config{
		ServiceName:     c.ServiceName,
		ServiceVersion:  c.ServiceVersion,
		Environment:     c.Environment,
		EnableTracing:   c.EnableTracing,
		UseOTLPTraces:   c.UseOTLPTraces,
		OTLPTracesURL:   c.OTLPTracesURL,
		SampleRatio:     c.TraceSampling,
		EnableMetrics:   c.EnableMetrics,
		UsePrometheus:   c.UsePrometheus,
		UseOTLPMetrics:  c.UseOTLPMetrics,
		OTLPMetricsURL:  c.OTLPMetricsURL,
		EnableLogs:      c.EnableLogs,
		UseOTLPLogs:     c.UseOTLPLogs,
		OTLPLogsURL:     c.OTLPLogsURL,
		InsecureOTLP:    c.InsecureOTLP,
		DevelopmentMode: c.DevelopmentMode,
	}
}

// Selector builds the fee and slippage settings on top of the default native fee minimums
func (c *ServiceConfig) Selector() selector.Config {
	cfg := selector.DefaultConfig()
	cfg.FeeBps = c.FeeBps
	cfg.SourceSlippageBps = c.SourceSlippageBps
	return cfg
}
