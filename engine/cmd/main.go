package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/config"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/events"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/feeledger"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/hooks"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/orchestrator"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/relayer"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/rpc"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/selector"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/sim"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/store"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/sweeper"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Logger()

	// Share the logger with the RPC package
	rpc.SetLogger(log)
}

// closers run in reverse order on shutdown
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func main() {
	configPath := flag.String("config", "", "toml config file for the service, environment variables are used when empty")
	flag.Parse()

	var cfgPath *string
	if *configPath != "" {
		cfgPath = configPath
	}
	cfg, err := config.LoadServiceConfig(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load service config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	log.Info().
		Str("config", *configPath).
		Str("catalog", cfg.Catalog).
		Str("store", cfg.StoreBackend).
		Str("replay_guard", cfg.ReplayBackend).
		Msg("Starting Spectra's Stable Router")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cleanup closers
	defer cleanup.run()

	catalogConfig, err := config.ResolveCatalog(ctx, cfg.Catalog)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load catalog")
	}
	catalogStore := catalog.NewStore(catalog.NewSnapshot(catalogConfig))
	log.Info().
		Int("chains", len(catalogConfig.Chains)).
		Int("tokens", len(catalogConfig.Tokens)).
		Int("routes", len(catalogConfig.Routes)).
		Msg("Loaded catalog")

	var db *gorm.DB
	if cfg.StoreBackend == config.BackendPostgres || cfg.ReplayBackend == config.BackendPostgres {
		db, err = store.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open postgres")
		}
		if sqlDB, err := db.DB(); err == nil {
			cleanup.add(func() { _ = sqlDB.Close() })
		}
	}

	records, err := buildRecordStore(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up record store")
	}
	guard, err := buildReplayGuard(ctx, cfg, db, &cleanup)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up replay guard")
	}

	var conn *nats.Conn
	publisher := events.Fanout{events.NewLogPublisher()}
	if cfg.NatsURL != "" {
		conn, err = events.Connect(cfg.NatsURL, 10*time.Second)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		cleanup.add(conn.Close)
		natsPublisher := events.NewNATSPublisher(conn, cfg.NatsSubjectPrefix)
		if cfg.NatsStream != "" {
			natsPublisher, err = events.NewJetStreamPublisher(conn, cfg.NatsSubjectPrefix, cfg.NatsStream)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to set up the event stream")
			}
		}
		publisher = append(publisher, natsPublisher)
		log.Info().Str("url", cfg.NatsURL).Str("stream", cfg.NatsStream).Msg("Publishing transfer events to NATS")
	}

	// chain adapters are simulated in process
	ledger := sim.NewLedger()
	bridge := sim.NewBridge(ledger, catalogStore, cfg.SimBridgeDelay)
	pools := sim.NewPools(ledger, catalogStore)

	collector := cfg.FeeCollector
	if collector == "" {
		collector = "treasury"
	}
	fees := feeledger.New(collector)

	orch := orchestrator.New(orchestrator.Config{
		Catalog:   catalogStore,
		Selector:  selector.New(cfg.Selector()),
		Ledger:    ledger,
		Bridge:    bridge,
		Pools:     pools,
		Fees:      fees,
		Records:   records,
		Collector: collector,
		Publisher: publisher,
	})
	executor := hooks.NewExecutor(hooks.Config{
		Catalog:   catalogStore,
		Ledger:    ledger,
		Pools:     pools,
		Records:   records,
		Guard:     guard,
		Publisher: publisher,
	})

	go retryParkedSends(ctx, orch, cfg.RelayInterval)

	relayConfig := relayer.DefaultConfig()
	relayConfig.Interval = cfg.RelayInterval
	relayConfig.MaxRetries = cfg.RelayMaxRetries
	go runRelayer(ctx, "sim-bridge", relayer.New(bridge, executor, relayConfig))

	if conn != nil && cfg.RelayToken != "" {
		source, err := relayer.NewNATSSource(conn, cfg.DeliverySubject, cfg.RelayToken)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to deliveries")
		}
		cleanup.add(func() { _ = source.Close() })
		go runRelayer(ctx, "nats", relayer.New(source, executor, relayConfig))
	}

	if cfg.RelayToken == "" {
		log.Warn().Msg("No relay_token set, external deliveries are disabled and only the simulated bridge is relayed")
	}

	sweep := sweeper.New(records, sweeper.Config{Schedule: cfg.SweepSchedule, Threshold: cfg.StaleThreshold})
	if err := sweep.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start stale transfer sweeper")
	}
	cleanup.add(sweep.Stop)

	// Create the RPC server
	server, err := rpc.NewServer(ctx, buildServerConfig(cfg), &rpc.API{
		Catalog:    catalogStore,
		Transfers:  orch,
		Deliverer:  executor,
		RelayToken: cfg.RelayToken,
		Faucet:     sim.NewFaucet(ledger, catalogStore),
		Fees:       fees,
		FeeBps:     cfg.FeeBps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RPC server")
	}

	// Setup signal handling, SIGHUP reloads the catalog
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
			sigCh <- syscall.SIGTERM
		}
	}()

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			reloadCatalog(ctx, cfg.Catalog, catalogStore)
			continue
		}
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		break
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	cancel()
}

func buildRecordStore(ctx context.Context, cfg *config.ServiceConfig, db *gorm.DB) (store.RecordStore, error) {
	if cfg.StoreBackend != config.BackendPostgres {
		return store.NewMemory(), nil
	}
	records := store.NewGorm(db)
	if err := records.Migrate(ctx); err != nil {
		return nil, err
	}
	log.Info().Msg("Transfer records are stored in postgres")
	return records, nil
}

func buildReplayGuard(ctx context.Context, cfg *config.ServiceConfig, db *gorm.DB, cleanup *closers) (hooks.ReplayGuard, error) {
	switch cfg.ReplayBackend {
	case config.BackendRedis:
		client, err := hooks.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = client.Close() })
		log.Info().Dur("ttl", cfg.ReplayTTL).Msg("Processed messages are tracked in redis")
		return hooks.NewRedisGuard(client, hooks.DefaultRedisKeyPrefix, cfg.ReplayTTL), nil
	case config.BackendPostgres:
		log.Info().Msg("Processed messages are tracked in postgres")
		return store.NewGormReplayGuard(db), nil
	}
	return hooks.NewMemoryGuard(), nil
}

func runRelayer(ctx context.Context, name string, r *relayer.Relayer) {
	log.Info().Str("source", name).Msg("Relayer started")
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("source", name).Msg("Relayer stopped")
	}
}

// retryParkedSends stores bridge sends whose BRIDGE_PENDING transition failed at initiation
func retryParkedSends(ctx context.Context, orch *orchestrator.Orchestrator, every time.Duration) {
	if every <= 0 {
		every = relayer.DefaultConfig().Interval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if orch.Parked() == 0 {
				continue
			}
			if left := orch.RetryPending(ctx); left > 0 {
				log.Warn().Int("parked", left).Msg("Bridge sends still waiting to be recorded")
			}
		}
	}
}

// reloadCatalog swaps in a freshly loaded catalog; the running one stays on any error
func reloadCatalog(ctx context.Context, src string, catalogStore *catalog.Store) {
	next, err := config.ResolveCatalog(ctx, src)
	if err != nil {
		log.Error().Err(err).Msg("Catalog reload failed, keeping the current catalog")
		return
	}
	catalogStore.Replace(catalog.NewSnapshot(next))
	log.Info().
		Uint64("version", catalogStore.Snapshot().Version()).
		Int("routes", len(next.Routes)).
		Msg("Catalog reloaded")
}

// buildServerConfig converts the loaded ServiceConfig to rpc.ServerConfig
func buildServerConfig(cfg *config.ServiceConfig) *rpc.ServerConfig {
	serverConfig := &rpc.ServerConfig{
		Address:        cfg.Address(),
		AllowedOrigins: cfg.AllowedOrigins,
		EnableMetrics:  cfg.UsePrometheus,
	}

	// Set rate limiting if configured
	if cfg.RatePerMinute > 0 {
		serverConfig.RatePerMinute = &cfg.RatePerMinute
	}
	if cfg.MaxConcurrentRequests > 0 {
		serverConfig.MaxConcurrentRequests = &cfg.MaxConcurrentRequests
	}

	if telemetry := cfg.Telemetry(); telemetry.Enabled() {
		serverConfig.Telemetry = telemetry
	}
	return serverConfig
}
