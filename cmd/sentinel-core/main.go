package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentinel-trading/sentinel/internal/cache"
	"github.com/sentinel-trading/sentinel/internal/config"
	"github.com/sentinel-trading/sentinel/internal/discovery"
	"github.com/sentinel-trading/sentinel/internal/engine"
	"github.com/sentinel-trading/sentinel/internal/guard"
	"github.com/sentinel-trading/sentinel/internal/journal"
	"github.com/sentinel-trading/sentinel/internal/lifecycle"
	"github.com/sentinel-trading/sentinel/internal/market"
	"github.com/sentinel-trading/sentinel/internal/observability"
	"github.com/sentinel-trading/sentinel/internal/reputation"
	"github.com/sentinel-trading/sentinel/internal/risk"
	"github.com/sentinel-trading/sentinel/internal/router"
	"github.com/sentinel-trading/sentinel/internal/selllock"
	"github.com/sentinel-trading/sentinel/internal/selltax"
	"github.com/sentinel-trading/sentinel/internal/solana"
	"github.com/sentinel-trading/sentinel/internal/storage"
	"github.com/sentinel-trading/sentinel/internal/storage/memory"
	"github.com/sentinel-trading/sentinel/internal/storage/postgres"
	"github.com/sentinel-trading/sentinel/internal/watcher"
)

func main() {
	// 1. Parse flags. A .env file, when present, feeds the ${VAR} expansion
	// inside the YAML config.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub RPC (no real Solana connection)")
	flag.Parse()

	_ = godotenv.Load()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("SENTINEL Trade-Safety Core - Starting")
	log.Info().Msg("DISCOVER -> VALIDATE -> GUARD -> EXECUTE -> WATCH")
	log.Info().Msg("=============================================")

	dryRun := cfg.General.DryRun
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Bool("dry_run", dryRun).
		Bool("stub_mode", *stubMode).
		Int("max_positions", cfg.Engine.MaxPositions).
		Int("max_daily_trades", cfg.Engine.MaxDailyTrades).
		Float64("position_size_sol", cfg.Engine.PositionSizeSOL).
		Float64("min_liquidity", cfg.Risk.MinLiquidityUSD).
		Msg("Configuration loaded")

	// 4. Solana RPC client.
	var rpc solana.RPCClient
	var liveRPC *solana.LiveRPCClient
	if *stubMode {
		rpc = solana.NewStubRPCClient()
		log.Info().Msg("Solana RPC: STUB mode")
	} else {
		liveRPC = solana.NewLiveRPCClient(solana.RPCConfig{
			Endpoint:     cfg.RPC.Endpoint,
			WSEndpoint:   cfg.RPC.WSEndpoint,
			Timeout:      cfg.RPC.Timeout,
			MaxRetries:   cfg.RPC.MaxRetries,
			RateLimitRPS: cfg.RPC.RateLimitRPS,
		})
		rpc = liveRPC
		defer liveRPC.Close()

		healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.RPC.Endpoint).
				Msg("Solana RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.RPC.Endpoint).Msg("Solana RPC: LIVE - connected")
		}
		healthCancel()
	}

	// 5. Wallet.
	var wallet *solana.Wallet
	if dryRun {
		wallet = solana.NewDryRunWallet()
		log.Info().Str("pubkey", string(wallet.Pubkey())).Msg("Wallet: DRY-RUN signer")
	} else {
		wallet, err = solana.NewWallet(cfg.RPC.PrivateKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load wallet")
		}
		log.Info().Str("pubkey", string(wallet.Pubkey())).Msg("Wallet loaded")
	}
	owner := string(wallet.Pubkey())

	// 6. Persistence. Dry-run uses in-memory stores so a scratch run never
	// needs a database.
	var (
		lifecycleStore storage.LifecycleStore
		positionStore  storage.PositionStore
		deployerStore  storage.DeployerStore
		pgPool         *postgres.Pool
	)
	if dryRun {
		lifecycleStore = memory.NewLifecycleStore()
		positionStore = memory.NewPositionStore()
		deployerStore = memory.NewDeployerStore()
		log.Info().Msg("Storage: in-memory (dry-run)")
	} else {
		pgCtx, pgCancel := context.WithTimeout(context.Background(), 10*time.Second)
		pgPool, err = postgres.NewPool(pgCtx, cfg.Postgres.DSN)
		pgCancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		defer pgPool.Close()

		migCtx, migCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := postgres.Migrate(migCtx, pgPool); err != nil {
			migCancel()
			log.Fatal().Err(err).Msg("Postgres migration failed")
		}
		migCancel()

		lifecycleStore = postgres.NewLifecycleStore(pgPool)
		positionStore = postgres.NewPositionStore(pgPool)
		deployerStore = postgres.NewDeployerStore(pgPool)
		log.Info().Msg("Storage: Postgres connected and migrated")
	}

	// 7. ClickHouse journal (optional).
	var riskJournal *journal.Journal
	var chClient *journal.Client
	if cfg.ClickHouse.Enabled {
		chClient, err = journal.NewClient(cfg.ClickHouse.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("ClickHouse unavailable, journaling disabled")
		} else {
			chCtx, chCancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := journal.Migrate(chCtx, chClient); err != nil {
				log.Warn().Err(err).Msg("ClickHouse migration failed, journaling disabled")
				chClient.Close()
				chClient = nil
			} else {
				riskJournal = journal.NewJournal(chClient, cfg.ClickHouse.Database, 200, 5*time.Second)
				log.Info().Str("database", cfg.ClickHouse.Database).Msg("ClickHouse journal initialized")
			}
			chCancel()
		}
	}

	// 8. Validation cache.
	vc := cache.New(cache.Config{
		SecurityTTL:   cfg.Cache.SecurityTTL,
		OverviewTTL:   cfg.Cache.OverviewTTL,
		PreScoreTTL:   cfg.Cache.PreScoreTTL,
		SellRouteTTL:  cfg.Cache.SellRouteTTL,
		PriceTTL:      cfg.Cache.PriceTTL,
		HoldersTTL:    cfg.Cache.HoldersTTL,
		SweepInterval: cfg.Cache.SweepInterval,
	})
	log.Info().Msg("Validation Cache initialized")

	// 9. Market data client.
	marketClient := market.NewClient(market.Config{
		BaseURL:      cfg.Market.BaseURL,
		APIKey:       cfg.Market.APIKey,
		Timeout:      cfg.Market.Timeout,
		RateLimitRPS: cfg.Market.RateLimitRPS,
	})

	// 10. Swap router.
	var providers []router.Provider
	if cfg.Router.Jupiter.Enabled {
		providers = append(providers, router.NewJupiter(router.JupiterConfig{
			BaseURL:    cfg.Router.Jupiter.BaseURL,
			APIKey:     cfg.Router.Jupiter.APIKey,
			Timeout:    cfg.Router.Jupiter.Timeout,
			MaxRetries: cfg.Router.Jupiter.MaxRetries,
		}, owner))
	}
	if cfg.Router.Raydium.Enabled {
		providers = append(providers, router.NewRaydium(router.RaydiumConfig{
			BaseURL: cfg.Router.Raydium.BaseURL,
			Timeout: cfg.Router.Raydium.Timeout,
		}, owner))
	}
	if len(providers) == 0 {
		log.Fatal().Msg("No swap providers enabled, check router config")
	}
	rtr := router.New(providers...)
	log.Info().Int("providers", len(providers)).Msg("Swap Router initialized")

	// 11. Safety components.
	locks := selllock.NewManager(selllock.Config{LeaseDuration: cfg.SellLock.LeaseDuration})

	rep := reputation.NewTracker(reputation.DefaultConfig(), deployerStore)

	lc := lifecycle.NewStore(lifecycle.Config{
		MaxRetries:    cfg.Risk.MaxRetries,
		PendingExpiry: cfg.Engine.PendingExpiry,
	}, owner, lifecycleStore)
	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := lc.Restore(restoreCtx); err != nil {
		log.Warn().Err(err).Msg("Lifecycle restore failed, starting with empty mirror")
	}
	restoreCancel()

	execGuard := guard.New(guard.Config{
		Cooldown:           cfg.Guard.Cooldown,
		BlacklistThreshold: cfg.Guard.BlacklistThreshold,
		FailureWindow:      cfg.Guard.FailureWindow,
		SellRouteCheck:     cfg.Guard.SellRouteCheck,
		SellProbeUSD:       cfg.Guard.SellProbeUSD,
	}, rtr)

	taxConfig := selltax.DefaultConfig()
	taxConfig.Enabled = cfg.SellTax.Enabled
	taxConfig.BlockTaxPct = cfg.SellTax.BlockTaxPct
	taxConfig.HighTaxPct = cfg.SellTax.HighTaxPct
	taxConfig.ModerateTaxPct = cfg.SellTax.ModerateTaxPct
	taxConfig.BlockDiscrepancyPct = cfg.SellTax.BlockDiscrepancyPct
	taxes := selltax.NewDetector(taxConfig, rtr)

	riskConfig := risk.DefaultEngineConfig()
	riskConfig.PreScore.ExecuteThreshold = cfg.Risk.ExecuteThreshold
	riskConfig.PreScore.TiebreakerThreshold = cfg.Risk.TiebreakerThreshold
	riskConfig.PreScore.MinLiquidityUSD = cfg.Risk.MinLiquidityUSD
	riskConfig.PreScore.MinPoolAgeSeconds = cfg.Risk.MinPoolAgeSeconds
	riskConfig.Composite.MaturePoolAge = time.Duration(cfg.Risk.MaturePoolMinutes) * time.Minute
	riskConfig.Composite.MinConfidence = cfg.Risk.MinConfidence
	riskEngine := risk.NewEngine(riskConfig, owner, vc, marketClient, rep)
	log.Info().
		Float64("execute_threshold", riskConfig.PreScore.ExecuteThreshold).
		Float64("min_confidence", riskConfig.Composite.MinConfidence).
		Msg("Risk Scoring Engine initialized")

	// 12. Observability.
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}
	health := observability.NewHealthMonitor(30 * time.Second)
	health.Register("rpc", func(ctx context.Context) observability.ComponentHealth {
		if err := rpc.Health(ctx); err != nil {
			return observability.ComponentHealth{Status: observability.StatusUnhealthy, Message: err.Error()}
		}
		return observability.ComponentHealth{Status: observability.StatusHealthy}
	})
	if chClient != nil {
		health.Register("clickhouse", func(ctx context.Context) observability.ComponentHealth {
			if err := chClient.Ping(ctx); err != nil {
				return observability.ComponentHealth{Status: observability.StatusDegraded, Message: err.Error()}
			}
			return observability.ComponentHealth{Status: observability.StatusHealthy}
		})
	}

	// 13. Core engine.
	core := engine.NewCore(engine.Config{
		PositionSizeSOL: cfg.Engine.PositionSizeSOL,
		SlippageBps:     cfg.Router.SlippageBps,
		MaxPositions:    cfg.Engine.MaxPositions,
		MaxDailyTrades:  cfg.Engine.MaxDailyTrades,
		MaxDailyLossUSD: cfg.Engine.MaxDailyLossUSD,
		CleanupInterval: time.Minute,
		ProbeAmountSOL:  0.01,
		DryRun:          dryRun,
	}, engine.Deps{
		Owner:      owner,
		RPC:        rpc,
		Wallet:     wallet,
		Router:     rtr,
		Market:     marketClient,
		Lifecycle:  lc,
		Risk:       riskEngine,
		Guard:      execGuard,
		Taxes:      taxes,
		Locks:      locks,
		Reputation: rep,
		Positions:  positionStore,
		Journal:    riskJournal,
		Metrics:    metrics,
		Watcher: watcher.Config{
			PollInterval:     cfg.Watcher.PollInterval,
			EmergencyDropPct: cfg.Watcher.EmergencyDropPct,
			WarningDropPct:   cfg.Watcher.WarningDropPct,
			MaxRouteMisses:   cfg.Watcher.MaxRouteMisses,
		},
	})

	core.SetOnPositionOpen(func(pos *watcher.Position) {
		log.Info().
			Str("pos_id", pos.ID).
			Str("mint", string(pos.Mint)).
			Str("entry_liquidity", pos.EntryLiquidity.String()).
			Msg("[POSITION OPENED]")
	})
	core.SetOnPositionClose(func(id, status string) {
		log.Info().
			Str("pos_id", id).
			Str("status", status).
			Msg("[POSITION CLOSED]")
	})

	health.Register("watcher", func(_ context.Context) observability.ComponentHealth {
		ws := core.Watcher().Stats()
		if ws.Freezes > 0 {
			return observability.ComponentHealth{
				Status:  observability.StatusDegraded,
				Message: fmt.Sprintf("%d positions frozen since start", ws.Freezes),
			}
		}
		return observability.ComponentHealth{Status: observability.StatusHealthy}
	})

	// 14. Discovery stream.
	discoveryConfig := discovery.DefaultConfig()
	if cfg.Discovery.WSURL != "" {
		discoveryConfig.WSURL = cfg.Discovery.WSURL
	}
	discoveryConfig.ReconnectInterval = cfg.Discovery.ReconnectInterval
	discoveryConfig.PingInterval = cfg.Discovery.PingInterval
	stream := discovery.NewStream(discoveryConfig)
	log.Info().
		Str("ws_url", discoveryConfig.WSURL).
		Int("programs", len(discoveryConfig.Programs)).
		Msg("Discovery Stream initialized")

	health.Register("discovery", func(_ context.Context) observability.ComponentHealth {
		ds := stream.Stats()
		if !ds.Connected {
			return observability.ComponentHealth{
				Status:  observability.StatusDegraded,
				Message: "websocket disconnected",
			}
		}
		return observability.ComponentHealth{Status: observability.StatusHealthy}
	})

	// 15. Shutdown context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 16. Start services.
	var wg sync.WaitGroup

	if riskJournal != nil {
		riskJournal.Start(ctx)
	}
	health.Start(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		core.Run(ctx, stream)
	}()

	// HTTP: metrics + health + status.
	wg.Add(1)
	go func() {
		defer wg.Done()
		mux := http.NewServeMux()
		if metrics != nil {
			mux.Handle("/metrics", metrics.Handler())
		}
		mux.Handle("/health", health.Handler())

		mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
			flushes, flushErrors, pendingRisk, pendingWatch := int64(0), int64(0), 0, 0
			if riskJournal != nil {
				flushes, flushErrors, pendingRisk, pendingWatch = riskJournal.Stats()
			}
			combined := map[string]any{
				"engine":     core.Stats(),
				"watcher":    core.Watcher().Stats(),
				"discovery":  stream.Stats(),
				"lifecycle":  lc.Stats(),
				"risk":       riskEngine.Stats(),
				"guard":      execGuard.Stats(),
				"sell_tax":   taxes.Stats(),
				"sell_locks": locks.Stats(),
				"reputation": rep.Stats(),
				"cache":      vc.Stats(),
				"market":     marketClient.Stats(),
				"journal": map[string]any{
					"enabled":       riskJournal != nil,
					"flushes":       flushes,
					"flush_errors":  flushErrors,
					"pending_risk":  pendingRisk,
					"pending_watch": pendingWatch,
				},
				"dry_run": dryRun,
			}
			if liveRPC != nil {
				combined["rpc"] = liveRPC.Stats()
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(combined)
		})

		mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
			open, err := positionStore.ListOpen(r.Context(), owner)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(open)
		})

		addr := fmt.Sprintf(":%d", cfg.Metrics.PrometheusPort)
		server := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("HTTP server started (metrics + health + status)")

		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()

		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Error().Err(srvErr).Msg("HTTP server error")
		}
	}()

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				es := core.Stats()
				ds := stream.Stats()
				ws := core.Watcher().Stats()
				log.Info().
					Int64("launches", ds.Launches).
					Int64("candidates", es.Candidates).
					Int64("trades", es.Trades).
					Int64("rejected", es.Rejected).
					Int("open_positions", es.OpenCount).
					Int("watched", ws.Watched).
					Int64("freezes", ws.Freezes).
					Int("daily_trades", es.DailyTrades).
					Str("daily_loss_usd", es.DailyLossUSD).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("SENTINEL Trade-Safety Core - Running")
	log.Info().Msg("Pipeline: Launch Event -> Lifecycle -> Risk Scoring -> Sell Tax -> Execution Guard -> Buy -> Liquidity Watcher")

	// 17. Block until shutdown.
	<-ctx.Done()

	log.Info().Msg("Shutting down...")
	wg.Wait()

	if riskJournal != nil {
		if err := riskJournal.Close(); err != nil {
			log.Warn().Err(err).Msg("Journal close error")
		}
	}
	if chClient != nil {
		chClient.Close()
	}
	health.Stop()

	finalStats := core.Stats()
	log.Info().
		Int64("candidates", finalStats.Candidates).
		Int64("trades", finalStats.Trades).
		Int64("rejected", finalStats.Rejected).
		Int64("skipped", finalStats.Skipped).
		Msg("SENTINEL Trade-Safety Core - Final Statistics")

	log.Info().Msg("SENTINEL Trade-Safety Core - Shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "sentinel-core").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "sentinel-core").
			Str("instance", general.InstanceID).Logger()
	}
}
