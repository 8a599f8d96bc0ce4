package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gepspresale/core/events"
	nativecommon "gepspresale/native/common"
	"gepspresale/native/presale"
	"gepspresale/observability"
	"gepspresale/observability/logging"
	telemetry "gepspresale/observability/otel"
	"gepspresale/services/presaled/config"
	"gepspresale/services/presaled/feeds"
	"gepspresale/services/presaled/server"
	sqlstore "gepspresale/services/presaled/storage"
	"gepspresale/storage"
)

func main() {
	var cfgPath, schedulePath string
	flag.StringVar(&cfgPath, "config", "services/presaled/config.yaml", "path to presaled configuration file")
	flag.StringVar(&schedulePath, "schedule", "", "path to a TOML or JSON sale schedule (overrides the config)")
	flag.Parse()

	if err := run(cfgPath, schedulePath); err != nil {
		log.Fatalf("presaled: %v", err)
	}
}

func run(cfgPath, schedulePath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.SetupWithOptions(logging.Options{
		Service: "presaled",
		Env:     cfg.Env,
		Level:   cfg.Logging.Level,
		File: logging.FileOptions{
			Filename:   cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		},
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "presaled",
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stateDB, err := openState(cfg.State)
	if err != nil {
		return err
	}
	defer stateDB.Close()

	db, err := sqlstore.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info("database opened", logging.MaskField("driver", cfg.Database.Driver), logging.MaskURL("dsn", cfg.Database.DSN))
	ledger := db.Ledger()
	seeded, err := ledger.SeedGenesis(rootCtx, cfg.Genesis)
	if err != nil {
		return fmt.Errorf("seed genesis: %w", err)
	}
	if seeded {
		logger.Info("genesis balances seeded", "entries", len(cfg.Genesis))
	}

	if strings.TrimSpace(schedulePath) == "" {
		schedulePath = cfg.SchedulePath
	}
	schedule := presale.DefaultSaleSchedule()
	if strings.TrimSpace(schedulePath) != "" {
		if schedule, err = presale.LoadSchedule(schedulePath); err != nil {
			return err
		}
	}

	metrics := observability.Presale()
	registry := feeds.NewRegistry()
	defer registry.Close()
	router := feeds.NewRouter(cfg.Oracle.Timeout.Duration)
	router.OnFailure(metrics.RecordOracleFailure)
	for _, feedCfg := range cfg.Feeds {
		source, err := registry.Build(rootCtx, feedCfg)
		if err != nil {
			return fmt.Errorf("build feed %s: %w", feedCfg.Currency, err)
		}
		router.Set(feedCfg.Currency, source)
		logger.Info("price feed configured",
			logging.MaskField("currency", strings.ToUpper(feedCfg.Currency)),
			logging.MaskField("feed", feedCfg.Type),
			logging.MaskURL("endpoint", feedCfg.Endpoint))
	}
	oracle, err := presale.NewCachedOracle(router, cfg.Oracle.Refresh.Duration)
	if err != nil {
		return err
	}
	oracle.SetLogger(logger)

	engine, err := presale.NewEngine(schedule.Params(config.Address(cfg.Vault)), schedule.Stages, config.Address(cfg.Treasury))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	hub := events.NewHub(cfg.Stream.Backlog)
	journal := db.Journal(logger)
	pauses := nativecommon.NewPauseSwitch()
	engine.SetLedger(ledger)
	engine.SetOracle(oracle)
	engine.SetStore(storage.NewSnapshotStore(stateDB))
	engine.SetEmitter(events.MultiEmitter{journal, hub, metrics})
	engine.SetLogger(logger)
	engine.SetPauses(pauses)

	restored, err := engine.Restore(rootCtx)
	if err != nil {
		return err
	}
	if !restored {
		for _, currency := range schedule.Currencies {
			if err := engine.RegisterCurrency(rootCtx, currency); err != nil {
				return fmt.Errorf("register %s: %w", currency.Symbol, err)
			}
		}
	}
	for _, currency := range engine.Status().Currencies {
		oracle.Track(currency)
	}
	logger.Info("presale engine ready",
		"restored", restored,
		"phase", engine.Status().Phase.String(),
		"stages", len(schedule.Stages),
		"feeds", strings.Join(router.Symbols(), ","))

	auth, err := server.NewAuthenticator(server.AuthConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   cfg.Auth.Leeway.Duration,
	}, presale.OwnerPolicy{Owner: config.Address(cfg.Owner)})
	if err != nil {
		return fmt.Errorf("configure admin auth: %w", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress:  cfg.ListenAddress,
		AllowedOrigins: cfg.Stream.AllowedOrigins,
		WriteTimeout:   cfg.Stream.WriteTimeout.Duration,
		RateLimit: server.RateLimit{
			RPS:            cfg.RateLimit.RPS,
			Burst:          cfg.RateLimit.Burst,
			TrustedProxies: cfg.RateLimit.TrustedProxies,
		},
		ExportDir: cfg.Export.Dir,
	}, server.Deps{
		Engine:     engine,
		Receipts:   db,
		Journal:    journal,
		Exporter:   db,
		Hub:        hub,
		Pauses:     pauses,
		Auth:       auth,
		Logger:     logger,
		OnCurrency: oracle.Track,
	})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	go func() {
		if err := oracle.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("oracle refresher exited", "error", err)
			stop()
		}
	}()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("presaled stopped")
	return nil
}

func openState(cfg config.StateConfig) (storage.Database, error) {
	switch cfg.Driver {
	case "memory":
		slog.Warn("presale state is held in memory and will not survive a restart")
		return storage.NewMemLevelDB()
	default:
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open state %s: %w", cfg.Path, err)
		}
		return db, nil
	}
}
