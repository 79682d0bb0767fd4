package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	nativecommon "otcswap/native/common"
	"otcswap/native/synth"
	"otcswap/observability"
	"otcswap/observability/logging"
	telemetry "otcswap/observability/otel"
	"otcswap/services/synthd/adapters"
	"otcswap/services/synthd/auth"
	"otcswap/services/synthd/config"
	"otcswap/services/synthd/genesis"
	"otcswap/services/synthd/journal"
	synthmw "otcswap/services/synthd/middleware"
	"otcswap/services/synthd/oracle"
	"otcswap/services/synthd/server"
	"otcswap/services/synthd/storage"
	"otcswap/state/ledger"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/synthd/config.yaml", "path to synthd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("synthd: load config: %v", err)
	}

	logging.SetupWithOptions("synthd", cfg.Env, logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Level:      logging.ParseLevel(cfg.Log.Level),
	})
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnvironment("synthd", cfg.Env))
	if err != nil {
		log.Fatalf("synthd: init telemetry: %v", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("synthd: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("synthd: open storage: %v", err)
	}
	defer store.Close()

	ledgerStore, err := ledger.Open(cfg.LedgerPath, nil)
	if err != nil {
		log.Fatalf("synthd: open ledger: %v", err)
	}
	defer ledgerStore.Close()

	seeded, err := genesis.Seed(ctx, ledgerStore, cfg.Genesis)
	if err != nil {
		log.Fatalf("synthd: apply genesis: %v", err)
	}
	if seeded != (genesis.Result{}) {
		log.Printf("synthd: genesis created %d assets, %d accounts, funded %d", seeded.Assets, seeded.Accounts, seeded.Funded)
	}

	feeds := []string{cfg.Synth.CollateralFeed, cfg.Synth.SyntheticFeed}
	cache := oracle.NewCache()
	var collateralSrc, syntheticSrc synth.PriceSource
	if cfg.Synth.UsesMock() {
		log.Printf("synthd: WARNING: serving mock prices (dev only)")
		collateralSrc = synth.Mock(cfg.Synth.CollateralFeed, cfg.Synth.MockCollateralCents)
		syntheticSrc = synth.Mock(cfg.Synth.SyntheticFeed, cfg.Synth.MockSyntheticCents)
	} else {
		if err := cache.Restore(ctx, store, feeds); err != nil {
			log.Printf("synthd: restore price cache: %v", err)
		}
		guard := synth.PriceGuard{
			MaxAge:            cfg.Synth.PriceMaxAge.Duration,
			EnforceStaleness:  cfg.Synth.Staleness(),
			ConfidenceDivisor: cfg.Synth.ConfidenceDivisor,
		}
		collateralSrc = synth.Live(cfg.Synth.CollateralFeed, cache, guard)
		syntheticSrc = synth.Aux(cfg.Synth.SyntheticFeed, cache, cfg.Synth.AuxMaxAge.Duration)
	}

	events, err := journal.New(store, log.Default())
	if err != nil {
		log.Fatalf("synthd: event journal: %v", err)
	}
	pauses := nativecommon.NewPauseSwitch()
	pauses.Set(synth.ModuleName(), cfg.OperatorPause)
	if cfg.OperatorPause {
		log.Printf("synthd: operator pause engaged, mint and burn disabled")
	}

	engine := synth.NewEngine(ledgerStore, collateralSrc, syntheticSrc)
	engine.SetEmitter(events)
	engine.SetPauses(pauses)
	engine.WithIDGenerator(uuid.NewString)

	var mgr *oracle.Manager
	if len(cfg.Sources) > 0 {
		registry := adapters.NewRegistry()
		sources := make([]oracle.Source, 0, len(cfg.Sources))
		for _, src := range cfg.Sources {
			built, err := registry.Build(adapters.Spec{
				Name:     src.Name,
				Type:     src.Type,
				Endpoint: src.Endpoint,
				APIKey:   src.APIKey,
				Feeds:    src.Feeds,
				Prices:   src.Prices,
			})
			if err != nil {
				log.Fatalf("synthd: build source %s: %v", src.Name, err)
			}
			sources = append(sources, built)
		}
		mgr, err = oracle.New(store, sources, feeds, cfg.Oracle.Interval.Duration, cfg.Oracle.MaxAge.Duration, cfg.Oracle.MinFeeds,
			oracle.WithPublisher(cache))
		if err != nil {
			log.Fatalf("synthd: oracle manager: %v", err)
		}
	}

	nonces, err := auth.OpenNonceStore(cfg.NoncePath)
	if err != nil {
		log.Fatalf("synthd: %v", err)
	}
	defer nonces.Close()
	verifier, err := auth.NewVerifier(nonces, cfg.Auth.SignatureSkew.Duration, cfg.Auth.NonceRetention.Duration, time.Now)
	if err != nil {
		log.Fatalf("synthd: request verifier: %v", err)
	}
	secret := cfg.Auth.Secret()
	if secret == "" {
		log.Printf("synthd: WARNING: %s is empty, admin routes will reject every token", cfg.Auth.JWTSecretEnv)
	}
	admin := auth.NewAdminAuthenticator(auth.AdminConfig{
		Secret:    secret,
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		ClockSkew: cfg.Auth.ClockSkew.Duration,
	}, log.Default())

	idempotency, err := synthmw.OpenIdempotencyDB(cfg.IdempotencyDSN)
	if err != nil {
		log.Fatalf("synthd: idempotency store: %v", err)
	}
	limiter := synthmw.NewRateLimiter(synthmw.RateLimit{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}, observability.HTTP(), log.Default())

	tlsCfg := server.TLSConfig{CertFile: strings.TrimSpace(cfg.TLS.CertPath), KeyFile: strings.TrimSpace(cfg.TLS.KeyPath)}
	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		TLS:           tlsCfg,
		Throttle: server.ThrottleConfig{
			Window:    cfg.Throttle.Window.Duration,
			MintLimit: cfg.Throttle.MintLimit,
			BurnLimit: cfg.Throttle.BurnLimit,
		},
	}, server.Dependencies{
		Engine:      engine,
		Storage:     store,
		Journal:     events,
		Verifier:    verifier,
		Admin:       admin,
		Idempotency: idempotency,
		RateLimiter: limiter,
		Pauses:      pauses,
		Logger:      log.Default(),
	})
	if err != nil {
		log.Fatalf("synthd: server: %v", err)
	}
	health := server.NewHealth(engine, pauses, 0, log.Default())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 3)
	if mgr != nil {
		go func() { errCh <- mgr.Run(runCtx) }()
	}
	go health.Run(runCtx)
	go func() { errCh <- server.ServeGRPC(runCtx, cfg.GRPCAddress, tlsCfg, health, log.Default()) }()
	go func() { errCh <- srv.Run(runCtx) }()

	select {
	case <-ctx.Done():
		log.Printf("synthd: shutting down")
	case err := <-errCh:
		if err != nil && runCtx.Err() == nil {
			log.Printf("synthd: %v", err)
			cancel()
			os.Exit(1)
		}
	}
	cancel()
	log.Printf("synthd: shutdown complete")
}
