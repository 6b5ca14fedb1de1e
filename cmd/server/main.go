package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdv/internal/config"
	"pdv/internal/fiscal"
	"pdv/internal/handler"
	"pdv/internal/infra"
	"pdv/internal/metrics"
	"pdv/internal/repository"
	"pdv/internal/router"
	"pdv/internal/service"
	"pdv/internal/worker"

	"github.com/bsm/redislock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Structured logger: dev pretty, prod JSON
	zerolog.TimeFieldFormat = time.RFC3339
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	rdb, err := infra.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	issuer := issuerFrom(cfg)
	if err := issuer.Validate(); err != nil && cfg.FiscalTransport != "fake" {
		log.Fatal().Err(err).Msg("fiscal issuer misconfigured")
	}

	// ── Fiscal transports ────────────────────────────────────────────────────
	transports, breakers, probes := buildTransports(cfg, m)

	// ── Services ─────────────────────────────────────────────────────────────
	store := repository.NewStore(db)
	inventory := service.NewInventoryLedger(store)
	cash := service.NewCashLedger(store, nil)
	emitter := service.NewFiscalEmitter(service.FiscalConfig{
		UnitOfWork:    store,
		Builder:       fiscal.NewBuilder(issuer),
		Transports:    transports,
		Metrics:       m,
		SubmitTimeout: cfg.FiscalSubmitTimeout,
		MaxAttempts:   cfg.FiscalMaxAttempts,
		StaleAfter:    cfg.FiscalStaleAfter,
	})

	// Emission trigger: inline after commit, or queued for the worker pool
	// with inline emission as fallback when Redis refuses the job.
	inline := service.NewInlineEmission(emitter, cfg.Kinds())
	var trigger service.EmissionTrigger = inline
	if cfg.FiscalMode == "async" {
		trigger = worker.NewDispatcher(rdb, cfg.Kinds(), inline)
		pool := worker.NewPool(rdb, map[string]worker.Handler{
			worker.JobEmission: worker.NewEmissionWorker(emitter),
		})
		pool.Start(ctx, cfg.WorkerPoolSize)
	}

	sales := service.NewSaleOrchestrator(service.SaleConfig{
		UnitOfWork: store,
		Inventory:  inventory,
		Cash:       cash,
		Fiscal:     emitter,
		Trigger:    trigger,
		Metrics:    m,
		Location:   cfg.Location(),
	})

	worker.NewRetryCron(worker.RetryCronConfig{
		Fiscal:   emitter,
		Breakers: breakers,
		RDB:      rdb,
		Locker:   redislock.New(rdb),
		Metrics:  m,
		Tick:     cfg.FiscalRetryTick,
	}).Start(ctx)

	r := router.New(router.Deps{
		Config:    cfg,
		Sales:     sales,
		Cash:      cash,
		Inventory: inventory,
		Fiscal:    emitter,
		RDB:       rdb,
		Probes:    append(infraProbes(db, rdb), probes...),
		Breakers:  breakers,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().
			Str("fiscal_mode", cfg.FiscalMode).
			Strs("fiscal_kinds", cfg.Kinds()).
			Msgf("pdv backend listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	_ = rdb.Close()
	log.Info().Msg("server exited")
}

// buildTransports wires one breaker-guarded transport per enabled kind. In
// fake mode every kind gets the in-process authority.
func buildTransports(cfg *config.Config, m *metrics.Metrics) (map[fiscal.Kind]fiscal.Transport, map[string]*infra.CircuitBreaker, []handler.Probe) {
	transports := make(map[fiscal.Kind]fiscal.Transport)
	breakers := make(map[string]*infra.CircuitBreaker)
	var probes []handler.Probe

	for _, name := range cfg.Kinds() {
		kind, ok := fiscal.ParseKind(name)
		if !ok {
			log.Fatal().Str("kind", name).Msg("unsupported fiscal kind in FISCAL_KINDS")
		}

		var next fiscal.Transport
		switch {
		case cfg.FiscalTransport == "fake":
			log.Warn().Str("kind", name).Msg("fiscal: using in-process fake authority")
			next = fiscal.NewFakeTransport()
		case kind == fiscal.KindNFCe:
			c := infra.NewAuthorityClient(cfg.FiscalAuthorityURL, cfg.FiscalSubmitTimeout)
			probes = append(probes, handler.Probe{Name: "fiscal_" + name, Check: c.Ping})
			next = c
		case kind == fiscal.KindSAT:
			d := infra.NewSATDevice(cfg.FiscalDeviceAddr, cfg.FiscalSubmitTimeout)
			probes = append(probes, handler.Probe{Name: "fiscal_" + name, Check: d.Ping})
			next = d
		}

		cbCfg := infra.DefaultCBConfig()
		cbCfg.Name = name
		cbCfg.FailureThreshold = cfg.BreakerFailures
		cbCfg.OpenTimeout = cfg.BreakerOpenTimeout
		cbCfg.IsFailure = infra.IsTransportFailure
		cbCfg.OnStateChange = func(name string, from, to infra.CBState) {
			m.SetBreakerState(name, int(to))
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("fiscal: circuit breaker state changed")
		}
		cb := infra.NewCircuitBreaker(cbCfg)
		breakers[name] = cb
		transports[kind] = infra.NewBreakerTransport(next, cb)
	}
	return transports, breakers, probes
}

func infraProbes(db *gorm.DB, rdb *redis.Client) []handler.Probe {
	return []handler.Probe{
		{Name: "db", Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}},
	}
}

func issuerFrom(cfg *config.Config) fiscal.Issuer {
	return fiscal.Issuer{
		CNPJ:                  cfg.IssuerCNPJ,
		Name:                  cfg.IssuerName,
		TradeName:             cfg.IssuerTradeName,
		StateRegistration:     cfg.IssuerStateRegistration,
		MunicipalRegistration: cfg.IssuerCityRegistration,
		TaxRegime:             cfg.IssuerTaxRegime,
		Address: fiscal.Address{
			Street:   cfg.IssuerStreet,
			Number:   cfg.IssuerNumber,
			District: cfg.IssuerDistrict,
			CityCode: cfg.IssuerCityCode,
			City:     cfg.IssuerCity,
			State:    cfg.IssuerState,
			ZipCode:  cfg.IssuerZipCode,
		},
		Environment:       cfg.IssuerEnvironment,
		Series:            cfg.IssuerSeries,
		SoftwareHouseCNPJ: cfg.SATSoftwareHouseCNPJ,
		SignAC:            cfg.SATSignAC,
		DeviceSerial:      cfg.SATDeviceSerial,
	}
}
