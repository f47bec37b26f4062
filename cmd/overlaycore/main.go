// Command overlaycore is the single-process control plane: it wires the
// bus, timer wheel, correlation-id pool, circuit breaker registry, OAuth
// token manager, Content Aggregator, Correlation Engine, and Stream
// Producer together and runs until signaled to stop.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"

	"github.com/streamcore/overlay-engine/internal/aggregator"
	"github.com/streamcore/overlay-engine/internal/breaker"
	"github.com/streamcore/overlay-engine/internal/bus"
	"github.com/streamcore/overlay-engine/internal/config"
	"github.com/streamcore/overlay-engine/internal/correlation"
	"github.com/streamcore/overlay-engine/internal/health"
	"github.com/streamcore/overlay-engine/internal/idpool"
	"github.com/streamcore/overlay-engine/internal/logging"
	"github.com/streamcore/overlay-engine/internal/metrics"
	"github.com/streamcore/overlay-engine/internal/oauth"
	"github.com/streamcore/overlay-engine/internal/producer"
	"github.com/streamcore/overlay-engine/internal/service"
	"github.com/streamcore/overlay-engine/internal/timer"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.InitGlobal(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("runtime initialized (automaxprocs)")

	b := bus.New(logger)
	wheel := timer.New()
	ids := idpool.New(idpool.DefaultSize)
	br := breaker.NewRegistry(breaker.Options{
		FailureThreshold: cfg.BreakerFailureThreshold,
		CooldownMs:       time.Duration(cfg.BreakerCooldownMs) * time.Millisecond,
	})
	collector := metrics.New()

	tokenStore, err := oauth.NewFileStore(cfg.OAuthTokenDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open oauth token store")
	}
	oauthMgr := oauth.New(tokenStore, br, logger)

	agg := aggregator.New(b, aggregator.Options{
		MaxEmoteEntries: cfg.MaxEmoteEntries,
		MaxFollowers:    cfg.MaxFollowers,
	}, logger)

	engine := correlation.New(b, nil, br, correlation.Options{}, logger)

	stateStore, err := producer.NewFileStateStore(cfg.ProducerStateDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open producer state store")
	}
	prod := producer.New(b, wheel, ids, agg, stateStore, br, collector, producer.Options{
		TickerInterval:          time.Duration(cfg.TickerIntervalMs) * time.Millisecond,
		SubTrainDuration:        time.Duration(cfg.SubTrainDurationMs) * time.Millisecond,
		CleanupInterval:         time.Duration(cfg.CleanupIntervalMs) * time.Millisecond,
		MaxTimers:               cfg.MaxTimers,
		MaxInterruptStackSize:   cfg.MaxInterruptStackSize,
		InterruptStackKeepCount: cfg.InterruptStackKeepCount,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services := map[string]service.Service{
		"aggregator":  agg,
		"correlation": engine,
		"producer":    prod,
	}
	for name, s := range services {
		if err := s.Start(ctx); err != nil {
			logger.Fatal().Err(err).Str("component", name).Msg("failed to start component")
		}
	}
	_ = oauthMgr // registered services are wired by upstream adapters, out of scope here

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(services)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	for name, s := range services {
		if err := s.Stop(); err != nil {
			logger.Error().Err(err).Str("component", name).Msg("error stopping component")
		}
	}
}

func metricsMux(services map[string]service.Service) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		rep := health.Aggregate(services)
		if !rep.AllHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
