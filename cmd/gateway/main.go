package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/do"
	"go.uber.org/zap"

	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"
)

func main() {
	// .env é opcional; variáveis já exportadas têm precedência.
	_ = godotenv.Load()

	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg.logLevel, cfg.logDev)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		logger.Fatal("invalid UPSTREAM_URL", zap.Error(err))
	}

	injector := newContainer(cfg, logger)
	d := deps{
		cfg:     cfg,
		logger:  logger,
		store:   do.MustInvoke[*infra.Store](injector),
		deduper: do.MustInvoke[*infra.Deduplicator](injector),
		stats:   do.MustInvoke[domain.StatsStore](injector),
		pool:    do.MustInvoke[domain.SlotPool](injector),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	d.store.StartJanitor(ctx)
	d.deduper.StartJanitor(ctx)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           newRouter(d, newProxy(target, logger)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	classes := make([]zap.Field, 0, len(cfg.classes))
	for name, c := range cfg.classes {
		classes = append(classes, zap.String(string(name), c.String()))
	}
	logger.Info("gateway listening",
		zap.String("addr", cfg.listenAddr),
		zap.String("upstream", target.String()))
	logger.Info("rate", append([]zap.Field{
		zap.Bool("enabled", cfg.rateEnabled),
		zap.Strings("ai_prefixes", cfg.aiPrefixes),
		zap.Strings("light_prefixes", cfg.lightPrefixes),
		zap.String("user_header", cfg.userHeader),
		zap.Bool("trust_xff", cfg.trustXFF),
	}, classes...)...)
	logger.Info("dedupe",
		zap.Bool("enabled", cfg.dedupeEnabled),
		zap.Bool("shared", cfg.dedupeShared),
		zap.Duration("max_age", cfg.dedupeMaxAge),
		zap.Duration("grace", cfg.dedupeGrace))
	logger.Info("provider",
		zap.Int("concurrency_max", cfg.concurrencyMax),
		zap.Duration("acquire_timeout", cfg.concurrencyTimeout),
		zap.Float64("rps", cfg.providerRPS),
		zap.Int("burst", cfg.providerBurst))
	logger.Info("rate-stats",
		zap.Bool("redis", cfg.rateStatsEnabled),
		zap.String("redis_addr", cfg.rateStatsRedisAddr),
		zap.String("bucket", cfg.rateStatsBucket),
		zap.Duration("ttl", cfg.rateStatsTTL))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", zap.Error(err))
	}

	if err := injector.Shutdown(); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
