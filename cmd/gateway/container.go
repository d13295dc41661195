package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"

	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"
)

// newContainer registra os componentes do gateway. Tudo é criado sob demanda
// no primeiro Invoke; injector.Shutdown encerra na ordem inversa.
func newContainer(cfg config, logger *zap.Logger) *do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)

	do.Provide(injector, func(i *do.Injector) (*infra.Registry, error) {
		return infra.NewRegistry(cfg.classes, infra.ClassGeneral)
	})

	do.Provide(injector, func(i *do.Injector) (*infra.Store, error) {
		reg, err := do.Invoke[*infra.Registry](i)
		if err != nil {
			return nil, err
		}
		return infra.NewStore(reg,
			infra.WithIdleTTL(cfg.bucketIdleTTL),
			infra.WithCleanupEvery(cfg.bucketCleanupEvery),
			infra.WithLogger(logger.Named("store")),
		), nil
	})

	do.Provide(injector, func(i *do.Injector) (*infra.Deduplicator, error) {
		return infra.NewDeduplicator(
			infra.WithMaxInFlightAge(cfg.dedupeMaxAge),
			infra.WithSettleGrace(cfg.dedupeGrace),
			infra.WithSweepEvery(cfg.dedupeSweep),
			infra.WithDedupeLogger(logger.Named("dedupe")),
		), nil
	})

	do.Provide(injector, func(i *do.Injector) (domain.StatsStore, error) {
		if !cfg.rateStatsEnabled {
			return infra.NewMemoryStatsStore(), nil
		}
		return newRedisStats(cfg)
	})

	do.Provide(injector, func(i *do.Injector) (domain.SlotPool, error) {
		var slots domain.SlotPool
		if cfg.concurrencyMax > 0 {
			slots = infra.NewChanPool(cfg.concurrencyMax)
		}
		return infra.Chain(slots, infra.NewPacedPool(cfg.providerRPS, cfg.providerBurst)), nil
	})

	return injector
}

func newRedisStats(cfg config) (*infra.RedisStatsStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.rateStatsRedisAddr,
		Password: cfg.rateStatsRedisPassword,
		DB:       cfg.rateStatsRedisDB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis stats ping: %w", err)
	}

	return infra.NewRedisStatsStore(
		rdb,
		infra.WithStatsPrefix(cfg.rateStatsPrefix),
		infra.WithStatsTTL(cfg.rateStatsTTL),
		infra.WithStatsBucket(cfg.rateStatsBucket),
		infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
	), nil
}
