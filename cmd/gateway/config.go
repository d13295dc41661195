package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"
)

type config struct {
	listenAddr  string
	upstreamURL string

	rateEnabled        bool
	classes            map[domain.ClassName]domain.LimitClass
	aiPrefixes         []string
	lightPrefixes      []string
	userHeader         string
	sessionCookie      string
	trustXFF           bool
	addHeaders         bool
	bucketIdleTTL      time.Duration
	bucketCleanupEvery time.Duration

	dedupeEnabled bool
	dedupeShared  bool
	dedupeMaxAge  time.Duration
	dedupeGrace   time.Duration
	dedupeSweep   time.Duration

	concurrencyMax     int
	concurrencyTimeout time.Duration
	providerRPS        float64
	providerBurst      int

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackKeys     bool

	logLevel string
	logDev   bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	// LIMIT_CLASSES sobrescreve (ou acrescenta) classes em cima dos perfis padrão.
	cfg.classes = infra.DefaultClasses()
	overrides, err := infra.ParseClasses(os.Getenv("LIMIT_CLASSES"))
	if err != nil {
		return config{}, fmt.Errorf("LIMIT_CLASSES: %w", err)
	}
	for name, c := range overrides {
		cfg.classes[name] = c
	}
	cfg.aiPrefixes = getenvListDefault("AI_PATH_PREFIXES", []string{"/ai/"})
	cfg.lightPrefixes = getenvListDefault("LIGHT_PATH_PREFIXES", []string{"/static/", "/health"})
	cfg.userHeader = getenvDefault("USER_HEADER", "X-User-Id")
	cfg.sessionCookie = getenvDefault("SESSION_COOKIE", "session_id")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", true)
	cfg.bucketIdleTTL = getenvDurationDefault("BUCKET_IDLE_TTL", 10*time.Minute)
	cfg.bucketCleanupEvery = getenvDurationDefault("BUCKET_CLEANUP_EVERY", 5*time.Minute)

	cfg.dedupeEnabled = getenvBoolDefault("DEDUPE_ENABLED", true)
	cfg.dedupeShared = getenvBoolDefault("DEDUPE_SHARED", false)
	cfg.dedupeMaxAge = getenvDurationDefault("DEDUPE_MAX_AGE", 30*time.Second)
	cfg.dedupeGrace = getenvDurationDefault("DEDUPE_GRACE", 100*time.Millisecond)
	cfg.dedupeSweep = getenvDurationDefault("DEDUPE_SWEEP_EVERY", 30*time.Second)

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)
	cfg.providerRPS = getenvFloatDefault("PROVIDER_RPS", 0)
	cfg.providerBurst = getenvIntDefault("PROVIDER_BURST", 1)

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsRedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", "")
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.rateStatsRedisDB = getenvIntDefault("RATE_STATS_REDIS_DB", 0)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "quota:stats")
	cfg.rateStatsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)

	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.logDev = getenvBoolDefault("LOG_DEV", false)

	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		return config{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.providerRPS < 0 {
		return config{}, errors.New("PROVIDER_RPS must be >= 0")
	}
	if cfg.dedupeMaxAge <= 0 {
		return config{}, errors.New("DEDUPE_MAX_AGE must be > 0")
	}
	if cfg.bucketIdleTTL <= 0 {
		return config{}, errors.New("BUCKET_IDLE_TTL must be > 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvListDefault(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
