package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"
)

func TestReadConfig_Defaults(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:9000")

	cfg, err := readConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.listenAddr)
	assert.True(t, cfg.rateEnabled)
	assert.Equal(t, infra.DefaultClasses(), cfg.classes)
	assert.Equal(t, []string{"/ai/"}, cfg.aiPrefixes)
	assert.Equal(t, 10*time.Minute, cfg.bucketIdleTTL)
	assert.Equal(t, 5*time.Minute, cfg.bucketCleanupEvery)
	assert.Equal(t, 30*time.Second, cfg.dedupeMaxAge)
	assert.Equal(t, 100*time.Millisecond, cfg.dedupeGrace)
	assert.Equal(t, "X-User-Id", cfg.userHeader)
}

func TestReadConfig_LimitClassesOverrideDefaults(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:9000")
	t.Setenv("LIMIT_CLASSES", "ai:3:3:1m,reports:5:1:1h")
	t.Setenv("AI_PATH_PREFIXES", "/ai/, /v2/ai/")

	cfg, err := readConfig()
	require.NoError(t, err)

	assert.Equal(t, domain.LimitClass{MaxTokens: 3, RefillRate: 3, Window: time.Minute}, cfg.classes[infra.ClassAI])
	assert.Equal(t, domain.LimitClass{MaxTokens: 5, RefillRate: 1, Window: time.Hour}, cfg.classes["reports"])
	assert.Equal(t, 60, cfg.classes[infra.ClassGeneral].MaxTokens)
	assert.Equal(t, []string{"/ai/", "/v2/ai/"}, cfg.aiPrefixes)
}

func TestReadConfig_Errors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing upstream":      {},
		"bad limit classes":     {"UPSTREAM_URL": "http://x", "LIMIT_CLASSES": "ai:0:1:1m"},
		"stats without redis":   {"UPSTREAM_URL": "http://x", "RATE_STATS_ENABLED": "true"},
		"negative concurrency":  {"UPSTREAM_URL": "http://x", "CONCURRENCY_MAX": "-1"},
		"negative provider rps": {"UPSTREAM_URL": "http://x", "PROVIDER_RPS": "-2"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("UPSTREAM_URL", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := readConfig()
			assert.Error(t, err)
		})
	}
}

func TestClassifier(t *testing.T) {
	c := classifier{ai: []string{"/ai/"}, light: []string{"/static/"}}

	for path, want := range map[string]domain.ClassName{
		"/ai/suggest":   infra.ClassAI,
		"/static/a.css": infra.ClassLight,
		"/goals":        infra.ClassGeneral,
	} {
		r := httptest.NewRequest(http.MethodGet, "http://example"+path, nil)
		assert.Equal(t, want, c.classOf(r), path)
	}
}
