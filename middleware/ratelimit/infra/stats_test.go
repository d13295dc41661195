package infra

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quota-gateway/middleware/ratelimit/domain"
)

func TestMemoryStatsStore_Record(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "user:1", Class: ClassAI, Allowed: true, Method: "POST", Path: "/ai/suggest"}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "user:1", Class: ClassAI, Allowed: false, Method: "POST", Path: "/ai/suggest"}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "user:2", Class: ClassGeneral, Allowed: true}))

	assert.Equal(t, Counters{Allowed: 2, Denied: 1}, s.Total())
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, s.ByClass()[ClassAI])
	assert.Equal(t, Counters{Allowed: 1}, s.ByClass()[ClassGeneral])
	assert.Equal(t, map[string]Counters{"POST /ai/suggest": {Allowed: 1, Denied: 1}}, s.ByRoute())
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, s.ByKey()["user:1"])
}

func TestMemoryStatsStore_KeysNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{Key: "user:1", Allowed: true}))
	assert.Empty(t, s.ByKey())
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStatsStore_Record(t *testing.T) {
	mr, rdb := newMiniredisClient(t)
	at := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	s := NewRedisStatsStore(rdb, WithStatsPrefix("qs:"), WithStatsTrackKeys(true), WithStatsTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "user:1", Class: ClassAI, Allowed: true, Method: "POST", Path: "/ai/suggest", At: at}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "user:1", Class: ClassAI, Allowed: false, Method: "POST", Path: "/ai/suggest", At: at}))

	assert.Equal(t, "1", mr.HGet("qs:total", "allowed"))
	assert.Equal(t, "1", mr.HGet("qs:total", "denied"))
	assert.Equal(t, "1", mr.HGet("qs:class", "ai:denied"))
	assert.Equal(t, "1", mr.HGet("qs:route", "POST /ai/suggest:allowed"))
	assert.Equal(t, "1", mr.HGet("qs:minute:202403010905", "allowed"))
	assert.Equal(t, "1", mr.HGet("qs:key:user:1", "denied"))

	assert.Equal(t, time.Hour, mr.TTL("qs:minute:202403010905"))
	assert.Equal(t, time.Duration(0), mr.TTL("qs:total"))
}

func TestRedisStatsStore_NoMinuteBucket(t *testing.T) {
	mr, rdb := newMiniredisClient(t)
	s := NewRedisStatsStore(rdb, WithStatsBucket("none"), WithStatsClock(func() time.Time {
		return time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	}))

	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{Allowed: true}))
	assert.False(t, mr.Exists("quota:stats:minute:202403010905"))
	assert.Equal(t, "1", mr.HGet("quota:stats:total", "allowed"))
}

func TestRedisStatsStore_NilIsNoop(t *testing.T) {
	var s *RedisStatsStore
	assert.NoError(t, s.Record(context.Background(), domain.StatsEvent{}))
	assert.NoError(t, s.Close())
}

func TestRedisStatsStore_ReportsConnectionErrors(t *testing.T) {
	mr, rdb := newMiniredisClient(t)
	s := NewRedisStatsStore(rdb)
	mr.Close()

	assert.Error(t, s.Record(context.Background(), domain.StatsEvent{Allowed: true}))
}
