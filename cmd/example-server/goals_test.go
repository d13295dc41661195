package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quota-gateway/middleware/ratelimit"
	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"
)

type countingSuggester struct {
	calls atomic.Int32
	delay time.Duration
}

func (s *countingSuggester) Suggest(ctx context.Context, goalID, prompt string) ([]string, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return []string{goalID + ":" + prompt}, nil
}

func newTestAPI(t *testing.T, aiTokens int, sugg Suggester) http.Handler {
	t.Helper()
	classes := infra.DefaultClasses()
	classes[infra.ClassAI] = domain.LimitClass{MaxTokens: aiTokens, RefillRate: float64(aiTokens), Window: time.Minute}
	reg, err := infra.NewRegistry(classes, infra.ClassGeneral)
	require.NoError(t, err)

	store := infra.NewStore(reg, infra.WithCleanupEvery(0))
	app := &goalsAPI{
		guard: application.Guard{
			Service: application.Service{Limiter: store},
			Deduper: infra.NewDeduplicator(infra.WithSettleGrace(time.Minute)),
		},
		suggester: sugg,
		keyFn:     ratelimit.DefaultKeyFunc(ratelimit.KeyOptions{UserHeader: "X-User-Id"}),
		logger:    zap.NewNop(),
	}
	r := chi.NewRouter()
	app.routes(r, store)
	return r
}

func postSuggest(h http.Handler, user, prompt string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "http://example/goals/g1/suggestions", strings.NewReader(`{"prompt":"`+prompt+`"}`))
	r.Header.Set("X-User-Id", user)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestSuggest_QuotaExhaustedReturns429(t *testing.T) {
	sugg := &countingSuggester{}
	h := newTestAPI(t, 2, sugg)

	assert.Equal(t, http.StatusOK, postSuggest(h, "u1", "a").Code)
	assert.Equal(t, http.StatusOK, postSuggest(h, "u1", "b").Code)

	w := postSuggest(h, "u1", "c")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.EqualValues(t, 2, sugg.calls.Load())
}

func TestSuggest_ConcurrentIdenticalCallsHitProviderOnce(t *testing.T) {
	sugg := &countingSuggester{delay: 50 * time.Millisecond}
	h := newTestAPI(t, 10, sugg)

	var wg sync.WaitGroup
	codes := make([]int, 3)
	bodies := make([]string, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := postSuggest(h, "u1", "grow")
			codes[i], bodies[i] = w.Code, w.Body.String()
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, sugg.calls.Load())
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, codes[i])
		assert.JSONEq(t, `{"goal_id":"g1","suggestions":["g1:grow"]}`, bodies[i])
	}
}

func TestSuggest_InvalidBody(t *testing.T) {
	h := newTestAPI(t, 2, &countingSuggester{})

	r := httptest.NewRequest(http.MethodPost, "http://example/goals/g1/suggestions", strings.NewReader("{"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListGoals_UsesGeneralClass(t *testing.T) {
	h := newTestAPI(t, 2, &countingSuggester{})

	r := httptest.NewRequest(http.MethodGet, "http://example/goals", nil)
	r.Header.Set("X-User-Id", "u1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "general", w.Header().Get(ratelimit.HeaderClass))
	assert.Equal(t, "59", w.Header().Get(ratelimit.HeaderRemaining))
}
