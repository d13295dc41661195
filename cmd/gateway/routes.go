package main

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"quota-gateway/middleware/ratelimit"
	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"
	"quota-gateway/middleware/requestid"
)

// classifier escolhe a classe de cota pelo prefixo do path.
type classifier struct {
	ai    []string
	light []string
}

func (c classifier) classOf(r *http.Request) domain.ClassName {
	p := r.URL.Path
	for _, prefix := range c.ai {
		if strings.HasPrefix(p, prefix) {
			return infra.ClassAI
		}
	}
	for _, prefix := range c.light {
		if strings.HasPrefix(p, prefix) {
			return infra.ClassLight
		}
	}
	return infra.ClassGeneral
}

type deps struct {
	cfg     config
	logger  *zap.Logger
	store   *infra.Store
	deduper *infra.Deduplicator
	stats   domain.StatsStore
	pool    domain.SlotPool
}

func newProxy(target *url.URL, logger *zap.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error",
			zap.String("request_id", requestid.FromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}
	return proxy
}

// newRouter monta: request id -> recover -> access log -> cota -> dedupe -> concorrência (só IA) -> proxy.
func newRouter(d deps, upstream http.Handler) http.Handler {
	cls := classifier{ai: d.cfg.aiPrefixes, light: d.cfg.lightPrefixes}
	keyOpts := ratelimit.KeyOptions{
		UserHeader:         d.cfg.userHeader,
		SessionCookie:      d.cfg.sessionCookie,
		TrustXForwardedFor: d.cfg.trustXFF,
	}

	aiUpstream := ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Pool:           d.pool,
		AcquireTimeout: d.cfg.concurrencyTimeout,
		Logger:         d.logger,
	})(upstream)

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cls.classOf(r) == infra.ClassAI {
			aiUpstream.ServeHTTP(w, r)
			return
		}
		upstream.ServeHTTP(w, r)
	})
	if d.cfg.dedupeEnabled {
		h = ratelimit.DedupeMiddleware(ratelimit.DedupeOptions{
			Deduper:    d.deduper,
			Shared:     d.cfg.dedupeShared,
			KeyOptions: keyOpts,
			Logger:     d.logger,
		})(h)
	}
	if d.cfg.rateEnabled {
		h = ratelimit.Middleware(ratelimit.Options{
			Limiter:             d.store,
			ClassFn:             cls.classOf,
			Stats:               d.stats,
			KeyOptions:          keyOpts,
			AddRateLimitHeaders: d.cfg.addHeaders,
			Logger:              d.logger,
		})(h)
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(d.logger))

	r.Get("/_gateway/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/_gateway/stats", statsHandler(d))
	r.Handle("/*", h)
	return r
}

type statsView struct {
	Buckets  int                                 `json:"buckets"`
	InFlight int                                 `json:"in_flight"`
	Total    *infra.Counters                     `json:"total,omitempty"`
	ByClass  map[domain.ClassName]infra.Counters `json:"by_class,omitempty"`
	ByRoute  map[string]infra.Counters           `json:"by_route,omitempty"`
}

// statsHandler expõe o tamanho dos mapas e, com o store em memória, os contadores.
func statsHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		v := statsView{Buckets: d.store.Len(), InFlight: d.deduper.Len()}
		if mem, ok := d.stats.(*infra.MemoryStatsStore); ok {
			total := mem.Total()
			v.Total = &total
			v.ByClass = mem.ByClass()
			v.ByRoute = mem.ByRoute()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}
