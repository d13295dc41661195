package ratelimit

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/domain"
)

const (
	HeaderRetryAfter = "Retry-After"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderClass      = "X-RateLimit-Class"
)

type Options struct {
	Limiter domain.Limiter
	// Class é a classe de cota das rotas atrás deste middleware.
	Class domain.ClassName
	// ClassFn, se definido, escolhe a classe por request e tem precedência sobre Class.
	ClassFn func(r *http.Request) domain.ClassName

	Stats domain.StatsStore

	KeyFn      KeyFunc
	KeyOptions KeyOptions

	RejectStatus        int
	AddRateLimitHeaders bool

	Logger *zap.Logger
	Now    func() time.Time
}

// Middleware aplica o token bucket da classe a cada request.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyOptions)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	classFn := opts.ClassFn
	if classFn == nil {
		classFn = func(*http.Request) domain.ClassName { return opts.Class }
	}

	svc := application.Service{Limiter: opts.Limiter, Now: opts.Now}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)
			class := classFn(r)

			dec := svc.Decide(key, class)
			if opts.Stats != nil {
				ev := domain.StatsEvent{
					Key:     key,
					Class:   class,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      opts.Now(),
				}
				if err := opts.Stats.Record(r.Context(), ev); err != nil {
					opts.Logger.Warn("ratelimit: stats record failed", zap.Error(err))
				}
			}

			if !dec.Allowed {
				opts.Logger.Debug("ratelimit: request denied",
					zap.String("key", string(key)),
					zap.String("class", string(class)),
					zap.Duration("retry_after", dec.RetryAfter),
					zap.String("path", r.URL.Path))
				writeRejection(w, domain.NewTooManyRequests(key, dec), opts.RejectStatus)
				return
			}

			if opts.AddRateLimitHeaders {
				w.Header().Set(HeaderClass, string(class))
				w.Header().Set(HeaderRemaining, formatInt(dec.Remaining))
				w.Header().Set(HeaderReset, formatUnix(dec.ResetAt))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteTooManyRequests responde 429 com Retry-After, X-RateLimit-Remaining e
// X-RateLimit-Reset. Usado também por handlers que chamam o Guard diretamente.
func WriteTooManyRequests(w http.ResponseWriter, err *domain.TooManyRequestsError) {
	writeRejection(w, err, http.StatusTooManyRequests)
}

func writeRejection(w http.ResponseWriter, err *domain.TooManyRequestsError, status int) {
	h := w.Header()
	h.Set(HeaderRetryAfter, formatSeconds(err.RetryAfter))
	h.Set(HeaderRemaining, "0")
	if !err.ResetAt.IsZero() {
		h.Set(HeaderReset, formatUnix(err.ResetAt))
	}
	if err.Class != "" {
		h.Set(HeaderClass, string(err.Class))
	}
	http.Error(w, http.StatusText(status), status)
}
