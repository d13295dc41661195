package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"
)

// HeaderDedupeKey expõe o fingerprint usado (útil para depurar).
const HeaderDedupeKey = "X-Dedupe-Key"

type DedupeOptions struct {
	Deduper domain.Deduper

	// Shared faz chamadores diferentes receberem a mesma resposta.
	// Sem Shared, só requests iguais do mesmo chamador são agrupados.
	Shared     bool
	KeyFn      KeyFunc
	KeyOptions KeyOptions

	// Methods que passam pela deduplicação (padrão GET, HEAD e POST).
	Methods []string
	// MaxBodyBytes acima disso o request segue sem deduplicação (padrão 1 MiB).
	MaxBodyBytes int64
	// AddDedupeHeader devolve o fingerprint em X-Dedupe-Key.
	AddDedupeHeader bool

	Logger *zap.Logger
}

// capturedResponse é o que o handler escreveu, para ser reenviado a cada chamador.
type capturedResponse struct {
	status int
	header http.Header
	body   []byte
}

// responseRecorder grava status, headers e corpo em memória.
type responseRecorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (rr *responseRecorder) Header() http.Header { return rr.header }

func (rr *responseRecorder) WriteHeader(status int) {
	if rr.wroteHeader {
		return
	}
	rr.status = status
	rr.wroteHeader = true
}

func (rr *responseRecorder) Write(p []byte) (int, error) {
	rr.WriteHeader(http.StatusOK)
	return rr.body.Write(p)
}

func (rr *responseRecorder) result() *capturedResponse {
	return &capturedResponse{
		status: rr.status,
		header: rr.header.Clone(),
		body:   bytes.Clone(rr.body.Bytes()),
	}
}

// DedupeMiddleware junta requests idênticos em andamento (método, path, query e
// hash do corpo) numa única execução do próximo handler e devolve a mesma
// resposta a todos.
//
// O handler roda com um contexto que não é cancelado quando o cliente desiste;
// quem desiste apenas para de esperar.
//
// Com Shared, quem chegou depois nunca recebe Set-Cookie de outro chamador, e
// respostas privadas (ver isPrivateResponse) são refeitas para cada um.
func DedupeMiddleware(opts DedupeOptions) func(next http.Handler) http.Handler {
	if opts.Deduper == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if len(opts.Methods) == 0 {
		opts.Methods = []string{http.MethodGet, http.MethodHead, http.MethodPost}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyOptions)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(opts.Methods, r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			body, ok, err := bufferBody(r, opts.MaxBodyBytes)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			parts := []any{r.Method, r.URL.Path, r.URL.RawQuery, infra.HashFingerprint(string(body))}
			if !opts.Shared {
				parts = append([]any{string(opts.KeyFn(r))}, parts...)
			}
			key := "http:" + infra.Fingerprint(parts...)

			var leader atomic.Bool
			fut := opts.Deduper.Dedupe(r.Context(), key, func(ctx context.Context) (any, error) {
				leader.Store(true)
				rr := newResponseRecorder()
				req := r.Clone(ctx)
				req.Body = io.NopCloser(bytes.NewReader(body))
				req.ContentLength = int64(len(body))
				next.ServeHTTP(rr, req)
				return rr.result(), nil
			})

			v, err := fut.Wait(r.Context())
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				opts.Logger.Error("ratelimit: deduplicated handler failed",
					zap.String("dedupe_key", key),
					zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			resp := v.(*capturedResponse)
			joiner := opts.Shared && !leader.Load()
			if joiner && isPrivateResponse(resp.header) {
				r.Body = io.NopCloser(bytes.NewReader(body))
				r.ContentLength = int64(len(body))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			for k, vals := range resp.header {
				if joiner && http.CanonicalHeaderKey(k) == "Set-Cookie" {
					continue
				}
				h[k] = slices.Clone(vals)
			}
			if opts.AddDedupeHeader {
				h.Set(HeaderDedupeKey, key)
			}
			w.WriteHeader(resp.status)
			_, _ = w.Write(resp.body)
		})
	}
}

// isPrivateResponse diz se a resposta pertence a um único chamador: marcada
// como private ou no-store, com Set-Cookie, ou variando por Cookie/Authorization.
func isPrivateResponse(h http.Header) bool {
	if len(h.Values("Set-Cookie")) > 0 {
		return true
	}
	for _, v := range h.Values("Cache-Control") {
		for _, d := range strings.Split(v, ",") {
			d = strings.ToLower(strings.TrimSpace(d))
			if d == "no-store" || d == "private" || strings.HasPrefix(d, "private=") {
				return true
			}
		}
	}
	for _, v := range h.Values("Vary") {
		for _, f := range strings.Split(v, ",") {
			switch http.CanonicalHeaderKey(strings.TrimSpace(f)) {
			case "*", "Cookie", "Authorization":
				return true
			}
		}
	}
	return false
}

// bufferBody lê o corpo inteiro quando cabe em limit. Se não couber, devolve
// ok=false e deixa r.Body intacto para o próximo handler.
func bufferBody(r *http.Request, limit int64) (body []byte, ok bool, err error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true, nil
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(buf)) > limit {
		r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
		return nil, false, nil
	}
	_ = r.Body.Close()
	return buf, true, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
