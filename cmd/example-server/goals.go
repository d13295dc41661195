package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"quota-gateway/middleware/ratelimit"
	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"
)

// Suggester é o provedor de IA que sugere key results para uma meta.
type Suggester interface {
	Suggest(ctx context.Context, goalID, prompt string) ([]string, error)
}

type slowSuggester struct {
	delay time.Duration
}

func (s slowSuggester) Suggest(ctx context.Context, goalID, prompt string) ([]string, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []string{
		"Definir métrica de sucesso para " + goalID,
		"Revisar progresso semanal: " + strings.TrimSpace(prompt),
	}, nil
}

type goalsAPI struct {
	guard     application.Guard
	suggester Suggester
	keyFn     ratelimit.KeyFunc
	logger    *zap.Logger
}

type suggestRequest struct {
	Prompt string `json:"prompt"`
}

type suggestResponse struct {
	GoalID      string   `json:"goal_id"`
	Suggestions []string `json:"suggestions"`
}

func (a *goalsAPI) routes(r chi.Router, limiter domain.Limiter) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	// listagem: classe general via middleware
	r.With(ratelimit.Middleware(ratelimit.Options{
		Limiter:             limiter,
		Class:               infra.ClassGeneral,
		KeyFn:               a.keyFn,
		AddRateLimitHeaders: true,
		Logger:              a.logger,
	})).Get("/goals", a.listGoals)

	// sugestões: classe ai via Guard, deduplicadas por chamador
	r.Post("/goals/{goalID}/suggestions", a.suggest)
}

func (a *goalsAPI) listGoals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]string{
		{"id": "g1", "title": "Aumentar retenção"},
		{"id": "g2", "title": "Reduzir custo de infraestrutura"},
	})
}

func (a *goalsAPI) suggest(w http.ResponseWriter, r *http.Request) {
	goalID := chi.URLParam(r, "goalID")

	var req suggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	call := application.Call{
		CallerKey:   a.keyFn(r),
		Class:       infra.ClassAI,
		Fingerprint: infra.Fingerprint("suggest", goalID, req.Prompt),
	}
	suggestions, err := application.Run(r.Context(), a.guard, call, func(ctx context.Context) ([]string, error) {
		return a.suggester.Suggest(ctx, goalID, req.Prompt)
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, suggestResponse{GoalID: goalID, Suggestions: suggestions})
}

func (a *goalsAPI) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if tmr, ok := domain.IsTooManyRequests(err); ok {
		ratelimit.WriteTooManyRequests(w, tmr)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	a.logger.Error("suggest failed", zap.String("path", r.URL.Path), zap.Error(err))
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
