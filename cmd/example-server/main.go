package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"quota-gateway/middleware/ratelimit"
	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/infra"
	"quota-gateway/middleware/requestid"
)

func main() {
	// Exemplo: usando o Guard direto nos handlers (sem proxy)
	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	store := infra.NewStore(nil, infra.WithLogger(logger.Named("store")))
	deduper := infra.NewDeduplicator(infra.WithDedupeLogger(logger.Named("dedupe")))
	defer func() {
		_ = store.Shutdown()
		_ = deduper.Shutdown()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)
	deduper.StartJanitor(ctx)

	app := &goalsAPI{
		guard: application.Guard{
			Service: application.Service{Limiter: store},
			Deduper: deduper,
		},
		suggester: slowSuggester{delay: 2 * time.Second},
		keyFn:     ratelimit.DefaultKeyFunc(ratelimit.KeyOptions{UserHeader: "X-User-Id", SessionCookie: "session_id"}),
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)
	app.routes(r, store)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", zap.Error(err))
	}
}
