// servidor-burrao é um upstream lento de propósito, para validar o gateway na mão:
// cota por classe, deduplicação e limite de concorrência para /ai/.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	delay := 2 * time.Second
	if v := os.Getenv("SLOW_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			delay = d
		}
	}

	var aiCalls atomic.Int64

	http.HandleFunc("/ai/", func(w http.ResponseWriter, r *http.Request) {
		n := aiCalls.Add(1)
		logger.Info("chamada ao provedor de IA",
			zap.String("path", r.URL.Path),
			zap.String("user", r.Header.Get("X-User-Id")),
			zap.String("request_id", r.Header.Get("X-Request-Id")),
			zap.Int64("total", n))
		time.Sleep(delay)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"call":        n,
			"suggestions": []string{"Definir métrica de sucesso", "Revisar progresso semanal"},
		})
	})

	http.HandleFunc("/goals", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"g1","title":"Aumentar retenção"}]`))
	})

	http.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>"))
		logger.Info("alguém acessou o endpoint /showTela")
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	logger.Info("servidor rodando", zap.String("addr", addr), zap.Duration("delay", delay))
	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.Fatal("erro ao subir o servidor", zap.Error(err))
	}
}
