package infra

import (
	"context"
	"sync"
	"time"
)

// janitor é a tarefa periódica de limpeza, com start/stop explícitos.
// Atraso ou perda de um tick só adia a liberação de memória.
type janitor struct {
	every time.Duration
	sweep func()

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newJanitor(every time.Duration, sweep func()) *janitor {
	return &janitor{every: every, sweep: sweep}
}

// start é idempotente; every <= 0 desliga a limpeza.
func (j *janitor) start(ctx context.Context) {
	if j.every <= 0 {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	t := time.NewTicker(j.every)
	go func(done chan struct{}) {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				j.sweep()
			}
		}
	}(j.done)
}

// stop encerra a goroutine e espera ela sair.
func (j *janitor) stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
