package infra

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"quota-gateway/middleware/ratelimit/domain"
)

// Future é o resultado compartilhado de uma execução deduplicada.
type Future struct {
	key       string
	startedAt time.Time
	done      chan struct{}
	joined    atomic.Int64

	val any
	err error
}

var _ domain.Future = (*Future)(nil)

func newFuture(key string, startedAt time.Time) *Future {
	return &Future{key: key, startedAt: startedAt, done: make(chan struct{})}
}

func (f *Future) Key() string          { return f.key }
func (f *Future) StartedAt() time.Time { return f.startedAt }

// Joined conta quantas chamadas reaproveitaram esta execução (sem contar a primeira).
func (f *Future) Joined() int64 { return f.joined.Load() }

func (f *Future) Done() <-chan struct{} { return f.done }

// Wait devolve o resultado ou ctx.Err() se o chamador desistir antes.
// Desistir não cancela a execução compartilhada.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PanicError é entregue a todos os chamadores quando a operação entra em pânico.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("dedupe: operation panicked: %v", e.Value)
}

// Deduplicator mantém no máximo uma execução em andamento por chave.
//
// Depois de sucesso a entrada fica mais settleGrace no mapa (quem chega nesse
// intervalo recebe o mesmo resultado); depois de erro ela sai antes dos
// chamadores serem liberados, então a próxima chamada tenta de novo.
// Entradas mais velhas que maxAge são esquecidas (não canceladas).
type Deduplicator struct {
	mu      sync.Mutex
	pending map[string]*Future

	maxAge      time.Duration
	settleGrace time.Duration
	sweepEvery  time.Duration
	now         func() time.Time
	logger      *zap.Logger

	janitor *janitor
}

var _ domain.Deduper = (*Deduplicator)(nil)

type DedupeOption func(*Deduplicator)

func WithMaxInFlightAge(d time.Duration) DedupeOption {
	return func(dd *Deduplicator) { dd.maxAge = d }
}

func WithSettleGrace(d time.Duration) DedupeOption {
	return func(dd *Deduplicator) { dd.settleGrace = d }
}

func WithSweepEvery(d time.Duration) DedupeOption {
	return func(dd *Deduplicator) { dd.sweepEvery = d }
}

func WithDedupeClock(now func() time.Time) DedupeOption {
	return func(dd *Deduplicator) { dd.now = now }
}

func WithDedupeLogger(l *zap.Logger) DedupeOption {
	return func(dd *Deduplicator) { dd.logger = l }
}

func NewDeduplicator(opts ...DedupeOption) *Deduplicator {
	d := &Deduplicator{
		pending:     make(map[string]*Future),
		maxAge:      30 * time.Second,
		settleGrace: 100 * time.Millisecond,
		sweepEvery:  30 * time.Second,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.janitor = newJanitor(d.sweepEvery, func() { d.Sweep() })
	return d
}

// Dedupe implementa domain.Deduper.
//
// fn roda em goroutine própria com um contexto que herda os valores de ctx
// mas não o cancelamento.
func (d *Deduplicator) Dedupe(ctx context.Context, key string, fn domain.Func) domain.Future {
	return d.dedupe(ctx, key, fn)
}

func (d *Deduplicator) dedupe(ctx context.Context, key string, fn domain.Func) *Future {
	now := d.now()

	d.mu.Lock()
	if f, ok := d.pending[key]; ok && now.Sub(f.startedAt) < d.maxAge {
		f.joined.Add(1)
		d.mu.Unlock()
		d.logger.Debug("dedupe: joined in-flight operation",
			zap.String("key", key),
			zap.Int64("joined", f.Joined()))
		return f
	}
	f := newFuture(key, now)
	d.pending[key] = f
	d.mu.Unlock()

	go d.run(context.WithoutCancel(ctx), f, fn)
	return f
}

func (d *Deduplicator) run(ctx context.Context, f *Future, fn domain.Func) {
	val, err := call(ctx, fn)
	if err != nil {
		d.forget(f)
		f.err = err
		close(f.done)
		var pe *PanicError
		if errors.As(err, &pe) {
			d.logger.Error("dedupe: operation panicked",
				zap.String("key", f.key),
				zap.Any("panic", pe.Value),
				zap.ByteString("stack", pe.Stack))
		}
		return
	}

	f.val = val
	close(f.done)
	if d.settleGrace <= 0 {
		d.forget(f)
		return
	}
	time.AfterFunc(d.settleGrace, func() { d.forget(f) })
}

func call(ctx context.Context, fn domain.Func) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// forget só remove se a entrada ainda for a mesma (a chave pode ter sido
// reaproveitada depois de um Sweep).
func (d *Deduplicator) forget(f *Future) {
	d.mu.Lock()
	if cur, ok := d.pending[f.key]; ok && cur == f {
		delete(d.pending, f.key)
	}
	d.mu.Unlock()
}

// Len devolve o número de entradas no mapa.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Sweep esquece entradas com idade >= maxAge, terminadas ou não,
// e devolve quantas saíram.
func (d *Deduplicator) Sweep() int {
	now := d.now()

	d.mu.Lock()
	var stuck []string
	removed := 0
	for key, f := range d.pending {
		if now.Sub(f.startedAt) < d.maxAge {
			continue
		}
		select {
		case <-f.done:
		default:
			stuck = append(stuck, key)
		}
		delete(d.pending, key)
		removed++
	}
	d.mu.Unlock()

	for _, key := range stuck {
		d.logger.Warn("dedupe: forgetting stuck in-flight operation",
			zap.String("key", key),
			zap.Duration("max_age", d.maxAge))
	}
	return removed
}

func (d *Deduplicator) StartJanitor(ctx context.Context) {
	d.janitor.start(ctx)
}

// Shutdown para o janitor. Execuções em andamento continuam até terminar.
func (d *Deduplicator) Shutdown() error {
	d.janitor.stop()
	return nil
}

// Dedupe é a versão tipada: espera o resultado e faz o type assertion.
func Dedupe[T any](ctx context.Context, d domain.Deduper, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	f := d.Dedupe(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	v, err := f.Wait(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("dedupe: key %q holds %T, want %T", key, v, zero)
	}
	return t, nil
}
