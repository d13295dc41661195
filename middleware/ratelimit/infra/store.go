package infra

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"quota-gateway/middleware/ratelimit/domain"
)

// Store é o token bucket em memória, um balde por (classe, chave),
// com limpeza periódica de baldes ociosos.
//
// O mutex cobre o refill-then-consume inteiro, então em qualquer janela
// passam no máximo MaxTokens + refill chamadas, mesmo com goroutines em paralelo.
type Store struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	classes *Registry

	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
	logger       *zap.Logger

	janitor *janitor
}

var _ domain.SnapshotLimiter = (*Store)(nil)

type bucketKey struct {
	class domain.ClassName
	key   domain.Key
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

type StoreOption func(*Store)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.cleanupEvery = d }
}

// WithClock troca a fonte de tempo (usado nos testes).
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

func NewStore(classes *Registry, opts ...StoreOption) *Store {
	if classes == nil {
		classes = DefaultRegistry()
	}
	s := &Store{
		buckets:      make(map[bucketKey]*bucket),
		classes:      classes,
		idleTTL:      10 * time.Minute,
		cleanupEvery: 5 * time.Minute,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.janitor = newJanitor(s.cleanupEvery, func() { s.Cleanup() })
	return s
}

func (s *Store) Classes() *Registry          { return s.classes }
func (s *Store) IdleTTL() time.Duration      { return s.idleTTL }
func (s *Store) CleanupEvery() time.Duration { return s.cleanupEvery }

// CheckLimit implementa domain.Limiter.
func (s *Store) CheckLimit(key domain.Key, class domain.ClassName) bool {
	return s.Take(key, class).Allowed
}

// Take consome um token (se houver) e lê o balde resultante sob o mesmo lock,
// então Remaining e ResetIn sempre descrevem a decisão tomada.
func (s *Store) Take(key domain.Key, class domain.ClassName) domain.Snapshot {
	name, c := s.classes.Resolve(class)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	bk := bucketKey{class: name, key: key}
	b, ok := s.buckets[bk]
	if !ok {
		b = &bucket{tokens: float64(c.MaxTokens), lastRefill: now}
		s.buckets[bk] = b
	}

	tokens := refilled(b, c, now)
	if tokens < 1 {
		// negado não é cobrado: o estado guardado fica como estava.
		return domain.Snapshot{ResetIn: c.TokenInterval()}
	}
	b.tokens = tokens - 1
	b.lastRefill = now

	snap := domain.Snapshot{Allowed: true, Remaining: int(math.Floor(b.tokens))}
	if snap.Remaining < 1 {
		snap.ResetIn = c.TokenInterval()
	}
	return snap
}

// RemainingTokens é somente leitura: calcula o refill mas não grava.
func (s *Store) RemainingTokens(key domain.Key, class domain.ClassName) int {
	name, c := s.classes.Resolve(class)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucketKey{class: name, key: key}]
	if !ok {
		return c.MaxTokens
	}
	return int(math.Floor(refilled(b, c, now)))
}

func (s *Store) ResetTime(key domain.Key, class domain.ClassName) time.Duration {
	if s.RemainingTokens(key, class) >= 1 {
		return 0
	}
	_, c := s.classes.Resolve(class)
	return c.TokenInterval()
}

// Len devolve o número de baldes vivos.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Cleanup remove baldes sem refill há mais de idleTTL e devolve quantos saíram.
// Só remove balde que já estaria cheio, para que recriá-lo cheio não dê cota extra.
func (s *Store) Cleanup() int {
	now := s.now()
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	removed := 0
	for bk, b := range s.buckets {
		if !b.lastRefill.Before(cutoff) {
			continue
		}
		_, c := s.classes.Resolve(bk.class)
		if refilled(b, c, now) < float64(c.MaxTokens) {
			continue
		}
		delete(s.buckets, bk)
		removed++
	}
	remaining := len(s.buckets)
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("ratelimit: idle buckets evicted",
			zap.Int("removed", removed),
			zap.Int("remaining", remaining))
	}
	return removed
}

// StartJanitor inicia uma goroutine que limpa baldes inativos periodicamente.
// Pare com Shutdown ou cancelando o contexto.
func (s *Store) StartJanitor(ctx context.Context) {
	s.janitor.start(ctx)
}

// Shutdown para o janitor. Pode ser chamado mais de uma vez.
func (s *Store) Shutdown() error {
	s.janitor.stop()
	return nil
}

// refilled calcula o saldo em now sem gravar. O clamp é feito aqui (preguiçoso):
// toda leitura passa por ele, então o saldo observado nunca passa de MaxTokens.
func refilled(b *bucket, c domain.LimitClass, now time.Time) float64 {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := b.tokens + float64(elapsed)/float64(c.Window)*c.RefillRate
	if capacity := float64(c.MaxTokens); tokens > capacity {
		tokens = capacity
	}
	return tokens
}
