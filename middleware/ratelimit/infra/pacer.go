package infra

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"quota-gateway/middleware/ratelimit/domain"
)

// PacedPool espaça as chamadas de saída para o provedor: no máximo rps por
// segundo, com rajada de burst. Não conta quantas estão em andamento; para isso
// combine com ChanPool via Chain.
type PacedPool struct {
	lim *rate.Limiter
}

var _ domain.SlotPool = (*PacedPool)(nil)

// NewPacedPool devolve nil quando rps <= 0 (sem pacing).
func NewPacedPool(rps float64, burst int) *PacedPool {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &PacedPool{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Acquire espera a vez da chamada. Se o prazo de ctx não comporta a espera,
// falha na hora com ErrNoSlot em vez de dormir até o fim.
func (p *PacedPool) Acquire(ctx context.Context) (func(), error) {
	if err := p.lim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNoSlot, err)
	}
	return func() {}, nil
}

// Chain adquire os pools em ordem e devolve um release que solta todos.
// Se algum falhar, os já adquiridos são liberados.
func Chain(pools ...domain.SlotPool) domain.SlotPool {
	var live []domain.SlotPool
	for _, p := range pools {
		if p == nil || isNilPool(p) {
			continue
		}
		live = append(live, p)
	}
	return chain(live)
}

type chain []domain.SlotPool

func (c chain) Acquire(ctx context.Context) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, p := range c {
		release, err := p.Acquire(ctx)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

func isNilPool(p domain.SlotPool) bool {
	switch v := p.(type) {
	case *PacedPool:
		return v == nil
	case *ChanPool:
		return v == nil
	}
	return false
}
