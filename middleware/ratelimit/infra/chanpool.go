package infra

import (
	"context"
	"fmt"

	"quota-gateway/middleware/ratelimit/domain"
)

// ChanPool limita chamadas simultâneas usando um channel como semáforo.
type ChanPool struct {
	sem chan struct{}
}

var _ domain.SlotPool = (*ChanPool)(nil)

// NewChanPool cria um pool com capacidade `size` (mínimo 1).
func NewChanPool(size int) *ChanPool {
	if size < 1 {
		size = 1
	}
	return &ChanPool{sem: make(chan struct{}, size)}
}

func (p *ChanPool) Acquire(ctx context.Context) (func(), error) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", domain.ErrNoSlot, ctx.Err())
	}
}

// InUse devolve quantos slots estão ocupados agora.
func (p *ChanPool) InUse() int { return len(p.sem) }

func (p *ChanPool) Cap() int { return cap(p.sem) }
