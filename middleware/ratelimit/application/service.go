package application

import (
	"time"

	"quota-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Limiter domain.Limiter
	// Now é a fonte de tempo para ResetAt (padrão time.Now).
	Now func() time.Time
}

// Decide consome (ou não) um token de key na classe e descreve o resultado.
func (s Service) Decide(key domain.Key, class domain.ClassName) domain.Decision {
	if s.Limiter == nil {
		return domain.Decision{Allowed: true, Class: class}
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	if sl, ok := s.Limiter.(domain.SnapshotLimiter); ok {
		snap := sl.Take(key, class)
		dec := domain.Decision{
			Allowed:   snap.Allowed,
			Class:     class,
			Remaining: snap.Remaining,
			ResetAt:   now().Add(snap.ResetIn),
		}
		if !snap.Allowed {
			dec.RetryAfter = snap.ResetIn
		}
		return dec
	}

	allowed := s.Limiter.CheckLimit(key, class)
	reset := s.Limiter.ResetTime(key, class)
	dec := domain.Decision{
		Allowed: allowed,
		Class:   class,
		ResetAt: now().Add(reset),
	}
	if allowed {
		dec.Remaining = s.Limiter.RemainingTokens(key, class)
		return dec
	}
	dec.RetryAfter = reset
	return dec
}

// Remaining é a consulta sem efeito colateral, para headers informativos.
func (s Service) Remaining(key domain.Key, class domain.ClassName) int {
	if s.Limiter == nil {
		return 0
	}
	return s.Limiter.RemainingTokens(key, class)
}
