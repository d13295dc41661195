package application

import (
	"context"
	"fmt"
	"strings"

	"quota-gateway/middleware/ratelimit/domain"
)

// Call descreve uma chamada protegida pelo Guard.
type Call struct {
	// CallerKey identifica quem está chamando (user:..., session:..., ip:...).
	CallerKey domain.Key
	Class     domain.ClassName
	// Fingerprint identifica a operação (ver infra.Fingerprint). Vazio desliga a deduplicação.
	Fingerprint string
	// Shared faz chamadores diferentes dividirem o mesmo resultado.
	// Sem Shared, só chamadas do mesmo CallerKey são agrupadas.
	Shared bool
}

// DedupeKey é a chave usada no Deduper para esta chamada.
func (c Call) DedupeKey() string {
	if c.Shared {
		return "shared:" + string(c.Class) + ":" + c.Fingerprint
	}
	return "caller:" + string(c.Class) + ":" + escapeKeyPart(string(c.CallerKey)) + ":" + c.Fingerprint
}

// Guard junta rate limit e deduplicação na frente de uma operação cara.
//
// Toda chamada passa pelo limiter, inclusive as que acabam reaproveitando
// uma execução em andamento.
type Guard struct {
	Service Service
	Deduper domain.Deduper
}

// Run devolve *domain.TooManyRequestsError quando a cota da classe acabou;
// caso contrário executa fn (direto, ou pelo Deduper quando há fingerprint).
func (g Guard) Run(ctx context.Context, c Call, fn domain.Func) (any, error) {
	dec := g.Service.Decide(c.CallerKey, c.Class)
	if !dec.Allowed {
		return nil, domain.NewTooManyRequests(c.CallerKey, dec)
	}

	if g.Deduper == nil || c.Fingerprint == "" {
		return fn(ctx)
	}
	return g.Deduper.Dedupe(ctx, c.DedupeKey(), fn).Wait(ctx)
}

// Run é a versão tipada de Guard.Run.
func Run[T any](ctx context.Context, g Guard, c Call, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := g.Run(ctx, c, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("guard: call %q returned %T, want %T", c.DedupeKey(), v, zero)
	}
	return t, nil
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, `:`, `\:`)

func escapeKeyPart(s string) string { return keyEscaper.Replace(s) }
