package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"fmt"
	"math"
	"time"
)

// Key identifica o sujeito limitado (usuário, sessão, IP...).
// O ciclo de vida é do chamador; o limiter só usa o valor opaco.
type Key string

// ClassName é o nome de um perfil de cota (ex: "ai", "general").
type ClassName string

// LimitClass é um perfil de cota imutável, configurado no deploy.
//
// O balde comporta até MaxTokens e recebe RefillRate tokens a cada Window,
// de forma contínua.
type LimitClass struct {
	MaxTokens  int
	RefillRate float64
	Window     time.Duration
}

func (c LimitClass) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max tokens must be > 0, got %d", ErrInvalidClass, c.MaxTokens)
	}
	if c.RefillRate <= 0 || math.IsNaN(c.RefillRate) || math.IsInf(c.RefillRate, 0) {
		return fmt.Errorf("%w: refill rate must be > 0, got %v", ErrInvalidClass, c.RefillRate)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0, got %s", ErrInvalidClass, c.Window)
	}
	return nil
}

func (c LimitClass) String() string {
	return fmt.Sprintf("%d tokens, +%g/%s", c.MaxTokens, c.RefillRate, c.Window)
}

// TokenInterval é o tempo para acumular um token: ceil(windowMs / refillRate) ms.
func (c LimitClass) TokenInterval() time.Duration {
	ms := float64(c.Window) / float64(time.Millisecond)
	return time.Duration(math.Ceil(ms/c.RefillRate)) * time.Millisecond
}

// Limiter decide allow/deny por (key, classe) e expõe a cota restante.
//
// CheckLimit consome um token quando permite; negar não cobra nada.
// RemainingTokens e ResetTime são somente leitura.
type Limiter interface {
	CheckLimit(key Key, class ClassName) bool
	RemainingTokens(key Key, class ClassName) int
	ResetTime(key Key, class ClassName) time.Duration
}

// Snapshot é o resultado de um CheckLimit junto com o estado do balde no
// mesmo instante.
type Snapshot struct {
	Allowed   bool
	Remaining int
	// ResetIn é 0 quando ainda sobra token; senão, o tempo até o próximo.
	ResetIn time.Duration
}

// SnapshotLimiter é implementado por limiters que conseguem decidir e ler o
// balde numa única operação atômica. Quando disponível, é preferido às três
// chamadas separadas de Limiter.
type SnapshotLimiter interface {
	Limiter
	Take(key Key, class ClassName) Snapshot
}

type Decision struct {
	Allowed bool
	Class   ClassName
	// Remaining é a cota inteira que sobrou depois da decisão (0 quando bloqueia).
	Remaining int
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	// ResetAt é o instante estimado em que haverá pelo menos um token.
	ResetAt time.Time
}
