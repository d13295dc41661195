package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidClass = errors.New("invalid limit class")
	ErrUnknownClass = errors.New("unknown limit class")
	// ErrNoSlot indica que nenhuma vaga foi obtida antes do timeout/cancelamento.
	ErrNoSlot = errors.New("no slot available")
	// ErrTooManyRequests é o alvo de errors.Is para TooManyRequestsError.
	ErrTooManyRequests = errors.New("too many requests")
)

// TooManyRequestsError é o sinal de "too many requests" devolvido pelo Guard.
// Carrega o necessário para a borda (HTTP) montar Retry-After e afins.
type TooManyRequestsError struct {
	Class      ClassName
	Key        Key
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

func (e *TooManyRequestsError) Error() string {
	return fmt.Sprintf("too many requests for %q (class %s): retry after %s", e.Key, e.Class, e.RetryAfter)
}

func (e *TooManyRequestsError) Is(target error) bool {
	return target == ErrTooManyRequests
}

// NewTooManyRequests monta o erro a partir de uma decisão negada.
func NewTooManyRequests(key Key, dec Decision) *TooManyRequestsError {
	return &TooManyRequestsError{
		Class:      dec.Class,
		Key:        key,
		RetryAfter: dec.RetryAfter,
		Remaining:  0,
		ResetAt:    dec.ResetAt,
	}
}

// IsTooManyRequests devolve o erro tipado, se houver, em qualquer ponto da cadeia.
func IsTooManyRequests(err error) (*TooManyRequestsError, bool) {
	var tmr *TooManyRequestsError
	if errors.As(err, &tmr) {
		return tmr, true
	}
	return nil, false
}
