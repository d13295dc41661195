package domain

import "context"

// Func é a operação protegida. Recebe um contexto que não é cancelado
// quando um chamador individual desiste.
type Func func(ctx context.Context) (any, error)

// Future é o resultado compartilhado de uma operação em andamento.
//
// Wait bloqueia até a operação terminar ou o ctx do chamador encerrar;
// encerrar o ctx não cancela o trabalho compartilhado.
type Future interface {
	Done() <-chan struct{}
	Wait(ctx context.Context) (any, error)
}

// Deduper compartilha uma única execução entre chamadas concorrentes
// com a mesma chave (fingerprint).
type Deduper interface {
	Dedupe(ctx context.Context, key string, fn Func) Future
}
