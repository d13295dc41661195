package domain

import "context"

// SlotPool representa um recurso com capacidade finita (ex: chamadas simultâneas
// ao provedor de IA, ou uma cadência de saída).
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar. Em caso de
// falha devolve um erro que satisfaz errors.Is(err, ErrNoSlot).
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), err error)
}
