// Package domain define contratos e tipos de domínio para rate limit,
// deduplicação de requisições e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// Classes de cota (LimitClass), decisões (Decision), o sinal de "too many
// requests" (TooManyRequestsError) e os contratos Limiter, Deduper, SlotPool e
// StatsStore vivem aqui para que application e infra possam ser testados
// isoladamente.
package domain
