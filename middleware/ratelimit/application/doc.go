// Package application contém os casos de uso do rate limit, da deduplicação
// e do limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(key, class) retorna uma Decision (allow/deny + retry-after)
// e Guard.Run protege uma operação cara com cota e deduplicação.
package application
