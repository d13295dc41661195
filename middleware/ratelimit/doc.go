// Package ratelimit fornece adapters HTTP (net/http) para cota por classe,
// deduplicação de requests e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, Guard, acquire/timeout) sem net/http
//   - infra: implementações concretas (registry, token bucket, deduplicator, pools, stats)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Resolve o chamador (user:, session:, ip: ou anonymous)
//  2. Consulta a cota da classe da rota (light, ai, general)
//  3. Se bloqueado, responde 429 com Retry-After, X-RateLimit-Remaining e X-RateLimit-Reset
//  4. Requests idênticos em andamento compartilham uma execução (DedupeMiddleware)
//  5. Chamadas ao provedor passam pelo limite de concorrência e pela cadência (503 se não houver vaga)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como LIMIT_CLASSES, CONCURRENCY_MAX, CONCURRENCY_TIMEOUT e PROVIDER_RPS.
package ratelimit
