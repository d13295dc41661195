// Package infra contém as implementações concretas dos contratos do pacote domain.
//
//   - Registry: classes de cota fixas (light, ai, general) e o parser de LIMIT_CLASSES
//   - Store: token bucket por (classe, chave) com limpeza de baldes ociosos
//   - Deduplicator: uma execução em andamento por chave, resultado compartilhado
//   - Fingerprint: chave determinística de deduplicação
//   - ChanPool / PacedPool: limite de concorrência e cadência de saída
//   - MemoryStatsStore / RedisStatsStore: contadores de decisão
package infra
