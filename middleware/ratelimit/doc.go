// Package ratelimit fornece adapters HTTP (net/http) para o controle de
// admissão (taxa de requisições, orçamento de tokens, tamanho de entrada) e
// para o limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, acquire/timeout) sem net/http
//   - infra: implementações concretas (razão de uso, semáforo, stats), detalhes de infraestrutura
//   - ratelimit (este pacote): middlewares HTTP + wiring/extração de chave + tradução para status/headers
//
// Fluxo por requisição:
//
//  1. Extrai a chave do cliente (header/XFF/IP)
//  2. Checa admissão e tamanho de entrada; registra a requisição admitida
//  3. Se bloqueado, responde 429 (admissão) ou 400 (entrada) em JSON
//  4. Se permitido, chama o próximo handler (ex: análise do pensamento)
//
// Variáveis de ambiente do binário server (cmd/server) controlam o
// comportamento, como RATE_REQUESTS_PER_MINUTE, RATE_TOKENS_PER_HOUR,
// RATE_MAX_INPUT_LENGTH e CONCURRENCY_MAX.
package ratelimit
