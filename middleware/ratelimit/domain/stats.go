package domain

import (
	"context"
	"time"
)

// ClientStats é a visão de uso de uma única chave, após a poda das janelas.
type ClientStats struct {
	RequestsThisMinute int
	TokensThisHour     int

	// Totais de vida inteira; nunca diminuem, mesmo com a poda.
	TotalRequests int64
	TotalTokens   int64
}

// Totals agrega os totais de vida inteira de todas as chaves.
type Totals struct {
	TotalClients  int
	TotalRequests int64
	TotalTokens   int64
}

// StatsEvent representa uma decisão de admissão ou uma cobrança de tokens.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas.
//
// Observação: cuidado com cardinalidade (salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis).
type StatsEvent struct {
	Key     Key
	Allowed bool

	// Rule é a regra violada quando negar, ou RuleTokenCharge quando o
	// evento for uma cobrança de tokens (nesse caso Tokens > 0).
	Rule   string
	Tokens int

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, memória, etc.
// Os chamadores devem tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
