package domain

// Camada de domínio do controle de admissão.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

type Key string

// Regras de admissão, usadas em Decision.Rule e em StatsEvent.
const (
	RuleRequestsPerMinute = "requests_per_minute"
	RuleTokensPerHour     = "tokens_per_hour"
	RuleInputLength       = "input_length"

	// RuleTokenCharge não é uma negação: marca um evento de cobrança de
	// tokens após a resposta do modelo.
	RuleTokenCharge = "token_charge"
)

// Decision é o resultado de uma checagem de admissão.
type Decision struct {
	Allowed bool

	// Rule identifica a primeira regra violada quando bloquear.
	Rule string

	// Reason é a mensagem legível retornada ao cliente quando bloquear.
	Reason string

	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação (o orçamento de tokens não tem expiração
	// simples de uma entrada só).
	RetryAfter time.Duration
}

// UsageStore mantém o razão de uso por chave (ex: IP, API key, usuário).
//
// A implementação guarda janelas deslizantes de requisições e de cobranças
// de tokens, além de totais de vida inteira que nunca diminuem.
type UsageStore interface {
	// Check avalia as regras sem registrar nada (além da poda de entradas
	// expiradas). Ordem fixa: taxa de requisições antes do orçamento de
	// tokens; a primeira regra violada vence.
	Check(Key) Decision

	// Admit faz o Check e, se permitido, registra a requisição na mesma
	// seção crítica. Evita sobre-admissão quando duas requisições da mesma
	// chave correm entre a checagem e o registro.
	Admit(Key) Decision

	// RecordRequest registra uma requisição admitida. Deve ser chamado
	// exatamente uma vez por requisição admitida, nunca para negadas.
	RecordRequest(Key)

	// RecordTokens registra a cobrança de tokens reportada pelo modelo.
	// Cobranças de zero tokens não alteram nada.
	RecordTokens(Key, int)

	// ClientStats reporta o uso de uma chave; ok=false se nunca vista.
	ClientStats(Key) (ClientStats, bool)

	// Totals agrega os totais de vida inteira de todas as chaves.
	Totals() Totals
}
