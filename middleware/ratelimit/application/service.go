package application

import (
	"fmt"
	"unicode/utf8"

	"clarity-gateway/middleware/ratelimit/domain"
)

// Service concentra as regras de aplicação do controle de admissão.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna decisões.
type Service struct {
	Usage domain.UsageStore

	// MaxInputLength limita o tamanho da entrada em caracteres.
	// Se 0, a checagem de tamanho é desligada.
	MaxInputLength int
}

// Decide avalia as regras de admissão sem registrar a requisição.
func (s Service) Decide(key domain.Key) domain.Decision {
	if s.Usage == nil {
		return domain.Decision{Allowed: true}
	}
	return s.Usage.Check(key)
}

// Admit avalia as regras e, se permitido, registra a requisição de forma
// atômica na mesma chamada.
func (s Service) Admit(key domain.Key) domain.Decision {
	if s.Usage == nil {
		return domain.Decision{Allowed: true}
	}
	return s.Usage.Admit(key)
}

// CheckInput valida o tamanho da entrada. Função pura, independe da chave.
func (s Service) CheckInput(text string) domain.Decision {
	if s.MaxInputLength > 0 && utf8.RuneCountInString(text) > s.MaxInputLength {
		return domain.Decision{
			Rule:   domain.RuleInputLength,
			Reason: fmt.Sprintf("Input too long. Maximum %d characters allowed.", s.MaxInputLength),
		}
	}
	return domain.Decision{Allowed: true}
}
