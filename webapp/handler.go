// Package webapp liga as pontas por requisição: admissão (feita pelo
// middleware na frente), validação do pensamento, chamada de inferência e a
// cobrança de tokens de volta no razão de uso.
package webapp

import (
	"embed"
	"encoding/json"
	"html/template"
	"log"
	"net/http"
	"strings"
	"time"

	"clarity-gateway/inference"
	"clarity-gateway/middleware/ratelimit"
	"clarity-gateway/middleware/ratelimit/domain"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type Handler struct {
	Usage    domain.UsageStore
	Stats    domain.StatsStore
	Analyzer inference.Analyzer

	// KeyFn deriva a mesma chave de cliente que o middleware de admissão,
	// para a cobrança de tokens cair no razão certo.
	KeyFn ratelimit.KeyFunc
}

func (h *Handler) key(r *http.Request) domain.Key {
	if h.KeyFn == nil {
		return "unknown"
	}
	return domain.Key(h.KeyFn(r))
}

// HandleAnalyze é o fluxo de análise em si. A admissão e a checagem de
// tamanho já aconteceram no middleware; a requisição já foi registrada.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Thought string `json:"thought"`
	}
	// corpo inválido é tratado como pensamento vazio
	_ = json.NewDecoder(r.Body).Decode(&payload)

	thought := strings.TrimSpace(payload.Thought)
	if thought == "" {
		log.Printf("empty thought received")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No thought provided"})
		return
	}

	// a chamada lenta fica fora de qualquer lock do razão de uso
	result := h.Analyzer.AnalyzeThought(r.Context(), thought)

	// fallback reporta zero tokens e não consome orçamento
	if result.TokensUsed > 0 && h.Usage != nil {
		key := h.key(r)
		h.Usage.RecordTokens(key, result.TokensUsed)
		if h.Stats != nil {
			_ = h.Stats.Record(r.Context(), domain.StatsEvent{
				Key:     key,
				Allowed: true,
				Rule:    domain.RuleTokenCharge,
				Tokens:  result.TokensUsed,
				Method:  r.Method,
				Path:    r.URL.Path,
				At:      time.Now(),
			})
		}
	}

	log.Printf("analysis done | action=%s tokens=%d", result.Action, result.TokensUsed)
	writeJSON(w, http.StatusOK, result)
}

// HandleStats expõe o agregado de uso para monitoramento.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if h.Usage == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	totals := h.Usage.Totals()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_clients":  totals.TotalClients,
		"total_requests": totals.TotalRequests,
		"total_tokens":   totals.TotalTokens,
	})
}

func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, nil); err != nil {
		log.Printf("index render error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
