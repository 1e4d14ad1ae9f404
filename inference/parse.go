package inference

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
)

// Ações canônicas com a apresentação de cada uma.
var actionMap = map[string]struct {
	Emoji string
	Title string
}{
	"DO_IT_NOW":   {Emoji: "✅", Title: "Do it now"},
	"SCHEDULE_IT": {Emoji: "🕒", Title: "Schedule it"},
	"LET_IT_GO":   {Emoji: "🗑", Title: "Let it go"},
}

// parseActionResponse extrai o JSON do texto gerado (modelos às vezes
// prefixam/sufixam comentário) e normaliza a ação.
//
// Ação desconhecida não é erro: vira LET_IT_GO, a escolha conservadora.
// summary/reason/next_step ausentes viram string vazia.
func parseActionResponse(text string) (Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return Result{}, errors.New("no JSON object in model output")
	}

	var raw struct {
		Action   string `json:"action"`
		Summary  string `json:"summary"`
		Reason   string `json:"reason"`
		NextStep string `json:"next_step"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return Result{}, err
	}

	action := strings.ReplaceAll(strings.ToUpper(raw.Action), " ", "_")
	display, ok := actionMap[action]
	if !ok {
		log.Printf("unknown action %q, defaulting to LET_IT_GO", action)
		action = "LET_IT_GO"
		display = actionMap[action]
	}

	return Result{
		Action:   strings.ToLower(action),
		Emoji:    display.Emoji,
		Title:    display.Title,
		Summary:  raw.Summary,
		Reason:   raw.Reason,
		NextStep: raw.NextStep,
	}, nil
}

// Fallback é a resposta fixa para qualquer falha de inferência ou de parse.
// Mesma forma de um sucesso; TokensUsed=0 para não consumir orçamento.
func Fallback() Result {
	return Result{
		Action:     "let_it_go",
		Emoji:      "🗑",
		Title:      "Let it go",
		Summary:    "Having trouble analyzing this thought.",
		Reason:     "When in doubt, release it.",
		NextStep:   "Take a breath and try again.",
		TokensUsed: 0,
	}
}
