package ratelimit

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"clarity-gateway/middleware/ratelimit/application"
	"clarity-gateway/middleware/ratelimit/domain"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Usage domain.UsageStore
	Stats domain.StatsStore

	// MaxInputLength limita o campo "thought" do corpo JSON, em caracteres.
	MaxInputLength int

	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	AddRateLimitHeaders bool
}

// maxBodyBytes limita a leitura do corpo no middleware; acima disso a
// checagem de tamanho falha de qualquer jeito.
const maxBodyBytes = 1 << 20

type limitInfo interface {
	RequestsPerMinute() int
	TokensPerHour() int
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware aplica o controle de admissão na frente do handler.
//
// Ordem observável: admissão (429) antes do tamanho de entrada (400), e o
// registro da requisição só acontece quando as duas passam. Internamente a
// checagem e o registro rodam na mesma seção crítica (Admit) para não
// sobre-admitir chaves concorrentes.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}

	svc := application.Service{
		Usage:          opts.Usage,
		MaxInputLength: opts.MaxInputLength,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", key)
				if li, ok := opts.Usage.(limitInfo); ok {
					w.Header().Set("X-RateLimit-Requests-Per-Minute", formatInt(li.RequestsPerMinute()))
					w.Header().Set("X-RateLimit-Tokens-Per-Hour", formatInt(li.TokensPerHour()))
				}
			}

			lengthDec := domain.Decision{Allowed: true}
			if thought, ok := extractThought(r); ok {
				lengthDec = svc.CheckInput(thought)
			}

			// entrada inválida não é cobrada: nesse caso só checa, sem registrar.
			var dec domain.Decision
			if lengthDec.Allowed {
				dec = svc.Admit(domain.Key(key))
			} else {
				dec = svc.Decide(domain.Key(key))
			}

			if opts.Stats != nil {
				ev := domain.StatsEvent{
					Key:     domain.Key(key),
					Allowed: dec.Allowed && lengthDec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				}
				if !dec.Allowed {
					ev.Rule = dec.Rule
				} else if !lengthDec.Allowed {
					ev.Rule = lengthDec.Rule
				}
				_ = opts.Stats.Record(r.Context(), ev)
			}

			if !dec.Allowed {
				log.Printf("admission denied | key=%s | rule=%s", key, dec.Rule)
				if dec.RetryAfter > 0 {
					w.Header().Set("Retry-After", formatInt(int(dec.RetryAfter.Seconds())))
				}
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":        dec.Reason,
					"rate_limited": true,
				})
				return
			}

			if !lengthDec.Allowed {
				log.Printf("input rejected | key=%s | rule=%s", key, lengthDec.Rule)
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": lengthDec.Reason,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractThought lê o campo "thought" de um POST JSON e devolve o corpo para
// o próximo handler. Corpo ausente ou inválido vira thought vazio, igual ao
// comportamento de entrada vazia.
func extractThought(r *http.Request) (string, bool) {
	if r.Method != http.MethodPost || r.Body == nil {
		return "", false
	}
	if ct := r.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return "", true
	}

	var payload struct {
		Thought string `json:"thought"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", true
	}
	return payload.Thought, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
