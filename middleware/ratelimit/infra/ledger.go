package infra

import (
	"fmt"
	"sync"
	"time"

	"clarity-gateway/middleware/ratelimit/domain"
)

// Ledger é o razão de uso em memória: por chave, mantém uma janela
// deslizante de requisições (60s), uma de cobranças de tokens (1h) e totais
// de vida inteira que nunca diminuem.
//
// Todas as leituras e mutações acontecem sob um único mutex do processo.
// As seções críticas são curtas (varreduras e appends em memória); nenhuma
// chamada bloqueante roda com o lock — a chamada de inferência fica
// inteiramente fora dele.
//
// Entradas por chave nunca são removidas (viver até o restart é aceitável:
// as janelas se podam sozinhas, sobram só dois contadores por chave).
type Ledger struct {
	mu      sync.Mutex
	clients map[string]*clientUsage

	requestsPerMinute int
	tokensPerHour     int

	requestWindow time.Duration
	tokenWindow   time.Duration

	now func() time.Time

	janitorEvery time.Duration
}

type tokenCharge struct {
	at     time.Time
	tokens int
}

type clientUsage struct {
	requestTimes []time.Time
	tokenCharges []tokenCharge

	totalRequests int64
	totalTokens   int64
}

type LedgerOption func(*Ledger)

// WithClock troca a fonte de tempo (testes de expiração de janela).
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

func WithRequestWindow(d time.Duration) LedgerOption {
	return func(l *Ledger) { l.requestWindow = d }
}

func WithTokenWindow(d time.Duration) LedgerOption {
	return func(l *Ledger) { l.tokenWindow = d }
}

func WithJanitorEvery(d time.Duration) LedgerOption {
	return func(l *Ledger) { l.janitorEvery = d }
}

func NewLedger(requestsPerMinute, tokensPerHour int, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		clients:           make(map[string]*clientUsage),
		requestsPerMinute: requestsPerMinute,
		tokensPerHour:     tokensPerHour,
		requestWindow:     time.Minute,
		tokenWindow:       time.Hour,
		now:               time.Now,
		janitorEvery:      2 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) RequestsPerMinute() int { return l.requestsPerMinute }
func (l *Ledger) TokensPerHour() int     { return l.tokensPerHour }

// get implementa o get-or-create; chamar com o lock.
func (l *Ledger) get(key string) *clientUsage {
	u, ok := l.clients[key]
	if !ok {
		u = &clientUsage{}
		l.clients[key] = u
	}
	return u
}

// prune descarta entradas fora das janelas, preservando a ordem; chamar com o lock.
func (u *clientUsage) prune(now time.Time, requestWindow, tokenWindow time.Duration) {
	reqCut := now.Add(-requestWindow)
	keepReq := u.requestTimes[:0]
	for _, ts := range u.requestTimes {
		if ts.After(reqCut) {
			keepReq = append(keepReq, ts)
		}
	}
	u.requestTimes = keepReq

	tokCut := now.Add(-tokenWindow)
	keepTok := u.tokenCharges[:0]
	for _, c := range u.tokenCharges {
		if c.at.After(tokCut) {
			keepTok = append(keepTok, c)
		}
	}
	u.tokenCharges = keepTok
}

// evaluate poda e aplica as regras na ordem fixa: taxa de requisições antes
// do orçamento de tokens. A primeira regra violada vence. Chamar com o lock.
func (l *Ledger) evaluate(u *clientUsage, now time.Time) domain.Decision {
	u.prune(now, l.requestWindow, l.tokenWindow)

	if l.requestsPerMinute > 0 && len(u.requestTimes) >= l.requestsPerMinute {
		// appends são em ordem de tempo, então o mais antigo é o primeiro.
		oldest := u.requestTimes[0]
		wait := int(l.requestWindow.Seconds()-now.Sub(oldest).Seconds()) + 1
		if wait < 1 {
			wait = 1
		}
		return domain.Decision{
			Rule:       domain.RuleRequestsPerMinute,
			Reason:     fmt.Sprintf("Too many requests. Please wait %d seconds.", wait),
			RetryAfter: time.Duration(wait) * time.Second,
		}
	}

	if l.tokensPerHour > 0 {
		sum := 0
		for _, c := range u.tokenCharges {
			sum += c.tokens
		}
		if sum >= l.tokensPerHour {
			return domain.Decision{
				Rule:   domain.RuleTokensPerHour,
				Reason: "Token limit exceeded. Please try again later.",
			}
		}
	}

	return domain.Decision{Allowed: true}
}

// Check implementa domain.UsageStore.
func (l *Ledger) Check(key domain.Key) domain.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evaluate(l.get(string(key)), l.now())
}

// Admit faz a checagem e o registro sob a mesma seção crítica, para que duas
// requisições concorrentes da mesma chave não observem as duas o estado
// pré-registro.
func (l *Ledger) Admit(key domain.Key) domain.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	u := l.get(string(key))
	dec := l.evaluate(u, now)
	if dec.Allowed {
		u.requestTimes = append(u.requestTimes, now)
		u.totalRequests++
	}
	return dec
}

func (l *Ledger) RecordRequest(key domain.Key) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.get(string(key))
	u.requestTimes = append(u.requestTimes, l.now())
	u.totalRequests++
}

func (l *Ledger) RecordTokens(key domain.Key, tokens int) {
	if tokens <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.get(string(key))
	u.tokenCharges = append(u.tokenCharges, tokenCharge{at: l.now(), tokens: tokens})
	u.totalTokens += int64(tokens)
}

// ClientStats reporta o uso de uma chave após a poda; ok=false se a chave
// nunca foi vista (não cria entrada).
func (l *Ledger) ClientStats(key domain.Key) (domain.ClientStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.clients[string(key)]
	if !ok {
		return domain.ClientStats{}, false
	}

	u.prune(l.now(), l.requestWindow, l.tokenWindow)

	sum := 0
	for _, c := range u.tokenCharges {
		sum += c.tokens
	}
	return domain.ClientStats{
		RequestsThisMinute: len(u.requestTimes),
		TokensThisHour:     sum,
		TotalRequests:      u.totalRequests,
		TotalTokens:        u.totalTokens,
	}, true
}

func (l *Ledger) Totals() domain.Totals {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := domain.Totals{TotalClients: len(l.clients)}
	for _, u := range l.clients {
		t.TotalRequests += u.totalRequests
		t.TotalTokens += u.totalTokens
	}
	return t
}

// PruneAll poda as janelas de todas as chaves (clientes ociosos não acessam
// o próprio razão, então a poda por acesso não basta para liberar memória).
// Nunca remove entradas de clientes nem mexe nos totais.
func (l *Ledger) PruneAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, u := range l.clients {
		u.prune(now, l.requestWindow, l.tokenWindow)
	}
}

// StartJanitor inicia uma goroutine que poda janelas periodicamente.
// Pare cancelando o contexto.
func (l *Ledger) StartJanitor(ctx DoneContext) {
	if l.janitorEvery <= 0 {
		return
	}

	t := time.NewTicker(l.janitorEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.PruneAll()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar
// context aqui. (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}
