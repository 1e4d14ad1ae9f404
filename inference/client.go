// Package inference fala com o backend de inferência (AWS Bedrock) e
// transforma a saída do modelo em um resultado acionável.
//
// O contrato com o resto do sistema é o Analyzer: ele nunca falha — qualquer
// erro remoto, timeout ou saída imprestável vira o Fallback, com
// TokensUsed=0 para não consumir orçamento de ninguém.
package inference

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"
)

const DefaultModelID = "amazon.nova-micro-v1:0"

const systemPrompt = `You are a mental clarity assistant. Help people stop overthinking.

Analyze their thought and respond with ONE action:
- DO_IT_NOW: urgent, in their control, quick (under 15 mins)
- SCHEDULE_IT: important but needs time, or not urgent
- LET_IT_GO: outside their control, or just anxiety with no actionable step

Respond ONLY with this JSON:
{"action": "DO_IT_NOW|SCHEDULE_IT|LET_IT_GO", "summary": "1-sentence of what they're really saying", "reason": "why this action", "next_step": "one concrete thing to do"}`

// Parâmetros fixos de geração: a resposta é um JSON curto.
const (
	maxOutputTokens = 300
	temperature     = 0.7
)

// Result é a resposta moldada: o fallback tem exatamente a mesma forma de um
// sucesso, então o chamador não precisa de caso especial.
type Result struct {
	Action     string `json:"action"`
	Emoji      string `json:"emoji"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Reason     string `json:"reason"`
	NextStep   string `json:"next_step"`
	TokensUsed int    `json:"tokens_used"`
}

// Analyzer é a capacidade de inferência vista pelo webapp.
type Analyzer interface {
	AnalyzeThought(ctx context.Context, thought string) Result
}

// converseAPI é o recorte do cliente Bedrock que usamos (facilita fakes nos testes).
type converseAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client chama o Bedrock via Converse, com timeout por chamada e um throttle
// de saída do processo inteiro (protege a conta contra estouro de custo,
// independente de quantos clientes estão dentro dos próprios limites).
type Client struct {
	api      converseAPI
	modelID  string
	timeout  time.Duration
	throttle *rate.Limiter

	// totais de sessão, só para observabilidade nos logs
	mu            sync.Mutex
	totalRequests int64
	totalInput    int64
	totalOutput   int64
}

type ClientOption func(*Client)

func WithModelID(id string) ClientOption {
	return func(c *Client) { c.modelID = id }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithMaxRPS limita as chamadas de saída ao backend. 0 desliga o throttle.
func WithMaxRPS(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.throttle = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func NewClient(ctx context.Context, region string, opts ...ClientOption) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	c := newClient(bedrockruntime.NewFromConfig(cfg), opts...)
	log.Printf("bedrock client ready | region=%s model=%s timeout=%s", region, c.modelID, c.timeout)
	return c, nil
}

func newClient(api converseAPI, opts ...ClientOption) *Client {
	c := &Client{
		api:     api,
		modelID: DefaultModelID,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AnalyzeThought implementa Analyzer.
func (c *Client) AnalyzeThought(ctx context.Context, thought string) Result {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			log.Printf("outbound throttle interrupted: %v", err)
			return Fallback()
		}
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := c.api.Converse(callCtx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: thought}},
		}},
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemPrompt},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(maxOutputTokens),
			Temperature: aws.Float32(temperature),
		},
	})
	if err != nil {
		// timeout e erro remoto recebem o mesmo tratamento: fallback
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			log.Printf("bedrock api error | code=%s | %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		} else {
			log.Printf("bedrock call failed: %v", err)
		}
		return Fallback()
	}

	m := metricsFrom(out.Usage, time.Since(start))
	c.recordSession(m)
	m.log()

	res, err := parseActionResponse(outputText(out))
	if err != nil {
		log.Printf("unparseable model output: %v", err)
		return Fallback()
	}
	res.TokensUsed = m.totalTokens
	return res
}

func (c *Client) recordSession(m tokenMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalInput += int64(m.inputTokens)
	c.totalOutput += int64(m.outputTokens)
	log.Printf("session totals | requests=%d in=%d out=%d", c.totalRequests, c.totalInput, c.totalOutput)
}

func outputText(out *bedrockruntime.ConverseOutput) string {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			return t.Value
		}
	}
	return ""
}

type tokenMetrics struct {
	inputTokens  int
	outputTokens int
	totalTokens  int
	latency      time.Duration
}

func metricsFrom(usage *types.TokenUsage, latency time.Duration) tokenMetrics {
	m := tokenMetrics{latency: latency}
	if usage != nil {
		m.inputTokens = int(aws.ToInt32(usage.InputTokens))
		m.outputTokens = int(aws.ToInt32(usage.OutputTokens))
		m.totalTokens = m.inputTokens + m.outputTokens
	}
	return m
}

func (m tokenMetrics) log() {
	log.Printf("token metrics | in=%d out=%d total=%d latency=%dms",
		m.inputTokens, m.outputTokens, m.totalTokens, m.latency.Milliseconds())
	if ms := m.latency.Milliseconds(); ms > 0 && m.outputTokens > 0 {
		log.Printf("output speed | %.1f tok/s", float64(m.outputTokens)/float64(ms)*1000)
	}
}
