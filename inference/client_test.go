package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type fakeConverse struct {
	out   *bedrockruntime.ConverseOutput
	err   error
	calls int
	seen  *bedrockruntime.ConverseInput
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.calls++
	f.seen = in
	return f.out, f.err
}

func converseOutput(text string, in, out int32) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
			},
		},
		Usage: &types.TokenUsage{
			InputTokens:  aws.Int32(in),
			OutputTokens: aws.Int32(out),
			TotalTokens:  aws.Int32(in + out),
		},
	}
}

func TestClient_AnalyzeThought_Success(t *testing.T) {
	fake := &fakeConverse{
		out: converseOutput(`{"action":"DO_IT_NOW","summary":"s","reason":"r","next_step":"n"}`, 40, 25),
	}
	c := newClient(fake)

	res := c.AnalyzeThought(context.Background(), "should I send the email")

	if res.Action != "do_it_now" {
		t.Fatalf("expected do_it_now, got %q", res.Action)
	}
	if res.TokensUsed != 65 {
		t.Fatalf("expected TokensUsed=65, got %d", res.TokensUsed)
	}
	if fake.calls != 1 {
		t.Fatalf("expected exactly one Converse call, got %d", fake.calls)
	}
	if got := aws.ToString(fake.seen.ModelId); got != DefaultModelID {
		t.Fatalf("expected model %q, got %q", DefaultModelID, got)
	}
	if got := aws.ToInt32(fake.seen.InferenceConfig.MaxTokens); got != maxOutputTokens {
		t.Fatalf("expected maxTokens=%d, got %d", maxOutputTokens, got)
	}
}

func TestClient_AnalyzeThought_RemoteErrorFallsBack(t *testing.T) {
	fake := &fakeConverse{err: errors.New("throttled by upstream")}
	c := newClient(fake)

	res := c.AnalyzeThought(context.Background(), "anything")

	if res != Fallback() {
		t.Fatalf("expected the fixed fallback, got %+v", res)
	}
	if res.TokensUsed != 0 {
		t.Fatalf("expected TokensUsed=0 on failure, got %d", res.TokensUsed)
	}
}

func TestClient_AnalyzeThought_UnparseableOutputFallsBack(t *testing.T) {
	fake := &fakeConverse{out: converseOutput("no json here at all", 40, 25)}
	c := newClient(fake)

	res := c.AnalyzeThought(context.Background(), "anything")

	// tokens foram gastos, mas saída imprestável não cobra o cliente
	if res != Fallback() {
		t.Fatalf("expected the fixed fallback, got %+v", res)
	}
}

func TestClient_AnalyzeThought_FallbackMatchesSuccessShape(t *testing.T) {
	failing := newClient(&fakeConverse{err: errors.New("down")})
	working := newClient(&fakeConverse{
		out: converseOutput(`{"action":"LET_IT_GO","summary":"s","reason":"r","next_step":"n"}`, 10, 10),
	})

	a := failing.AnalyzeThought(context.Background(), "x")
	b := working.AnalyzeThought(context.Background(), "x")

	// mesmos campos preenchidos nos dois casos: o chamador não distingue
	if a.Action == "" || a.Title == "" || a.Emoji == "" {
		t.Fatalf("fallback missing display fields: %+v", a)
	}
	if b.Action == "" || b.Title == "" || b.Emoji == "" {
		t.Fatalf("success missing display fields: %+v", b)
	}
}

func TestClient_AnalyzeThought_CanceledContextFallsBack(t *testing.T) {
	fake := &fakeConverse{
		out: converseOutput(`{"action":"DO_IT_NOW"}`, 1, 1),
	}
	c := newClient(fake, WithMaxRPS(0.0001))

	// o throttle de saída respeita o cancelamento do contexto
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if res := c.AnalyzeThought(ctx, "x"); res != Fallback() {
		t.Fatalf("expected fallback on canceled context, got %+v", res)
	}
}
