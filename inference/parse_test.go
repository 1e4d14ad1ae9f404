package inference

import (
	"testing"
)

func TestParseActionResponse_IgnoresSurroundingCommentary(t *testing.T) {
	res, err := parseActionResponse(`blah {"action":"do it now","summary":"s","reason":"r","next_step":"n"} trailing`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != "do_it_now" {
		t.Fatalf("expected action do_it_now, got %q", res.Action)
	}
	if res.Emoji != "✅" || res.Title != "Do it now" {
		t.Fatalf("expected display for DO_IT_NOW, got %q %q", res.Emoji, res.Title)
	}
	if res.Summary != "s" || res.Reason != "r" || res.NextStep != "n" {
		t.Fatalf("expected fields passed through, got %+v", res)
	}
}

func TestParseActionResponse_UnknownActionDefaultsToLetItGo(t *testing.T) {
	res, err := parseActionResponse(`{"action":"panic","summary":"s"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != "let_it_go" {
		t.Fatalf("expected conservative default, got %q", res.Action)
	}
	if res.Title != "Let it go" {
		t.Fatalf("expected Let it go title, got %q", res.Title)
	}
}

func TestParseActionResponse_MissingFieldsBecomeEmpty(t *testing.T) {
	res, err := parseActionResponse(`{"action":"SCHEDULE_IT"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != "schedule_it" {
		t.Fatalf("expected schedule_it, got %q", res.Action)
	}
	if res.Summary != "" || res.Reason != "" || res.NextStep != "" {
		t.Fatalf("expected empty optional fields, got %+v", res)
	}
}

func TestParseActionResponse_NoBracesIsAnError(t *testing.T) {
	if _, err := parseActionResponse("the model rambled with no JSON at all"); err == nil {
		t.Fatalf("expected error for text without JSON")
	}
}

func TestParseActionResponse_InvertedBracesIsAnError(t *testing.T) {
	if _, err := parseActionResponse("} nothing {"); err == nil {
		t.Fatalf("expected error for inverted braces")
	}
}

func TestParseActionResponse_InvalidJSONIsAnError(t *testing.T) {
	if _, err := parseActionResponse(`{"action": not json}`); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestFallback_Shape(t *testing.T) {
	res := Fallback()
	if res.Action != "let_it_go" {
		t.Fatalf("expected let_it_go, got %q", res.Action)
	}
	if res.TokensUsed != 0 {
		t.Fatalf("expected TokensUsed=0, got %d", res.TokensUsed)
	}
	if res.Summary == "" || res.Reason == "" || res.NextStep == "" {
		t.Fatalf("expected the fixed empathetic strings, got %+v", res)
	}
}
