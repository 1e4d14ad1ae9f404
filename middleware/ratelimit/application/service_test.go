package application

import (
	"strings"
	"testing"

	"clarity-gateway/middleware/ratelimit/domain"
)

type fakeUsage struct {
	checkDec  domain.Decision
	admitDec  domain.Decision
	admitted  []domain.Key
	requests  []domain.Key
	tokens    []int
	tokensKey []domain.Key
}

func (f *fakeUsage) Check(domain.Key) domain.Decision { return f.checkDec }

func (f *fakeUsage) Admit(key domain.Key) domain.Decision {
	f.admitted = append(f.admitted, key)
	return f.admitDec
}

func (f *fakeUsage) RecordRequest(key domain.Key) { f.requests = append(f.requests, key) }

func (f *fakeUsage) RecordTokens(key domain.Key, n int) {
	f.tokensKey = append(f.tokensKey, key)
	f.tokens = append(f.tokens, n)
}

func (f *fakeUsage) ClientStats(domain.Key) (domain.ClientStats, bool) {
	return domain.ClientStats{}, false
}

func (f *fakeUsage) Totals() domain.Totals { return domain.Totals{} }

func TestService_Decide_AllowsWhenNoStore(t *testing.T) {
	svc := Service{}
	dec := svc.Decide("k")
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected RetryAfter=0 when allowed, got %s", dec.RetryAfter)
	}
}

func TestService_Admit_DelegatesToStore(t *testing.T) {
	usage := &fakeUsage{admitDec: domain.Decision{Allowed: true}}
	svc := Service{Usage: usage}

	dec := svc.Admit("k")
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if len(usage.admitted) != 1 || usage.admitted[0] != "k" {
		t.Fatalf("expected Admit to reach the store once, got %v", usage.admitted)
	}
}

func TestService_Decide_PropagatesDenial(t *testing.T) {
	usage := &fakeUsage{checkDec: domain.Decision{
		Rule:   domain.RuleRequestsPerMinute,
		Reason: "Too many requests. Please wait 3 seconds.",
	}}
	svc := Service{Usage: usage}

	dec := svc.Decide("k")
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.Rule != domain.RuleRequestsPerMinute {
		t.Fatalf("expected rule %q, got %q", domain.RuleRequestsPerMinute, dec.Rule)
	}
}

func TestService_CheckInput_Boundary(t *testing.T) {
	svc := Service{MaxInputLength: 10}

	if dec := svc.CheckInput(strings.Repeat("a", 10)); !dec.Allowed {
		t.Fatalf("expected input at the limit to be allowed: %q", dec.Reason)
	}

	dec := svc.CheckInput(strings.Repeat("a", 11))
	if dec.Allowed {
		t.Fatalf("expected input over the limit to be blocked")
	}
	if dec.Rule != domain.RuleInputLength {
		t.Fatalf("expected rule %q, got %q", domain.RuleInputLength, dec.Rule)
	}
}

func TestService_CheckInput_CountsRunesNotBytes(t *testing.T) {
	svc := Service{MaxInputLength: 3}

	// 3 caracteres multibyte, mais de 3 bytes
	if dec := svc.CheckInput("ééé"); !dec.Allowed {
		t.Fatalf("expected 3 runes to pass a 3-char limit: %q", dec.Reason)
	}
}

func TestService_CheckInput_DisabledWhenZero(t *testing.T) {
	svc := Service{}
	if dec := svc.CheckInput(strings.Repeat("a", 100000)); !dec.Allowed {
		t.Fatalf("expected no length check when MaxInputLength=0")
	}
}
