package payments

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSandboxSuccessSignsReceipt(t *testing.T) {
	a := readyAdapter(t, SandboxLoader(SandboxConfig{Secret: "shh"}))

	outcome, err := a.Await(context.Background(), WidgetOptions{OrderID: "order_abc", Amount: 28600, Currency: "INR"})
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %s", outcome.Kind)
	}
	r := outcome.Receipt
	if r.GatewayOrderID != "order_abc" || !strings.HasPrefix(r.PaymentID, "pay_") {
		t.Fatalf("unexpected receipt %+v", r)
	}
	if want := SignReceipt("shh", "order_abc", r.PaymentID); r.Signature != want {
		t.Fatalf("signature mismatch: got %s want %s", r.Signature, want)
	}
}

func TestSignReceiptBindsInputs(t *testing.T) {
	got := SignReceipt("secret", "order_1", "pay_1")
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	if got == SignReceipt("secret", "order_1", "pay_2") {
		t.Fatalf("signature must depend on the payment id")
	}
	if got == SignReceipt("other", "order_1", "pay_1") {
		t.Fatalf("signature must depend on the secret")
	}
}

func TestSandboxDeciderOutcomes(t *testing.T) {
	failing := func(context.Context, WidgetOptions) SandboxDecision {
		return SandboxDecision{Kind: OutcomeFailure, Failure: GatewayFailure{Description: "Card declined", Reason: "payment_failed"}}
	}
	a := readyAdapter(t, SandboxLoader(SandboxConfig{Secret: "shh", Decider: failing}))
	outcome, err := a.Await(context.Background(), WidgetOptions{OrderID: "order_abc", Amount: 100})
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if outcome.Kind != OutcomeFailure {
		t.Fatalf("expected failure, got %s", outcome.Kind)
	}
	if outcome.Failure.Code != "BAD_REQUEST_ERROR" || !strings.HasPrefix(outcome.Failure.PaymentID, "pay_") {
		t.Fatalf("unexpected failure %+v", outcome.Failure)
	}

	dismissing := func(context.Context, WidgetOptions) SandboxDecision { return SandboxDecision{Kind: OutcomeDismissed} }
	a = readyAdapter(t, SandboxLoader(SandboxConfig{Secret: "shh", Decider: dismissing}))
	outcome, err = a.Await(context.Background(), WidgetOptions{OrderID: "order_abc", Amount: 100})
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if outcome.Kind != OutcomeDismissed {
		t.Fatalf("expected dismissal, got %s", outcome.Kind)
	}
}

func TestSandboxPaymentIDsAreUnique(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := readyAdapter(t, SandboxLoader(SandboxConfig{Secret: "shh", Clock: func() time.Time { return fixed }}))
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		outcome, err := a.Await(context.Background(), WidgetOptions{OrderID: "order_abc", Amount: 100})
		if err != nil {
			t.Fatalf("await: %v", err)
		}
		if seen[outcome.Receipt.PaymentID] {
			t.Fatalf("duplicate payment id %s", outcome.Receipt.PaymentID)
		}
		seen[outcome.Receipt.PaymentID] = true
	}
}

func TestSandboxLoaderValidation(t *testing.T) {
	if _, err := SandboxLoader(SandboxConfig{})(context.Background()); err == nil {
		t.Fatalf("expected missing secret error")
	}
	ctor, err := SandboxLoader(SandboxConfig{Secret: "shh"})(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := ctor(WidgetOptions{Amount: 100}); err == nil {
		t.Fatalf("expected missing order id error")
	}
	if _, err := ctor(WidgetOptions{OrderID: "order_1"}); err == nil {
		t.Fatalf("expected non-positive amount error")
	}
}
