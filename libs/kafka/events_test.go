package kafka

import "testing"

func TestDeterministicEventIDStable(t *testing.T) {
	a := DeterministicEventID("FundsLocked", "order-1")
	b := DeterministicEventID("FundsLocked", "order-1")
	if a != b {
		t.Fatalf("expected stable id, got %s and %s", a, b)
	}
	if a == DeterministicEventID("FundsReleased", "order-1") {
		t.Fatalf("expected ids to differ by event type")
	}
}

func TestPeekEnvelope(t *testing.T) {
	env, err := PeekEnvelope([]byte(`{"event_id":"e-1","event_type":"OrderCancelled","event_version":1,"order_id":"o-1"}`))
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if env.EventType != "OrderCancelled" {
		t.Fatalf("expected event type, got %q", env.EventType)
	}
	if env.IdempotencyKey() != "e-1" {
		t.Fatalf("expected event id fallback, got %q", env.IdempotencyKey())
	}

	if _, err := PeekEnvelope([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestEnvelopeValidate(t *testing.T) {
	env, err := NewEnvelope("FundsLocked", 1, "corr-1")
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if env.IdempotencyKey() != "corr-1" {
		t.Fatalf("expected correlation id key, got %q", env.IdempotencyKey())
	}
	if _, err := NewEnvelope("", 1, ""); err == nil {
		t.Fatalf("expected missing event type error")
	}
}
