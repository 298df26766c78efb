package middleware

import (
	"testing"
	"time"
)

func TestKeyedLimiterBudget(t *testing.T) {
	l := NewKeyedLimiter(1, 2, time.Minute)
	now := time.Now()

	if !l.Allow("client-a", now) || !l.Allow("client-a", now) {
		t.Fatal("burst budget must admit the first requests")
	}
	if l.Allow("client-a", now) {
		t.Fatal("request above the burst budget must be rejected")
	}
	if !l.Allow("client-b", now) {
		t.Fatal("keys must have independent budgets")
	}
	if !l.Allow("client-a", now.Add(time.Second)) {
		t.Fatal("token must refill after the interval")
	}
}

func TestKeyedLimiterInvalidConfigAndEmptyKey(t *testing.T) {
	if NewKeyedLimiter(0, 5, time.Minute) != nil {
		t.Fatal("invalid rps must produce a nil limiter")
	}
	var l *KeyedLimiter
	if !l.Allow("anything", time.Now()) {
		t.Fatal("nil limiter must admit everything")
	}
	l = NewKeyedLimiter(1, 1, time.Minute)
	if !l.Allow("", time.Now()) {
		t.Fatal("empty key must not be limited")
	}
}
