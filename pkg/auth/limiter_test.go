package auth

import "testing"

func TestKeyLimitersExhaustBurst(t *testing.T) {
	ls := newKeyLimiters(SecConfig{RPS: 1, Burst: 2})
	if !ls.Allow("key-a") || !ls.Allow("key-a") {
		t.Fatalf("burst of 2 should admit two requests")
	}
	if ls.Allow("key-a") {
		t.Fatalf("third immediate request should be limited")
	}
	// buckets are per key
	if !ls.Allow("key-b") {
		t.Fatalf("fresh key should have its own bucket")
	}
}

func TestKeyLimitersDefaults(t *testing.T) {
	ls := newKeyLimiters(SecConfig{})
	if ls.rps != defaultRPS || ls.burst != defaultBurst {
		t.Fatalf("defaults = %v/%v, want %v/%v", ls.rps, ls.burst, defaultRPS, defaultBurst)
	}
}
