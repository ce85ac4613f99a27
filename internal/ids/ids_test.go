package ids

import (
	"strings"
	"testing"
)

func TestNewLengthAndAlphabet(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(id) != Length {
		t.Errorf("expected length %d, got %d (%q)", Length, len(id), id)
	}
	for _, r := range id {
		if !strings.ContainsRune(alphabet, r) {
			t.Errorf("id %q contains non-alphabet rune %q", id, r)
		}
	}
}

func TestNewIsNotConstant(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := New()
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q generated within 50 draws", id)
		}
		seen[id] = true
	}
}

func TestRetryRejectsTakenCandidates(t *testing.T) {
	first, err := Retry(func(string) bool { return false })
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}

	calls := 0
	taken := func(candidate string) bool {
		calls++
		if calls == 1 || candidate == first {
			return true // force at least one retry
		}
		return false
	}

	second, err := Retry(taken)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if second == first {
		t.Errorf("Retry returned a candidate reported as taken")
	}
	if calls < 2 {
		t.Errorf("expected Retry to draw again after a taken candidate, got %d call(s)", calls)
	}
}

func TestRetryExhaustion(t *testing.T) {
	_, err := Retry(func(string) bool { return true })
	if err == nil {
		t.Fatal("expected an error when every candidate is reported taken")
	}
}
