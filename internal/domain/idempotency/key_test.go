package idempotency

import (
	"errors"
	"strings"
	"testing"
)

func TestParseKeyRejectsEmpty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		if _, err := ParseKey(raw); !errors.Is(err, ErrEmptyKey) {
			t.Fatalf("expected ErrEmptyKey for %q, got %v", raw, err)
		}
	}
}

func TestParseKeyRejectsOverlongKey(t *testing.T) {
	raw := strings.Repeat("a", MaxKeyLength+1)
	if _, err := ParseKey(raw); !errors.Is(err, ErrKeyTooLong) {
		t.Fatalf("expected ErrKeyTooLong, got %v", err)
	}
}

func TestParseKeyAcceptsBoundaryLengths(t *testing.T) {
	for _, raw := range []string{"a", strings.Repeat("a", MaxKeyLength)} {
		key, err := ParseKey(raw)
		if err != nil {
			t.Fatalf("expected %q to parse, got %v", raw, err)
		}
		if key.String() != raw {
			t.Fatalf("key must wrap the raw value unchanged: got %q want %q", key.String(), raw)
		}
	}
}

func TestParseKeyDoesNotNormalize(t *testing.T) {
	raw := "  spaced-key  "
	key, err := ParseKey(raw)
	if err != nil {
		t.Fatalf("expected key with surrounding spaces to parse, got %v", err)
	}
	if key.String() != raw {
		t.Fatalf("expected raw value preserved, got %q", key.String())
	}
}

func TestSavedResponseCloneIsIndependent(t *testing.T) {
	original := SavedResponse{
		StatusCode: 303,
		Headers:    []HeaderPair{{Name: "Location", Value: "/admin/newsletters"}},
		Body:       []byte("see other"),
	}
	clone := original.Clone()
	clone.Headers[0].Value = "/elsewhere"
	clone.Body[0] = 'X'
	if original.Headers[0].Value != "/admin/newsletters" {
		t.Fatalf("clone mutated original headers")
	}
	if original.Body[0] != 's' {
		t.Fatalf("clone mutated original body")
	}
}
