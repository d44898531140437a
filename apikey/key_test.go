package apikey

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateAndParse(t *testing.T) {
	now := time.Unix(1700000000, 123)
	full, prefix, secret, err := Generate("gc", now)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !strings.HasPrefix(full, "gc_") || full != prefix+"_"+secret {
		t.Fatalf("unexpected key layout %q", full)
	}
	if len(secret) != SecretLen {
		t.Fatalf("unexpected secret length %d", len(secret))
	}

	p, s, err := Parse(full)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if p != prefix || s != secret {
		t.Fatalf("Parse mismatch: %q %q", p, s)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	good, _, _, err := Generate("gc", time.Now())
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	bad := []string{
		"",
		"nounderscore",
		"gc_",
		"_abc",
		"gc_zz_" + strings.Repeat("a", SecretLen),
		"gc_1f_" + strings.Repeat("a", SecretLen-1),
		"gc_1f_" + strings.Repeat("G", SecretLen),
		"GC_1f_" + strings.Repeat("a", SecretLen),
		good + "x",
		"gc_1f_2f_" + strings.Repeat("a", SecretLen),
	}
	for _, in := range bad {
		if _, _, err := Parse(in); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed for %q, got %v", in, err)
		}
	}
}

func TestGenerateRejectsBadTag(t *testing.T) {
	for _, tag := range []string{"", "has_underscore", "UPPER", strings.Repeat("a", 17)} {
		if _, _, _, err := Generate(tag, time.Now()); err == nil {
			t.Fatalf("expected tag %q to be rejected", tag)
		}
	}
}
