package password

import (
	"strings"
	"testing"
	"unicode"
)

func newDefaultPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(DefaultPolicyConfig(), CommonPasswords())
	if err != nil {
		t.Fatalf("NewPolicy error: %v", err)
	}
	return p
}

func hasViolation(r Result, code string) bool {
	for _, v := range r.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

func TestScoreCommonPassword(t *testing.T) {
	p := newDefaultPolicy(t)

	res := p.Score("password")
	if res.IsStrong {
		t.Fatalf("expected %q to be weak, got %+v", "password", res)
	}
	if !res.IsCommonPassword {
		t.Fatal("expected IsCommonPassword")
	}
	if !hasViolation(res, ViolationCommon) || !hasViolation(res, ViolationTooShort) {
		t.Fatalf("unexpected violations: %+v", res.Violations)
	}

	if !p.Score("PASSWORD").IsCommonPassword {
		t.Fatal("expected deny list match to be case-insensitive")
	}
}

func TestScoreStrongPassword(t *testing.T) {
	p := newDefaultPolicy(t)

	const candidate = "Tr7#mKq9!wLz2@Vx"
	res := p.Score(candidate)
	if len(candidate) != 16 {
		t.Fatalf("fixture must be 16 chars, got %d", len(candidate))
	}
	if res.Score < 80 || !res.IsStrong {
		t.Fatalf("expected strong password, got %+v", res)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("expected no violations, got %+v", res.Violations)
	}
}

func TestScoreSoftSignalsSubtract(t *testing.T) {
	p := newDefaultPolicy(t)

	clean := p.Score("Tr7#mKq9!wLz2@Vx")
	seq := p.Score("Tr7#mKq9!wLabc@Vx")
	if !hasViolation(seq, ViolationSequence) {
		t.Fatalf("expected sequence violation, got %+v", seq.Violations)
	}
	rep := p.Score("Tr7#mKq9!wLzzz@Vx")
	if !hasViolation(rep, ViolationRepeat) {
		t.Fatalf("expected repeat violation, got %+v", rep.Violations)
	}
	if seq.Score > 100-penaltySequence || rep.Score > 100-penaltyRepeat || clean.Score <= seq.Score {
		t.Fatalf("expected penalties: clean=%d seq=%d rep=%d", clean.Score, seq.Score, rep.Score)
	}
	if seq.Blocked() || rep.Blocked() {
		t.Fatal("soft signals must not block")
	}
}

func TestHasSequence(t *testing.T) {
	cases := map[string]bool{
		"xabcx": true,
		"x321x": true,
		"xcbax": true,
		"qwe":   true,
		"lkj":   true,
		"a1b2":  false,
		"az9":   false,
		"ab9":   false,
	}
	for in, want := range cases {
		if got := hasSequence(in); got != want {
			t.Fatalf("hasSequence(%q)=%v want %v", in, got, want)
		}
	}
}

func TestHasRepeat(t *testing.T) {
	if !hasRepeat("xaaay") {
		t.Fatal("expected run of three to be detected")
	}
	if hasRepeat("aabbaa") {
		t.Fatal("expected runs of two to pass")
	}
}

func TestRequiredClassesBlock(t *testing.T) {
	p := newDefaultPolicy(t)

	res := p.Score("lowercaseonlypass")
	if res.IsStrong {
		t.Fatal("expected missing classes to block")
	}
	for _, code := range []string{ViolationMissingUpper, ViolationMissingDigit, ViolationMissingSpecial} {
		if !hasViolation(res, code) {
			t.Fatalf("expected %s, got %+v", code, res.Violations)
		}
	}

	relaxed, err := NewPolicy(PolicyConfig{MinLength: 8, MaxLength: 64}, nil)
	if err != nil {
		t.Fatalf("NewPolicy error: %v", err)
	}
	if relaxed.Score("lowercaseonlypass").Blocked() {
		t.Fatal("expected toggled-off classes not to block")
	}
}

func TestNewPolicyRejectsBadLengths(t *testing.T) {
	if _, err := NewPolicy(PolicyConfig{MinLength: 0, MaxLength: 10}, nil); err == nil {
		t.Fatal("expected zero min length to fail")
	}
	if _, err := NewPolicy(PolicyConfig{MinLength: 10, MaxLength: 5}, nil); err == nil {
		t.Fatal("expected max < min to fail")
	}
}

func TestGenerateSecure(t *testing.T) {
	for i := 0; i < 50; i++ {
		pw, err := GenerateSecure(16, true)
		if err != nil {
			t.Fatalf("GenerateSecure error: %v", err)
		}
		if len(pw) != 16 {
			t.Fatalf("unexpected length %d", len(pw))
		}
		var upper, lower, digit, special bool
		for _, r := range pw {
			switch {
			case unicode.IsUpper(r):
				upper = true
			case unicode.IsLower(r):
				lower = true
			case unicode.IsDigit(r):
				digit = true
			case strings.ContainsRune(specialChars, r):
				special = true
			}
		}
		if !upper || !lower || !digit || !special {
			t.Fatalf("missing class in %q", pw)
		}
	}

	pw, err := GenerateSecure(3, false)
	if err != nil {
		t.Fatalf("GenerateSecure error: %v", err)
	}
	if strings.ContainsAny(pw, specialChars) {
		t.Fatalf("unexpected special character in %q", pw)
	}

	if _, err := GenerateSecure(3, true); err == nil {
		t.Fatal("expected length below class count to fail")
	}
}
