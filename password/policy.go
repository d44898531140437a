package password

import (
	"bufio"
	_ "embed"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

//go:embed common_passwords.txt
var commonPasswordsFile string

// Violation codes reported in Result.Violations.
const (
	ViolationTooShort       = "too_short"
	ViolationTooLong        = "too_long"
	ViolationMissingUpper   = "missing_upper"
	ViolationMissingLower   = "missing_lower"
	ViolationMissingDigit   = "missing_digit"
	ViolationMissingSpecial = "missing_special"
	ViolationCommon         = "common_password"
	ViolationSequence       = "sequential_characters"
	ViolationRepeat         = "repeated_characters"
)

// Score weights. The positive weights sum to 100.
const (
	pointsLength      = 25
	pointsLengthBonus = 15
	pointsPerClass    = 10
	pointsNotCommon   = 20
	penaltySequence   = 15
	penaltyRepeat     = 15
	strongThreshold   = 80
)

var keyboardRows = []string{"qwertyuiop", "asdfghjkl", "zxcvbnm", "1234567890"}

// PolicyConfig toggles the individual rules.
type PolicyConfig struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPolicyConfig returns the rule set used when the caller configures nothing.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinLength:      12,
		MaxLength:      128,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// Violation is one failed rule.
type Violation struct {
	Code string `json:"code"`
	// Blocking violations make a password unusable regardless of score.
	Blocking bool   `json:"blocking"`
	Message  string `json:"message"`
}

// Result is the outcome of Policy.Score.
type Result struct {
	Score            int         `json:"score"`
	IsStrong         bool        `json:"is_strong"`
	IsCommonPassword bool        `json:"is_common_password"`
	Violations       []Violation `json:"violations,omitempty"`
}

// Blocked reports whether any blocking violation was found.
func (r Result) Blocked() bool {
	for _, v := range r.Violations {
		if v.Blocking {
			return true
		}
	}
	return false
}

// Policy scores candidate passwords. It is immutable after NewPolicy and safe for
// concurrent use.
type Policy struct {
	cfg  PolicyConfig
	deny map[string]struct{}
}

// NewPolicy validates cfg and builds a policy with the given deny list. Deny list entries
// are matched case-insensitively.
func NewPolicy(cfg PolicyConfig, denyList []string) (*Policy, error) {
	if cfg.MinLength < 1 {
		return nil, errors.New("password min length must be >= 1")
	}
	if cfg.MaxLength < cfg.MinLength {
		return nil, errors.New("password max length must be >= min length")
	}
	deny := make(map[string]struct{}, len(denyList))
	for _, w := range denyList {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			deny[w] = struct{}{}
		}
	}
	return &Policy{cfg: cfg, deny: deny}, nil
}

// CommonPasswords returns a fresh copy of the embedded common-password list.
func CommonPasswords() []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(commonPasswordsFile))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Config returns the policy's rule set.
func (p *Policy) Config() PolicyConfig {
	return p.cfg
}

// Score evaluates candidate. It never fails; every problem is reported as a violation.
func (p *Policy) Score(candidate string) Result {
	var (
		res   Result
		score int
	)
	length := utf8.RuneCountInString(candidate)

	switch {
	case length < p.cfg.MinLength:
		res.Violations = append(res.Violations, Violation{Code: ViolationTooShort, Blocking: true, Message: "password is too short"})
	case length > p.cfg.MaxLength:
		res.Violations = append(res.Violations, Violation{Code: ViolationTooLong, Blocking: true, Message: "password is too long"})
	default:
		score += pointsLength
		score += min(pointsLengthBonus, (length-p.cfg.MinLength)*3)
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsSpace(r):
			hasSpecial = true
		}
	}
	classes := []struct {
		present  bool
		required bool
		code     string
		message  string
	}{
		{hasUpper, p.cfg.RequireUpper, ViolationMissingUpper, "password needs an uppercase letter"},
		{hasLower, p.cfg.RequireLower, ViolationMissingLower, "password needs a lowercase letter"},
		{hasDigit, p.cfg.RequireDigit, ViolationMissingDigit, "password needs a digit"},
		{hasSpecial, p.cfg.RequireSpecial, ViolationMissingSpecial, "password needs a special character"},
	}
	for _, c := range classes {
		if c.present {
			score += pointsPerClass
			continue
		}
		if c.required {
			res.Violations = append(res.Violations, Violation{Code: c.code, Blocking: true, Message: c.message})
		}
	}

	if _, ok := p.deny[strings.ToLower(candidate)]; ok {
		res.IsCommonPassword = true
		res.Violations = append(res.Violations, Violation{Code: ViolationCommon, Blocking: true, Message: "password is too common"})
	} else {
		score += pointsNotCommon
	}

	lower := strings.ToLower(candidate)
	if hasSequence(lower) {
		score -= penaltySequence
		res.Violations = append(res.Violations, Violation{Code: ViolationSequence, Message: "password contains a character sequence"})
	}
	if hasRepeat(candidate) {
		score -= penaltyRepeat
		res.Violations = append(res.Violations, Violation{Code: ViolationRepeat, Message: "password repeats a character three or more times"})
	}

	res.Score = max(0, min(100, score))
	res.IsStrong = res.Score >= strongThreshold && !res.Blocked()
	return res
}

// hasSequence detects runs of three consecutive letters or digits in either direction,
// and three adjacent keys on a keyboard row.
func hasSequence(s string) bool {
	runes := []rune(s)
	for i := 0; i+2 < len(runes); i++ {
		a, b, c := runes[i], runes[i+1], runes[i+2]
		if !sameSequenceClass(a, b, c) {
			continue
		}
		if (b == a+1 && c == b+1) || (b == a-1 && c == b-1) {
			return true
		}
	}
	for _, row := range keyboardRows {
		reversed := reverse(row)
		for i := 0; i+3 <= len(row); i++ {
			if strings.Contains(s, row[i:i+3]) || strings.Contains(s, reversed[i:i+3]) {
				return true
			}
		}
	}
	return false
}

func sameSequenceClass(rs ...rune) bool {
	letters, digits := 0, 0
	for _, r := range rs {
		switch {
		case r >= 'a' && r <= 'z':
			letters++
		case r >= '0' && r <= '9':
			digits++
		}
	}
	return letters == len(rs) || digits == len(rs)
}

func hasRepeat(s string) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if run > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= 3 {
			return true
		}
		prev = r
	}
	return false
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
