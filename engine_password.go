package goCred

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrEthical07/goCred/password"
	"github.com/MrEthical07/goCred/store"
	"go.uber.org/zap"
)

// ScorePassword evaluates candidate against the configured policy.
func (e *Engine) ScorePassword(candidate string) password.Result {
	if e == nil || e.policy == nil {
		return password.Result{}
	}
	return e.policy.Score(candidate)
}

// CheckPasswordHistory reports whether candidate differs from the user's most recent
// Config.Password.HistorySize passwords. It returns false on any match.
func (e *Engine) CheckPasswordHistory(ctx context.Context, userID, candidate string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if e.config.Password.HistorySize == 0 {
		return true, nil
	}
	history, err := e.store.RecentPasswordHistory(ctx, userID, e.config.Password.HistorySize)
	if err != nil {
		return false, e.opFailed("check_password_history", err, zap.String("user_id", userID))
	}
	for _, h := range history {
		match, err := e.passwordHash.Verify(candidate, h.Hash)
		if err != nil {
			// Unparseable entries cannot match; an over-long candidate cannot either.
			e.logger.Warn("skipping unreadable password history entry", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if match {
			return false, nil
		}
	}
	return true, nil
}

// SetPassword validates candidate against the policy and the user's history, hashes it
// with Argon2id and records the hash in the history. The returned hash is for the caller
// to persist on its user record.
func (e *Engine) SetPassword(ctx context.Context, userID, candidate string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	res := e.policy.Score(candidate)
	if !res.IsStrong {
		codes := make([]string, 0, len(res.Violations))
		for _, v := range res.Violations {
			codes = append(codes, v.Code)
		}
		if len(codes) == 0 {
			codes = append(codes, "score_below_threshold")
		}
		return "", fmt.Errorf("%w: %s", ErrPasswordPolicy, strings.Join(codes, ","))
	}

	fresh, err := e.CheckPasswordHistory(ctx, userID, candidate)
	if err != nil {
		return "", err
	}
	if !fresh {
		e.emitSecurity(ctx, EventPasswordReuseAttempt, userID, "", riskPasswordReuse, nil)
		return "", ErrPasswordReuse
	}

	hash, err := e.passwordHash.Hash(candidate)
	if err != nil {
		return "", e.opFailed("set_password", err, zap.String("user_id", userID))
	}

	keep := e.config.Password.HistorySize
	if keep == 0 {
		keep = 1
	}
	if err := e.store.AddPasswordHistory(ctx, &store.PasswordHistoryEntry{
		UserID:    userID,
		Hash:      hash,
		CreatedAt: e.now(),
	}, keep); err != nil {
		return "", e.opFailed("set_password", err, zap.String("user_id", userID))
	}
	return hash, nil
}

// VerifyPassword compares candidate with an encoded hash produced by SetPassword or by a
// legacy bcrypt system. needsRehash is true when the hash should be replaced by calling
// SetPassword with the same candidate.
func (e *Engine) VerifyPassword(candidate, encodedHash string) (match bool, needsRehash bool, err error) {
	if e == nil || e.passwordHash == nil {
		return false, false, ErrEngineNotReady
	}
	match, err = e.passwordHash.Verify(candidate, encodedHash)
	if err != nil {
		return false, false, e.opFailed("verify_password", err)
	}
	if !match {
		return false, false, nil
	}
	needsRehash, err = e.passwordHash.NeedsUpgrade(encodedHash)
	if err != nil {
		return true, false, nil
	}
	return true, needsRehash, nil
}

// GeneratePassword returns a random password that satisfies the configured policy.
func (e *Engine) GeneratePassword(length int) (string, error) {
	if e == nil || e.policy == nil {
		return "", ErrEngineNotReady
	}
	cfg := e.policy.Config()
	if length < cfg.MinLength {
		length = cfg.MinLength
	}
	if length > cfg.MaxLength {
		length = cfg.MaxLength
	}
	for i := 0; i < 8; i++ {
		candidate, err := password.GenerateSecure(length, true)
		if err != nil {
			return "", e.opFailed("generate_password", err)
		}
		// Random output can still contain a run of three; draw again.
		if e.policy.Score(candidate).IsStrong {
			return candidate, nil
		}
	}
	return "", e.opFailed("generate_password", fmt.Errorf("no strong candidate after retries"))
}
