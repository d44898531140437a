package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goCred/store"
)

// RotateFailureKind classifies rotation failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureNotFound
	RotateFailureExpired
	RotateFailureRevoked
	RotateFailureReplay
	RotateFailureNextSecret
	RotateFailureBackend
	RotateFailureIssueAccess
)

// Reasons recorded on revoked refresh tokens.
const (
	ReasonReplay         = "replay detected"
	ReasonRevokedReuse   = "revoked token presented"
	ReasonFamilyExceeded = "family size exceeded"
	ActorSystem          = "system"
)

// RotateResult carries either the successor pair or failure metadata.
type RotateResult struct {
	Failure RotateFailureKind
	Err     error

	// Presented is the consumed (or rejected) record when one was found.
	Presented *store.RefreshToken
	// FamilyRevoked counts tokens revoked as a consequence of this call.
	FamilyRevoked int

	AccessToken      string
	AccessExpiresAt  time.Time
	AccessTokenID    string
	RefreshToken     string
	RefreshExpiresAt time.Time
	// CapRevoked counts old family members revoked by the family size cap.
	CapRevoked int
}

// RotateStore is the subset of store.RefreshTokenStore rotation needs.
type RotateStore interface {
	GetRefreshToken(ctx context.Context, tokenHash string) (*store.RefreshToken, error)
	ConsumeRefreshToken(ctx context.Context, tokenHash string, successor *store.RefreshToken, now time.Time) (*store.RefreshToken, store.ConsumeOutcome, error)
	ListFamily(ctx context.Context, familyID string) ([]store.RefreshToken, error)
	RevokeFamily(ctx context.Context, familyID string, rev store.Revocation) (int, error)
	RevokeRefreshTokens(ctx context.Context, tokenHashes []string, rev store.Revocation) (int, error)
}

// IssuedAccess is the output of RotateDeps.IssueAccess.
type IssuedAccess struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// RotateDeps captures rotation flow dependencies.
type RotateDeps struct {
	Now           func() time.Time
	HashToken     func(string) (string, error)
	NewToken      func() (token string, hash string, err error)
	NewID         func() string
	IssueAccess   func(subject, name, role string) (IssuedAccess, error)
	RefreshTTL    time.Duration
	MaxFamilySize int
	Warn          func(string, ...any)
	Store         RotateStore
}

// RotateRequest is one presented refresh token plus caller context.
type RotateRequest struct {
	Token     string
	IP        string
	UserAgent string
}

// RunRotate consumes the presented refresh token and issues its successor under the same
// family. A used or revoked token presented again revokes the whole family.
//
// Nothing is written until the successor is fully built: the consume and the successor save
// are a single store call, so a failed rotation leaves the presented token usable.
func RunRotate(ctx context.Context, req RotateRequest, deps RotateDeps) RotateResult {
	hash, err := deps.HashToken(req.Token)
	if err != nil {
		return RotateResult{Failure: RotateFailureNotFound, Err: err}
	}

	now := deps.Now()
	rec, err := deps.Store.GetRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RotateResult{Failure: RotateFailureNotFound}
		}
		return RotateResult{Failure: RotateFailureBackend, Err: err}
	}
	if outcome := Classify(rec, now); outcome != store.ConsumeRotated {
		return rejectPresented(ctx, rec, outcome, now, deps)
	}

	nextToken, nextHash, err := deps.NewToken()
	if err != nil {
		return RotateResult{Failure: RotateFailureNextSecret, Err: err}
	}
	access, err := deps.IssueAccess(rec.UserID, rec.SubjectName, rec.SubjectRole)
	if err != nil {
		return RotateResult{Failure: RotateFailureIssueAccess, Err: err, Presented: rec}
	}

	successor := &store.RefreshToken{
		ID:            deps.NewID(),
		TokenHash:     nextHash,
		AccessTokenID: access.TokenID,
		UserID:        rec.UserID,
		SubjectName:   rec.SubjectName,
		SubjectRole:   rec.SubjectRole,
		FamilyID:      rec.FamilyID,
		CreatedByIP:   req.IP,
		UserAgent:     req.UserAgent,
		CreatedAt:     now,
		ExpiresAt:     now.Add(deps.RefreshTTL),
	}
	consumed, outcome, err := deps.Store.ConsumeRefreshToken(ctx, hash, successor, now)
	if err != nil {
		return RotateResult{Failure: RotateFailureBackend, Err: err, Presented: rec}
	}
	switch outcome {
	case store.ConsumeRotated:
	case store.ConsumeNotFound:
		// Purged between the read and the consume.
		return RotateResult{Failure: RotateFailureNotFound}
	default:
		// Lost a race with a concurrent rotation or revocation.
		return rejectPresented(ctx, consumed, outcome, now, deps)
	}

	res := RotateResult{
		Presented:        consumed,
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		AccessTokenID:    access.TokenID,
		RefreshToken:     nextToken,
		RefreshExpiresAt: successor.ExpiresAt,
	}
	if deps.MaxFamilySize > 0 {
		n, err := EnforceFamilyCap(ctx, rec.FamilyID, deps.MaxFamilySize, now, deps.Store)
		if err != nil && deps.Warn != nil {
			deps.Warn("goCred: family size enforcement failed", "family_id", rec.FamilyID, "error", err)
		}
		res.CapRevoked = n
	}
	return res
}

// Classify reports how a consume of rec at now would resolve. Used wins over revoked: a
// rotated token revoked later (by the family cap, say) is still a replay when presented.
func Classify(rec *store.RefreshToken, now time.Time) store.ConsumeOutcome {
	switch {
	case rec == nil:
		return store.ConsumeNotFound
	case rec.Used:
		return store.ConsumeUsed
	case rec.Revoked:
		return store.ConsumeRevoked
	case !now.Before(rec.ExpiresAt):
		return store.ConsumeExpired
	default:
		return store.ConsumeRotated
	}
}

func rejectPresented(ctx context.Context, rec *store.RefreshToken, outcome store.ConsumeOutcome, now time.Time, deps RotateDeps) RotateResult {
	switch outcome {
	case store.ConsumeExpired:
		return RotateResult{Failure: RotateFailureExpired, Presented: rec}
	case store.ConsumeUsed, store.ConsumeRevoked:
		reason, kind := ReasonRevokedReuse, RotateFailureRevoked
		if outcome == store.ConsumeUsed {
			reason, kind = ReasonReplay, RotateFailureReplay
		}
		n, err := deps.Store.RevokeFamily(ctx, rec.FamilyID, store.Revocation{Reason: reason, Actor: ActorSystem, At: now})
		if err != nil {
			return RotateResult{Failure: RotateFailureBackend, Err: err, Presented: rec}
		}
		return RotateResult{Failure: kind, Presented: rec, FamilyRevoked: n}
	default:
		return RotateResult{Failure: RotateFailureNotFound}
	}
}

// EnforceFamilyCap revokes the oldest unrevoked members of familyID beyond max.
func EnforceFamilyCap(ctx context.Context, familyID string, max int, now time.Time, s RotateStore) (int, error) {
	members, err := s.ListFamily(ctx, familyID)
	if err != nil {
		return 0, err
	}
	var live []string
	for _, m := range members {
		if !m.Revoked {
			live = append(live, m.TokenHash)
		}
	}
	if len(live) <= max {
		return 0, nil
	}
	// ListFamily is oldest first.
	excess := live[:len(live)-max]
	return s.RevokeRefreshTokens(ctx, excess, store.Revocation{Reason: ReasonFamilyExceeded, Actor: ActorSystem, At: now})
}
