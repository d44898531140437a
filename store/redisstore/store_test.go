package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goCred/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(rdb, "test"), mr
}

func makeToken(hash, family string, now time.Time) *store.RefreshToken {
	return &store.RefreshToken{
		ID:            "id-" + hash,
		TokenHash:     hash,
		AccessTokenID: "jti-" + hash,
		UserID:        "user-1",
		FamilyID:      family,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
}

func TestConsumeRefreshTokenOutcomes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveRefreshToken(ctx, makeToken("h1", "fam", now)); err != nil {
		t.Fatalf("SaveRefreshToken failed: %v", err)
	}

	tok, outcome, err := s.ConsumeRefreshToken(ctx, "h1", makeToken("h2", "fam", now), now)
	if err != nil {
		t.Fatalf("ConsumeRefreshToken failed: %v", err)
	}
	if outcome != store.ConsumeRotated {
		t.Fatalf("expected rotated, got %v", outcome)
	}
	if !tok.Used || tok.ReplacedBy != "h2" {
		t.Fatalf("expected used token linked to h2, got %+v", tok)
	}
	next, err := s.GetRefreshToken(ctx, "h2")
	if err != nil || next.AccessTokenID != "jti-h2" || next.Used {
		t.Fatalf("successor not saved with the consume: %+v err=%v", next, err)
	}
	family, err := s.ListFamily(ctx, "fam")
	if err != nil || len(family) != 2 {
		t.Fatalf("expected successor in family index, got %d err=%v", len(family), err)
	}

	_, outcome, err = s.ConsumeRefreshToken(ctx, "h1", makeToken("h3", "fam", now), now)
	if err != nil {
		t.Fatalf("second consume failed: %v", err)
	}
	if outcome != store.ConsumeUsed {
		t.Fatalf("expected used on replay, got %v", outcome)
	}

	_, outcome, err = s.ConsumeRefreshToken(ctx, "missing", makeToken("x", "fam", now), now)
	if err != nil || outcome != store.ConsumeNotFound {
		t.Fatalf("expected not found, got %v %v", outcome, err)
	}

	if err := s.SaveRefreshToken(ctx, makeToken("old", "fam2", now.Add(-2*time.Hour))); err != nil {
		t.Fatalf("SaveRefreshToken failed: %v", err)
	}
	_, outcome, _ = s.ConsumeRefreshToken(ctx, "old", makeToken("x", "fam2", now), now)
	if outcome != store.ConsumeExpired {
		t.Fatalf("expected expired, got %v", outcome)
	}
	if _, err := s.GetRefreshToken(ctx, "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rejected consume must not save the successor, got %v", err)
	}
}

func TestConsumeRefreshTokenIsAllOrNothing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, h := range []string{"cur", "taken"} {
		if err := s.SaveRefreshToken(ctx, makeToken(h, "fam", now)); err != nil {
			t.Fatalf("SaveRefreshToken failed: %v", err)
		}
	}

	if _, _, err := s.ConsumeRefreshToken(ctx, "cur", makeToken("taken", "fam", now), now); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for an existing successor, got %v", err)
	}
	cur, err := s.GetRefreshToken(ctx, "cur")
	if err != nil || cur.Used || cur.ReplacedBy != "" {
		t.Fatalf("failed consume must leave the token unused: %+v err=%v", cur, err)
	}

	if _, outcome, err := s.ConsumeRefreshToken(ctx, "cur", makeToken("fresh", "fam", now), now); err != nil || outcome != store.ConsumeRotated {
		t.Fatalf("retry should rotate, got %v err=%v", outcome, err)
	}
}

func TestConsumeReportsUsedBeforeRevoked(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveRefreshToken(ctx, makeToken("u1", "fam", now)); err != nil {
		t.Fatalf("SaveRefreshToken failed: %v", err)
	}
	if _, _, err := s.ConsumeRefreshToken(ctx, "u1", makeToken("u2", "fam", now), now); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if _, err := s.RevokeRefreshTokens(ctx, []string{"u1"}, store.Revocation{Reason: "capped", Actor: "system", At: now}); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if _, outcome, _ := s.ConsumeRefreshToken(ctx, "u1", makeToken("u3", "fam", now), now); outcome != store.ConsumeUsed {
		t.Fatalf("expected used for a rotated then revoked token, got %v", outcome)
	}
}

func TestConsumeRefreshTokenSingleWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveRefreshToken(ctx, makeToken("race", "fam", now)); err != nil {
		t.Fatalf("SaveRefreshToken failed: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, outcome, err := s.ConsumeRefreshToken(ctx, "race", makeToken("next", "fam", now), now)
			if err != nil {
				t.Errorf("consume failed: %v", err)
				return
			}
			if outcome == store.ConsumeRotated {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestRevokeFamilyMarksEveryToken(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, h := range []string{"a", "b", "c"} {
		if err := s.SaveRefreshToken(ctx, makeToken(h, "fam", now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("SaveRefreshToken failed: %v", err)
		}
	}

	n, err := s.RevokeFamily(ctx, "fam", store.Revocation{Reason: "replay", Actor: "system", At: now})
	if err != nil {
		t.Fatalf("RevokeFamily failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}

	again, err := s.RevokeFamily(ctx, "fam", store.Revocation{Reason: "replay", At: now})
	if err != nil {
		t.Fatalf("RevokeFamily failed: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected idempotent revoke, got %d", again)
	}

	family, err := s.ListFamily(ctx, "fam")
	if err != nil {
		t.Fatalf("ListFamily failed: %v", err)
	}
	if len(family) != 3 || family[0].TokenHash != "a" {
		t.Fatalf("unexpected family order: %+v", family)
	}
	for _, tok := range family {
		if !tok.Revoked || tok.RevokedReason != "replay" {
			t.Fatalf("expected revoked token, got %+v", tok)
		}
	}
}

func TestPurgeRefreshTokensIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveRefreshToken(ctx, makeToken("expired", "f1", now.Add(-3*time.Hour))); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.SaveRefreshToken(ctx, makeToken("live", "f2", now)); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	n, err := s.PurgeRefreshTokens(ctx, now, now.Add(-24*time.Hour), 100)
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}

	n, err = s.PurgeRefreshTokens(ctx, now, now.Add(-24*time.Hour), 100)
	if err != nil {
		t.Fatalf("second purge failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no deletions on second purge, got %d", n)
	}

	if _, err := s.GetRefreshToken(ctx, "live"); err != nil {
		t.Fatalf("live token should survive purge: %v", err)
	}
}

func TestBlacklistLookupAndPurge(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	entry := &store.BlacklistEntry{JTI: "j1", JTIHash: "hj1", ExpiresAt: now.Add(time.Minute), CreatedAt: now}
	if err := s.AddBlacklistEntry(ctx, entry, now); err != nil {
		t.Fatalf("AddBlacklistEntry failed: %v", err)
	}

	ok, err := s.IsBlacklisted(ctx, "hj1", now)
	if err != nil || !ok {
		t.Fatalf("expected blacklisted, got %v %v", ok, err)
	}
	ok, err = s.IsBlacklisted(ctx, "hj1", now.Add(2*time.Minute))
	if err != nil || ok {
		t.Fatalf("expected entry to lapse after expiry, got %v %v", ok, err)
	}

	n, err := s.PurgeBlacklist(ctx, now.Add(2*time.Minute), 10)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d %v", n, err)
	}
	n, err = s.PurgeBlacklist(ctx, now.Add(2*time.Minute), 10)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 purged on second run, got %d %v", n, err)
	}
}

func TestBlacklistTTLFollowsCallerClock(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	// The caller's clock runs a day behind the wall clock.
	now := time.Now().Add(-24 * time.Hour)
	entry := &store.BlacklistEntry{JTI: "j2", JTIHash: "hj2", ExpiresAt: now.Add(15 * time.Minute), CreatedAt: now}
	if err := s.AddBlacklistEntry(ctx, entry, now); err != nil {
		t.Fatalf("AddBlacklistEntry failed: %v", err)
	}
	if ttl := mr.TTL("test:bl:hj2"); ttl != 15*time.Minute {
		t.Fatalf("expected a 15m ttl from the caller clock, got %v", ttl)
	}
	if ok, err := s.IsBlacklisted(ctx, "hj2", now.Add(time.Minute)); err != nil || !ok {
		t.Fatalf("expected blacklisted, got %v %v", ok, err)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	key := &store.APIKey{
		ID:            "k1",
		Prefix:        "gc_abc",
		SecretHash:    "hash",
		Name:          "ci",
		UserID:        "user-1",
		Scopes:        []string{"read-only"},
		AllowedIPs:    []string{"10.0.0.0/8"},
		RateLimitHour: 10,
		RateLimitDay:  100,
		Environment:   "test",
		Active:        true,
		CreatedAt:     now,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	if err := s.CreateAPIKey(ctx, &store.APIKey{ID: "k2", Prefix: "gc_abc"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate prefix, got %v", err)
	}

	got, err := s.GetAPIKeyByPrefix(ctx, "gc_abc")
	if err != nil {
		t.Fatalf("GetAPIKeyByPrefix failed: %v", err)
	}
	if got.ID != "k1" || got.Scopes[0] != "read-only" || got.AllowedIPs[0] != "10.0.0.0/8" || !got.Active {
		t.Fatalf("unexpected key: %+v", got)
	}

	if err := s.TouchAPIKey(ctx, "k1", now); err != nil {
		t.Fatalf("TouchAPIKey failed: %v", err)
	}
	if err := s.TouchAPIKey(ctx, "missing", now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rev := store.Revocation{Reason: "leaked", Actor: "admin", At: now}
	if err := s.UpdateAPIKeyState(ctx, "k1", store.APIKeyStateChange{Revocation: &rev}); err != nil {
		t.Fatalf("UpdateAPIKeyState failed: %v", err)
	}

	got, err = s.GetAPIKeyByID(ctx, "k1")
	if err != nil {
		t.Fatalf("GetAPIKeyByID failed: %v", err)
	}
	if got.UsageCount != 1 || got.LastUsedAt == nil || !got.Revoked || got.Active {
		t.Fatalf("unexpected state after touch+revoke: %+v", got)
	}

	keys, err := s.ListAPIKeys(ctx, "user-1")
	if err != nil || len(keys) != 1 {
		t.Fatalf("expected one key for user, got %d %v", len(keys), err)
	}
}

func TestUsageWindowCounting(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	stamps := []time.Time{now.Add(-2 * time.Hour), now.Add(-30 * time.Minute), now.Add(-time.Minute)}
	for i, ts := range stamps {
		rec := &store.UsageRecord{ID: string(rune('a' + i)), KeyID: "k1", Endpoint: "/x", Timestamp: ts}
		if err := s.RecordUsage(ctx, rec); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}

	n, err := s.CountUsage(ctx, "k1", now.Add(-time.Hour), now)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 in last hour, got %d %v", n, err)
	}
	n, err = s.CountUsage(ctx, "k1", now.Add(-24*time.Hour), now)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 in last day, got %d %v", n, err)
	}

	oldest, err := s.OldestUsage(ctx, "k1", now.Add(-time.Hour), now)
	if err != nil || oldest.UnixMilli() != stamps[1].UnixMilli() {
		t.Fatalf("expected oldest in hour %v, got %v %v", stamps[1], oldest, err)
	}
	if _, err := s.OldestUsage(ctx, "k1", now, now.Add(time.Hour)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an empty window, got %v", err)
	}

	purged, err := s.PurgeUsage(ctx, now.Add(-time.Hour), 10)
	if err != nil || purged != 1 {
		t.Fatalf("expected 1 purged, got %d %v", purged, err)
	}
}

func TestPasswordHistoryPrunes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, h := range []string{"h1", "h2", "h3", "h4"} {
		if err := s.AddPasswordHistory(ctx, &store.PasswordHistoryEntry{UserID: "u", Hash: h, CreatedAt: time.Now()}, 3); err != nil {
			t.Fatalf("AddPasswordHistory failed: %v", err)
		}
	}
	entries, err := s.RecentPasswordHistory(ctx, "u", 10)
	if err != nil {
		t.Fatalf("RecentPasswordHistory failed: %v", err)
	}
	if len(entries) != 3 || entries[0].Hash != "h4" || entries[2].Hash != "h2" {
		t.Fatalf("unexpected history: %+v", entries)
	}
}

func TestLockoutCounterAndPurge(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 1; i <= 3; i++ {
		state, err := s.IncrementFailures(ctx, "u", "1.2.3.4", now, time.Hour)
		if err != nil {
			t.Fatalf("IncrementFailures failed: %v", err)
		}
		if state.Failures != i {
			t.Fatalf("expected %d failures, got %d", i, state.Failures)
		}
	}

	state, err := s.IncrementFailures(ctx, "u", "1.2.3.4", now.Add(2*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("IncrementFailures failed: %v", err)
	}
	if state.Failures != 1 {
		t.Fatalf("expected window restart, got %d", state.Failures)
	}

	until := now.Add(3 * time.Hour)
	if err := s.SetLockedUntil(ctx, "u", until, "threshold"); err != nil {
		t.Fatalf("SetLockedUntil failed: %v", err)
	}
	state, _ = s.GetLockout(ctx, "u")
	if !state.Locked(now) {
		t.Fatal("expected locked state")
	}

	n, err := s.PurgeLockouts(ctx, now, now.Add(24*time.Hour), 10)
	if err != nil || n != 0 {
		t.Fatalf("locked state must not be purged, got %d %v", n, err)
	}

	if err := s.ClearLockout(ctx, "u"); err != nil {
		t.Fatalf("ClearLockout failed: %v", err)
	}
	state, _ = s.GetLockout(ctx, "u")
	if state.Failures != 0 || state.LockedUntil != nil {
		t.Fatalf("expected cleared state, got %+v", state)
	}
}
