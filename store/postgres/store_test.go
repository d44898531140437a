package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goCred/store"
	"github.com/MrEthical07/goCred/store/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refreshCols = []string{
	"id", "token_hash", "access_token_id", "user_id", "subject_name", "subject_role",
	"family_id", "created_by_ip", "user_agent", "created_at", "expires_at", "used", "used_at", "revoked", "revoked_at",
	"revoked_reason", "revoked_by", "replaced_by",
}

func refreshRow(mock pgxmock.PgxPoolIface, used, revoked bool, now time.Time) *pgxmock.Rows {
	var nilTime *time.Time
	return mock.NewRows(refreshCols).AddRow(
		"rt-1", "hash-1", "jti-1", "user-1", "Ada", "admin", "fam-1", "10.0.0.1",
		"ua", now.Add(-time.Minute), now.Add(time.Hour), used, nilTime, revoked, nilTime,
		"", "", "hash-2",
	)
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func successorToken(hash string, now time.Time) *store.RefreshToken {
	return &store.RefreshToken{
		ID: "rt-2", TokenHash: hash, AccessTokenID: "jti-2", UserID: "user-1",
		SubjectName: "Ada", SubjectRole: "admin", FamilyID: "fam-1",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
}

func TestPostgresStore_ConsumeRefreshToken(t *testing.T) {
	t.Run("Should rotate and save the successor in one transaction", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		s := postgres.New(mock)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE refresh_tokens SET used = \\$1, used_at = \\$2, replaced_by = \\$3 WHERE token_hash = \\$4 AND used = \\$5 AND revoked = \\$6 AND expires_at > \\$7 RETURNING (.+)").
			WithArgs(true, now, "hash-2", "hash-1", false, false, now).
			WillReturnRows(refreshRow(mock, true, false, now))
		mock.ExpectExec("INSERT INTO refresh_tokens").
			WithArgs(append([]any{"rt-2", "hash-2", "jti-2"}, anyArgs(15)...)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		tok, outcome, err := s.ConsumeRefreshToken(context.Background(), "hash-1", successorToken("hash-2", now), now)
		require.NoError(t, err)
		assert.Equal(t, store.ConsumeRotated, outcome)
		assert.Equal(t, "fam-1", tok.FamilyID)
		assert.Equal(t, "hash-2", tok.ReplacedBy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should roll back the consume when the successor insert fails", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		s := postgres.New(mock)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE refresh_tokens").
			WithArgs(anyArgs(7)...).
			WillReturnRows(refreshRow(mock, true, false, now))
		mock.ExpectExec("INSERT INTO refresh_tokens").
			WithArgs(anyArgs(18)...).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		tok, _, err := s.ConsumeRefreshToken(context.Background(), "hash-1", successorToken("hash-2", now), now)
		assert.Nil(t, tok)
		assert.True(t, errors.Is(err, store.ErrUnavailable))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should classify a used token as replay", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		s := postgres.New(mock)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE refresh_tokens").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "hash-1", false, false, pgxmock.AnyArg()).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()
		mock.ExpectQuery("SELECT (.+) FROM refresh_tokens WHERE token_hash = \\$1").
			WithArgs("hash-1").
			WillReturnRows(refreshRow(mock, true, true, now))

		tok, outcome, err := s.ConsumeRefreshToken(context.Background(), "hash-1", successorToken("hash-3", now), now)
		require.NoError(t, err)
		assert.Equal(t, store.ConsumeUsed, outcome)
		assert.Equal(t, "fam-1", tok.FamilyID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should report not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		s := postgres.New(mock)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE refresh_tokens").
			WithArgs(anyArgs(7)...).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()
		mock.ExpectQuery("SELECT (.+) FROM refresh_tokens").
			WithArgs("nope").
			WillReturnError(pgx.ErrNoRows)

		tok, outcome, err := s.ConsumeRefreshToken(context.Background(), "nope", successorToken("x", time.Now()), time.Now())
		require.NoError(t, err)
		assert.Nil(t, tok)
		assert.Equal(t, store.ConsumeNotFound, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_RevokeFamily(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := postgres.New(mock)
	at := time.Now()

	mock.ExpectExec("UPDATE refresh_tokens SET revoked = \\$1, revoked_at = \\$2, revoked_reason = \\$3, revoked_by = \\$4 WHERE family_id = \\$5 AND revoked = \\$6").
		WithArgs(true, at, "replay detected", "system", "fam-1", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.RevokeFamily(context.Background(), "fam-1", store.Revocation{Reason: "replay detected", Actor: "system", At: at})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAPIKeyConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := postgres.New(mock)

	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs(append([]any{"k1", "gc_1"}, anyArgs(19)...)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = s.CreateAPIKey(context.Background(), &store.APIKey{ID: "k1", Prefix: "gc_1", CreatedAt: time.Now()})
	assert.True(t, errors.Is(err, store.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAPIKeyByPrefix(t *testing.T) {
	t.Run("Should scan the key", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		s := postgres.New(mock)
		now := time.Now()
		var nilTime *time.Time

		rows := mock.NewRows([]string{
			"id", "prefix", "secret_hash", "name", "description", "user_id", "scopes",
			"allowed_ips", "allowed_domains", "rate_limit_hour", "rate_limit_day", "environment",
			"expires_at", "active", "revoked", "revoked_at", "revoked_reason", "revoked_by",
			"usage_count", "last_used_at", "created_at",
		}).AddRow(
			"k1", "gc_18f", "$2a$04$hash", "ci", "", "user-1", []string{"read-only"},
			[]string{}, []string{}, 100, 1000, "live",
			nilTime, true, false, nilTime, "", "",
			int64(7), nilTime, now,
		)
		mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE prefix = \\$1").
			WithArgs("gc_18f").
			WillReturnRows(rows)

		key, err := s.GetAPIKeyByPrefix(context.Background(), "gc_18f")
		require.NoError(t, err)
		assert.Equal(t, "k1", key.ID)
		assert.Equal(t, []string{"read-only"}, key.Scopes)
		assert.Equal(t, int64(7), key.UsageCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should map no rows to ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		s := postgres.New(mock)

		mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE prefix = \\$1").
			WithArgs("gc_missing").
			WillReturnError(pgx.ErrNoRows)

		key, err := s.GetAPIKeyByPrefix(context.Background(), "gc_missing")
		assert.Nil(t, key)
		assert.True(t, errors.Is(err, store.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_CountUsage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := postgres.New(mock)
	now := time.Now()
	since := now.Add(-time.Hour)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM api_key_usage WHERE key_id = \\$1 AND ts > \\$2 AND ts <= \\$3").
		WithArgs("k1", since, now).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := s.CountUsage(context.Background(), "k1", since, now)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_OldestUsage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := postgres.New(mock)
	now := time.Now()
	since := now.Add(-time.Hour)
	oldest := now.Add(-40 * time.Minute)

	mock.ExpectQuery("SELECT MIN\\(ts\\) FROM api_key_usage WHERE key_id = \\$1 AND ts > \\$2 AND ts <= \\$3").
		WithArgs("k1", since, now).
		WillReturnRows(mock.NewRows([]string{"min"}).AddRow(&oldest))
	var none *time.Time
	mock.ExpectQuery("SELECT MIN\\(ts\\) FROM api_key_usage").
		WithArgs("k2", since, now).
		WillReturnRows(mock.NewRows([]string{"min"}).AddRow(none))

	got, err := s.OldestUsage(context.Background(), "k1", since, now)
	require.NoError(t, err)
	assert.True(t, got.Equal(oldest))

	_, err = s.OldestUsage(context.Background(), "k2", since, now)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeRefreshTokens(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := postgres.New(mock)
	now := time.Now()
	cutoff := now.Add(-24 * time.Hour)

	mock.ExpectExec("DELETE FROM refresh_tokens WHERE id IN \\(SELECT id FROM refresh_tokens WHERE expires_at <= \\$1 OR \\(revoked AND revoked_at <= \\$2\\) LIMIT \\$3\\)").
		WithArgs(now, cutoff, 500).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("DELETE FROM refresh_tokens").
		WithArgs(now, cutoff, 500).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	n, err := s.PurgeRefreshTokens(context.Background(), now, cutoff, 500)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.PurgeRefreshTokens(context.Background(), now, cutoff, 500)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddPasswordHistory(t *testing.T) {
	t.Run("Should insert and prune in one transaction", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		s := postgres.New(mock)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO password_history").
			WithArgs("user-1", "phc", now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("DELETE FROM password_history WHERE user_id = \\$1 AND id NOT IN").
			WithArgs("user-1", "user-1", 5).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectCommit()

		err = s.AddPasswordHistory(context.Background(), &store.PasswordHistoryEntry{UserID: "user-1", Hash: "phc", CreatedAt: now}, 5)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should roll back when pruning fails", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		s := postgres.New(mock)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO password_history").
			WithArgs(anyArgs(3)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("DELETE FROM password_history").
			WithArgs("user-1", "user-1", 5).
			WillReturnError(errors.New("boom"))
		mock.ExpectRollback()

		err = s.AddPasswordHistory(context.Background(), &store.PasswordHistoryEntry{UserID: "user-1", Hash: "phc", CreatedAt: time.Now()}, 5)
		assert.True(t, errors.Is(err, store.ErrUnavailable))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_GetLockoutMissingIsZero(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := postgres.New(mock)

	mock.ExpectQuery("SELECT (.+) FROM account_lockouts WHERE user_id = \\$1").
		WithArgs("user-1").
		WillReturnError(pgx.ErrNoRows)

	state, err := s.GetLockout(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", state.UserID)
	assert.Equal(t, 0, state.Failures)
	assert.False(t, state.Locked(time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IsBlacklisted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := postgres.New(mock)
	now := time.Now()

	mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM token_blacklist WHERE jti_hash = \\$1 AND expires_at > \\$2 \\)").
		WithArgs("jh", now).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.IsBlacklisted(context.Background(), "jh", now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
