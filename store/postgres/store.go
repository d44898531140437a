package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/MrEthical07/goCred/store"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

var (
	refreshColumns = []string{
		"id", "token_hash", "access_token_id", "user_id", "subject_name", "subject_role",
		"family_id", "created_by_ip", "user_agent", "created_at", "expires_at", "used", "used_at", "revoked", "revoked_at",
		"revoked_reason", "revoked_by", "replaced_by",
	}
	apiKeyColumns = []string{
		"id", "prefix", "secret_hash", "name", "description", "user_id", "scopes",
		"allowed_ips", "allowed_domains", "rate_limit_hour", "rate_limit_day", "environment",
		"expires_at", "active", "revoked", "revoked_at", "revoked_reason", "revoked_by",
		"usage_count", "last_used_at", "created_at",
	}
	lockoutColumns = []string{
		"user_id", "failures", "locked_until", "reason", "last_failure_at", "last_failure_ip",
	}
)

// A failure outside the window restarts the counter at 1.
const incrementFailuresSQL = `
INSERT INTO account_lockouts (user_id, failures, last_failure_at, last_failure_ip)
VALUES ($1, 1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET
    failures = CASE
        WHEN $4::double precision > 0
         AND account_lockouts.last_failure_at IS NOT NULL
         AND account_lockouts.last_failure_at < $2 - make_interval(secs => $4::double precision)
        THEN 1
        ELSE account_lockouts.failures + 1
    END,
    last_failure_at = EXCLUDED.last_failure_at,
    last_failure_ip = EXCLUDED.last_failure_ip
RETURNING user_id, failures, locked_until, reason, last_failure_at, last_failure_ip`

// DBInterface is the subset of pgxpool.Pool the store needs.
type DBInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	db DBInterface
}

var _ store.Store = (*Store)(nil)

// New wraps db.
func New(db DBInterface) *Store {
	return &Store{db: db}
}

// NewPool opens a pgx connection pool for dsn.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	return pool, nil
}

func psql() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return unavailable(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, b squirrel.Sqlizer) (int, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrConflict
		}
		return 0, unavailable(err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

/*
====================================
REFRESH TOKENS
====================================
*/

func (s *Store) SaveRefreshToken(ctx context.Context, t *store.RefreshToken) error {
	if t == nil || t.TokenHash == "" || t.FamilyID == "" {
		return errors.New("refresh token requires hash and family")
	}
	_, err := s.exec(ctx, insertRefresh(t))
	return err
}

func insertRefresh(t *store.RefreshToken) squirrel.InsertBuilder {
	return psql().Insert("refresh_tokens").
		Columns(refreshColumns...).
		Values(
			t.ID, t.TokenHash, t.AccessTokenID, t.UserID, t.SubjectName, t.SubjectRole, t.FamilyID, t.CreatedByIP,
			t.UserAgent, t.CreatedAt, t.ExpiresAt, t.Used, t.UsedAt, t.Revoked, t.RevokedAt,
			t.RevokedReason, t.RevokedBy, t.ReplacedBy,
		)
}

func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*store.RefreshToken, error) {
	query, args, err := psql().Select(refreshColumns...).
		From("refresh_tokens").
		Where(squirrel.Eq{"token_hash": tokenHash}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var t store.RefreshToken
	if err := pgxscan.Get(ctx, s.db, &t, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return &t, nil
}

// errNotConsumed rolls back a consume whose conditional UPDATE matched nothing.
var errNotConsumed = errors.New("refresh token not consumed")

// ConsumeRefreshToken relies on row locking of a conditional UPDATE: a concurrent second
// UPDATE re-evaluates the WHERE clause after the first commits and matches nothing. The
// successor INSERT shares the transaction, so a failed insert leaves the token unused.
func (s *Store) ConsumeRefreshToken(ctx context.Context, tokenHash string, successor *store.RefreshToken, now time.Time) (*store.RefreshToken, store.ConsumeOutcome, error) {
	if successor == nil || successor.TokenHash == "" || successor.FamilyID == "" {
		return nil, store.ConsumeNotFound, errors.New("successor requires hash and family")
	}
	update, updateArgs, err := psql().Update("refresh_tokens").
		Set("used", true).
		Set("used_at", now).
		Set("replaced_by", successor.TokenHash).
		Where(squirrel.Eq{"token_hash": tokenHash}).
		Where(squirrel.Eq{"used": false}).
		Where(squirrel.Eq{"revoked": false}).
		Where(squirrel.Gt{"expires_at": now}).
		Suffix("RETURNING " + strings.Join(refreshColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, store.ConsumeNotFound, fmt.Errorf("building update query: %w", err)
	}
	insert, insertArgs, err := insertRefresh(successor).ToSql()
	if err != nil {
		return nil, store.ConsumeNotFound, fmt.Errorf("building insert query: %w", err)
	}

	var t store.RefreshToken
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if err := pgxscan.Get(ctx, tx, &t, update, updateArgs...); err != nil {
			if pgxscan.NotFound(err) {
				return errNotConsumed
			}
			return unavailable(err)
		}
		if _, err := tx.Exec(ctx, insert, insertArgs...); err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return unavailable(err)
		}
		return nil
	})
	if err == nil {
		return &t, store.ConsumeRotated, nil
	}
	if !errors.Is(err, errNotConsumed) {
		return nil, store.ConsumeNotFound, err
	}

	current, err := s.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ConsumeNotFound, nil
		}
		return nil, store.ConsumeNotFound, err
	}
	switch {
	case current.Used:
		return current, store.ConsumeUsed, nil
	case current.Revoked:
		return current, store.ConsumeRevoked, nil
	case !now.Before(current.ExpiresAt):
		return current, store.ConsumeExpired, nil
	default:
		// Lost a race with a writer that has not committed yet.
		return current, store.ConsumeUsed, nil
	}
}

func (s *Store) ListFamily(ctx context.Context, familyID string) ([]store.RefreshToken, error) {
	query, args, err := psql().Select(refreshColumns...).
		From("refresh_tokens").
		Where(squirrel.Eq{"family_id": familyID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var out []store.RefreshToken
	if err := pgxscan.Select(ctx, s.db, &out, query, args...); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) RevokeFamily(ctx context.Context, familyID string, rev store.Revocation) (int, error) {
	return s.exec(ctx, psql().Update("refresh_tokens").
		Set("revoked", true).
		Set("revoked_at", rev.At).
		Set("revoked_reason", rev.Reason).
		Set("revoked_by", rev.Actor).
		Where(squirrel.Eq{"family_id": familyID}).
		Where(squirrel.Eq{"revoked": false}))
}

func (s *Store) RevokeRefreshTokens(ctx context.Context, tokenHashes []string, rev store.Revocation) (int, error) {
	if len(tokenHashes) == 0 {
		return 0, nil
	}
	return s.exec(ctx, psql().Update("refresh_tokens").
		Set("revoked", true).
		Set("revoked_at", rev.At).
		Set("revoked_reason", rev.Reason).
		Set("revoked_by", rev.Actor).
		Where(squirrel.Eq{"token_hash": tokenHashes}).
		Where(squirrel.Eq{"revoked": false}))
}

func (s *Store) PurgeRefreshTokens(ctx context.Context, now, revokedBefore time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	return s.exec(ctx, psql().Delete("refresh_tokens").
		Where(squirrel.Expr(
			"id IN (SELECT id FROM refresh_tokens WHERE expires_at <= ? OR (revoked AND revoked_at <= ?) LIMIT ?)",
			now, revokedBefore, limit,
		)))
}

/*
====================================
BLACKLIST
====================================
*/

// AddBlacklistEntry ignores now: expiry is enforced by the expires_at predicate on read.
func (s *Store) AddBlacklistEntry(ctx context.Context, e *store.BlacklistEntry, _ time.Time) error {
	if e == nil || e.JTIHash == "" {
		return errors.New("blacklist entry requires jti hash")
	}
	_, err := s.exec(ctx, psql().Insert("token_blacklist").
		Columns("jti_hash", "jti", "user_id", "expires_at", "reason", "revoked_by", "revoked_ip", "created_at").
		Values(e.JTIHash, e.JTI, e.UserID, e.ExpiresAt, e.Reason, e.RevokedBy, e.RevokedIP, e.CreatedAt).
		Suffix("ON CONFLICT (jti_hash) DO NOTHING"))
	return err
}

func (s *Store) IsBlacklisted(ctx context.Context, jtiHash string, now time.Time) (bool, error) {
	query, args, err := psql().Select("1").
		From("token_blacklist").
		Where(squirrel.Eq{"jti_hash": jtiHash}).
		Where(squirrel.Gt{"expires_at": now}).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building select query: %w", err)
	}
	var found bool
	if err := s.db.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, unavailable(err)
	}
	return found, nil
}

func (s *Store) PurgeBlacklist(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	return s.exec(ctx, psql().Delete("token_blacklist").
		Where(squirrel.Expr(
			"jti_hash IN (SELECT jti_hash FROM token_blacklist WHERE expires_at <= ? LIMIT ?)",
			now, limit,
		)))
}

/*
====================================
API KEYS
====================================
*/

func (s *Store) CreateAPIKey(ctx context.Context, k *store.APIKey) error {
	if k == nil || k.ID == "" || k.Prefix == "" {
		return errors.New("api key requires id and prefix")
	}
	_, err := s.exec(ctx, psql().Insert("api_keys").
		Columns(apiKeyColumns...).
		Values(
			k.ID, k.Prefix, k.SecretHash, k.Name, k.Description, k.UserID, nonNil(k.Scopes),
			nonNil(k.AllowedIPs), nonNil(k.AllowedDomains), k.RateLimitHour, k.RateLimitDay,
			k.Environment, k.ExpiresAt, k.Active, k.Revoked, k.RevokedAt, k.RevokedReason,
			k.RevokedBy, k.UsageCount, k.LastUsedAt, k.CreatedAt,
		))
	return err
}

func (s *Store) getAPIKey(ctx context.Context, where squirrel.Eq) (*store.APIKey, error) {
	query, args, err := psql().Select(apiKeyColumns...).
		From("api_keys").
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var k store.APIKey
	if err := pgxscan.Get(ctx, s.db, &k, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return &k, nil
}

func (s *Store) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*store.APIKey, error) {
	return s.getAPIKey(ctx, squirrel.Eq{"prefix": prefix})
}

func (s *Store) GetAPIKeyByID(ctx context.Context, id string) (*store.APIKey, error) {
	return s.getAPIKey(ctx, squirrel.Eq{"id": id})
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]store.APIKey, error) {
	query, args, err := psql().Select(apiKeyColumns...).
		From("api_keys").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var out []store.APIKey
	if err := pgxscan.Select(ctx, s.db, &out, query, args...); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	n, err := s.exec(ctx, psql().Update("api_keys").
		Set("usage_count", squirrel.Expr("usage_count + 1")).
		Set("last_used_at", usedAt).
		Where(squirrel.Eq{"id": id}))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateAPIKeyState(ctx context.Context, id string, change store.APIKeyStateChange) error {
	b := psql().Update("api_keys").Where(squirrel.Eq{"id": id})
	touched := false
	if change.Active != nil {
		b = b.Set("active", *change.Active)
		touched = true
	}
	if rev := change.Revocation; rev != nil {
		b = b.Set("revoked", true).
			Set("revoked_at", rev.At).
			Set("revoked_reason", rev.Reason).
			Set("revoked_by", rev.Actor)
		if change.Active == nil {
			b = b.Set("active", false)
		}
		touched = true
	}
	if !touched {
		return nil
	}
	n, err := s.exec(ctx, b)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

/*
====================================
USAGE
====================================
*/

func (s *Store) RecordUsage(ctx context.Context, r *store.UsageRecord) error {
	if r == nil || r.KeyID == "" || r.ID == "" {
		return errors.New("usage record requires id and key id")
	}
	_, err := s.exec(ctx, psql().Insert("api_key_usage").
		Columns(
			"id", "key_id", "endpoint", "method", "ip", "user_agent", "status_code", "latency_ms",
			"request_bytes", "response_bytes", "success", "suspicious", "suspicious_reason",
			"risk_score", "ts",
		).
		Values(
			r.ID, r.KeyID, r.Endpoint, r.Method, r.IP, r.UserAgent, r.StatusCode,
			r.Latency.Milliseconds(), r.RequestBytes, r.ResponseBytes, r.Success, r.Suspicious,
			r.SuspiciousReason, r.RiskScore, r.Timestamp,
		))
	return err
}

func (s *Store) CountUsage(ctx context.Context, keyID string, since, until time.Time) (int64, error) {
	query, args, err := psql().Select("COUNT(*)").
		From("api_key_usage").
		Where(squirrel.Eq{"key_id": keyID}).
		Where(squirrel.Gt{"ts": since}).
		Where(squirrel.LtOrEq{"ts": until}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}
	var n int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *Store) OldestUsage(ctx context.Context, keyID string, since, until time.Time) (time.Time, error) {
	query, args, err := psql().Select("MIN(ts)").
		From("api_key_usage").
		Where(squirrel.Eq{"key_id": keyID}).
		Where(squirrel.Gt{"ts": since}).
		Where(squirrel.LtOrEq{"ts": until}).
		ToSql()
	if err != nil {
		return time.Time{}, fmt.Errorf("building min query: %w", err)
	}
	var oldest *time.Time
	if err := s.db.QueryRow(ctx, query, args...).Scan(&oldest); err != nil {
		return time.Time{}, unavailable(err)
	}
	if oldest == nil {
		return time.Time{}, store.ErrNotFound
	}
	return *oldest, nil
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	return s.exec(ctx, psql().Delete("api_key_usage").
		Where(squirrel.Expr(
			"id IN (SELECT id FROM api_key_usage WHERE ts < ? LIMIT ?)",
			before, limit,
		)))
}

/*
====================================
PASSWORD HISTORY
====================================
*/

func (s *Store) AddPasswordHistory(ctx context.Context, e *store.PasswordHistoryEntry, keep int) error {
	if e == nil || e.UserID == "" {
		return errors.New("password history requires user id")
	}
	if keep <= 0 {
		keep = 1
	}
	insert, insertArgs, err := psql().Insert("password_history").
		Columns("user_id", "hash", "created_at").
		Values(e.UserID, e.Hash, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}
	prune, pruneArgs, err := psql().Delete("password_history").
		Where(squirrel.Eq{"user_id": e.UserID}).
		Where(squirrel.Expr(
			"id NOT IN (SELECT id FROM password_history WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?)",
			e.UserID, keep,
		)).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insert, insertArgs...); err != nil {
			return unavailable(err)
		}
		if _, err := tx.Exec(ctx, prune, pruneArgs...); err != nil {
			return unavailable(err)
		}
		return nil
	})
}

func (s *Store) RecentPasswordHistory(ctx context.Context, userID string, limit int) ([]store.PasswordHistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	query, args, err := psql().Select("user_id", "hash", "created_at").
		From("password_history").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var out []store.PasswordHistoryEntry
	if err := pgxscan.Select(ctx, s.db, &out, query, args...); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

/*
====================================
LOCKOUT
====================================
*/

func (s *Store) GetLockout(ctx context.Context, userID string) (*store.LockoutState, error) {
	query, args, err := psql().Select(lockoutColumns...).
		From("account_lockouts").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var state store.LockoutState
	if err := pgxscan.Get(ctx, s.db, &state, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return &store.LockoutState{UserID: userID}, nil
		}
		return nil, unavailable(err)
	}
	return &state, nil
}

func (s *Store) IncrementFailures(ctx context.Context, userID, ip string, now time.Time, window time.Duration) (*store.LockoutState, error) {
	var state store.LockoutState
	if err := pgxscan.Get(ctx, s.db, &state, incrementFailuresSQL, userID, now, ip, window.Seconds()); err != nil {
		return nil, unavailable(err)
	}
	return &state, nil
}

func (s *Store) SetLockedUntil(ctx context.Context, userID string, until time.Time, reason string) error {
	_, err := s.exec(ctx, psql().Update("account_lockouts").
		Set("locked_until", until).
		Set("reason", reason).
		Where(squirrel.Eq{"user_id": userID}))
	return err
}

func (s *Store) ClearLockout(ctx context.Context, userID string) error {
	_, err := s.exec(ctx, psql().Delete("account_lockouts").Where(squirrel.Eq{"user_id": userID}))
	return err
}

func (s *Store) PurgeLockouts(ctx context.Context, now, staleBefore time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	return s.exec(ctx, psql().Delete("account_lockouts").
		Where(squirrel.Expr(
			"user_id IN (SELECT user_id FROM account_lockouts WHERE (locked_until IS NULL OR locked_until <= ?) AND (last_failure_at IS NULL OR last_failure_at < ?) LIMIT ?)",
			now, staleBefore, limit,
		)))
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
