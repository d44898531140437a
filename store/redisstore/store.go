package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goCred/store"
	"github.com/redis/go-redis/v9"
)

const (
	consumeStatusNotFound int64 = 0
	consumeStatusRotated  int64 = 1
	consumeStatusExpired  int64 = 2
	consumeStatusUsed     int64 = 3
	consumeStatusRevoked  int64 = 4
	consumeStatusConflict int64 = 5
)

// Used is checked before revoked so a rotated token that was later revoked still reports
// as a replay. The successor is written in the same script as the used flag.
//
// KEYS: presented, successor, family index, expiry index.
// ARGV: now, successor hash, successor created_at, successor expires_at, field/value pairs.
const consumeRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "used") == "1" then
  return 3
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 4
end
local exp = tonumber(redis.call("HGET", KEYS[1], "expires_at") or "0")
if exp <= tonumber(ARGV[1]) then
  return 2
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 5
end
redis.call("HSET", KEYS[1], "used", "1", "used_at", ARGV[1], "replaced_by", ARGV[2])
redis.call("HSET", KEYS[2], unpack(ARGV, 5))
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[2])
redis.call("ZADD", KEYS[4], ARGV[4], ARGV[2])
return 1
`

var consumeRefreshLua = redis.NewScript(consumeRefreshScript)

const revokeRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[1], "revoked_reason", ARGV[2], "revoked_by", ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[1], ARGV[4])
return 1
`

var revokeRefreshLua = redis.NewScript(revokeRefreshScript)

const touchAPIKeyScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HINCRBY", KEYS[1], "usage_count", 1)
redis.call("HSET", KEYS[1], "last_used_at", ARGV[1])
return 1
`

var touchAPIKeyLua = redis.NewScript(touchAPIKeyScript)

// Failures older than the window restart the counter before incrementing.
const incrementFailuresScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local last = tonumber(redis.call("HGET", KEYS[1], "last_failure_at") or "0")
if window > 0 and last > 0 and (now - last) > window then
  redis.call("HSET", KEYS[1], "failures", "0")
end
local n = redis.call("HINCRBY", KEYS[1], "failures", 1)
redis.call("HSET", KEYS[1], "last_failure_at", ARGV[1], "last_failure_ip", ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[1], ARGV[4])
return n
`

var incrementFailuresLua = redis.NewScript(incrementFailuresScript)

// Store is the Redis implementation of store.Store.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ store.Store = (*Store)(nil)

// New returns a Store using prefix for every key. An empty prefix defaults to "gc".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "gc"
	}
	return &Store{redis: client, prefix: prefix}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func (s *Store) refreshKey(hash string) string   { return s.prefix + ":rt:" + hash }
func (s *Store) familyKey(family string) string  { return s.prefix + ":rt:fam:" + family }
func (s *Store) refreshExpiryKey() string        { return s.prefix + ":rt:exp" }
func (s *Store) refreshRevokedKey() string       { return s.prefix + ":rt:rev" }
func (s *Store) blacklistKey(hash string) string { return s.prefix + ":bl:" + hash }
func (s *Store) blacklistExpiryKey() string      { return s.prefix + ":bl:exp" }
func (s *Store) apiKeyKey(id string) string      { return s.prefix + ":ak:" + id }
func (s *Store) apiKeyPrefixKey(p string) string { return s.prefix + ":ak:p:" + p }
func (s *Store) apiKeyUserKey(u string) string   { return s.prefix + ":ak:u:" + u }
func (s *Store) usageKey(keyID string) string    { return s.prefix + ":use:" + keyID }
func (s *Store) usageIndexKey() string           { return s.prefix + ":use:keys" }
func (s *Store) historyKey(userID string) string { return s.prefix + ":ph:" + userID }
func (s *Store) lockoutKey(userID string) string { return s.prefix + ":lo:" + userID }
func (s *Store) lockoutIndexKey() string         { return s.prefix + ":lo:idx" }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

/*
====================================
REFRESH TOKENS
====================================
*/

func (s *Store) SaveRefreshToken(ctx context.Context, token *store.RefreshToken) error {
	if token == nil || token.TokenHash == "" || token.FamilyID == "" {
		return errors.New("refresh token requires hash and family")
	}
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.refreshKey(token.TokenHash), encodeRefresh(token))
		pipe.ZAdd(ctx, s.familyKey(token.FamilyID), redis.Z{Score: float64(ms(token.CreatedAt)), Member: token.TokenHash})
		pipe.ZAdd(ctx, s.refreshExpiryKey(), redis.Z{Score: float64(ms(token.ExpiresAt)), Member: token.TokenHash})
		if token.Revoked && token.RevokedAt != nil {
			pipe.ZAdd(ctx, s.refreshRevokedKey(), redis.Z{Score: float64(ms(*token.RevokedAt)), Member: token.TokenHash})
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*store.RefreshToken, error) {
	m, err := s.redis.HGetAll(ctx, s.refreshKey(tokenHash)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	token, err := decodeRefresh(m)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, unavailable(err)
	}
	return token, nil
}

func (s *Store) ConsumeRefreshToken(ctx context.Context, tokenHash string, successor *store.RefreshToken, now time.Time) (*store.RefreshToken, store.ConsumeOutcome, error) {
	if successor == nil || successor.TokenHash == "" || successor.FamilyID == "" {
		return nil, store.ConsumeNotFound, errors.New("successor requires hash and family")
	}
	fields := encodeRefresh(successor)
	args := make([]any, 0, 4+2*len(fields))
	args = append(args, ms(now), successor.TokenHash, ms(successor.CreatedAt), ms(successor.ExpiresAt))
	for k, v := range fields {
		args = append(args, k, v)
	}
	status, err := consumeRefreshLua.Run(
		ctx,
		s.redis,
		[]string{
			s.refreshKey(tokenHash),
			s.refreshKey(successor.TokenHash),
			s.familyKey(successor.FamilyID),
			s.refreshExpiryKey(),
		},
		args...,
	).Int64()
	if err != nil {
		return nil, store.ConsumeNotFound, unavailable(err)
	}
	if status == consumeStatusConflict {
		return nil, store.ConsumeNotFound, store.ErrConflict
	}

	var outcome store.ConsumeOutcome
	switch status {
	case consumeStatusNotFound:
		return nil, store.ConsumeNotFound, nil
	case consumeStatusRotated:
		outcome = store.ConsumeRotated
	case consumeStatusExpired:
		outcome = store.ConsumeExpired
	case consumeStatusUsed:
		outcome = store.ConsumeUsed
	case consumeStatusRevoked:
		outcome = store.ConsumeRevoked
	default:
		return nil, store.ConsumeNotFound, unavailable(fmt.Errorf("unexpected consume status %d", status))
	}

	token, err := s.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Purged between the script and the read.
			return nil, store.ConsumeNotFound, nil
		}
		return nil, outcome, err
	}
	return token, outcome, nil
}

func (s *Store) ListFamily(ctx context.Context, familyID string) ([]store.RefreshToken, error) {
	hashes, err := s.redis.ZRange(ctx, s.familyKey(familyID), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]store.RefreshToken, 0, len(hashes))
	for _, h := range hashes {
		token, err := s.GetRefreshToken(ctx, h)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *token)
	}
	return out, nil
}

func (s *Store) RevokeFamily(ctx context.Context, familyID string, rev store.Revocation) (int, error) {
	hashes, err := s.redis.ZRange(ctx, s.familyKey(familyID), 0, -1).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return s.RevokeRefreshTokens(ctx, hashes, rev)
}

func (s *Store) RevokeRefreshTokens(ctx context.Context, tokenHashes []string, rev store.Revocation) (int, error) {
	revoked := 0
	for _, h := range tokenHashes {
		n, err := revokeRefreshLua.Run(
			ctx,
			s.redis,
			[]string{s.refreshKey(h), s.refreshRevokedKey()},
			ms(rev.At),
			rev.Reason,
			rev.Actor,
			h,
		).Int64()
		if err != nil {
			return revoked, unavailable(err)
		}
		revoked += int(n)
	}
	return revoked, nil
}

func (s *Store) PurgeRefreshTokens(ctx context.Context, now, revokedBefore time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	expired, err := s.redis.ZRangeByScore(ctx, s.refreshExpiryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(ms(now), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	candidates := expired
	if remaining := limit - len(expired); remaining > 0 {
		revoked, err := s.redis.ZRangeByScore(ctx, s.refreshRevokedKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(ms(revokedBefore), 10),
			Count: int64(remaining),
		}).Result()
		if err != nil {
			return 0, unavailable(err)
		}
		seen := make(map[string]struct{}, len(expired))
		for _, h := range expired {
			seen[h] = struct{}{}
		}
		for _, h := range revoked {
			if _, dup := seen[h]; !dup {
				candidates = append(candidates, h)
			}
		}
	}

	deleted := 0
	for _, h := range candidates {
		family, err := s.redis.HGet(ctx, s.refreshKey(h), "family_id").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return deleted, unavailable(err)
		}
		var del *redis.IntCmd
		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, s.refreshKey(h))
			pipe.ZRem(ctx, s.refreshExpiryKey(), h)
			pipe.ZRem(ctx, s.refreshRevokedKey(), h)
			if family != "" {
				pipe.ZRem(ctx, s.familyKey(family), h)
			}
			return nil
		})
		if err != nil {
			return deleted, unavailable(err)
		}
		deleted += int(del.Val())
	}
	return deleted, nil
}

/*
====================================
BLACKLIST
====================================
*/

func (s *Store) AddBlacklistEntry(ctx context.Context, entry *store.BlacklistEntry, now time.Time) error {
	if entry == nil || entry.JTIHash == "" {
		return errors.New("blacklist entry requires jti hash")
	}
	ttl := entry.ExpiresAt.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.blacklistKey(entry.JTIHash), payload, ttl)
		pipe.ZAdd(ctx, s.blacklistExpiryKey(), redis.Z{Score: float64(ms(entry.ExpiresAt)), Member: entry.JTIHash})
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) IsBlacklisted(ctx context.Context, jtiHash string, now time.Time) (bool, error) {
	raw, err := s.redis.Get(ctx, s.blacklistKey(jtiHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, unavailable(err)
	}
	var entry store.BlacklistEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A present but unreadable entry still denies.
		return true, nil
	}
	return now.Before(entry.ExpiresAt), nil
}

func (s *Store) PurgeBlacklist(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	hashes, err := s.redis.ZRangeByScore(ctx, s.blacklistExpiryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(ms(now), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(hashes))
	members := make([]any, 0, len(hashes))
	for _, h := range hashes {
		keys = append(keys, s.blacklistKey(h))
		members = append(members, h)
	}
	var removed *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		removed = pipe.ZRem(ctx, s.blacklistExpiryKey(), members...)
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return int(removed.Val()), nil
}

/*
====================================
API KEYS
====================================
*/

func (s *Store) CreateAPIKey(ctx context.Context, key *store.APIKey) error {
	if key == nil || key.ID == "" || key.Prefix == "" {
		return errors.New("api key requires id and prefix")
	}
	fields, err := encodeAPIKey(key)
	if err != nil {
		return err
	}
	claimed, err := s.redis.SetNX(ctx, s.apiKeyPrefixKey(key.Prefix), key.ID, 0).Result()
	if err != nil {
		return unavailable(err)
	}
	if !claimed {
		return store.ErrConflict
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.apiKeyKey(key.ID), fields)
		pipe.SAdd(ctx, s.apiKeyUserKey(key.UserID), key.ID)
		return nil
	})
	if err != nil {
		_ = s.redis.Del(ctx, s.apiKeyPrefixKey(key.Prefix)).Err()
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*store.APIKey, error) {
	id, err := s.redis.Get(ctx, s.apiKeyPrefixKey(prefix)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return s.GetAPIKeyByID(ctx, id)
}

func (s *Store) GetAPIKeyByID(ctx context.Context, id string) (*store.APIKey, error) {
	m, err := s.redis.HGetAll(ctx, s.apiKeyKey(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	key, err := decodeAPIKey(m)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, unavailable(err)
	}
	return key, nil
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]store.APIKey, error) {
	ids, err := s.redis.SMembers(ctx, s.apiKeyUserKey(userID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]store.APIKey, 0, len(ids))
	for _, id := range ids {
		key, err := s.GetAPIKeyByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *key)
	}
	return out, nil
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	n, err := touchAPIKeyLua.Run(ctx, s.redis, []string{s.apiKeyKey(id)}, ms(usedAt)).Int64()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateAPIKeyState(ctx context.Context, id string, change store.APIKeyStateChange) error {
	exists, err := s.redis.Exists(ctx, s.apiKeyKey(id)).Result()
	if err != nil {
		return unavailable(err)
	}
	if exists == 0 {
		return store.ErrNotFound
	}
	fields := map[string]any{}
	if change.Active != nil {
		fields["active"] = flag(*change.Active)
	}
	if rev := change.Revocation; rev != nil {
		fields["revoked"] = "1"
		fields["active"] = "0"
		fields["revoked_at"] = msString(rev.At)
		fields["revoked_reason"] = rev.Reason
		fields["revoked_by"] = rev.Actor
	}
	if len(fields) == 0 {
		return nil
	}
	if err := s.redis.HSet(ctx, s.apiKeyKey(id), fields).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

/*
====================================
USAGE
====================================
*/

func (s *Store) RecordUsage(ctx context.Context, record *store.UsageRecord) error {
	if record == nil || record.KeyID == "" || record.ID == "" {
		return errors.New("usage record requires id and key id")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.usageKey(record.KeyID), redis.Z{Score: float64(ms(record.Timestamp)), Member: string(payload)})
		pipe.SAdd(ctx, s.usageIndexKey(), record.KeyID)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) CountUsage(ctx context.Context, keyID string, since, until time.Time) (int64, error) {
	n, err := s.redis.ZCount(
		ctx,
		s.usageKey(keyID),
		"("+strconv.FormatInt(ms(since), 10),
		strconv.FormatInt(ms(until), 10),
	).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *Store) OldestUsage(ctx context.Context, keyID string, since, until time.Time) (time.Time, error) {
	hits, err := s.redis.ZRangeByScoreWithScores(ctx, s.usageKey(keyID), &redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(ms(since), 10),
		Max:   strconv.FormatInt(ms(until), 10),
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, unavailable(err)
	}
	if len(hits) == 0 {
		return time.Time{}, store.ErrNotFound
	}
	return time.UnixMilli(int64(hits[0].Score)), nil
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	keyIDs, err := s.redis.SMembers(ctx, s.usageIndexKey()).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	max := "(" + strconv.FormatInt(ms(before), 10)
	deleted := 0
	for _, keyID := range keyIDs {
		if deleted >= limit {
			break
		}
		members, err := s.redis.ZRangeByScore(ctx, s.usageKey(keyID), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   max,
			Count: int64(limit - deleted),
		}).Result()
		if err != nil {
			return deleted, unavailable(err)
		}
		if len(members) > 0 {
			args := make([]any, len(members))
			for i, m := range members {
				args[i] = m
			}
			n, err := s.redis.ZRem(ctx, s.usageKey(keyID), args...).Result()
			if err != nil {
				return deleted, unavailable(err)
			}
			deleted += int(n)
		}
		left, err := s.redis.ZCard(ctx, s.usageKey(keyID)).Result()
		if err != nil {
			return deleted, unavailable(err)
		}
		if left == 0 {
			if err := s.redis.SRem(ctx, s.usageIndexKey(), keyID).Err(); err != nil {
				return deleted, unavailable(err)
			}
		}
	}
	return deleted, nil
}

/*
====================================
PASSWORD HISTORY
====================================
*/

func (s *Store) AddPasswordHistory(ctx context.Context, entry *store.PasswordHistoryEntry, keep int) error {
	if entry == nil || entry.UserID == "" {
		return errors.New("password history requires user id")
	}
	if keep <= 0 {
		keep = 1
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.historyKey(entry.UserID), payload)
		pipe.LTrim(ctx, s.historyKey(entry.UserID), 0, int64(keep-1))
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) RecentPasswordHistory(ctx context.Context, userID string, limit int) ([]store.PasswordHistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.redis.LRange(ctx, s.historyKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]store.PasswordHistoryEntry, 0, len(raw))
	for _, r := range raw {
		var entry store.PasswordHistoryEntry
		if err := json.Unmarshal([]byte(r), &entry); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, entry)
	}
	return out, nil
}

/*
====================================
LOCKOUT
====================================
*/

func (s *Store) GetLockout(ctx context.Context, userID string) (*store.LockoutState, error) {
	m, err := s.redis.HGetAll(ctx, s.lockoutKey(userID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return decodeLockout(userID, m), nil
}

func (s *Store) IncrementFailures(ctx context.Context, userID, ip string, now time.Time, window time.Duration) (*store.LockoutState, error) {
	n, err := incrementFailuresLua.Run(
		ctx,
		s.redis,
		[]string{s.lockoutKey(userID), s.lockoutIndexKey()},
		ms(now),
		window.Milliseconds(),
		ip,
		userID,
	).Int64()
	if err != nil {
		return nil, unavailable(err)
	}
	state, err := s.GetLockout(ctx, userID)
	if err != nil {
		return nil, err
	}
	// A concurrent increment may land between the script and the read.
	state.Failures = int(n)
	return state, nil
}

func (s *Store) SetLockedUntil(ctx context.Context, userID string, until time.Time, reason string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.lockoutKey(userID), "locked_until", msString(until), "reason", reason)
		pipe.ZAdd(ctx, s.lockoutIndexKey(), redis.Z{Score: float64(ms(until)), Member: userID})
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) ClearLockout(ctx context.Context, userID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.lockoutKey(userID))
		pipe.ZRem(ctx, s.lockoutIndexKey(), userID)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) PurgeLockouts(ctx context.Context, now, staleBefore time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	users, err := s.redis.ZRangeByScore(ctx, s.lockoutIndexKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(ms(staleBefore), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	deleted := 0
	for _, userID := range users {
		state, err := s.GetLockout(ctx, userID)
		if err != nil {
			return deleted, err
		}
		if state.Locked(now) {
			continue
		}
		var del *redis.IntCmd
		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, s.lockoutKey(userID))
			pipe.ZRem(ctx, s.lockoutIndexKey(), userID)
			return nil
		})
		if err != nil {
			return deleted, unavailable(err)
		}
		deleted += int(del.Val())
	}
	return deleted, nil
}
