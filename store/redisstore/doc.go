// Package redisstore implements [store.Store] on Redis.
//
// Refresh tokens are hashes keyed by token hash; consumption runs as a single Lua script so
// that the used/revoked/expiry checks and the "mark used" write cannot interleave with a
// concurrent rotation of the same token. Usage windows are sorted sets scored by
// millisecond timestamps, counted with ZCOUNT.
//
// # Key layout
//
//	{prefix}:rt:{hash}        refresh token hash
//	{prefix}:rt:fam:{family}  zset of token hashes by creation time
//	{prefix}:rt:exp           zset of token hashes by expiry
//	{prefix}:rt:rev           zset of token hashes by revocation time
//	{prefix}:bl:{jtiHash}     blacklist entry (PX = remaining token lifetime)
//	{prefix}:bl:exp           zset of jti hashes by expiry
//	{prefix}:ak:{id}          api key hash
//	{prefix}:ak:p:{prefix}    api key id by lookup prefix
//	{prefix}:ak:u:{user}      set of api key ids per user
//	{prefix}:use:{keyID}      zset of usage records by timestamp
//	{prefix}:use:keys         set of key ids with usage
//	{prefix}:ph:{user}        list of password history entries, newest first
//	{prefix}:lo:{user}        lockout state hash
//	{prefix}:lo:idx           zset of users by last lockout activity
//
// # What this package must NOT do
//
//   - Store plaintext secrets.
//   - Rely on Redis key expiry for correctness; expiry checks compare against the caller's
//     clock so the cleanup sweep stays deterministic.
package redisstore
