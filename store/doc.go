// Package store defines the credential persistence contract used by goCred.
//
// The record types in this package are the only shapes that cross the boundary between the
// engine and a backend. Implementations live in sub-packages: [redisstore] for Redis and
// [postgres] for PostgreSQL.
//
// # Architecture boundaries
//
// The engine depends on [Store] only. Backends are free to choose key layout and schema,
// but must honour the atomicity rules documented on each method, most importantly
// [RefreshTokenStore.ConsumeRefreshToken].
//
// # What this package must NOT do
//
//   - Hold plaintext secrets. Every secret-bearing field is a hash.
//   - Import the root goCred package.
//
// [redisstore]: github.com/MrEthical07/goCred/store/redisstore
// [postgres]: github.com/MrEthical07/goCred/store/postgres
package store
