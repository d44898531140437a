// Package postgres implements [store.Store] on PostgreSQL using pgx.
//
// Queries are built with squirrel (dollar placeholders) and scanned with scany. The schema
// ships as embedded goose migrations; call [Migrate] or [MigrateDB] before first use.
//
// # Atomicity
//
// Refresh-token consumption is a conditional UPDATE ... RETURNING. Row locking makes a
// concurrent second UPDATE re-check its WHERE clause after the first commits, so exactly one
// caller rotates a given token. The losing caller classifies the outcome with a follow-up
// read.
//
// # What this package must NOT do
//
//   - Store plaintext secrets.
//   - Return driver errors unwrapped; every backend failure wraps [store.ErrUnavailable].
package postgres
