// Package recorder persists live query updates to PostgreSQL.
//
// Updates are consumed from a buffer.Queue, batched by size and interval,
// and appended to the query_updates table with pgx.Batch. Rows are never
// updated.
package recorder
