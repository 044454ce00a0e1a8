// Package database provides the PostgreSQL connection pool used to record
// live query updates, and the schema those updates are written to.
package database
