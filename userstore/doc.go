// Package userstore provides authcore.UserStore implementations: an
// in-process Memory store for tests and single-node demos, and a Postgres
// store over a caller-owned pgx pool.
package userstore
