// Package store persists ended sessions to SQLite so transcripts and
// summaries survive restarts. Live sessions never touch the store; the
// session manager archives a session once its worker finishes.
package store
