package storage

// Package storage persists one durable JSON record per account.
//
// It currently supports:
//   - File driver: one <account>.json per directory, atomic replace
//   - SQLite driver: single database file (optional build tag)
