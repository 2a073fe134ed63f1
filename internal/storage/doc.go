// Package storage persists relay audit entries and per-chat display modes.
//
// Drivers:
//   - "file": JSON Lines audit log plus an atomically rewritten modes snapshot
//   - "sqlite": SQLite database (build tag sqlite)
package storage
