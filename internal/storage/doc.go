// Package storage persists task run history.
//
// Every driver stores, per task name, an append-only stream of fixed-size
// records (see record.go) and recovers the newest intact record on load, so
// a save torn by power loss falls back to the previous value instead of
// losing the task's history.
//
// Drivers:
//   - file:   one <name>.hist file per task in a directory
//   - sqlite: one row per record in a SQLite database
//   - memory: volatile, for tests and bench setups
package storage
