// Package storage provides the delivery record store.
//
// Both drivers keep data in process memory only:
//   - "memory": map + insertion-order index behind one RWMutex
//   - "sqlite": an in-memory SQLite database (modernc.org/sqlite), useful when
//     records should be inspected with SQL while the daemon runs
//
// Records survive for the lifetime of the process; nothing is expired.
package storage
