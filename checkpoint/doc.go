// Package checkpoint implements core.CheckpointStore: a process-local
// InMemoryStore and a database/sql backed SQLStore (sqlite or postgres).
// Both grant a single writer per thread through ThreadLocker.
package checkpoint
