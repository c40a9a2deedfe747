package storage

// Package storage persists scheduled-task records and per-entity scheduling
// preferences as versioned JSON documents.
//
// Two drivers sit behind Open:
//   - "file": one atomically-replaced JSON file per document
//   - "sqlite": a single SQLite database with a documents table
//
// A stored document whose version does not match the current schema version
// is discarded with a warning and the store starts empty. Task records are
// recovered by the coordinator on startup, so the cost of a breaking schema
// change is losing in-flight timers, not corrupting them.
