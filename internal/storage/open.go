package storage

import (
	"errors"
	"strings"

	logx "quicktimerd/pkg/logx"
)

// Backend persists named, versioned JSON documents. Both stores share one
// backend; drivers only move bytes and never inspect document contents.
type Backend interface {
	// Load returns the stored version and raw JSON for a document.
	// ok is false when the document has never been written.
	Load(name string) (version int, data []byte, ok bool, err error)
	// Save atomically replaces a document.
	Save(name string, version int, data []byte) error
	Close() error
}

// Open initializes the configured backend. An empty driver means "file".
func Open(cfg Config, log logx.Logger) (Backend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
