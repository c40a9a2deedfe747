package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "quicktimerd/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteBackend struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	b := &sqliteBackend{db: db, log: log}
	if err := b.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *sqliteBackend) migrate(ctx context.Context) error {
	raw, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, string(raw))
	return err
}

func (b *sqliteBackend) Load(name string) (int, []byte, bool, error) {
	if b == nil || b.db == nil {
		return 0, nil, false, ErrClosed
	}
	var (
		version int
		data    []byte
	)
	err := b.db.QueryRow(
		`SELECT version, data FROM documents WHERE name = ?`, name,
	).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	return version, data, true, nil
}

func (b *sqliteBackend) Save(name string, version int, data []byte) error {
	if b == nil || b.db == nil {
		return ErrClosed
	}
	_, err := b.db.Exec(
		`INSERT INTO documents(name, version, data, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
		   version=excluded.version, data=excluded.data, updated_at=excluded.updated_at`,
		name, version, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (b *sqliteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
