package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "quicktimerd/pkg/logx"
)

// fileBackend keeps one JSON file per document:
//
//	<prefix>.tasks.json
//	<prefix>.preferences.json
//
// Writes go to a .tmp sibling first and are renamed into place, so a crash
// mid-write leaves the previous snapshot intact.
type fileBackend struct {
	log logx.Logger

	mu     sync.Mutex
	prefix string
	closed bool
}

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileBackend{log: log, prefix: prefix}, nil
}

func (b *fileBackend) documentPath(name string) string {
	return b.prefix + "." + name + ".json"
}

func (b *fileBackend) Load(name string) (int, []byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, nil, false, ErrClosed
	}

	raw, err := os.ReadFile(b.documentPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, nil, false, err
	}
	return env.Version, env.Data, true, nil
}

func (b *fileBackend) Save(name string, version int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	raw, err := json.MarshalIndent(envelope{Version: version, Data: data}, "", "  ")
	if err != nil {
		return err
	}

	path := b.documentPath(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (b *fileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
