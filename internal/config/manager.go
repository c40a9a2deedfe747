package config

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "quicktimerd/pkg/logx"
)

// Manager owns the daemon configuration file: the initial strict load,
// and a background watch that re-reads, validates and publishes updates
// while the daemon runs. Subscribers apply what is safe to change live
// (logging); scheduling state is never rebuilt on a reload.
type Manager struct {
	path string

	mu       sync.RWMutex
	lastHash uint64

	// subsMu keeps publish and Subscribe from racing on the list.
	subsMu sync.Mutex
	subs   []chan *Config

	log      logx.Logger
	validate func(cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a check run against every reloaded config before
// it is published. A rejected reload keeps the previous config in force.
func (m *Manager) SetValidator(fn func(cfg *Config) error) { m.validate = fn }

// Parse reads and strictly decodes the config file without committing it.
func (m *Manager) Parse() (*Config, error) {
	cfg, _, err := m.read()
	return cfg, err
}

// read returns the decoded config plus a hash of the raw file content;
// the hash lets reloads skip saves that did not change anything.
func (m *Manager) read() (*Config, uint64, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, 0, err
	}
	cfg, err := decodeStrict(m.path, raw)
	if err != nil {
		return nil, 0, err
	}
	return cfg, hashBytes(raw), nil
}

// Load parses the config file and makes it the current config.
func (m *Manager) Load() (*Config, error) {
	cfg, hash, err := m.read()
	if err != nil {
		return nil, err
	}
	m.commit(hash)
	return cfg, nil
}

// commit records the hash of the config currently in force.
func (m *Manager) commit(hash uint64) {
	m.mu.Lock()
	m.lastHash = hash
	m.mu.Unlock()
}

// Subscribe returns a channel receiving each config Watch publishes.
// Delivery is best-effort: on a full buffer the oldest queued update is
// dropped so subscribers converge on the latest config.
func (m *Manager) Subscribe(buffer int) <-chan *Config {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		// Full buffer: evict the oldest queued config, then retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped (subscriber slow)")
		}
	}
}

// reload re-reads the file after a change notification. Unparsable or
// invalid content is logged and ignored; unchanged content is not
// republished, since editors often fire several events per save.
func (m *Manager) reload() {
	cfg, hash, err := m.read()
	if err != nil {
		m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
		return
	}

	m.mu.RLock()
	unchanged := hash == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping reload", logx.String("path", m.path))
		return
	}

	if m.validate != nil {
		if err := m.validate(cfg); err != nil {
			m.log.Warn("config rejected; keeping previous",
				logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.commit(hash)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path))
}

// Watch follows the config file until ctx is done. A broken watcher
// (editors replacing files, missed events) is recreated with a jittered
// backoff rather than left dead.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	const (
		debounceDelay = 250 * time.Millisecond
		backoffBase   = 250 * time.Millisecond
		backoffMax    = 5 * time.Second
	)
	backoff := backoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// Saves are debounced so several events (or a partial write) produce
	// one reload of the final content.
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	scheduleReload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, m.reload)
	}
	wait := func() bool {
		d := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < backoffMax {
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		// The directory is watched, not the file: atomic writers replace
		// the file, which would invalidate a watch on the file itself.
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if addErr := w.Add(dir); addErr != nil {
				_ = w.Close()
				err = addErr
			}
		}
		if err != nil {
			m.log.Warn("config watch setup failed", logx.String("dir", dir), logx.Err(err))
			if !wait() {
				return nil
			}
			continue
		}

		backoff = backoffBase
		m.log.Debug("config watcher started", logx.String("path", m.path))

		again := m.watchEvents(ctx, w, file, scheduleReload)
		_ = w.Close()
		if !again {
			return nil
		}
		m.log.Warn("config watcher stopped; restarting", logx.String("path", m.path))
		if !wait() {
			return nil
		}
	}
}

// watchEvents consumes one watcher's events. It returns true when the
// watcher broke and should be recreated, false when ctx ended.
func (m *Manager) watchEvents(ctx context.Context, w *fsnotify.Watcher, file string, scheduleReload func()) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-w.Events:
			if !ok {
				return true
			}
			// Compare basenames; event paths vary across platforms.
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				scheduleReload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return true
			}
			if err == nil {
				continue
			}
			// An overflow means missed events; reload once to resync.
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				scheduleReload()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
			if strings.Contains(strings.ToLower(err.Error()), "closed") {
				return true
			}
		}
	}
}
