package gwconfig

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce absorbs editor save-and-rename patterns: a burst of
// filesystem events within this window collapses into one reload.
const reloadDebounce = 100 * time.Millisecond

// Status is a point-in-time snapshot of the Manager's reload bookkeeping,
// surfaced on the /health admin endpoint.
type Status struct {
	Path        string
	Checksum    string
	LoadedAt    time.Time
	ReloadCount uint64
}

// Manager holds the current Config behind an atomic pointer and
// publishes a new snapshot whenever the watched file changes. Readers
// call Get(); nothing ever observes a partially-written Config.
type Manager struct {
	config atomic.Pointer[Config]
	path   string
	logger *slog.Logger

	watcher *fsnotify.Watcher

	onChange []func(*Config)

	checksum    atomic.Value
	loadedAt    atomic.Value
	reloadCount atomic.Uint64
}

// NewManager loads the config at path and returns a Manager wrapping it.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path, logger: logger}
	m.storeConfig(cfg)
	return m, nil
}

// Get returns the current immutable snapshot. Callers must not hold it
// across long awaits.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Status reports the Manager's reload bookkeeping.
func (m *Manager) Status() Status {
	checksum, _ := m.checksum.Load().(string)
	loadedAt, _ := m.loadedAt.Load().(time.Time)
	return Status{
		Path:        m.path,
		Checksum:    checksum,
		LoadedAt:    loadedAt,
		ReloadCount: m.reloadCount.Load(),
	}
}

// OnChange registers a callback invoked with the new Config after every
// successful reload. Callbacks run synchronously on the watcher
// goroutine and must not block.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Watch starts the fsnotify watcher on the config file's directory and
// begins debounced reloading. It returns once the watcher is armed; the
// watch loop itself runs on its own goroutine until ctx is cancelled or
// Close is called.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}
	m.watcher = watcher

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	target := filepath.Clean(m.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := m.Reload(); err != nil {
					m.logger.Warn("config reload failed, keeping previous snapshot", "path", m.path, "error", err)
				}
			})
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", "error", err)
		}
	}
}

// Reload re-reads and re-validates the config file and, on success,
// publishes it as the new snapshot. On failure the previous snapshot is
// retained and the error is returned for the caller to log.
func (m *Manager) Reload() error {
	cfg, err := LoadFromFile(m.path)
	if err != nil {
		return err
	}
	m.storeConfig(cfg)
	m.logger.Info("config reloaded", "path", m.path, "providers", len(cfg.Providers))
	for _, fn := range m.onChange {
		fn(cfg)
	}
	return nil
}

// Close stops the watcher.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	return m.watcher.Close()
}

func (m *Manager) storeConfig(cfg *Config) {
	m.config.Store(cfg)
	m.checksum.Store(configChecksum(cfg))
	m.loadedAt.Store(time.Now())
	m.reloadCount.Add(1)
}

func configChecksum(cfg *Config) string {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
