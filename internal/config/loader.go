package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads the YAML catalog and watches it for changes.
type Loader struct {
	path     string
	logger   *slog.Logger
	reloadMu sync.Mutex // serialises Reload
	mu       sync.RWMutex
	current  *CatalogConfig
	onChange []func(*CatalogConfig) error
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{path: path, logger: logger}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the last catalog every OnChange callback accepted.
func (l *Loader) Config() *CatalogConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the catalog reloads. A
// callback that returns an error rejects the new catalog.
func (l *Loader) OnChange(fn func(*CatalogConfig) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the catalog on file changes.
// Call the returned stop function to clean up.
//
// The parent directory is watched rather than the file itself so editors that
// replace the file by rename keep triggering reloads.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("catalog watcher add %s: %w", l.path, err)
	}

	target := filepath.Clean(l.path)
	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if _, err := l.Reload(); err != nil {
					l.logger.Warn("catalog reload failed, keeping previous", "path", l.path, "err", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("catalog watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the catalog file. The new catalog
// becomes current only if every OnChange callback accepts it; otherwise the
// first callback error is returned and the previous catalog stays current.
func (l *Loader) Reload() (*CatalogConfig, error) {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	callbacks := make([]func(*CatalogConfig) error, len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.RUnlock()
	for _, fn := range callbacks {
		if err := fn(cfg); err != nil {
			return nil, fmt.Errorf("catalog %s rejected: %w", l.path, err)
		}
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Load reads and parses a catalog file, applying defaults.
func Load(path string) (*CatalogConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes catalog YAML and applies defaults.
func Parse(data []byte) (*CatalogConfig, error) {
	var cfg CatalogConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *CatalogConfig) {
	if cfg.Engine.CommitWorkers == 0 {
		cfg.Engine.CommitWorkers = 4
	}
	if cfg.Engine.QueueDepth == 0 {
		cfg.Engine.QueueDepth = 256
	}
	if cfg.Engine.CommitTimeoutMs == 0 {
		cfg.Engine.CommitTimeoutMs = 5000
	}
	if cfg.Engine.SessionTTLSec == 0 {
		cfg.Engine.SessionTTLSec = 1800
	}
	if cfg.Engine.FrameIntervalMs == 0 {
		cfg.Engine.FrameIntervalMs = 16
	}
	if cfg.Layout.NodeWidth == 0 {
		cfg.Layout.NodeWidth = 160
	}
	if cfg.Layout.NodeHeight == 0 {
		cfg.Layout.NodeHeight = 48
	}
	if cfg.Layout.ColumnGap == 0 {
		cfg.Layout.ColumnGap = 80
	}
	if cfg.Layout.RowGap == 0 {
		cfg.Layout.RowGap = 16
	}
	if len(cfg.Ranks) == 0 {
		cfg.Ranks = []string{"entry", "advanced", "expert"}
	}
	for i := range cfg.Selectors {
		if cfg.Selectors[i].Mode == "" {
			cfg.Selectors[i].Mode = ModeBudgeted
		}
	}
}
