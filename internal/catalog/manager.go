package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager hot-reloads a catalog file. Changes swap the snapshot
// atomically; a file that fails to parse leaves the previous catalog in
// place with a warning.
type Manager struct {
	catalog *Catalog
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewManager loads the catalog from path and prepares it for watching.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := NewFromFile(path)
	if err != nil {
		return nil, err
	}
	return &Manager{catalog: c, path: path, logger: logger}, nil
}

// Catalog returns the managed catalog.
func (m *Manager) Catalog() *Catalog { return m.catalog }

// Watch reloads the catalog when the file changes, debouncing rapid
// writes. It returns once the watcher is installed; reloading continues
// until ctx is canceled.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}
	m.watcher = watcher

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	const debounceDelay = 500 * time.Millisecond
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				if err := m.catalog.LoadFile(m.path); err != nil {
					m.logger.Warn("catalog reload failed, keeping previous catalog",
						"path", m.path, "error", err)
					return
				}
				m.logger.Info("catalog reloaded", "path", m.path)
			})

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("catalog watcher error", "error", err)
		}
	}
}
