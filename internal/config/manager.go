package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeEvent describes one observed configuration change.
type ChangeEvent struct {
	File      string
	Config    *Config
	Timestamp time.Time
}

// ChangeHandler is invoked after a config file has been reloaded and
// validated. Handler errors are logged, not propagated.
type ChangeHandler func(ChangeEvent) error

// Manager watches the directory containing the config file and reloads it on
// change. Consumers read the current snapshot through Current(); handlers get
// notified with the new snapshot. A reload that fails to parse or validate
// keeps the previous snapshot in place.
type Manager struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu       sync.RWMutex
	current  *Config
	handlers []ChangeHandler
	started  bool

	stopCh chan struct{}
}

// NewManager loads the config at path and prepares a watcher on its
// directory.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &Manager{
		path:    path,
		watcher: watcher,
		logger:  logger,
		current: cfg,
		stopCh:  make(chan struct{}),
	}, nil
}

// Current returns the latest valid configuration snapshot.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler called after each successful reload.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start begins watching for changes. Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	dir := filepath.Dir(m.path)
	if err := m.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config directory %s: %w", dir, err)
	}

	go m.watchLoop(ctx)

	m.logger.Info("Configuration manager started",
		zap.String("config_file", m.path),
		zap.String("watch_dir", dir),
	)
	return nil
}

// Stop stops the watcher.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	m.started = false
	close(m.stopCh)
	return m.watcher.Close()
}

func (m *Manager) watchLoop(ctx context.Context) {
	// Editors often write config files as rename+create; debounce so one
	// save triggers one reload.
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, m.reload)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		m.logger.Error("Config reload failed, keeping previous snapshot",
			zap.String("config_file", m.path),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	m.current = cfg
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	event := ChangeEvent{File: m.path, Config: cfg, Timestamp: time.Now()}
	for _, h := range handlers {
		if err := h(event); err != nil {
			m.logger.Warn("Config change handler failed", zap.Error(err))
		}
	}

	m.logger.Info("Configuration reloaded", zap.String("config_file", m.path))
}
