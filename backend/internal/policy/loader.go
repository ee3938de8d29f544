package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/logging"
)

// Loader manages loading and caching of policy files
type Loader struct {
	configDir string
	policies  map[string]*Policy
	defaultID string
	mu        sync.RWMutex
	logger    *zap.Logger

	watcher   *fsnotify.Watcher
	stopWatch chan struct{}
}

// NewLoader creates a new policy loader. defaultID selects which loaded
// policy answers Current; empty means "default".
func NewLoader(configDir, defaultID string, logger *zap.Logger) *Loader {
	logger = logging.OrNop(logger)
	if defaultID == "" {
		defaultID = "default"
	}
	return &Loader{
		configDir: configDir,
		policies:  make(map[string]*Policy),
		defaultID: defaultID,
		logger:    logger,
	}
}

// Load reads all policy files from the config directory. A missing or empty
// directory installs DefaultPolicy.
func (l *Loader) Load() error {
	policies, err := l.readAll()
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.policies = policies
	l.mu.Unlock()

	l.logger.Info("policies loaded", zap.Int("count", len(policies)), zap.String("default", l.defaultID))
	return nil
}

func (l *Loader) readAll() (map[string]*Policy, error) {
	policies := make(map[string]*Policy)

	if _, err := os.Stat(l.configDir); os.IsNotExist(err) {
		l.logger.Info("policy directory does not exist, using default policy", zap.String("dir", l.configDir))
		def := DefaultPolicy()
		policies[def.ID] = def
		return policies, nil
	}

	files, err := filepath.Glob(filepath.Join(l.configDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list policy files: %w", err)
	}
	ymlFiles, err := filepath.Glob(filepath.Join(l.configDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list policy files: %w", err)
	}
	files = append(files, ymlFiles...)
	sort.Strings(files)

	for _, file := range files {
		p, err := loadFile(file)
		if err != nil {
			l.logger.Error("failed to load policy file", zap.String("file", file), zap.Error(err))
			continue
		}
		policies[p.ID] = p
		l.logger.Info("loaded policy", zap.String("id", p.ID), zap.String("version", p.Version))
	}

	if len(policies) == 0 {
		def := DefaultPolicy()
		policies[def.ID] = def
	}
	return policies, nil
}

func loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML policy document and fills defaults
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.applyDefaults()
	return &p, nil
}

// GetPolicy returns a policy by ID
func (l *Loader) GetPolicy(id string) *Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policies[id]
}

// Current returns the default policy, or the built-in one when it is absent
func (l *Loader) Current() *Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if p, ok := l.policies[l.defaultID]; ok {
		return p
	}
	return DefaultPolicy()
}

// ListPolicies returns all loaded policies
func (l *Loader) ListPolicies() []*Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()

	policies := make([]*Policy, 0, len(l.policies))
	for _, p := range l.policies {
		policies = append(policies, p)
	}
	return policies
}

// Watch reloads the directory when files change. Rapid saves are debounced.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}

	l.watcher = watcher
	l.stopWatch = make(chan struct{})
	go l.watchLoop(watcher, l.stopWatch)

	l.logger.Info("policy hot-reload enabled", zap.String("dir", l.configDir))
	return nil
}

// StopWatch stops the directory watcher
func (l *Loader) StopWatch() {
	if l.watcher != nil {
		close(l.stopWatch)
		l.watcher.Close()
		l.watcher = nil
	}
}

func (l *Loader) watchLoop(watcher *fsnotify.Watcher, stop <-chan struct{}) {
	var debounceTimer *time.Timer
	debounce := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounce, func() {
					if err := l.Load(); err != nil {
						l.logger.Error("policy hot-reload failed", zap.Error(err))
					}
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("policy watcher error", zap.Error(err))
		case <-stop:
			return
		}
	}
}
