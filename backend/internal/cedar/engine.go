package cedar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cedar-policy/cedar-go"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/logging"
)

// DefaultPolicy permits generation only for principals that gave consent
const DefaultPolicy = `permit (
    principal,
    action == Action::"generate",
    resource
) when { context.consent == true };`

// ErrNotInitialized is returned when no policy set has been loaded
var ErrNotInitialized = errors.New("cedar: policy engine not initialized")

// Subject is the principal of an authorization request
type Subject struct {
	ID      string
	Tier    string
	Consent bool
}

// Engine wraps the Cedar policy engine with hot-reloading support
type Engine struct {
	policySet     atomic.Pointer[cedar.PolicySet]
	policyVersion atomic.Pointer[string]
	PolicyPath    string

	watcher    *fsnotify.Watcher
	stopWatch  chan struct{}
	logger     *zap.Logger
	reloadLock sync.Mutex
}

// PolicyVersion returns the current policy version (thread-safe)
func (e *Engine) PolicyVersion() string {
	v := e.policyVersion.Load()
	if v == nil {
		return ""
	}
	return *v
}

// NewEngine loads policies from a file. An empty path uses DefaultPolicy.
func NewEngine(policyPath string, logger *zap.Logger) (*Engine, error) {
	logger = logging.OrNop(logger)
	e := &Engine{
		PolicyPath: policyPath,
		stopWatch:  make(chan struct{}),
		logger:     logger,
	}

	if policyPath == "" {
		if err := e.load([]byte(DefaultPolicy)); err != nil {
			return nil, err
		}
		return e, nil
	}

	if err := e.reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewEngineFromSource builds an engine from policy text held in memory
func NewEngineFromSource(src string, logger *zap.Logger) (*Engine, error) {
	logger = logging.OrNop(logger)
	e := &Engine{stopWatch: make(chan struct{}), logger: logger}
	if err := e.load([]byte(src)); err != nil {
		return nil, err
	}
	return e, nil
}

// StartHotReload enables fsnotify file watching for policy hot-reloading
func (e *Engine) StartHotReload() error {
	if e.PolicyPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	e.watcher = watcher

	if err := watcher.Add(e.PolicyPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch policy file: %w", err)
	}

	go e.watchLoop()

	e.logger.Info("cedar hot-reload enabled", zap.String("path", e.PolicyPath))
	return nil
}

// StopHotReload stops the file watcher
func (e *Engine) StopHotReload() {
	if e.watcher != nil {
		close(e.stopWatch)
		e.watcher.Close()
	}
}

func (e *Engine) watchLoop() {
	// Debounce timer to handle rapid file saves
	var debounceTimer *time.Timer
	debounce := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounce, func() {
					e.reloadLock.Lock()
					defer e.reloadLock.Unlock()

					oldVersion := e.PolicyVersion()
					if err := e.reload(); err != nil {
						e.logger.Error("cedar hot-reload failed", zap.Error(err))
					} else {
						e.logger.Info("cedar hot-reload succeeded",
							zap.String("from", oldVersion), zap.String("to", e.PolicyVersion()))
					}
				})
			}
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			e.logger.Warn("cedar watcher error", zap.Error(err))
		case <-e.stopWatch:
			return
		}
	}
}

func (e *Engine) reload() error {
	data, err := os.ReadFile(e.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}
	return e.load(data)
}

// load parses policy text and swaps it in. The previous set stays active on error.
func (e *Engine) load(data []byte) error {
	hash := sha256.Sum256(data)
	version := hex.EncodeToString(hash[:])[:12]

	ps := cedar.NewPolicySet()

	// Split policies by semicolon as a rudimentary parser
	chunks := strings.Split(string(data), ";")
	count := 0
	for i, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}

		var policy cedar.Policy
		if err := policy.UnmarshalCedar([]byte(chunk + ";")); err != nil {
			return fmt.Errorf("failed to unmarshal cedar policy part %d: %w", i, err)
		}

		ps.Add(cedar.PolicyID(fmt.Sprintf("policy%d", i)), &policy)
		count++
	}
	if count == 0 {
		return fmt.Errorf("cedar policy source contains no policies")
	}

	e.policySet.Store(ps)
	e.policyVersion.Store(&version)
	return nil
}

// Authorize decides whether subject may use the generation service.
// The request context carries consent and tier.
func (e *Engine) Authorize(ctx context.Context, subject Subject) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ps := e.policySet.Load()
	if ps == nil {
		return false, ErrNotInitialized
	}

	req := cedar.Request{
		Principal: cedar.NewEntityUID("User", cedar.String(subject.ID)),
		Action:    cedar.NewEntityUID("Action", "generate"),
		Resource:  cedar.NewEntityUID("Service", "ai_generation"),
		Context: cedar.NewRecord(cedar.RecordMap{
			"consent": cedar.Boolean(subject.Consent),
			"tier":    cedar.String(subject.Tier),
		}),
	}

	ok, diagnostics := cedar.Authorize(ps, cedar.EntityMap{}, req)
	if len(diagnostics.Errors) > 0 {
		e.logger.Warn("cedar evaluation errors",
			zap.String("user_id", subject.ID),
			zap.Int("errors", len(diagnostics.Errors)))
	}

	return bool(ok), nil
}
