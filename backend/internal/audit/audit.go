package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/logging"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/metrics"
)

// EventType tags a governance decision
type EventType string

const (
	EventMaliciousPrompt      EventType = "malicious_prompt_detected"
	EventInappropriateContent EventType = "inappropriate_content_detected"
	EventPIIScrubbed          EventType = "pii_scrubbed"
	EventRateLimitExceeded    EventType = "rate_limit_exceeded"
	EventSuspiciousActivity   EventType = "suspicious_activity_detected"
	EventMonthlyLimitExceeded EventType = "monthly_limit_exceeded"
	EventConsentMissing       EventType = "consent_missing"
	EventInputTooShort        EventType = "input_too_short"
	EventBiasThreshold        EventType = "bias_threshold_exceeded"
	EventQualityThreshold     EventType = "quality_threshold_not_met"
	EventFallbackUsed         EventType = "fallback_content_used"
	EventRequestValidated     EventType = "request_validated"
	EventOutputValidated      EventType = "output_validated"
	EventUsageIncremented     EventType = "usage_incremented"
	EventMonthlyUsageReset    EventType = "monthly_usage_reset"
	EventValidationError      EventType = "validation_error"
)

// Event is an immutable record of a guardrail decision
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Details   map[string]interface{} `json:"details"`
}

// Recorder is implemented by anything that accepts audit events.
// Detectors and trackers depend on this rather than on *Logger.
type Recorder interface {
	Log(eventType EventType, details map[string]interface{}) Event
}

// Logger is the append-only audit log. Events are kept in memory for
// queries and optionally mirrored as JSON lines to a sink.
type Logger struct {
	mu      sync.Mutex
	events  []Event
	sink    io.Writer
	closer  io.Closer
	encoder *json.Encoder
	logger  *zap.Logger
	now     func() time.Time
}

// NewLogger creates an audit logger.
// filePath "" keeps events in memory only, "stdout" mirrors to stdout,
// anything else is opened for append.
func NewLogger(filePath string, logger *zap.Logger) (*Logger, error) {
	l := &Logger{
		events: make([]Event, 0),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	l.logger = logging.OrNop(l.logger)

	switch filePath {
	case "":
	case "stdout":
		l.setSink(os.Stdout, nil)
	default:
		file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		l.setSink(file, file)
	}

	return l, nil
}

// NewMemoryLogger creates an in-memory audit log, mainly for tests and the CLI
func NewMemoryLogger() *Logger {
	l, _ := NewLogger("", nil)
	return l
}

// WithClock overrides the timestamp source
func (l *Logger) WithClock(now func() time.Time) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

func (l *Logger) setSink(w io.Writer, c io.Closer) {
	l.sink = w
	l.closer = c
	l.encoder = json.NewEncoder(w)
}

// Log appends an event. The details map is copied so later mutation by
// the caller cannot change the stored record.
func (l *Logger) Log(eventType EventType, details map[string]interface{}) Event {
	copied := make(map[string]interface{}, len(details))
	for k, v := range details {
		copied[k] = v
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	event := Event{
		ID:        uuid.New().String(),
		Timestamp: l.now(),
		EventType: eventType,
		Details:   copied,
	}
	l.events = append(l.events, event)

	if l.encoder != nil {
		if err := l.encoder.Encode(event); err != nil {
			l.logger.Warn("failed to write audit event", zap.String("event_type", string(eventType)), zap.Error(err))
		}
	}

	metrics.RecordAuditEvent(string(eventType))
	l.logger.Info("audit event", zap.String("event_type", string(eventType)), zap.Any("details", copied))

	return event
}

// Events returns the events at or after since. A zero since returns all.
func (l *Logger) Events(since time.Time) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, 0, len(l.events))
	for _, e := range l.events {
		if since.IsZero() || !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

// EventsOfType filters the log by type
func (l *Logger) EventsOfType(eventType EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, e := range l.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of events logged so far
func (l *Logger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Close closes the sink file, if any
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
