package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NikhilSetiya/voxgate/pkg/logging"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity int

const (
	// SeverityInfo - informational alerts
	SeverityInfo AlertSeverity = iota
	// SeverityWarning - warning alerts that need attention
	SeverityWarning
	// SeverityError - error alerts that need immediate attention
	SeverityError
	// SeverityCritical - critical alerts that need urgent attention
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert represents an alert that needs to be sent
type Alert struct {
	ID          string                 `json:"id"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Timestamp   time.Time              `json:"timestamp"`
	Tags        map[string]string      `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// AlertHandler defines the interface for handling alerts
type AlertHandler interface {
	HandleAlert(ctx context.Context, alert Alert) error
	Name() string
}

// AlertManager routes alerts to handlers, capping how many alerts one
// source may send per interval so a flapping breaker cannot flood them
type AlertManager struct {
	handlers []AlertHandler
	logger   *logging.Logger
	clock    Clock

	mutex         sync.Mutex
	alertCounts   map[string]int
	lastReset     time.Time
	rateLimit     int
	resetInterval time.Duration
}

// NewAlertManager creates a new alert manager allowing rateLimit alerts
// per source each interval
func NewAlertManager(rateLimit int, interval time.Duration, clock Clock) *AlertManager {
	if rateLimit <= 0 {
		rateLimit = 100
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &AlertManager{
		logger:        logging.GetLogger(),
		clock:         clock,
		alertCounts:   make(map[string]int),
		lastReset:     clock.Now(),
		rateLimit:     rateLimit,
		resetInterval: interval,
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.handlers = append(am.handlers, handler)
}

// SendAlert sends an alert to all registered handlers
func (am *AlertManager) SendAlert(ctx context.Context, alert Alert) error {
	am.mutex.Lock()
	allowed := am.checkRateLimitLocked(alert.Source)
	handlers := append([]AlertHandler(nil), am.handlers...)
	am.mutex.Unlock()

	if !allowed {
		am.logger.Warn("Alert rate limit exceeded",
			"source", alert.Source,
			"title", alert.Title,
		)
		return fmt.Errorf("alert rate limit exceeded for source: %s", alert.Source)
	}

	if alert.Timestamp.IsZero() {
		alert.Timestamp = am.clock.Now()
	}
	if alert.ID == "" {
		alert.ID = fmt.Sprintf("%s-%d", alert.Source, alert.Timestamp.UnixNano())
	}

	var lastErr error
	successCount := 0

	for _, handler := range handlers {
		if err := handler.HandleAlert(ctx, alert); err != nil {
			am.logger.Error("Alert handler failed",
				"handler", handler.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all alert handlers failed: %w", lastErr)
	}
	return nil
}

func (am *AlertManager) checkRateLimitLocked(source string) bool {
	now := am.clock.Now()

	if now.Sub(am.lastReset) >= am.resetInterval {
		am.alertCounts = make(map[string]int)
		am.lastReset = now
	}

	count := am.alertCounts[source]
	if count >= am.rateLimit {
		return false
	}

	am.alertCounts[source] = count + 1
	return true
}

// BreakerAlerts returns an OnStateChange hook that raises a warning when a
// breaker opens and an info alert when it closes again
func (am *AlertManager) BreakerAlerts() func(name string, from, to CircuitState) {
	return func(name string, from, to CircuitState) {
		alert := Alert{
			Source: "circuit_breaker." + name,
			Tags:   map[string]string{"breaker": name, "from": from.String(), "to": to.String()},
		}
		if to == StateOpen {
			alert.Severity = SeverityWarning
			alert.Title = fmt.Sprintf("Circuit breaker %s opened", name)
			alert.Description = "Provider calls are rejected until the cooldown elapses"
		} else {
			alert.Severity = SeverityInfo
			alert.Title = fmt.Sprintf("Circuit breaker %s closed", name)
			alert.Description = "Provider calls are admitted again"
		}
		_ = am.SendAlert(context.Background(), alert)
	}
}

// LoggingAlertHandler logs alerts to the application logger
type LoggingAlertHandler struct {
	logger *logging.Logger
}

// NewLoggingAlertHandler creates a new logging alert handler
func NewLoggingAlertHandler(logger *logging.Logger) *LoggingAlertHandler {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LoggingAlertHandler{logger: logger}
}

// HandleAlert handles an alert by logging it
func (h *LoggingAlertHandler) HandleAlert(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"description", alert.Description,
	}
	for key, value := range alert.Tags {
		fields = append(fields, "tag_"+key, value)
	}
	for key, value := range alert.Metadata {
		fields = append(fields, "meta_"+key, value)
	}

	switch alert.Severity {
	case SeverityInfo:
		h.logger.Info("ALERT: "+alert.Title, fields...)
	case SeverityWarning:
		h.logger.Warn("ALERT: "+alert.Title, fields...)
	case SeverityError:
		h.logger.Error("ALERT: "+alert.Title, fields...)
	case SeverityCritical:
		h.logger.Error("CRITICAL ALERT: "+alert.Title, fields...)
	}
	return nil
}

// Name returns the name of the handler
func (h *LoggingAlertHandler) Name() string {
	return "logging"
}
