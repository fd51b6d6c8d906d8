package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with service metadata and the call/job event helpers
// used by the orchestrator
type Logger struct {
	*logrus.Logger
	serviceName string
	version     string
}

// Config holds logging configuration
type Config struct {
	Level       string `json:"level"`
	Format      string `json:"format"`
	Output      string `json:"output"`
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
}

// ContextKey type for context keys
type ContextKey string

const (
	CorrelationIDKey ContextKey = "correlation_id"
	// RequestIDKey identifies one logical operation (Generate, Transcribe, ...)
	RequestIDKey ContextKey = "request_id"
	// RunIDKey identifies an asynchronous transcription run
	RunIDKey   ContextKey = "run_id"
	TraceIDKey ContextKey = "trace_id"
	SpanIDKey  ContextKey = "span_id"
)

// contextFields is the order in which context values are copied onto entries
var contextFields = []ContextKey{CorrelationIDKey, RequestIDKey, RunIDKey, TraceIDKey, SpanIDKey}

func defaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "voxgate",
		Version:     "unknown",
	}
}

// NewLogger creates a new structured logger
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = defaultConfig()
	}

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	formatter, err := newFormatter(config.Format)
	if err != nil {
		return nil, err
	}
	output, err := openOutput(config.Output)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	logger.SetOutput(output)

	return &Logger{
		Logger:      logger,
		serviceName: config.ServiceName,
		version:     config.Version,
	}, nil
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		}, nil
	case "text":
		return &logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true}, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// openOutput maps stdout/stderr to the process streams; anything else is
// a file opened for append
func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

func (l *Logger) base() *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service": l.serviceName,
		"version": l.version,
	})
}

// WithContext returns an entry carrying the IDs stored on ctx
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.base()
	for _, key := range contextFields {
		if value := ctx.Value(key); value != nil {
			entry = entry.WithField(string(key), value)
		}
	}
	return entry
}

// WithFields returns an entry with the service fields plus fields
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.base().WithFields(fields)
}

// WithError returns an entry describing err
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.base().WithFields(errorFields(err))
}

func errorFields(err error) logrus.Fields {
	return logrus.Fields{
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	}
}

// LogRequest logs one served HTTP request
func (l *Logger) LogRequest(ctx context.Context, method, path, userAgent, clientIP string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"http_method":      method,
		"http_path":        path,
		"http_status":      statusCode,
		"user_agent":       userAgent,
		"client_ip":        clientIP,
		"response_time_ms": duration.Milliseconds(),
	}).Info("HTTP request processed")
}

// LogCallEvent logs the outcome of one orchestrated external call
func (l *Logger) LogCallEvent(ctx context.Context, event, operation string, attempts int, fields logrus.Fields) {
	l.event(ctx, logrus.Fields{
		"event":     event,
		"operation": operation,
		"attempts":  attempts,
	}, fields).Info("Call event")
}

// LogJobEvent logs transcription job lifecycle events
func (l *Logger) LogJobEvent(ctx context.Context, event, jobID, status string, fields logrus.Fields) {
	l.event(ctx, logrus.Fields{
		"event":      event,
		"job_id":     jobID,
		"job_status": status,
	}, fields).Info("Job event")
}

// LogError logs err with the context IDs; at debug level the stack is attached
func (l *Logger) LogError(ctx context.Context, err error, message string, fields logrus.Fields) {
	entry := l.event(ctx, errorFields(err), fields)
	if l.Logger.IsLevelEnabled(logrus.DebugLevel) {
		entry = entry.WithField("stack_trace", stackTrace())
	}
	entry.Error(message)
}

func (l *Logger) event(ctx context.Context, fields, extra logrus.Fields) *logrus.Entry {
	entry := l.WithContext(ctx).WithFields(fields)
	if len(extra) > 0 {
		entry = entry.WithFields(extra)
	}
	return entry
}

func stackTrace() string {
	buf := make([]byte, 4096)
	return string(buf[:runtime.Stack(buf, false)])
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}

// NewRequestID generates an identifier for one logical operation
func NewRequestID() string {
	return uuid.New().String()
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func WithSpanID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SpanIDKey, id)
}

// GetCorrelationID returns the correlation ID on ctx, or ""
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(CorrelationIDKey).(string)
	return id
}

// GetRequestID returns the request ID on ctx, or ""
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// SetOutput redirects the logger, mostly for tests and the CLI
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

var globalLogger *Logger

func init() {
	logger, err := NewLogger(nil)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize global logger: %v", err))
	}
	globalLogger = logger
}

// GetLogger returns the process-wide logger
func GetLogger() *Logger {
	return globalLogger
}

// SetGlobalLogger replaces the process-wide logger
func SetGlobalLogger(logger *Logger) {
	globalLogger = logger
}

// Info logs msg with alternating key/value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairs(keysAndValues)).Info(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairs(keysAndValues)).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairs(keysAndValues)).Error(msg)
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairs(keysAndValues)).Debug(msg)
}

// pairs turns key/value arguments into fields; a trailing key without a
// value is dropped
func pairs(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
