package logger

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/emreis/sanalpos/infra/opensearch"
)

// Level is a log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogContext carries structured fields attached to a log entry
type LogContext struct {
	Provider      string         `json:"provider,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Company       string         `json:"company,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

type entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Service   string    `json:"service"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	LogContext
}

// SystemLogger writes structured JSON to stderr and optionally ships each
// entry to OpenSearch.
type SystemLogger struct {
	osClient *opensearch.Client
	index    string
	service  string
}

var (
	globalLogger *SystemLogger
	once         sync.Once
)

// Init initializes the global logger. osClient may be nil for console-only
// operation.
func Init(osClient *opensearch.Client) {
	once.Do(func() {
		globalLogger = &SystemLogger{
			osClient: osClient,
			index:    "sanalpos-system-logs",
			service:  "sanalpos",
		}
	})
}

func global() *SystemLogger {
	if globalLogger == nil {
		Init(nil)
	}
	return globalLogger
}

func (l *SystemLogger) write(level Level, message string, err error, ctx ...LogContext) {
	e := entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Service:   l.service,
		Message:   message,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if len(ctx) > 0 {
		e.LogContext = ctx[0]
	}

	line, marshalErr := json.Marshal(e)
	if marshalErr != nil {
		log.Printf("%s %s", level, message)
		return
	}
	log.New(os.Stderr, "", 0).Println(string(line))

	if l.osClient != nil {
		go func() {
			_ = l.osClient.Index(context.Background(), l.index, e)
		}()
	}
}

// Debug logs a debug message using the global logger
func Debug(message string, ctx ...LogContext) { global().write(LevelDebug, message, nil, ctx...) }

// Info logs an info message using the global logger
func Info(message string, ctx ...LogContext) { global().write(LevelInfo, message, nil, ctx...) }

// Warn logs a warning message using the global logger
func Warn(message string, ctx ...LogContext) { global().write(LevelWarn, message, nil, ctx...) }

// Error logs an error message using the global logger
func Error(message string, err error, ctx ...LogContext) {
	global().write(LevelError, message, err, ctx...)
}
