package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeSessionOpen EventType = "session_open"
	EventTypeSessionEnd  EventType = "session_end"
	EventTypeStep        EventType = "step"
	EventTypeServerError EventType = "server_error"
	EventTypeParseError  EventType = "parse_error"
	EventTypeReplan      EventType = "replan"
	EventTypeTransition  EventType = "transition"
	EventTypeRequest     EventType = "request"
	EventTypeGeneration  EventType = "generation"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType
	SessionID string
	Task      string
	Level     *logrus.Level // nil logs at info
	Data      map[string]any
	Timestamp time.Time
}

// At returns lvl for use as Event.Level.
func At(lvl logrus.Level) *logrus.Level {
	return &lvl
}

// Logger handles structured logging.
type Logger struct {
	entry      *logrus.Logger
	llmLogPath string
	maxSize    int64
	fileMu     sync.Mutex
}

// NewLogger builds a logger writing to w. format is "json" or "text";
// level is any logrus level name.
func NewLogger(w io.Writer, level, format string) (*Logger, error) {
	l := logrus.New()
	l.SetOutput(w)

	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}

	return &Logger{
		entry:      l,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}, nil
}

// NewNopLogger discards everything. Handy in tests and for callers that
// do not care about diagnostics.
func NewNopLogger() *Logger {
	l, _ := NewLogger(io.Discard, "panic", "json")
	l.llmLogPath = ""
	return l
}

// WithLLMLog redirects the LLM transcript file. An empty path disables it.
func (l *Logger) WithLLMLog(path string) *Logger {
	l.llmLogPath = path
	return l
}

// Log emits a structured event. A nil Logger is a no-op.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	level := logrus.InfoLevel
	if evt.Level != nil {
		level = *evt.Level
	}

	fields := logrus.Fields{"type": string(evt.Type)}
	if evt.SessionID != "" {
		fields["session_id"] = evt.SessionID
	}
	if evt.Task != "" {
		fields["task"] = evt.Task
	}
	for k, v := range evt.Data {
		fields[k] = v
	}
	l.entry.WithFields(fields).WithTime(evt.Timestamp).Log(level, string(evt.Type))

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		data, err := json.Marshal(map[string]any{
			"session_id": evt.SessionID,
			"task":       evt.Task,
			"data":       evt.Data,
			"timestamp":  evt.Timestamp,
		})
		if err != nil {
			l.entry.Warnf("failed to marshal llm event: %v", err)
			return
		}
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		l.entry.Warnf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.entry.Warnf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.entry.Warnf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// keep one .old generation
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogSessionOpen(sessionID, task string, history, offset int) {
	l.Log(Event{
		Type:      EventTypeSessionOpen,
		SessionID: sessionID,
		Task:      task,
		Data:      map[string]any{"history": history, "offset": offset},
	})
}

func (l *Logger) LogSessionEnd(sessionID string, steps int, err error) {
	data := map[string]any{"steps": steps}
	level := logrus.InfoLevel
	if err != nil {
		data["error"] = err.Error()
		level = logrus.WarnLevel
	}
	l.Log(Event{Type: EventTypeSessionEnd, SessionID: sessionID, Level: At(level), Data: data})
}

func (l *Logger) LogStep(sessionID string, index int, title string) {
	l.Log(Event{
		Type:      EventTypeStep,
		SessionID: sessionID,
		Level:     At(logrus.DebugLevel),
		Data:      map[string]any{"index": index, "title": title},
	})
}

func (l *Logger) LogServerError(sessionID, message string) {
	l.Log(Event{
		Type:      EventTypeServerError,
		SessionID: sessionID,
		Level:     At(logrus.WarnLevel),
		Data:      map[string]any{"message": message},
	})
}

func (l *Logger) LogParseError(sessionID string, err error) {
	l.Log(Event{
		Type:      EventTypeParseError,
		SessionID: sessionID,
		Level:     At(logrus.WarnLevel),
		Data:      map[string]any{"error": err.Error()},
	})
}

func (l *Logger) LogReplan(task string, resetAll bool, history, offset int) {
	l.Log(Event{
		Type: EventTypeReplan,
		Task: task,
		Data: map[string]any{"reset_all": resetAll, "history": history, "offset": offset},
	})
}

func (l *Logger) LogTransition(index int, from, to string) {
	l.Log(Event{
		Type:  EventTypeTransition,
		Level: At(logrus.DebugLevel),
		Data:  map[string]any{"index": index, "from": from, "to": to},
	})
}

func (l *Logger) LogRequest(method, path string, status int, elapsed time.Duration) {
	l.Log(Event{
		Type: EventTypeRequest,
		Data: map[string]any{"method": method, "path": path, "status": status, "elapsed_ms": elapsed.Milliseconds()},
	})
}

func (l *Logger) LogGeneration(id, task string, steps int, elapsed time.Duration, err error) {
	data := map[string]any{"steps": steps, "elapsed_ms": elapsed.Milliseconds()}
	level := logrus.InfoLevel
	if err != nil {
		data["error"] = err.Error()
		level = logrus.ErrorLevel
	}
	l.Log(Event{Type: EventTypeGeneration, SessionID: id, Task: task, Level: At(level), Data: data})
}

func (l *Logger) LogLLM(id, task string, prompt any, response string) {
	l.Log(Event{
		Type:      EventTypeLLM,
		SessionID: id,
		Task:      task,
		Level:     At(logrus.DebugLevel),
		Data: map[string]any{
			"prompt":   prompt,
			"response": response,
		},
	})
}

// Warnf logs a free-form warning.
func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.entry.Warnf(format, args...)
}

// Debugf logs a free-form debug message.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil {
		return
	}
	l.entry.Debugf(format, args...)
}

// Infof logs a free-form message.
func (l *Logger) Infof(format string, args ...any) {
	if l == nil {
		return
	}
	l.entry.Infof(format, args...)
}
