// Package logging provides leveled logging and decision tracing for carbon.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A DecisionLogger for structured JSONL decision traces (.carbon/decisions.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/carbon-oracle/internal/models"
)

// LevelTrace is a custom slog level below Debug. At this level decision
// traces carry the raw telemetry record and LLM prompts are logged in full.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "warn", "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// DecisionEvent is one prediction tick of the control loop.
type DecisionEvent struct {
	BatchID     string                   `json:"batch_id"`
	Tick        int                      `json:"tick"`
	TimeMin     int                      `json:"time_min"`
	Features    models.ExtractedFeatures `json:"features"`
	Prediction  models.PredictionResult  `json:"prediction"`
	OracleError string                   `json:"oracle_error,omitempty"`
	Action      models.Action            `json:"action"`
	Reason      string                   `json:"reason"`
	Adjustment  string                   `json:"adjustment,omitempty"`

	// Record is the telemetry record of the tick, kept only at trace level.
	Record *models.TelemetryRecord `json:"record,omitempty"`
}

// DecisionLogger writes structured decision events to a JSONL file.
// It is safe for concurrent use. A nil DecisionLogger is safe to use;
// all methods are no-ops on nil receiver.
type DecisionLogger struct {
	mu    sync.Mutex
	file  *os.File
	trace bool
}

// NewDecisionLogger creates a decision logger writing to dir/decisions.jsonl.
// At "info" level (the default) and above it returns nil and no file is
// created. Returns nil if the file cannot be opened.
func NewDecisionLogger(dir string, level string) *DecisionLogger {
	lvl := ParseLevel(level)
	if lvl >= slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, "decisions.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &DecisionLogger{file: f, trace: lvl <= LevelTrace}
}

// LogDecision writes a decision event with event type "decision".
func (dl *DecisionLogger) LogDecision(ev DecisionEvent) {
	if dl == nil {
		return
	}
	if !dl.trace {
		ev.Record = nil
	}
	dl.write(struct {
		Time  string `json:"time"`
		Event string `json:"event"`
		DecisionEvent
	}{
		Time:          now(),
		Event:         "decision",
		DecisionEvent: ev,
	})
}

// Log writes a free-form event as a single JSONL line.
// A "time" field is added automatically. The caller's map is not mutated.
func (dl *DecisionLogger) Log(event map[string]any) {
	if dl == nil {
		return
	}

	entry := make(map[string]any, len(event)+1)
	for k, v := range event {
		entry[k] = v
	}
	entry["time"] = now()
	dl.write(entry)
}

func (dl *DecisionLogger) write(v any) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.file == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = dl.file.Write(data)
}

// Close closes the underlying file. Safe to call on nil receiver.
func (dl *DecisionLogger) Close() {
	if dl == nil {
		return
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.file != nil {
		dl.file.Close()
		dl.file = nil
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
