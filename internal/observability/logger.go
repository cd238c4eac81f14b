// Package observability provides the pipeline's structured JSON logger and
// its metrics surface. Both are optional collaborators: the logger can be
// silenced with io.Discard and metrics default to no-ops, so the core has
// no hard dependency on any telemetry backend.
package observability

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/triagelab/extract/pkg/types"
)

// PipelineLogger emits one JSON object per line, each carrying the
// conversation and message identifiers plus a per-run id. Lines stay
// parseable without schema registration: stable top-level key names, with
// event-specific data nested under payload.
type PipelineLogger struct {
	mu     sync.Mutex
	out    io.Writer
	idConv string
	idMsg  string
	runID  string
}

// NewPipelineLogger creates a logger for one pipeline run. A nil writer
// defaults to stderr.
func NewPipelineLogger(out io.Writer, idConv, idMsg string) *PipelineLogger {
	if out == nil {
		out = os.Stderr
	}
	return &PipelineLogger{
		out:    out,
		idConv: idConv,
		idMsg:  idMsg,
		runID:  uuid.NewString(),
	}
}

// NewRotatingSink returns a size-rotated file writer for logger output.
// Files rotate at 50 MiB and five rotated backups are kept besides the
// active file; callers pass the result to
// NewPipelineLogger when stderr is not the right sink.
func NewRotatingSink(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // MiB
		MaxBackups: 5,
	}
}

// line is the wire shape of a single log record.
type line struct {
	Timestamp       string         `json:"ts"`
	Level           string         `json:"level"`
	Event           string         `json:"event"`
	IDConversazione string         `json:"id_conversazione"`
	IDMessaggio     string         `json:"id_messaggio"`
	RunID           string         `json:"run_id"`
	Payload         map[string]any `json:"payload,omitempty"`
}

func (l *PipelineLogger) emit(level, event string, payload map[string]any) {
	record := line{
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		Level:           level,
		Event:           event,
		IDConversazione: l.idConv,
		IDMessaggio:     l.idMsg,
		RunID:           l.runID,
		Payload:         payload,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}

// Debug logs a debug-level event.
func (l *PipelineLogger) Debug(event string, payload map[string]any) {
	l.emit("debug", event, payload)
}

// Info logs an info-level event.
func (l *PipelineLogger) Info(event string, payload map[string]any) {
	l.emit("info", event, payload)
}

// Warn logs a warning-level event.
func (l *PipelineLogger) Warn(event string, payload map[string]any) {
	l.emit("warn", event, payload)
}

// LogFallback records a component skip with its structured reason.
func (l *PipelineLogger) LogFallback(component, reason string) {
	l.emit("warn", "fallback_activated", map[string]any{
		"component": component,
		"reason":    reason,
	})
}

// LogEntitySummary emits the per-type and per-source entity counts for one
// processed message.
func (l *PipelineLogger) LogEntitySummary(entities []types.Entity) {
	byType := map[string]int{}
	bySource := map[string]int{}
	for _, e := range entities {
		byType[e.Type]++
		bySource[e.Source]++
	}
	l.emit("info", "entity_summary", map[string]any{
		"total":     len(entities),
		"by_type":   byType,
		"by_source": bySource,
	})
}
