// Package runlog persists per-run JSONL traces of graph execution.
//
// Each run gets one JSONL file in a configurable directory: a run_begin line,
// one task_event line per engine event, and a run_end line with aggregate
// counters. All *Log methods are nil-safe no-ops so callers never need a nil
// check before logging; the Registry is the sole owner of file handles.
package runlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/korahq/kora/internal/event"
	"github.com/korahq/kora/internal/fault"
)

// RecordKind labels one JSONL line in a run trace.
type RecordKind string

const (
	KindRunBegin  RecordKind = "run_begin"
	KindTaskEvent RecordKind = "task_event"
	KindRunEnd    RecordKind = "run_end"
)

// Record is one JSONL line. Fields are omitempty so each record only carries
// what its kind uses.
type Record struct {
	Kind      RecordKind `json:"kind"`
	RunID     string     `json:"run_id"`
	Timestamp string     `json:"ts"`

	// run_begin
	GraphID string `json:"graph_id,omitempty"`

	// task_event
	Seq   int          `json:"seq,omitempty"`
	Event *event.Event `json:"event,omitempty"`

	// run_end
	Status    string `json:"status,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Events    int    `json:"events,omitempty"`
	LLMCalls  int    `json:"llm_calls,omitempty"`
	TokensIn  int    `json:"tokens_in,omitempty"`
	TokensOut int    `json:"tokens_out,omitempty"`
}

// Log is a handle for writing one run's trace.
//
// Expectations:
//   - All methods are nil-safe (no-op on nil receiver)
//   - Concurrent writes are safe (mutex-protected)
//   - Write failures are logged, never fatal
type Log struct {
	runID     string
	path      string
	started   time.Time
	mu        sync.Mutex
	f         *os.File
	seq       int
	events    int
	llmCalls  int
	tokensIn  int
	tokensOut int
}

// Registry maps run IDs to open Logs and owns JSONL persistence.
//
// Expectations:
//   - Open creates the log directory if absent
//   - Open writes run_begin as the first JSONL line
//   - Open returns the existing log without re-opening for a known runID
//   - A run id whose file already exists on disk gets a -2, -3, ... suffix
//   - Get returns nil for unknown run IDs
//   - Close writes run_end with aggregate counters, then closes the file
type Registry struct {
	dir  string
	mu   sync.Mutex
	logs map[string]*Log
}

// NewRegistry creates a Registry that writes one JSONL file per run under dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, logs: make(map[string]*Log)}
}

// Open creates a Log for runID, writes a run_begin record, and registers it.
func (r *Registry) Open(runID, graphID string) *Log {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.logs[runID]; ok {
		return l
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		slog.Error("[RUNLOG] could not create dir", "dir", r.dir, "error", err)
		return nil
	}
	path := filepath.Join(r.dir, runID+".jsonl")
	for i := 2; ; i++ {
		if _, err := os.Stat(path); err != nil {
			break
		}
		path = filepath.Join(r.dir, fmt.Sprintf("%s-%d.jsonl", runID, i))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("[RUNLOG] could not open log file", "path", path, "error", err)
		return nil
	}

	l := &Log{runID: runID, path: path, started: time.Now(), f: f}
	r.logs[runID] = l
	l.write(Record{Kind: KindRunBegin, RunID: runID, GraphID: graphID})
	return l
}

// Get returns the Log for runID, or nil. Nil is safe to pass everywhere.
func (r *Registry) Get(runID string) *Log {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[runID]
}

// Close writes a run_end record with aggregate counters, closes the file, and
// removes the entry. Safe on a nil *Registry or unknown runID.
func (r *Registry) Close(runID, status string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	l, ok := r.logs[runID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.logs, runID)
	r.mu.Unlock()

	l.mu.Lock()
	rec := Record{
		Kind:      KindRunEnd,
		RunID:     runID,
		Status:    status,
		ElapsedMs: time.Since(l.started).Milliseconds(),
		Events:    l.events,
		LLMCalls:  l.llmCalls,
		TokensIn:  l.tokensIn,
		TokensOut: l.tokensOut,
	}
	l.mu.Unlock()
	l.write(rec)

	l.mu.Lock()
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	l.mu.Unlock()
}

// Event appends one task_event record and folds the event into the run's
// aggregate counters. LLM calls count ok, non-skipped adapter events.
func (l *Log) Event(ev event.Event) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.seq++
	seq := l.seq
	l.events++
	if ev.Stage == fault.StageAdapter && ev.Status == event.StatusOK && !ev.Skipped {
		l.llmCalls++
	}
	if ev.Usage != nil {
		l.tokensIn += ev.Usage.TokensIn
		l.tokensOut += ev.Usage.TokensOut
	}
	l.mu.Unlock()
	l.write(Record{Kind: KindTaskEvent, RunID: l.runID, Seq: seq, Event: &ev})
}

// Path returns the trace file location, or "" on a nil receiver.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// TotalTokens returns the tokens accumulated so far across both directions.
func (l *Log) TotalTokens() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokensIn + l.tokensOut
}

// write appends one JSON line. Adds the timestamp, mutex-protected.
func (l *Log) write(rec Record) {
	if l == nil {
		return
	}
	rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("[RUNLOG] marshal record", "error", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	if _, err = fmt.Fprintf(l.f, "%s\n", data); err != nil {
		slog.Warn("[RUNLOG] write record", "error", err)
	}
}
