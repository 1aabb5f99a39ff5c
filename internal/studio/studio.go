// Package studio serves the execution-viewer backend. It launches runs on
// behalf of the web UI, replays their events over Server-Sent Events at a
// human-watchable pace, and exposes recent history plus the on-disk archive.
package studio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/korahq/kora/internal/adapter"
	"github.com/korahq/kora/internal/archive"
	"github.com/korahq/kora/internal/engine"
	"github.com/korahq/kora/internal/event"
	"github.com/korahq/kora/internal/fault"
	"github.com/korahq/kora/internal/ir"
	"github.com/korahq/kora/internal/telemetry"
	"github.com/korahq/kora/internal/workload"
)

// DefaultDemoReportPath is where the benchmark harness leaves its telemetry
// summary, relative to the working directory.
const DefaultDemoReportPath = "docs/reports/real_app_benchmark.telemetry.json"

const (
	modeKora   = "kora"
	modeDirect = "direct"

	directTaskID = "direct_call"

	defaultStationDelay = 300 * time.Millisecond
	defaultTraceDelay   = 400 * time.Millisecond
	defaultHistoryLimit = 50
	defaultListLimit    = 50
)

// Options configures a Server. Zero values select the defaults.
type Options struct {
	// Engine runs launched graphs. Nil builds a default engine.
	Engine *engine.Engine

	// Archive persists completed runs. Nil disables persistence; the
	// /api/runs endpoints then serve empty results.
	Archive *archive.Archive

	// Origins lists the allowed CORS origins for the browser UI.
	Origins []string

	// DemoReportPath overrides where /api/demo_report looks for the
	// harness summary.
	DemoReportPath string

	// StationDelay and TraceDelay pace the SSE streams.
	StationDelay time.Duration
	TraceDelay   time.Duration

	// HistoryLimit caps the in-memory run window.
	HistoryLimit int
}

// HistoryItem is one entry of the recent-run window.
type HistoryItem struct {
	RunID   string            `json:"run_id"`
	Prompt  string            `json:"prompt"`
	Mode    string            `json:"mode"`
	Summary telemetry.Summary `json:"summary"`
}

// runRecord retains what SSE replay needs after a run returns.
type runRecord struct {
	events  []event.Event
	summary telemetry.Summary
}

// Server is the studio HTTP backend. Construct with New.
type Server struct {
	eng          *engine.Engine
	arch         *archive.Archive
	origins      []string
	reportPath   string
	stationDelay time.Duration
	traceDelay   time.Duration
	historyLimit int

	mu      sync.Mutex
	runs    map[string]runRecord
	history []HistoryItem

	registry   *prometheus.Registry
	runsTotal  *prometheus.CounterVec
	runSeconds prometheus.Histogram
	sseClients prometheus.Gauge
}

// New builds a Server with its own metrics registry.
func New(opts Options) *Server {
	eng := opts.Engine
	if eng == nil {
		eng = engine.New()
	}
	s := &Server{
		eng:          eng,
		arch:         opts.Archive,
		origins:      opts.Origins,
		reportPath:   opts.DemoReportPath,
		stationDelay: opts.StationDelay,
		traceDelay:   opts.TraceDelay,
		historyLimit: opts.HistoryLimit,
		runs:         make(map[string]runRecord),
	}
	if len(s.origins) == 0 {
		s.origins = []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
			"http://localhost:4173",
			"http://127.0.0.1:4173",
		}
	}
	if s.reportPath == "" {
		s.reportPath = DefaultDemoReportPath
	}
	if s.stationDelay <= 0 {
		s.stationDelay = defaultStationDelay
	}
	if s.traceDelay <= 0 {
		s.traceDelay = defaultTraceDelay
	}
	if s.historyLimit <= 0 {
		s.historyLimit = defaultHistoryLimit
	}

	s.registry = prometheus.NewRegistry()
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kora_studio_runs_total",
		Help: "Runs launched through the studio API, by outcome.",
	}, []string{"status"})
	s.runSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kora_studio_run_seconds",
		Help:    "Wall time of runs launched through the studio API.",
		Buckets: prometheus.DefBuckets,
	})
	s.sseClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kora_studio_sse_clients",
		Help: "Currently open SSE streams.",
	})
	s.registry.MustRegister(s.runsTotal, s.runSeconds, s.sseClients)
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/api/demo_report", s.handleDemoReport)
	r.Get("/api/demo_trace", s.handleDemoTrace)
	r.Post("/api/run", s.handleRun)
	r.Get("/api/run_history", s.handleRunHistory)
	r.Get("/api/sse_run", s.handleSSERun)
	r.Get("/api/sse_trace", s.handleSSETrace)
	r.Get("/api/runs", s.handleRuns)
	r.Get("/api/runs/{id}", s.handleRunByID)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("[STUDIO] listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDemoReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.demoReport())
}

// demoReport serves the harness telemetry summary when one is on disk and
// decodes to an object, else a canned report so the viewer renders offline.
func (s *Server) demoReport() map[string]any {
	if data, err := os.ReadFile(s.reportPath); err == nil {
		var doc map[string]any
		if json.Unmarshal(data, &doc) == nil && doc != nil {
			return doc
		}
	}
	return map[string]any{
		"ok":                  true,
		"total_time_ms":       4842,
		"total_llm_calls":     1,
		"tokens_in":           188,
		"tokens_out":          187,
		"estimated_cost_usd":  0.0001404,
		"events_ok":           2,
		"events_fail":         0,
		"events_skipped":      0,
		"stage_counts":        map[string]any{"DETERMINISTIC": 1, "ADAPTER": 1},
		"budget_breaches":     0,
		"escalation_required": 0,
	}
}

// traceStep is one frame of the canned pipeline walkthrough.
type traceStep struct {
	Station string `json:"station"`
	T       int    `json:"t"`
	Route   string `json:"route,omitempty"`
}

func demoTrace() []traceStep {
	return []traceStep{
		{Station: "Input", T: 0},
		{Station: "Deterministic", T: 1},
		{Station: "Decision", T: 2, Route: "adapter"},
		{Station: "Adapter", T: 3},
		{Station: "Verify", T: 4},
		{Station: "Output", T: 5},
	}
}

func (s *Server) handleDemoTrace(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, demoTrace())
}

type runRequest struct {
	Prompt  string `json:"prompt"`
	Mode    string `json:"mode"`
	Adapter string `json:"adapter"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	adapterName := req.Adapter
	if adapterName != "openai" && adapterName != "mock" {
		adapterName = "mock"
	}
	mode := modeKora
	if strings.EqualFold(req.Mode, modeDirect) {
		mode = modeDirect
	}

	start := time.Now()
	var res engine.Result
	if mode == modeDirect {
		res = s.runDirect(r.Context(), req.Prompt, adapterName)
	} else {
		res = s.runKora(r.Context(), req.Prompt, adapterName)
	}
	summary := s.summarize(res)

	status := "ok"
	if !res.OK {
		status = "fail"
	}
	s.runsTotal.WithLabelValues(status).Inc()
	s.runSeconds.Observe(time.Since(start).Seconds())

	s.remember(res, HistoryItem{RunID: res.RunID, Prompt: req.Prompt, Mode: mode, Summary: summary})
	if err := s.arch.Put(res, summary); err != nil {
		slog.Warn("[STUDIO] archive write failed", "run_id", res.RunID, "error", err)
	}
	slog.Info("[STUDIO] run complete",
		"run_id", res.RunID, "mode", mode, "adapter", adapterName, "ok", res.OK)

	writeJSON(w, http.StatusOK, map[string]string{"run_id": res.RunID})
}

// runKora executes the skip demo graph under a per-request graph id.
func (s *Server) runKora(ctx context.Context, prompt, adapterName string) engine.Result {
	g := workload.SkipDemo(prompt, adapterName)
	g.GraphID = "studio-" + uuid.NewString()[:8]
	return s.eng.Run(ctx, g)
}

// runDirect benchmarks the no-runtime path: one adapter call with the plain
// answer contract, shaped into a single-event result so storage, telemetry,
// and SSE replay treat both modes alike.
func (s *Server) runDirect(ctx context.Context, prompt, adapterName string) engine.Result {
	res := engine.Result{
		RunID:   uuid.NewString(),
		GraphID: "studio-direct",
		Order:   []string{directTaskID},
		Outputs: map[string]map[string]any{},
	}
	start := time.Now()
	a, ok := s.eng.Adapters.Resolve(adapterName)
	if !ok {
		fe := fault.New(fault.TypeAdapterFailed, fault.StageAdapter, "unknown adapter %q", adapterName).WithTask(directTaskID)
		res.Events = append(res.Events, event.Event{
			TaskID:  directTaskID,
			Attempt: 1,
			Status:  event.StatusFail,
			Stage:   fault.StageAdapter,
			Error:   contractPtr(fe),
		})
		res.Error = contractPtr(fe)
		res.StageTimings.OverallTotalS = time.Since(start).Seconds()
		return res
	}

	r := a.Invoke(ctx, adapter.Request{
		TaskID:       directTaskID,
		Input:        map[string]any{"question": prompt},
		OutputSchema: workload.AnswerSchema(),
		Budget:       ir.Budget{MaxTimeMs: 3000, MaxTokens: 400, MaxRetries: 0},
		Attempt:      1,
	})
	elapsed := time.Since(start).Seconds()
	res.StageTimings.LLMTotalS = elapsed
	res.StageTimings.OverallTotalS = elapsed

	usage := r.Usage
	ev := event.Event{
		TaskID:  directTaskID,
		Attempt: 1,
		Status:  event.StatusOK,
		Stage:   fault.StageAdapter,
		TimeMs:  usage.TimeMs,
		Usage:   &usage,
		Meta:    r.Meta,
	}
	if !r.OK {
		fe := directFailure(r)
		ev.Status = event.StatusFail
		ev.Error = contractPtr(fe)
		res.Events = append(res.Events, ev)
		res.Error = contractPtr(fe)
		return res
	}
	res.Events = append(res.Events, ev)
	res.OK = true
	res.Outputs[directTaskID] = r.Output
	res.Final = engine.NormalizeAnswer(r.Output)
	return res
}

// directFailure classifies a failed direct invocation the same way the
// engine classifies adapter failures.
func directFailure(r adapter.Result) *fault.Error {
	if r.TimedOut {
		fe := fault.New(fault.TypeBudgetBreach, fault.StageBudget, "%s", r.Err).WithTask(directTaskID)
		fe.BudgetBreached = true
		return fe
	}
	fe := fault.New(fault.TypeAdapterFailed, fault.StageAdapter, "%s", r.Err).WithTask(directTaskID)
	fe.BudgetBreached = fault.MentionsBudget(r.Err)
	return fe
}

// summarize reduces a result and attaches estimated spend when the invoked
// model has a known price.
func (s *Server) summarize(res engine.Result) telemetry.Summary {
	sum, err := telemetry.SummarizeValue(res)
	if err != nil {
		slog.Warn("[STUDIO] summarize failed", "run_id", res.RunID, "error", err)
		return telemetry.Summary{OK: res.OK, StageCounts: map[string]int{}}
	}
	if model := eventModel(res.Events); model != "" {
		if _, priced := telemetry.ResolvePricing(model, nil, nil); priced {
			cost := telemetry.EstimateCost(model, sum.TokensIn, sum.TokensOut, nil)
			sum.EstimatedCostUSD = &cost
			sum.Model = model
		}
	}
	return sum
}

// eventModel returns the first model name recorded in event metadata.
func eventModel(events []event.Event) string {
	for _, ev := range events {
		if m, ok := ev.Meta["model"].(string); ok && m != "" {
			return m
		}
	}
	return ""
}

// remember retains a run for SSE replay and prepends it to the history
// window. Runs evicted from the window lose replay; the archive keeps them.
func (s *Server) remember(res engine.Result, item HistoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[res.RunID] = runRecord{events: res.Events, summary: item.Summary}
	s.history = append([]HistoryItem{item}, s.history...)
	for len(s.history) > s.historyLimit {
		last := len(s.history) - 1
		delete(s.runs, s.history[last].RunID)
		s.history = s.history[:last]
	}
}

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := make([]HistoryItem, len(s.history))
	copy(items, s.history)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, items)
}

// stationFrame is the SSE projection of one run event.
type stationFrame struct {
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	TimeMs    int64          `json:"time_ms"`
	TokensIn  int            `json:"tokens_in"`
	TokensOut int            `json:"tokens_out"`
	Skipped   bool           `json:"skipped,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

func newStationFrame(ev event.Event) stationFrame {
	f := stationFrame{
		Stage:   string(ev.Stage),
		Status:  string(ev.Status),
		TimeMs:  ev.TimeMs,
		Skipped: ev.Skipped,
		Meta:    ev.Meta,
	}
	if f.Stage == "" {
		f.Stage = string(fault.StageUnknown)
	}
	if f.Status == "" {
		f.Status = string(event.StatusOK)
	}
	if ev.Usage != nil {
		f.TokensIn = ev.Usage.TokensIn
		f.TokensOut = ev.Usage.TokensOut
	}
	return f
}

func (s *Server) handleSSERun(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	s.mu.Lock()
	rec, ok := s.runs[runID]
	s.mu.Unlock()

	out := beginSSE(w)
	if !ok {
		out.frame("done", `{"ok":false,"error":"run_id not found"}`)
		return
	}
	s.sseClients.Inc()
	defer s.sseClients.Dec()

	ctx := r.Context()
	for _, ev := range rec.events {
		data, err := json.Marshal(newStationFrame(ev))
		if err != nil {
			continue
		}
		out.frame("station", string(data))
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.stationDelay):
		}
	}
	if data, err := json.Marshal(rec.summary); err == nil {
		out.frame("summary", string(data))
	}
	out.frame("done", `{"ok":true}`)
}

func (s *Server) handleSSETrace(w http.ResponseWriter, r *http.Request) {
	out := beginSSE(w)
	s.sseClients.Inc()
	defer s.sseClients.Dec()

	ctx := r.Context()
	for _, step := range demoTrace() {
		data, err := json.Marshal(step)
		if err != nil {
			continue
		}
		out.frame("station", string(data))
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.traceDelay):
		}
	}
	out.frame("done", `{"ok":true}`)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := s.arch.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// runDetail pairs an archived result with its stored summary.
type runDetail struct {
	Result  engine.Result      `json:"result"`
	Summary *telemetry.Summary `json:"summary,omitempty"`
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, ok, err := s.arch.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	detail := runDetail{Result: res}
	if sum, found, err := s.arch.GetSummary(id); err == nil && found {
		detail.Summary = &sum
	}
	writeJSON(w, http.StatusOK, detail)
}

// sseWriter emits Server-Sent Event frames, flushing after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func beginSSE(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) frame(name, data string) {
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func contractPtr(fe *fault.Error) *fault.Contract {
	c := fe.Contract()
	return &c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[STUDIO] response write failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
