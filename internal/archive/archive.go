// Package archive persists completed runs to a LevelDB database so the CLI
// and the studio can browse history across process restarts.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/korahq/kora/internal/engine"
	"github.com/korahq/kora/internal/telemetry"
)

// LevelDB key scheme: "|" separates segments; user-derived parts have "|"
// replaced with "_" so keys stay parseable.
//
//	r|<run_id>               → result JSON
//	s|<run_id>               → telemetry summary JSON
//	t|<archived_at>|<run_id> → nil (time-ordered index)
//	g|<graph_id>|<run_id>    → archived_at (per-graph index)
const (
	prefixResult  = "r|"
	prefixSummary = "s|"
	prefixTime    = "t|"
	prefixGraph   = "g|"
)

// tsLayout is RFC3339 UTC with a fixed 9-digit fraction. Fixed width keeps
// lexicographic key order chronological.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Archive is a LevelDB-backed store of completed runs. A nil *Archive is
// safe to use; every operation no-ops.
type Archive struct {
	db  *leveldb.DB
	now func() time.Time
}

// Entry is one archived run in listing order.
type Entry struct {
	RunID      string            `json:"run_id"`
	GraphID    string            `json:"graph_id"`
	OK         bool              `json:"ok"`
	ArchivedAt string            `json:"archived_at"`
	Summary    telemetry.Summary `json:"summary"`
}

// Open opens (or creates) the archive database at dir. LevelDB is
// single-writer; a second concurrent process will fail here.
func Open(dir string) (*Archive, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", dir, err)
	}
	return &Archive{db: db, now: time.Now}, nil
}

// Close releases the database.
func (a *Archive) Close() error {
	if a == nil {
		return nil
	}
	return a.db.Close()
}

// Put stores a completed run and its summary in one batch, updating both
// listing indexes.
func (a *Archive) Put(res engine.Result, summary telemetry.Summary) error {
	if a == nil {
		return nil
	}
	if res.RunID == "" {
		return fmt.Errorf("archive: run id is empty")
	}
	resJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("archive: marshal result %s: %w", res.RunID, err)
	}
	sumJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("archive: marshal summary %s: %w", res.RunID, err)
	}

	id := sanitize(res.RunID)
	archivedAt := a.now().UTC().Format(tsLayout)
	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixResult+id), resJSON)
	batch.Put([]byte(prefixSummary+id), sumJSON)
	batch.Put([]byte(prefixTime+archivedAt+"|"+id), nil)
	batch.Put([]byte(prefixGraph+sanitize(res.GraphID)+"|"+id), []byte(archivedAt))
	if err := a.db.Write(batch, nil); err != nil {
		return fmt.Errorf("archive: put %s: %w", res.RunID, err)
	}
	slog.Info("[ARCHIVE] run stored", "run_id", res.RunID, "graph_id", res.GraphID, "ok", res.OK)
	return nil
}

// Get returns the stored result for runID. ok is false when the run was
// never archived.
func (a *Archive) Get(runID string) (engine.Result, bool, error) {
	if a == nil {
		return engine.Result{}, false, nil
	}
	data, err := a.db.Get([]byte(prefixResult+sanitize(runID)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return engine.Result{}, false, nil
	}
	if err != nil {
		return engine.Result{}, false, fmt.Errorf("archive: get %s: %w", runID, err)
	}
	var res engine.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return engine.Result{}, false, fmt.Errorf("archive: decode %s: %w", runID, err)
	}
	return res, true, nil
}

// GetSummary returns the stored telemetry summary for runID.
func (a *Archive) GetSummary(runID string) (telemetry.Summary, bool, error) {
	if a == nil {
		return telemetry.Summary{}, false, nil
	}
	data, err := a.db.Get([]byte(prefixSummary+sanitize(runID)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return telemetry.Summary{}, false, nil
	}
	if err != nil {
		return telemetry.Summary{}, false, fmt.Errorf("archive: get summary %s: %w", runID, err)
	}
	var s telemetry.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return telemetry.Summary{}, false, fmt.Errorf("archive: decode summary %s: %w", runID, err)
	}
	return s, true, nil
}

// List returns archived runs newest first by walking the time index
// backwards. limit <= 0 returns everything.
func (a *Archive) List(limit int) ([]Entry, error) {
	if a == nil {
		return nil, nil
	}
	iter := a.db.NewIterator(util.BytesPrefix([]byte(prefixTime)), nil)
	defer iter.Release()

	var entries []Entry
	for ok := iter.Last(); ok && (limit <= 0 || len(entries) < limit); ok = iter.Prev() {
		archivedAt, id, valid := splitTimeKey(string(iter.Key()))
		if !valid {
			continue
		}
		e, err := a.entry(id)
		if err != nil {
			continue
		}
		e.ArchivedAt = archivedAt
		entries = append(entries, e)
	}
	return entries, iter.Error()
}

// ListByGraph returns archived runs for one graph, newest first.
func (a *Archive) ListByGraph(graphID string, limit int) ([]Entry, error) {
	if a == nil {
		return nil, nil
	}
	prefix := prefixGraph + sanitize(graphID) + "|"
	iter := a.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var entries []Entry
	for iter.Next() {
		id := strings.TrimPrefix(string(iter.Key()), prefix)
		e, err := a.entry(id)
		if err != nil {
			continue
		}
		e.ArchivedAt = string(iter.Value())
		entries = append(entries, e)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ArchivedAt > entries[j].ArchivedAt })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// entry assembles a listing row. A missing summary leaves the zero value;
// a missing result fails the row so torn index entries are skipped.
func (a *Archive) entry(id string) (Entry, error) {
	res, ok, err := a.Get(id)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, fmt.Errorf("archive: dangling index entry %s", id)
	}
	summary, _, _ := a.GetSummary(id)
	return Entry{RunID: res.RunID, GraphID: res.GraphID, OK: res.OK, Summary: summary}, nil
}

func splitTimeKey(key string) (archivedAt, id string, ok bool) {
	rest, found := strings.CutPrefix(key, prefixTime)
	if !found {
		return "", "", false
	}
	archivedAt, id, found = strings.Cut(rest, "|")
	if !found || id == "" {
		return "", "", false
	}
	return archivedAt, id, true
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "|", "_")
}
