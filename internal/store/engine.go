// Package store implements the durable key-value storage engine: an
// in-memory map backed by a synchronous write-ahead log and periodic
// whole-state snapshots, with a recovery procedure that reconstructs state
// from snapshot + log after any crash point.
//
// Big idea:
//
//  1. WAL (write-ahead log)
//     Every mutation is appended and fsync'd before the call returns. If the
//     process crashes, replaying the WAL rebuilds exactly the state that was
//     acknowledged to clients.
//
//  2. Snapshot
//     A whole-map copy written after every mutation. It shortens recovery
//     but is never authoritative: the WAL always wins.
//
//  3. Concurrency
//     One mutex (engineLock) serializes the entire apply -> index -> WAL ->
//     snapshot sequence for every mutating call; reads take the same lock.
//     This trades write throughput for crash safety (spec section 5).
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kvstore/internal/metrics"
)

const (
	walFilename      = "wal.jsonl"
	snapshotFilename = "snapshot.json"
)

// Options configures a new Engine.
type Options struct {
	DataDir string
	// DebugFailChance is the probability, in [0, 1], that a snapshot
	// write is skipped when a caller asks for sim_fail behavior.
	DebugFailChance float64
	FullText        FullTextIndex   // nil disables full-text search
	Similarity      SimilarityIndex // nil disables similarity search
	Metrics         *metrics.Metrics // nil disables instrumentation
}

// Engine is the durable, concurrency-safe key-value store. It composes the
// in-memory map, the WAL, the snapshot writer, and the two optional value
// indexes behind a single mutation guard.
type Engine struct {
	mu sync.Mutex // engineLock: guards data, wal, snapshot, and both indexes

	data map[string]any

	wal      *wal
	snapshot *snapshotWriter

	ft  FullTextIndex
	sim SimilarityIndex

	metrics *metrics.Metrics
}

// Open constructs an Engine, running the recovery procedure described in
// spec section 4.1: load the snapshot (if any and if it parses), replay the
// WAL on top of it, then rebuild the indexes from the resulting map.
func Open(opts Options) (*Engine, error) {
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	e := &Engine{
		ft:      opts.FullText,
		sim:     opts.Similarity,
		metrics: opts.Metrics,
	}
	if e.ft == nil {
		e.ft = noopFullText{}
	}
	if e.sim == nil {
		e.sim = noopSimilarity{}
	}

	e.snapshot = newSnapshotWriter(filepath.Join(opts.DataDir, snapshotFilename), opts.DebugFailChance)
	e.data = e.snapshot.load()

	w, err := openWAL(filepath.Join(opts.DataDir, walFilename))
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	e.wal = w

	entries, err := w.replay()
	if err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}
	for _, entry := range entries {
		e.applyLocked(entry)
	}

	for key, value := range e.data {
		e.ft.Index(key, value)
		e.sim.Index(key, value)
	}

	return e, nil
}

// Close releases the WAL file handle.
func (e *Engine) Close() error {
	return e.wal.close()
}

// applyLocked mutates the in-memory map for entry. Caller must hold mu.
// This is the single place shared between normal mutation and WAL replay,
// so the two can never disagree about what a log entry means.
func (e *Engine) applyLocked(entry LogEntry) {
	switch entry.Op {
	case OpSet:
		e.data[entry.Key] = entry.Value
	case OpDelete:
		delete(e.data, entry.Key)
	case OpBulk:
		for _, item := range entry.Items {
			e.data[item.Key] = item.Value
		}
	}
}

// indexLocked updates the side indexes to match applyLocked for entry.
// Caller must hold mu.
func (e *Engine) indexLocked(entry LogEntry) {
	switch entry.Op {
	case OpSet:
		e.ft.Index(entry.Key, entry.Value)
		e.sim.Index(entry.Key, entry.Value)
	case OpDelete:
		e.ft.Forget(entry.Key)
		e.sim.Forget(entry.Key)
	case OpBulk:
		for _, item := range entry.Items {
			e.ft.Index(item.Key, item.Value)
			e.sim.Index(item.Key, item.Value)
		}
	}
}

// persistLocked appends entry to the WAL (fsync'd) then writes a fresh
// snapshot (fsync'd, unless simFail fires). Caller must hold mu. This is
// steps 2-3 of the mutation protocol (spec section 4.1): WAL is the line of
// acknowledgement, snapshot only bounds recovery time.
func (e *Engine) persistLocked(entry LogEntry, simFail bool) error {
	walStart := time.Now()
	err := e.wal.append(entry)
	e.observeWAL(walStart)
	if err != nil {
		return fmt.Errorf("wal append: %w", err)
	}

	snapStart := time.Now()
	err = e.snapshot.save(e.data, simFail)
	e.observeSnapshot(snapStart)
	if err != nil {
		return fmt.Errorf("snapshot save: %w", err)
	}
	return nil
}

func (e *Engine) observeWAL(start time.Time) {
	if e.metrics != nil {
		e.metrics.WALAppendSeconds.Observe(time.Since(start).Seconds())
	}
}

func (e *Engine) observeSnapshot(start time.Time) {
	if e.metrics != nil {
		e.metrics.SnapshotSeconds.Observe(time.Since(start).Seconds())
	}
}

// Get returns the current value for key, or (nil, false) if absent.
// Read-only: it still takes engineLock so it can never observe a partially
// applied bulk (spec section 5).
func (e *Engine) Get(key string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.data[key]
	if !ok {
		return nil, false
	}
	cp, err := deepCopy(v)
	if err != nil {
		return v, true
	}
	return cp, true
}

// Set upserts key to value. On success the corresponding WAL entry is
// durable (invariant I1).
func (e *Engine) Set(key string, value any, simFail bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	stored, err := deepCopy(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}

	entry := NewSetEntry(key, stored)
	e.applyLocked(entry)
	e.indexLocked(entry)
	return e.persistLocked(entry, simFail)
}

// Delete removes key. An absent key is a no-op but is still appended to the
// WAL (spec section 4.1: "still appended to WAL, for replication ordering"),
// and the call is still acknowledged as success.
func (e *Engine) Delete(key string, simFail bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := NewDeleteEntry(key)
	e.applyLocked(entry)
	e.indexLocked(entry)
	return e.persistLocked(entry, simFail)
}

// BulkSet applies every (key, value) pair atomically: either the full list
// becomes durable as one WAL record, or none of it does (invariant I2). An
// empty list is a success no-op with no WAL record written at all.
func (e *Engine) BulkSet(items []KV, simFail bool) error {
	if len(items) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stored := make([]KV, len(items))
	for i, item := range items {
		v, err := deepCopy(item.Value)
		if err != nil {
			return fmt.Errorf("encode value for %q: %w", item.Key, err)
		}
		stored[i] = KV{Key: item.Key, Value: v}
	}

	entry := NewBulkEntry(stored)
	e.applyLocked(entry)
	e.indexLocked(entry)
	return e.persistLocked(entry, simFail)
}

// ApplyReplicated installs a log entry received from a peer. It always
// applies to the map and indexes; whether it also appends to the local WAL
// depends on the topology (spec section 4.6):
//
//   - primary/secondary: appendToWAL=false — the primary owns the
//     authoritative log; the secondary only mirrors in-memory state.
//   - masterless: appendToWAL=true — every node is authoritative for its
//     own durability.
func (e *Engine) ApplyReplicated(entry LogEntry, appendToWAL bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.applyLocked(entry)
	e.indexLocked(entry)
	if !appendToWAL {
		return nil
	}
	if err := e.wal.append(entry); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	if err := e.snapshot.save(e.data, false); err != nil {
		return fmt.Errorf("snapshot save: %w", err)
	}
	return nil
}

// SearchFullText returns keys whose stored value's token set contains every
// token of query (AND semantics). Returns an empty slice, never an error,
// if the full-text index is disabled.
func (e *Engine) SearchFullText(query string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ft.Search(query)
}

// SearchSimilar returns up to topK (key, score) pairs ordered by descending
// similarity. Returns an empty slice if the similarity index is disabled.
func (e *Engine) SearchSimilar(query string, topK int) []KeyScore {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sim.SearchSimilar(query, topK)
}

// Snapshot forces an out-of-band snapshot write, used by the periodic
// background snapshotter in cmd/server. It takes the same guard as a
// mutation so it never races a concurrent Set/Delete/BulkSet.
func (e *Engine) Snapshot() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot.save(e.data, false)
}
