package store

import (
	"math/rand"
	"os"
)

// snapshotWriter owns the single snapshot file for an engine. A snapshot is
// a whole-state replacement write; its absence or staleness is never fatal
// because the WAL is authoritative (spec section 3).
type snapshotWriter struct {
	path string
	// failChance is the probability, when sim_fail is requested by a
	// caller, that save is skipped entirely. This exists purely to let
	// tests exercise "snapshot write failed" without touching the
	// filesystem (spec section 4.8).
	failChance float64
}

func newSnapshotWriter(path string, failChance float64) *snapshotWriter {
	return &snapshotWriter{path: path, failChance: failChance}
}

// save serializes data and replaces the snapshot file. When simFail is set
// and the configured probability fires, the write is skipped and the
// previous snapshot (if any) is left untouched on disk.
func (s *snapshotWriter) save(data map[string]any, simFail bool) error {
	if simFail && s.failChance > 0 && rand.Float64() < s.failChance {
		return nil
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}

	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// load reads the snapshot file. A missing file is not an error: an empty
// map is returned. A corrupt file is also tolerated (spec section 4.1 step
// 1): the engine simply starts from empty and relies on the WAL.
func (s *snapshotWriter) load() map[string]any {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]any{}
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]any{}
	}
	if data == nil {
		data = map[string]any{}
	}
	return data
}
