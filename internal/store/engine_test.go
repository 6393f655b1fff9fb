package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// walLineCount counts the well-formed records currently in dir's WAL, the
// same way recovery does, so tests can assert on WAL-side effects instead of
// only the in-memory map.
func walLineCount(t *testing.T, dir string) int {
	t.Helper()
	w, err := openWAL(filepath.Join(dir, walFilename))
	require.NoError(t, err)
	defer w.close()
	entries, err := w.replay()
	require.NoError(t, err)
	return len(entries)
}

func TestSetThenGet(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Set("k1", "v1", false))
	value, found := e.Get("k1")
	assert.True(t, found)
	assert.Equal(t, "v1", value)
}

func TestGetAbsentKey(t *testing.T) {
	e := openTestEngine(t)

	value, found := e.Get("missing")
	assert.False(t, found)
	assert.Nil(t, value)
}

func TestDeleteAbsentKeyIsSuccessNoOp(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Delete("never-set", false))
	_, found := e.Get("never-set")
	assert.False(t, found)

	// Still appended to the WAL, for replication ordering, even though the
	// map-level effect is a no-op.
	assert.Equal(t, 1, walLineCount(t, dir))
}

func TestDeleteRemovesKey(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Set("k", "v", false))
	require.NoError(t, e.Delete("k", false))
	_, found := e.Get("k")
	assert.False(t, found)
}

func TestBulkSetEmptyListIsNoOp(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.BulkSet(nil, false))

	// Unlike delete, an empty bulk_set writes no WAL record at all.
	assert.Equal(t, 0, walLineCount(t, dir))
}

func TestBulkSetLastWriteWinsOnOverlappingKeys(t *testing.T) {
	e := openTestEngine(t)

	items := []KV{
		{Key: "a", Value: 1},
		{Key: "a", Value: 2},
	}
	require.NoError(t, e.BulkSet(items, false))

	value, found := e.Get("a")
	assert.True(t, found)
	assert.EqualValues(t, 2, value)
}

func TestGetReturnsADeepCopyNotTheStoredReference(t *testing.T) {
	e := openTestEngine(t)

	original := map[string]any{"nested": []any{"x"}}
	require.NoError(t, e.Set("k", original, false))

	got, found := e.Get("k")
	require.True(t, found)
	gotMap := got.(map[string]any)
	gotMap["nested"] = "mutated"

	again, _ := e.Get("k")
	assert.NotEqual(t, "mutated", again.(map[string]any)["nested"])
}

func TestEmptyStringKeyIsAllowed(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Set("", "v", false))
	value, found := e.Get("")
	assert.True(t, found)
	assert.Equal(t, "v", value)
}

func TestRecoveryReplaysWALOnTopOfSnapshot(t *testing.T) {
	dir := t.TempDir()

	e1, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, e1.Set("a", 1.0, false))
	require.NoError(t, e1.Set("b", 2.0, false))
	require.NoError(t, e1.Delete("a", false))
	require.NoError(t, e1.Close())

	e2, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	defer e2.Close()

	_, found := e2.Get("a")
	assert.False(t, found)
	value, found := e2.Get("b")
	assert.True(t, found)
	assert.EqualValues(t, 2.0, value)
}

func TestRecoveryToleratesCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshotFilename), []byte("not json"), 0644))

	e, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	defer e.Close()

	_, found := e.Get("anything")
	assert.False(t, found)
}

func TestRecoveryStopsAtTruncatedWALTail(t *testing.T) {
	dir := t.TempDir()

	e1, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, e1.Set("a", "1", false))
	require.NoError(t, e1.Close())

	walPath := filepath.Join(dir, walFilename)
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"op":"set","key":"b","value":`) // truncated, no trailing newline/closing brace
	require.NoError(t, err)
	require.NoError(t, f.Close())

	e2, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	defer e2.Close()

	value, found := e2.Get("a")
	assert.True(t, found)
	assert.Equal(t, "1", value)
	_, found = e2.Get("b")
	assert.False(t, found)
}

func TestApplyReplicatedWithoutWALDoesNotPersist(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.ApplyReplicated(NewSetEntry("k", "v"), false))
	value, found := e.Get("k")
	assert.True(t, found)
	assert.Equal(t, "v", value)

	walPath := filepath.Join(dir, walFilename)
	data, err := os.ReadFile(walPath)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestApplyReplicatedWithWALPersists(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.ApplyReplicated(NewSetEntry("k", "v"), true))

	walPath := filepath.Join(dir, walFilename)
	data, err := os.ReadFile(walPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestSimFailSkipsSnapshotButWALStillWritten(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Options{DataDir: dir, DebugFailChance: 1.0})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Set("k", "v", true))

	walPath := filepath.Join(dir, walFilename)
	walData, err := os.ReadFile(walPath)
	require.NoError(t, err)
	assert.NotEmpty(t, walData)

	snapPath := filepath.Join(dir, snapshotFilename)
	_, err = os.Stat(snapPath)
	assert.True(t, os.IsNotExist(err))
}

func TestFreshDataDirIsValidStartingState(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	defer e.Close()

	_, found := e.Get("anything")
	assert.False(t, found)
}
