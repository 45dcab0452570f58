package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := New(dir, "input.data", "input.index")
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngine_OpenAndClose(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, "input.data", "input.index")
	require.NoError(t, err)
	require.NotNil(t, e)
	require.NoError(t, e.Close())
}

func TestEngine_AppendAndReadRaw(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Append(RawRecord{Key: "cpu", Time: 100, Value: 1.5}))
	require.NoError(t, e.Append(RawRecord{Key: "mem", Time: 101, Value: 2.5}))
	require.NoError(t, e.Append(RawRecord{Key: "cpu", Time: 102, Value: 3.5}))
	require.NoError(t, e.Commit())

	raw, err := e.ReadRaw()
	require.NoError(t, err)
	require.Len(t, raw, 3)
	assert.Equal(t, RawRecord{Key: "cpu", Time: 100, Value: 1.5}, raw[0])
	assert.Equal(t, RawRecord{Key: "mem", Time: 101, Value: 2.5}, raw[1])
	assert.Equal(t, RawRecord{Key: "cpu", Time: 102, Value: 3.5}, raw[2])
}

func TestEngine_SeriesAndScan(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Append(RawRecord{Key: "cpu", Time: 1, Value: 1}))
	require.NoError(t, e.Append(RawRecord{Key: "mem", Time: 2, Value: 2}))
	require.NoError(t, e.Append(RawRecord{Key: "cpu", Time: 3, Value: 3}))

	names, err := e.Series()
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu", "mem"}, names)

	cpuRecords, err := e.Scan("cpu")
	require.NoError(t, err)
	require.Len(t, cpuRecords, 2)
	assert.Equal(t, uint64(1), cpuRecords[0].Time)
	assert.Equal(t, uint64(3), cpuRecords[1].Time)
}

func TestEngine_ReopenSurvivesCommit(t *testing.T) {
	dir := t.TempDir()

	e, err := New(dir, "input.data", "input.index")
	require.NoError(t, err)
	require.NoError(t, e.Append(RawRecord{Key: "k", Time: 1, Value: 9}))
	require.NoError(t, e.Close())

	e2, err := New(dir, "input.data", "input.index")
	require.NoError(t, err)
	defer e2.Close()

	raw, err := e2.ReadRaw()
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, "k", raw[0].Key)
	assert.Equal(t, float32(9), raw[0].Value)
}

func TestEngine_CompactAndScanCompacted(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Append(RawRecord{Key: "cpu", Time: 10, Value: 1}))
	require.NoError(t, e.Append(RawRecord{Key: "cpu", Time: 20, Value: 2}))
	require.NoError(t, e.Append(RawRecord{Key: "mem", Time: 15, Value: 9}))
	require.NoError(t, e.Commit())

	compactHandle, err := e.Journal().Open("cpu.compact")
	require.NoError(t, err)
	compactIndexHandle, err := e.Journal().Open("cpu.compact.index")
	require.NoError(t, err)

	count, err := e.Compact("cpu", compactHandle, compactIndexHandle)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	decoded, err := e.ScanCompacted(compactHandle, nil)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, uint64(10), decoded[0].Offset)
	assert.Equal(t, float32(1), decoded[0].Score)
	assert.False(t, decoded[0].HasBands())
	assert.Equal(t, uint64(20), decoded[1].Offset)
	assert.Equal(t, float32(2), decoded[1].Score)
}

func TestEngine_CompactEmptySeriesIsNoop(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Append(RawRecord{Key: "cpu", Time: 1, Value: 1}))

	compactHandle, err := e.Journal().Open("missing.compact")
	require.NoError(t, err)
	compactIndexHandle, err := e.Journal().Open("missing.compact.index")
	require.NoError(t, err)

	count, err := e.Compact("missing", compactHandle, compactIndexHandle)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestEngine_HotSeries(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Append(RawRecord{Key: "cpu", Time: uint64(i), Value: 1}))
	}
	require.NoError(t, e.Append(RawRecord{Key: "mem", Time: 1, Value: 1}))

	top := e.HotSeries(1)
	require.Len(t, top, 1)
	assert.Equal(t, "cpu", top[0].Series)
	assert.Equal(t, int64(5), top[0].Count)
}

func TestEngine_StatsAndEvents(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Append(RawRecord{Key: "cpu", Time: 1, Value: 1}))
	require.NoError(t, e.Commit())

	st := e.Stats()
	assert.Equal(t, int64(1), st.TotalAppends)
	assert.Equal(t, int64(1), st.TotalCommits)

	events := e.Events().Latest(10)
	require.Len(t, events, 2) // one APPEND, one COMMIT
}
