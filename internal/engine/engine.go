// Package engine coordinates the journal, the raw per-record ingest
// format ts-load writes, and the offset/score codec used to compact
// ingested data into tagged blocks. Adapted from the teacher FlashDB's
// internal/engine package, which coordinated a WAL and an in-memory
// key-value store behind the same append-then-apply pattern; here
// there is no in-memory store to replay into — reads go straight
// through the journal, and the "apply" step for ts-compact is building
// a compacted offset/score block from the raw entries rather than
// mutating cached state.
package engine

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flashdb/cantera/internal/arena"
	"github.com/flashdb/cantera/internal/cdc"
	"github.com/flashdb/cantera/internal/config"
	"github.com/flashdb/cantera/internal/decodectx"
	"github.com/flashdb/cantera/internal/hotkeys"
	"github.com/flashdb/cantera/internal/journal"
	"github.com/flashdb/cantera/internal/offsetscore"
	"github.com/flashdb/cantera/internal/varint"
)

// arenaResetInterval is how many Append calls the engine's scratch arena
// absorbs before Reset, bounding how much of the oldest slab's data
// stays pinned in memory by later allocations from the same slab.
const arenaResetInterval = 4096

// Stats holds engine-wide counters.
type Stats struct {
	TotalAppends int64
	TotalScans   int64
	TotalCommits int64
	StartTime    time.Time
	SeriesCount  int
}

// RawRecord is one ingested (key, time, value) triplet as ts-load
// writes it, before compaction groups same-key records into an
// offset/score block.
type RawRecord struct {
	Key   string
	Time  uint64
	Value float32
}

// Engine coordinates a Journal, the raw ingest files ts-load appends
// to, and the offsetscore codec used by Compact. It is safe for
// concurrent use by multiple goroutines.
type Engine struct {
	mu          sync.RWMutex
	j           *journal.Journal
	dataHandle  int
	indexHandle int
	dataName    string
	indexName   string

	startTime    time.Time
	totalAppends atomic.Int64
	totalScans   atomic.Int64
	totalCommits atomic.Int64

	hotkeys *hotkeys.Tracker
	cdc     *cdc.Stream

	scratch      *arena.Arena
	appendsSince int
}

// New opens (creating if necessary) a journal-backed engine rooted at
// dir, registering dataName and indexName as the raw ingest files
// ts-load writes to (spec.md §6's persisted-state layout:
// `<datadir>/input.data`, `<datadir>/input.index`). It uses the
// journal's default buffering and always fsyncs on Commit; callers
// that loaded an internal/config.Config should use NewWithConfig
// instead so JournalBufferBytes and SyncOnCommit actually take effect.
func New(dir, dataName, indexName string) (*Engine, error) {
	return newEngine(dir, dataName, indexName, 0, true)
}

// NewWithConfig is New with the journal's per-file buffer limit and
// fsync-on-Commit behavior taken from cfg rather than the journal's
// hardcoded defaults.
func NewWithConfig(dir, dataName, indexName string, cfg *config.Config) (*Engine, error) {
	return newEngine(dir, dataName, indexName, cfg.JournalBufferBytes, cfg.SyncOnCommit)
}

func newEngine(dir, dataName, indexName string, bufferLimit int, syncOnCommit bool) (*Engine, error) {
	j, err := journal.OpenWithConfig(dir, bufferLimit, syncOnCommit)
	if err != nil {
		return nil, fmt.Errorf("engine: open journal: %w", err)
	}

	dataHandle, err := j.Open(dataName)
	if err != nil {
		j.Close()
		return nil, err
	}
	indexHandle, err := j.Open(indexName)
	if err != nil {
		j.Close()
		return nil, err
	}

	e := &Engine{
		j:           j,
		dataHandle:  dataHandle,
		indexHandle: indexHandle,
		dataName:    dataName,
		indexName:   indexName,
		startTime:   time.Now(),
		hotkeys:     hotkeys.New(100, 60*time.Second),
		cdc:         cdc.NewStream(50000),
		scratch:     arena.New(),
	}
	return e, nil
}

// Append writes one raw record to the data file as
// `key\0 varint(time) raw_f32(value)` and its starting byte offset to
// the index file as a little-endian u64, per spec.md §6's ts-load wire
// format. The write is not durable until Commit.
func (e *Engine) Append(rec RawRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dataSize, err := e.j.Size(e.dataHandle)
	if err != nil {
		return err
	}

	// The per-record wire buffer is short-lived scratch: carve it from
	// the engine's arena instead of allocating fresh on every Append.
	maxLen := len(rec.Key) + 1 + varint.MaxLen + 4
	scratch := e.scratch.Alloc(maxLen)
	pos := copy(scratch, rec.Key)
	scratch[pos] = 0
	pos++
	pos += varint.PutMsbFirst(scratch[pos:], rec.Time)
	binary.LittleEndian.PutUint32(scratch[pos:], math.Float32bits(rec.Value))
	pos += 4
	buf := scratch[:pos]

	if err := e.j.Append(e.dataHandle, buf); err != nil {
		return err
	}

	e.appendsSince++
	if e.appendsSince >= arenaResetInterval {
		e.scratch.Reset()
		e.appendsSince = 0
	}

	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], uint64(dataSize))
	if err := e.j.Append(e.indexHandle, idxBuf[:]); err != nil {
		return err
	}

	e.totalAppends.Add(1)
	e.hotkeys.Record(rec.Key)
	e.cdc.Record(cdc.OpAppend, rec.Key, 1, len(buf))
	return nil
}

// Commit durably persists every buffered append, per spec.md §4.6.
// ts-compact's baseline behavior is exactly this: open the journal,
// open the two named files, and commit — a checkpoint.
func (e *Engine) Commit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.j.Commit(); err != nil {
		return err
	}
	e.totalCommits.Add(1)
	e.cdc.Record(cdc.OpCommit, "", 0, 0)
	return nil
}

// ReadRaw reads and parses every raw record currently in the data
// file, in append order.
func (e *Engine) ReadRaw() ([]RawRecord, error) {
	e.mu.Lock()
	size, err := e.j.Size(e.dataHandle)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	data, err := e.j.ReadAt(e.dataHandle, 0, int(size))
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var records []RawRecord
	pos := 0
	for pos < len(data) {
		nul := indexByte(data[pos:], 0)
		if nul < 0 {
			return nil, fmt.Errorf("engine: raw record at byte %d: missing key terminator", pos)
		}
		key := string(data[pos : pos+nul])
		pos += nul + 1

		t, n, err := varint.DecodeMsbFirst(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("engine: raw record at byte %d: %w", pos, err)
		}
		pos += n

		if pos+4 > len(data) {
			return nil, fmt.Errorf("engine: raw record at byte %d: truncated value", pos)
		}
		value := math.Float32frombits(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4

		records = append(records, RawRecord{Key: key, Time: t, Value: value})
	}

	e.totalScans.Add(1)
	return records, nil
}

// Series returns the distinct keys seen across every raw record, in
// first-appearance order.
func (e *Engine) Series() ([]string, error) {
	raw, err := e.ReadRaw()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, r := range raw {
		if _, ok := seen[r.Key]; ok {
			continue
		}
		seen[r.Key] = struct{}{}
		names = append(names, r.Key)
	}
	return names, nil
}

// Scan returns every raw record for the given key, in append order.
func (e *Engine) Scan(key string) ([]RawRecord, error) {
	raw, err := e.ReadRaw()
	if err != nil {
		return nil, err
	}
	var out []RawRecord
	for _, r := range raw {
		if r.Key == key {
			out = append(out, r)
		}
	}
	// Weight hotness by the volume actually returned, not by call count:
	// a series scanned for a thousand records is hotter than one scanned
	// for one, even if both are scanned once.
	e.hotkeys.RecordN(key, int64(len(out)))
	return out, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Compact groups every raw record whose key matches series, encodes
// them as a single offset/score block via the codec (time becomes the
// block's offset, value its score), and appends that block plus its
// index entry to compactHandle/compactIndexHandle — already-open
// journal handles the caller obtained via Journal.Open. This is the
// enriched form of ts-compact: the baseline CLI behavior is just
// Commit, but rewriting accumulated raw entries into compact tagged
// blocks is the natural "compaction" a columnar store performs, so it
// is offered here as an additional operation.
func (e *Engine) Compact(series string, compactHandle, compactIndexHandle int) (recordCount int, err error) {
	raw, err := e.ReadRaw()
	if err != nil {
		return 0, err
	}

	var records []offsetscore.Record
	for _, r := range raw {
		if r.Key != series {
			continue
		}
		records = append(records, offsetscore.NewRecord(r.Time, r.Value))
	}
	if len(records) == 0 {
		return 0, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	offset, err := e.j.Size(compactHandle)
	if err != nil {
		return 0, err
	}
	block := offsetscore.Encode(records)
	if err := e.j.Append(compactHandle, block); err != nil {
		return 0, err
	}

	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], uint64(offset))
	if err := e.j.Append(compactIndexHandle, idxBuf[:]); err != nil {
		return 0, err
	}

	e.cdc.Record(cdc.OpCompact, series, len(records), len(block))
	return len(records), nil
}

// ScanCompacted decodes every offset/score block from a compacted
// file's full contents, optionally restricting output to the offsets
// present in filter. It reads through a read-only mmap of the file
// (internal/journal.Journal.MapReadOnly) rather than copying the whole
// file through a read(2) buffer the way Scan's ReadAt does: a compacted
// file is decoded once per call and never mutated through the mapping,
// so the kernel can serve Decode's sequential pass straight from the
// page cache.
func (e *Engine) ScanCompacted(handle int, filter map[uint64]struct{}) ([]offsetscore.Record, error) {
	e.mu.Lock()
	data, unmap, err := e.j.MapReadOnly(handle)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer unmap()

	var ctx *decodectx.Context
	if filter != nil {
		ctx = decodectx.New()
		ctx.SetFilter(filter)
	}
	return offsetscore.Decode(data, ctx)
}

// Journal exposes the underlying journal so callers (ts-compact) can
// open additional managed files for compacted output.
func (e *Engine) Journal() *journal.Journal {
	return e.j
}

// HotSeries returns the n hottest keys, counting one per appended
// record plus the number of records each Scan returned.
func (e *Engine) HotSeries(n int) []hotkeys.Entry {
	return e.hotkeys.Top(n)
}

// Events returns the CDC stream backing this engine.
func (e *Engine) Events() *cdc.Stream {
	return e.cdc
}

// Stats returns engine-wide counters.
func (e *Engine) Stats() Stats {
	return Stats{
		TotalAppends: e.totalAppends.Load(),
		TotalScans:   e.totalScans.Load(),
		TotalCommits: e.totalCommits.Load(),
		StartTime:    e.startTime,
	}
}

// Close commits any pending writes and releases the journal's lock and
// file descriptors.
func (e *Engine) Close() error {
	if err := e.Commit(); err != nil {
		return err
	}
	return e.j.Close()
}
