// Package hotkeys tracks which series are read or appended to most,
// reported through engine.Engine.HotSeries. Adapted from
// the teacher FlashDB's internal/hotkeys package, which tracked hot
// Redis-style keys with the same decaying top-N heap, but weighted by
// access volume rather than call count: a GET/SET against the teacher's
// store always touches exactly one value, so counting calls was
// counting volume. A series engine.Scan can return anywhere from zero
// to the whole series in one call, so RecordN here takes a weight — the
// number of records an access actually touched — rather than assuming
// every access is worth the same single unit.
package hotkeys

import (
	"container/heap"
	"sync"
	"time"
)

// Entry represents a single hot series with its access count.
type Entry struct {
	Series string `json:"series"`
	Count  int64  `json:"count"`
}

// Tracker tracks series access frequency and reports the top-N hottest
// series. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	counts  map[string]*int64
	topN    int
	window  time.Duration // observation window
	started time.Time
}

// New creates a hot-series tracker whose Top returns topN entries when
// called with n <= 0. A counter is kept for every recorded series, not
// only the top N. The window parameter controls how often counters
// decay (0 = never decay).
func New(topN int, window time.Duration) *Tracker {
	if topN <= 0 {
		topN = 100
	}
	t := &Tracker{
		counts:  make(map[string]*int64, topN*2),
		topN:    topN,
		window:  window,
		started: time.Now(),
	}
	if window > 0 {
		go t.decayLoop()
	}
	return t
}

// Record records a single-record access (an Append) to the given series.
// It is RecordN(series, 1).
func (t *Tracker) Record(series string) {
	t.RecordN(series, 1)
}

// RecordN records an access to series that touched weight records — for
// example, the length of the slice an engine.Scan returned. A series
// scanned once for a thousand records ranks hotter than one scanned a
// thousand times for a single record each, reflecting actual read/write
// volume rather than call count. weight <= 0 is a no-op: a Scan that
// matched nothing didn't make the series any hotter.
func (t *Tracker) RecordN(series string, weight int64) {
	if weight <= 0 {
		return
	}
	t.mu.Lock()
	if c, ok := t.counts[series]; ok {
		*c += weight
	} else {
		v := weight
		t.counts[series] = &v
	}
	t.mu.Unlock()
}

// Top returns the top-N series by access count, sorted descending.
func (t *Tracker) Top(n int) []Entry {
	if n <= 0 {
		n = t.topN
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	h := &entryHeap{}
	heap.Init(h)

	for series, cnt := range t.counts {
		e := Entry{Series: series, Count: *cnt}
		if h.Len() < n {
			heap.Push(h, e)
		} else if (*h)[0].Count < e.Count {
			(*h)[0] = e
			heap.Fix(h, 0)
		}
	}

	result := make([]Entry, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(Entry)
	}
	return result
}

// Reset clears all counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.counts = make(map[string]*int64, t.topN*2)
	t.started = time.Now()
	t.mu.Unlock()
}

// Size returns the number of tracked series.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

// decayLoop halves all counters every window period to ensure the
// tracker reflects recent access patterns rather than cumulative
// history.
func (t *Tracker) decayLoop() {
	ticker := time.NewTicker(t.window)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		for series, cnt := range t.counts {
			*cnt /= 2
			if *cnt == 0 {
				delete(t.counts, series)
			}
		}
		t.mu.Unlock()
	}
}

// --- min-heap for top-N selection ---

type entryHeap []Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].Count < h[j].Count }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
