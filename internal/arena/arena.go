// Package arena implements a bump allocator for short-lived
// decode/encode scratch buffers, grounded on original_source/arena.c.
// Small requests are carved out of 256KiB slabs; anything larger gets
// its own backing slice appended to a side list. Go's GC reclaims
// everything when the Arena itself becomes unreachable, so there is no
// explicit free — callers are expected to drop the Arena at the end of
// a batch.
package arena

const slabSize = 256 * 1024

// Arena hands out byte slices from a chain of fixed-size slabs,
// avoiding one allocation per small buffer during a decode/encode pass.
// Oversize requests (larger than a slab) get their own dedicated block,
// tracked separately so Reset can drop them without disturbing slabs.
type Arena struct {
	slabs    [][]byte
	oversize [][]byte
	used     int
}

// New returns an empty Arena.
func New() *Arena {
	return &Arena{}
}

// Alloc returns a slice of exactly n bytes. Requests are rounded up to
// a multiple of 4, mirroring ca_arena_alloc's alignment.
func (a *Arena) Alloc(n int) []byte {
	aligned := (n + 3) &^ 3

	if aligned > slabSize {
		buf := make([]byte, n, aligned)
		a.oversize = append(a.oversize, buf)
		return buf[:n]
	}

	if len(a.slabs) == 0 || a.used+aligned > len(a.slabs[len(a.slabs)-1]) {
		a.slabs = append(a.slabs, make([]byte, slabSize))
		a.used = 0
	}

	current := a.slabs[len(a.slabs)-1]
	buf := current[a.used : a.used+n : a.used+aligned]
	a.used += aligned
	return buf
}

// Calloc is Alloc followed by zeroing the returned bytes. The zeroing
// matters after Reset: the retained first slab still holds the bytes of
// earlier allocations.
func (a *Arena) Calloc(n int) []byte {
	buf := a.Alloc(n)
	clear(buf)
	return buf
}

// Strdup copies s into a new arena-owned byte slice.
func (a *Arena) Strdup(s string) []byte {
	buf := a.Alloc(len(s))
	copy(buf, s)
	return buf
}

// Strndup copies at most n bytes of s into a new arena-owned slice.
func (a *Arena) Strndup(s string, n int) []byte {
	if n < len(s) {
		s = s[:n]
	}
	return a.Strdup(s)
}

// Reset releases every slab but the first and drops the oversize side
// list entirely, mirroring the original's arena_reset: one slab stays
// warm across batches. The used counter is zeroed so the next Alloc
// starts carving from the front of the retained slab again.
func (a *Arena) Reset() {
	a.oversize = nil
	if len(a.slabs) > 1 {
		a.slabs = a.slabs[:1]
	}
	a.used = 0
}

// Slabs reports how many 256KiB slabs the arena currently holds, for
// tests and diagnostics.
func (a *Arena) Slabs() int {
	return len(a.slabs)
}

// Oversize reports how many dedicated oversize blocks the arena
// currently holds.
func (a *Arena) Oversize() int {
	return len(a.oversize)
}
