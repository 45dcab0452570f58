// Package progress draws a single-line progress indicator to stderr,
// grounded on original_source/base/progress.cc: output is gated on the
// target being a terminal, redrawn in place with a carriage return plus
// an ANSI clear-to-end-of-line, and silent otherwise (e.g. when stderr
// is redirected to a file, as ts-load and ts-compact commonly are in
// batch jobs). TTY detection uses github.com/mattn/go-isatty, the same
// library the rest of the example pack uses for this check.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const clearLine = "\033[K"

// Bar draws "label: current/total" on one line, redrawing in place.
// Updates are rate-limited to avoid flooding a slow terminal.
type Bar struct {
	mu       sync.Mutex
	out      io.Writer
	isTTY    bool
	label    string
	total    int64
	current  int64
	lastDraw time.Time
	interval time.Duration
}

// New returns a Bar that writes to w, which should be an *os.File for
// TTY detection to work (e.g. os.Stderr); any other io.Writer is
// treated as non-interactive and produces no output.
func New(w io.Writer, label string, total int64) *Bar {
	b := &Bar{out: w, label: label, total: total, interval: 100 * time.Millisecond}
	if f, ok := w.(*os.File); ok {
		b.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return b
}

// Add increments the current count by delta and redraws if enough time
// has passed since the last draw.
func (b *Bar) Add(delta int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current += delta
	if !b.isTTY {
		return
	}
	now := time.Now()
	if now.Sub(b.lastDraw) < b.interval && b.current < b.total {
		return
	}
	b.lastDraw = now
	b.draw()
}

// Finish draws the bar at 100% and emits a trailing newline so
// subsequent output starts on a fresh line.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.total
	if !b.isTTY {
		return
	}
	b.draw()
	fmt.Fprintln(b.out)
}

func (b *Bar) draw() {
	pct := 0.0
	if b.total > 0 {
		pct = float64(b.current) / float64(b.total) * 100
	}
	fmt.Fprintf(b.out, "\r%s%s: %d/%d (%.1f%%)", clearLine, b.label, b.current, b.total, pct)
}
