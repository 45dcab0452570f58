// Package queryserver implements a small line-oriented TCP server over
// an engine.Engine, for interactive inspection of a table directory
// without going through ts-load/ts-compact. It is a much-reduced
// adaptation of the teacher FlashDB's internal/server package: the
// same Accept-loop-plus-per-connection-goroutine shape and slog-based
// structured logging, but a five-command line protocol instead of RESP,
// since this package has no key-value command surface to dispatch.
// SCAN results are memoized in a short-TTL cache.TTLCache to avoid
// re-reading a series' raw records on every repeated query.
package queryserver

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flashdb/cantera/internal/cache"
	"github.com/flashdb/cantera/internal/engine"
	"github.com/flashdb/cantera/internal/netutil"
	"github.com/flashdb/cantera/internal/stats"
)

// scanCacheTTL bounds how stale a SCAN result served from cache may be
// relative to concurrent ts-load activity against the same data
// directory.
const scanCacheTTL = 5 * time.Second

// Server serves read-only queries over TCP against a single engine.
type Server struct {
	addr      string
	engine    *engine.Engine
	logger    *slog.Logger
	scanCache *cache.TTLCache[[]engine.RawRecord]
	mu        sync.Mutex
	listener  net.Listener
	closed    bool
	wg        sync.WaitGroup
}

// New returns a Server that will listen on addr and serve queries
// against e.
func New(addr string, e *engine.Engine) *Server {
	return &Server{
		addr:      addr,
		engine:    e,
		logger:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
		scanCache: cache.NewTTLCache[[]engine.RawRecord](256, scanCacheTTL),
	}
}

// Serve blocks accepting connections until Close is called.
func (s *Server) Serve() error {
	l, err := netutil.Listen(s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("queryserver listening", "addr", s.addr)

	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight ones
// to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	l := s.listener
	s.mu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewScanner(conn)
	w := bufio.NewWriter(conn)
	defer w.Flush()

	for r.Scan() {
		line := strings.TrimSpace(r.Text())
		if line == "" {
			continue
		}
		reply := s.dispatch(line)
		fmt.Fprintln(w, reply)
		w.Flush()
	}
}

// dispatch interprets one query line. Supported commands:
//
//	SERIES                 list known series
//	SCAN <series>           print every (offset,score) in series
//	STATS                   print engine counters
//	HOT <n>                 print the n hottest series
//	CORR <a,...> <b,...>    Pearson correlation of two comma-separated series
func (s *Server) dispatch(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERR empty command"
	}
	cmd := strings.ToUpper(fields[0])

	switch cmd {
	case "SERIES":
		names, err := s.engine.Series()
		if err != nil {
			return "ERR " + err.Error()
		}
		return strings.Join(names, " ")

	case "SCAN":
		if len(fields) != 2 {
			return "ERR usage: SCAN <series>"
		}
		series := fields[1]
		records, ok := s.scanCache.Get(series)
		if !ok {
			var err error
			records, err = s.engine.Scan(series)
			if err != nil {
				return "ERR " + err.Error()
			}
			s.scanCache.Insert(series, records)
		}
		var b strings.Builder
		for i, r := range records {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%d:%g", r.Time, r.Value)
		}
		return b.String()

	case "STATS":
		st := s.engine.Stats()
		names, err := s.engine.Series()
		if err != nil {
			return "ERR " + err.Error()
		}
		return fmt.Sprintf("appends=%d scans=%d commits=%d series=%d",
			st.TotalAppends, st.TotalScans, st.TotalCommits, len(names))

	case "HOT":
		n := 10
		if len(fields) == 2 {
			if v, err := strconv.Atoi(fields[1]); err == nil {
				n = v
			}
		}
		var b strings.Builder
		for i, e := range s.engine.HotSeries(n) {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s:%d", e.Series, e.Count)
		}
		return b.String()

	case "CORR":
		if len(fields) != 3 {
			return "ERR usage: CORR <a,a,a> <b,b,b>"
		}
		a, err := parseFloatCSV(fields[1])
		if err != nil {
			return "ERR " + err.Error()
		}
		b, err := parseFloatCSV(fields[2])
		if err != nil {
			return "ERR " + err.Error()
		}
		c, err := stats.Correlation(a, b)
		if err != nil {
			return "ERR " + err.Error()
		}
		return fmt.Sprintf("%g", c)

	default:
		return "ERR unknown command " + cmd
	}
}

func parseFloatCSV(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("bad float %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}
