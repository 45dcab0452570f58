package queryserver

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flashdb/cantera/internal/engine"
	"github.com/flashdb/cantera/internal/netutil"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(t.TempDir(), "input.data", "input.index")
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func startServer(t *testing.T, e *engine.Engine) (addr string, conn net.Conn) {
	t.Helper()
	srv := New("127.0.0.1:0", e)

	go func() {
		_ = srv.Serve()
	}()
	t.Cleanup(func() { srv.Close() })

	var resolved string
	for i := 0; i < 50; i++ {
		srv.mu.Lock()
		if srv.listener != nil {
			resolved = srv.listener.Addr().String()
		}
		srv.mu.Unlock()
		if resolved != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, resolved, "server never started listening")

	var lastErr error
	for i := 0; i < 50; i++ {
		conn, lastErr = netutil.Dial(resolved, time.Second)
		if lastErr == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, lastErr)
	t.Cleanup(func() { conn.Close() })
	return resolved, conn
}

func sendLine(t *testing.T, conn net.Conn, line string) string {
	t.Helper()
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return reply[:len(reply)-1]
}

func TestDispatch_Series(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Append(engine.RawRecord{Key: "cpu", Time: 1, Value: 1.5}))
	require.NoError(t, e.Append(engine.RawRecord{Key: "mem", Time: 2, Value: 2.5}))

	_, conn := startServer(t, e)
	reply := sendLine(t, conn, "SERIES")
	require.Equal(t, "cpu mem", reply)
}

func TestDispatch_ScanAndStats(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Append(engine.RawRecord{Key: "cpu", Time: 1, Value: 1.5}))
	require.NoError(t, e.Append(engine.RawRecord{Key: "cpu", Time: 2, Value: 2.5}))

	_, conn := startServer(t, e)
	scan := sendLine(t, conn, "SCAN cpu")
	require.Equal(t, "1:1.5 2:2.5", scan)

	stats := sendLine(t, conn, "STATS")
	require.Contains(t, stats, "appends=2")
	require.Contains(t, stats, "series=1")
}

func TestDispatch_UnknownCommand(t *testing.T) {
	e := newTestEngine(t)
	_, conn := startServer(t, e)
	reply := sendLine(t, conn, "BOGUS")
	require.Equal(t, "ERR unknown command BOGUS", reply)
}

func TestDispatch_Corr(t *testing.T) {
	e := newTestEngine(t)
	_, conn := startServer(t, e)
	reply := sendLine(t, conn, "CORR 0,1,2,3 0,1,2,3")
	require.Equal(t, "1", reply)
}
