package netutil

import (
	"bufio"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenAndDial(t *testing.T) {
	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("pong\n"))
	}()

	conn, err := Dial(l.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "pong\n", line)
}

func TestDial_TimesOutOnUnreachableAddress(t *testing.T) {
	// 192.0.2.0/24 is reserved (TEST-NET-1) and never routable.
	_, err := Dial("192.0.2.1:9", 50*time.Millisecond)
	require.Error(t, err)
}
