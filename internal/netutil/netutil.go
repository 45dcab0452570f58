// Package netutil provides small TCP dial/listen helpers for
// internal/queryserver,
// grounded on original_source/base/socket.cc's socket setup (address
// resolution, TCP_NODELAY, keepalive).
package netutil

import (
	"fmt"
	"net"
	"time"
)

// Listen resolves addr and starts listening on it with TCP_NODELAY and
// keepalive enabled on every accepted connection, mirroring the socket
// tuning original_source/base/socket.cc applies after accept(2).
func Listen(addr string) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netutil: resolve %s: %w", addr, err)
	}
	l, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("netutil: listen %s: %w", addr, err)
	}
	return &tunedListener{l}, nil
}

// Dial connects to addr with the same socket tuning applied by Listen.
func Dial(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("netutil: dial %s: %w", addr, err)
	}
	tune(conn)
	return conn, nil
}

func tune(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(5 * time.Minute)
	}
}

// tunedListener wraps a *net.TCPListener so every Accept'd connection
// gets the same tuning Dial applies.
type tunedListener struct {
	*net.TCPListener
}

func (l *tunedListener) Accept() (net.Conn, error) {
	conn, err := l.TCPListener.Accept()
	if err != nil {
		return nil, err
	}
	tune(conn)
	return conn, nil
}
