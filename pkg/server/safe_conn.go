package server

import (
	"net"
	"sync"
	"time"

	"github.com/fior4neee/Message-Broadcasting/pkg/protocol"
)

// SafeConn wraps a net.Conn with write synchronization so frames written by the
// session's own handler and by broadcasts from other sessions never interleave.
//
// Every write is bounded by writeTimeout. A peer that stops reading fails the write
// once the deadline passes instead of blocking the broadcaster forever.
type SafeConn struct {
	conn         net.Conn
	mu           sync.Mutex // Protects writes to conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewSafeConn wraps a net.Conn with write synchronization.
// A zero writeTimeout disables the write deadline.
func NewSafeConn(conn net.Conn, writeTimeout time.Duration) *SafeConn {
	return &SafeConn{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// EncodeFrame encodes and sends a protocol frame
func (sc *SafeConn) EncodeFrame(frame *protocol.Frame) error {
	return sc.WriteBytes(frame.Bytes())
}

// WriteBytes writes raw bytes to the connection with synchronization.
// Used for pre-encoded frames in broadcast operations.
func (sc *SafeConn) WriteBytes(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.writeTimeout > 0 {
		if err := sc.conn.SetWriteDeadline(time.Now().Add(sc.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := sc.conn.Write(data)
	return err
}

// Close closes the underlying connection. Safe to call more than once.
func (sc *SafeConn) Close() error {
	sc.closeOnce.Do(func() {
		sc.closeErr = sc.conn.Close()
	})
	return sc.closeErr
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
