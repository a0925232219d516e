package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fior4neee/Message-Broadcasting/pkg/protocol"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

var ErrServerStopped = errors.New("server stopped")

// Server represents the chat relay server
type Server struct {
	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	sessions     *SessionManager
	metrics      *Metrics
	config       ServerConfig
	startTime    time.Time

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	connMu sync.Mutex
	conns  map[*Session]struct{} // every open connection, logged in or not
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host              string
	TCPPort           int
	HTTPPort          int // 0 disables the HTTP listener
	MaxNicknameLength int
	MaxMessageLength  int           // bytes
	MessageRateLimit  float64       // chat messages per second per session, 0 = unlimited
	MessageBurst      int           // limiter burst size
	WriteTimeout      time.Duration // per write, 0 = none
	MaxFrameSize      uint32
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Host:              "",
		TCPPort:           12345,
		HTTPPort:          0,
		MaxNicknameLength: 50,
		MaxMessageLength:  4096,
		MessageRateLimit:  0,
		MessageBurst:      5,
		WriteTimeout:      10 * time.Second,
		MaxFrameSize:      protocol.MaxFrameSize,
	}
}

// Validate checks the config for values the server cannot run with
func (c ServerConfig) Validate() error {
	if c.TCPPort < 0 || c.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp port %d", c.TCPPort)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("max message length must be positive, got %d", c.MaxMessageLength)
	}
	if c.MaxFrameSize == 0 || c.MaxFrameSize > protocol.MaxFrameSize {
		return fmt.Errorf("max frame size must be between 1 and %d, got %d", protocol.MaxFrameSize, c.MaxFrameSize)
	}
	if c.MessageRateLimit < 0 {
		return fmt.Errorf("message rate limit cannot be negative")
	}
	return nil
}

// NewServer creates a new server instance
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	metrics := NewMetrics(nil)
	sessions := NewSessionManager(config.MaxNicknameLength)
	sessions.SetMetrics(metrics)

	return &Server{
		sessions: sessions,
		metrics:  metrics,
		config:   config,
		shutdown: make(chan struct{}),
		conns:    make(map[*Session]struct{}),
	}, nil
}

// EnableDebugLogging sends debug output (frame traces, chat lines) to w
func (s *Server) EnableDebugLogging(w io.Writer) {
	debugLog = log.New(w, "DEBUG: ", log.LstdFlags|log.Lmicroseconds)
	debugLog.Println("Debug logging enabled")
}

// Start starts the TCP listener and, when configured, the HTTP listener
func (s *Server) Start() error {
	s.startTime = time.Now()

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.TCPPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("TCP server listening on %s", listener.Addr())

	if s.config.HTTPPort != 0 {
		if err := s.startHTTPServer(); err != nil {
			s.listener.Close()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the TCP listen address, useful when started on port 0
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the HTTP listen address, or nil when disabled
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Sessions returns the session registry
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Metrics returns the server metrics
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Stop gracefully stops the server and closes every connection
func (s *Server) Stop() error {
	var stopErr error
	s.stopOnce.Do(func() {
		s.connMu.Lock()
		close(s.shutdown)
		open := make([]*Session, 0, len(s.conns))
		for sess := range s.conns {
			open = append(open, sess)
		}
		s.connMu.Unlock()

		if s.listener != nil {
			s.listener.Close()
		}

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.httpServer.Shutdown(ctx); err != nil {
				stopErr = fmt.Errorf("http shutdown: %w", err)
			}
			cancel()
		}

		// Logged in sessions go quietly, without leave broadcasts
		s.sessions.CloseAll()
		for _, sess := range open {
			sess.Conn.Close()
		}

		s.wg.Wait()
		log.Printf("Server stopped")
	})
	return stopErr
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Printf("Accept error: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !s.beginConn() {
			conn.Close()
			return
		}
		go s.handleConnection(conn)
	}
}

// beginConn reserves a slot in the wait group unless the server is stopping
func (s *Server) beginConn() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.wg.Add(1)
	return true
}

func (s *Server) trackSession(sess *Session) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.conns[sess] = struct{}{}
	return true
}

func (s *Server) untrackSession(sess *Session) {
	s.connMu.Lock()
	delete(s.conns, sess)
	s.connMu.Unlock()
}

// handleConnection runs the read loop of one connection until it closes.
// The caller must have reserved a wait group slot with beginConn.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := NewSession(conn, s.config)
	if !s.trackSession(sess) {
		conn.Close()
		return
	}
	defer s.untrackSession(sess)
	defer s.sessions.Remove(sess) // also closes the connection

	s.metrics.RecordConnectionOpened()
	defer s.metrics.RecordConnectionClosed()

	debugLog.Printf("New connection from %s (session %s)", sess.RemoteAddr, sess.ID)
	sess.setState(StateAwaitingLogin)

	reader := protocol.NewFrameReader(conn, s.config.MaxFrameSize)
	for {
		frame, err := reader.Next()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrMalformedFrame):
				s.metrics.RecordProtocolError()
				errorLog.Printf("Session %s: protocol error from %s, closing: %v", sess.ID, sess.RemoteAddr, err)
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				debugLog.Printf("Session %s disconnected", sess.label())
			default:
				debugLog.Printf("Session %s read error: %v", sess.label(), err)
			}
			return
		}

		debugLog.Printf("Session %s ← RECV: Type=0x%02X PayloadLen=%d", sess.ID, frame.Type, len(frame.Payload))
		s.metrics.RecordMessageReceived(frame.Type)

		if err := s.handleMessage(sess, frame); err != nil {
			if errors.Is(err, errSendFailed) {
				debugLog.Printf("Session %s: %v", sess.label(), err)
				return
			}
			errorLog.Printf("Session %s handle error: %v", sess.label(), err)
			if err := s.sendError(sess, protocol.ErrCodeServerError, "Internal server error"); err != nil {
				return
			}
		}
	}
}

func (s *Server) uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}
