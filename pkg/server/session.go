package server

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// SessionState is the lifecycle stage of a connection
type SessionState int

const (
	StateConnected SessionState = iota
	StateAwaitingLogin
	StateAuthenticated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingLogin:
		return "awaiting_login"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session represents an active client connection
type Session struct {
	ID          string    // Random ID for logs and traces
	Conn        *SafeConn // Connection with automatic write synchronization
	RemoteAddr  string
	ConnectedAt time.Time

	mu       sync.RWMutex // Protects nickname, joinedAt and state
	nickname string
	joinedAt time.Time
	state    SessionState

	limiter *rate.Limiter // nil when chat rate limiting is disabled
}

// NewSession creates a session for a freshly accepted connection
func NewSession(conn net.Conn, config ServerConfig) *Session {
	sess := &Session{
		ID:          uuid.New().String(),
		Conn:        NewSafeConn(conn, config.WriteTimeout),
		ConnectedAt: time.Now(),
		state:       StateConnected,
	}
	if addr := conn.RemoteAddr(); addr != nil {
		sess.RemoteAddr = addr.String()
	}
	if config.MessageRateLimit > 0 {
		burst := config.MessageBurst
		if burst < 1 {
			burst = 1
		}
		sess.limiter = rate.NewLimiter(rate.Limit(config.MessageRateLimit), burst)
	}
	return sess
}

// Nickname returns the registered nickname, or "" before login
func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

// JoinedAt returns when the session logged in
func (s *Session) JoinedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joinedAt
}

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsAuthenticated reports whether the session completed login
func (s *Session) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// setState moves the session forward. Closed is terminal.
func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = state
}

// authenticate records the nickname. Called by the registry under its lock.
func (s *Session) authenticate(nickname string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nickname = nickname
	s.joinedAt = at
	s.state = StateAuthenticated
}

// allowChat consumes one token from the chat limiter
func (s *Session) allowChat() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// label identifies the session in log lines
func (s *Session) label() string {
	if nick := s.Nickname(); nick != "" {
		return s.ID + " (" + nick + ")"
	}
	return s.ID
}
