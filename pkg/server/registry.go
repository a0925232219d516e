package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fior4neee/Message-Broadcasting/pkg/protocol"
)

var (
	ErrBlankNickname     = errors.New("nickname cannot be empty")
	ErrNicknameTaken     = errors.New("nickname already taken")
	ErrNicknameTooLong   = errors.New("nickname too long")
	ErrAlreadyRegistered = errors.New("session already logged in")
	ErrSessionClosed     = errors.New("session closed")
)

// SessionManager is the registry of logged in sessions and the broadcaster.
//
// The session map and the nickname index are only mutated together under mu, so
// no two registered sessions ever share a nickname. Socket writes happen outside mu.
type SessionManager struct {
	mu        sync.RWMutex
	sessions  map[*Session]string // registered session -> nickname
	nicknames map[string]*Session // nickname -> registered session

	maxNicknameLength int
	metrics           *Metrics
}

// NewSessionManager creates an empty registry. maxNicknameLength <= 0 means unlimited.
func NewSessionManager(maxNicknameLength int) *SessionManager {
	return &SessionManager{
		sessions:          make(map[*Session]string),
		nicknames:         make(map[string]*Session),
		maxNicknameLength: maxNicknameLength,
	}
}

// SetMetrics attaches metrics to the session manager
func (sm *SessionManager) SetMetrics(metrics *Metrics) {
	sm.metrics = metrics
}

// TryRegister claims a nickname for sess. The nickname is trimmed first.
//
// Exactly one of any number of concurrent calls for the same nickname succeeds;
// the others get ErrNicknameTaken. On success the session is immediately visible
// to Broadcast and Nicknames.
func (sm *SessionManager) TryRegister(sess *Session, nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return ErrBlankNickname
	}
	if sm.maxNicknameLength > 0 && utf8.RuneCountInString(nickname) > sm.maxNicknameLength {
		return fmt.Errorf("%w (max %d characters)", ErrNicknameTooLong, sm.maxNicknameLength)
	}

	sm.mu.Lock()
	if _, ok := sm.sessions[sess]; ok {
		sm.mu.Unlock()
		return ErrAlreadyRegistered
	}
	if sess.State() == StateClosed {
		sm.mu.Unlock()
		return ErrSessionClosed
	}
	if _, taken := sm.nicknames[nickname]; taken {
		sm.mu.Unlock()
		return ErrNicknameTaken
	}
	sm.sessions[sess] = nickname
	sm.nicknames[nickname] = sess
	sess.authenticate(nickname, time.Now())
	count := len(sm.sessions)
	sm.mu.Unlock()

	sm.metrics.RecordActiveSessions(count)
	return nil
}

// Remove unregisters sess, closes its transport and tells everyone else it left.
//
// Only the call that actually removed the session returns true and broadcasts,
// so concurrent or repeated removals produce a single USER_LEAVE.
func (sm *SessionManager) Remove(sess *Session) bool {
	sm.mu.Lock()
	nickname, ok := sm.sessions[sess]
	if ok {
		delete(sm.sessions, sess)
		delete(sm.nicknames, nickname)
	}
	count := len(sm.sessions)
	sm.mu.Unlock()

	sess.setState(StateClosed)
	sess.Conn.Close()

	if !ok {
		return false
	}

	sm.metrics.RecordActiveSessions(count)
	sm.metrics.RecordSessionDisconnected()
	log.Printf("Session %s: %s left the chat", sess.ID, nickname)

	sm.Broadcast(protocol.TypeUserLeave, &protocol.PresenceMessage{
		Nickname:  nickname,
		Message:   nickname + " left the chat room",
		Timestamp: protocol.Now(),
	}, sess)
	sm.BroadcastUserList()

	return true
}

// Broadcast sends one message to every registered session except exclude (which may be nil).
//
// The payload is encoded once. Recipients are snapshotted under the read lock and
// written to outside it; sessions whose write fails are removed after the pass.
func (sm *SessionManager) Broadcast(msgType uint8, msg any, exclude *Session) error {
	payload, err := protocol.MarshalPayload(msg)
	if err != nil {
		return fmt.Errorf("encode %s broadcast: %w", protocol.TypeName(msgType), err)
	}
	data := protocol.Encode(msgType, payload)

	sm.mu.RLock()
	targets := make([]*Session, 0, len(sm.sessions))
	for sess := range sm.sessions {
		if sess != exclude {
			targets = append(targets, sess)
		}
	}
	sm.mu.RUnlock()

	_, span := startBroadcastSpan(context.Background(), msgType, len(targets))
	start := time.Now()

	deadSessions := make([]*Session, 0)
	for _, sess := range targets {
		if err := sess.Conn.WriteBytes(data); err != nil {
			debugLog.Printf("Session %s: Broadcast write failed (Type=0x%02X): %v", sess.ID, msgType, err)
			deadSessions = append(deadSessions, sess)
		}
	}

	sm.metrics.RecordBroadcast(msgType, len(targets)-len(deadSessions), len(deadSessions), time.Since(start).Seconds())
	var spanErr error
	if len(deadSessions) > 0 {
		spanErr = fmt.Errorf("%d of %d sends failed", len(deadSessions), len(targets))
	}
	endSpan(span, spanErr)

	// Remove dead sessions from broadcast pool
	for _, sess := range deadSessions {
		sm.Remove(sess)
	}
	return nil
}

// BroadcastUserList sends the current USER_LIST to everyone
func (sm *SessionManager) BroadcastUserList() {
	users := sm.Nicknames()
	if err := sm.Broadcast(protocol.TypeUserList, &protocol.UserListMessage{
		Users: users,
		Count: len(users),
	}, nil); err != nil {
		errorLog.Printf("User list broadcast failed: %v", err)
	}
}

// Nicknames returns a sorted snapshot of the registered nicknames
func (sm *SessionManager) Nicknames() []string {
	sm.mu.RLock()
	names := make([]string, 0, len(sm.nicknames))
	for name := range sm.nicknames {
		names = append(names, name)
	}
	sm.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Count returns the number of registered sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Lookup returns the session holding nickname
func (sm *SessionManager) Lookup(nickname string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.nicknames[nickname]
	return sess, ok
}

// CloseAll closes every registered session without broadcasting
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	sm.sessions = make(map[*Session]string)
	sm.nicknames = make(map[string]*Session)
	sm.mu.Unlock()

	for _, sess := range sessions {
		sess.setState(StateClosed)
		sess.Conn.Close()
	}
	sm.metrics.RecordActiveSessions(0)
}
