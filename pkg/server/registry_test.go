package server

import (
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fior4neee/Message-Broadcasting/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipePeer is the client end of a net.Pipe session, drained into frames
type pipePeer struct {
	conn   net.Conn
	frames chan *protocol.Frame
}

func newPipeSession(t *testing.T, config ServerConfig) (*Session, *pipePeer) {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	sess := NewSession(serverConn, config)
	peer := &pipePeer{conn: clientConn, frames: make(chan *protocol.Frame, 64)}

	go func() {
		defer close(peer.frames)
		reader := protocol.NewFrameReader(clientConn, 0)
		for {
			frame, err := reader.Next()
			if err != nil {
				return
			}
			peer.frames <- frame
		}
	}()

	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})
	return sess, peer
}

// newSilentSession returns a session whose peer never reads
func newSilentSession(t *testing.T, config ServerConfig) (*Session, net.Conn) {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})
	return NewSession(serverConn, config), clientConn
}

func (p *pipePeer) expect(t *testing.T, msgType uint8) *protocol.Frame {
	t.Helper()

	select {
	case frame, ok := <-p.frames:
		require.True(t, ok, "connection closed while waiting for %s", protocol.TypeName(msgType))
		require.Equal(t, protocol.TypeName(msgType), protocol.TypeName(frame.Type))
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", protocol.TypeName(msgType))
		return nil
	}
}

func (p *pipePeer) expectNothing(t *testing.T) {
	t.Helper()

	select {
	case frame, ok := <-p.frames:
		if ok {
			t.Fatalf("unexpected %s frame: %s", protocol.TypeName(frame.Type), frame.Payload)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func registerPeer(t *testing.T, sm *SessionManager, nickname string) (*Session, *pipePeer) {
	t.Helper()
	sess, peer := newPipeSession(t, DefaultConfig())
	require.NoError(t, sm.TryRegister(sess, nickname))
	return sess, peer
}

func TestTryRegisterValidation(t *testing.T) {
	sm := NewSessionManager(50)

	sess, _ := newPipeSession(t, DefaultConfig())

	assert.True(t, errors.Is(sm.TryRegister(sess, ""), ErrBlankNickname))
	assert.True(t, errors.Is(sm.TryRegister(sess, " \t\n"), ErrBlankNickname))
	assert.True(t, errors.Is(sm.TryRegister(sess, strings.Repeat("x", 51)), ErrNicknameTooLong))
	assert.Equal(t, StateConnected, sess.State(), "rejections leave the session unauthenticated")

	require.NoError(t, sm.TryRegister(sess, "  alice  "))
	assert.Equal(t, "alice", sess.Nickname())
	assert.True(t, sess.IsAuthenticated())
	assert.False(t, sess.JoinedAt().IsZero())

	assert.True(t, errors.Is(sm.TryRegister(sess, "alice2"), ErrAlreadyRegistered))
	assert.Equal(t, "alice", sess.Nickname(), "nickname never changes once set")

	other, _ := newPipeSession(t, DefaultConfig())
	assert.True(t, errors.Is(sm.TryRegister(other, "alice"), ErrNicknameTaken))
	assert.True(t, errors.Is(sm.TryRegister(other, " alice "), ErrNicknameTaken))
	require.NoError(t, sm.TryRegister(other, "Alice"), "nicknames are case sensitive")

	assert.Equal(t, []string{"Alice", "alice"}, sm.Nicknames())
	assert.Equal(t, 2, sm.Count())

	found, ok := sm.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, sess, found)
}

func TestTryRegisterMultibyteLength(t *testing.T) {
	sm := NewSessionManager(3)
	sess, _ := newPipeSession(t, DefaultConfig())

	// Three runes, nine bytes
	require.NoError(t, sm.TryRegister(sess, "日本語"))
}

func TestTryRegisterConcurrentUniqueness(t *testing.T) {
	sm := NewSessionManager(50)

	const contenders = 64
	sessions := make([]*Session, contenders)
	for i := range sessions {
		sessions[i], _ = newSilentSession(t, DefaultConfig())
	}

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		taken    atomic.Int32
		start    = make(chan struct{})
	)
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			<-start
			err := sm.TryRegister(sess, "contested")
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrNicknameTaken):
				taken.Add(1)
			}
		}(sess)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(contenders-1), taken.Load())
	assert.Equal(t, []string{"contested"}, sm.Nicknames())
}

func TestBroadcastExclusion(t *testing.T) {
	sm := NewSessionManager(50)

	alice, alicePeer := registerPeer(t, sm, "alice")
	_, bobPeer := registerPeer(t, sm, "bob")
	_, carolPeer := registerPeer(t, sm, "carol")

	require.NoError(t, sm.Broadcast(protocol.TypeUserJoin, &protocol.PresenceMessage{
		Nickname: "alice",
		Message:  "alice joined the chat room",
	}, alice))

	for _, peer := range []*pipePeer{bobPeer, carolPeer} {
		frame := peer.expect(t, protocol.TypeUserJoin)
		msg := &protocol.PresenceMessage{}
		require.NoError(t, msg.Decode(frame.Payload))
		assert.Equal(t, "alice", msg.Nickname)
	}
	alicePeer.expectNothing(t)

	// No exclusion reaches everyone, sender included
	require.NoError(t, sm.Broadcast(protocol.TypeChatMessage, &protocol.ChatBroadcastMessage{
		Nickname: "alice",
		Message:  "hi",
	}, nil))
	for _, peer := range []*pipePeer{alicePeer, bobPeer, carolPeer} {
		peer.expect(t, protocol.TypeChatMessage)
	}
}

func TestBroadcastSkipsUnregisteredSessions(t *testing.T) {
	sm := NewSessionManager(50)

	_, alicePeer := registerPeer(t, sm, "alice")
	_, lurkerPeer := newPipeSession(t, DefaultConfig())

	require.NoError(t, sm.Broadcast(protocol.TypeChatMessage, "plain", nil))

	frame := alicePeer.expect(t, protocol.TypeChatMessage)
	assert.Equal(t, "plain", string(frame.Payload))
	lurkerPeer.expectNothing(t)
}

func TestBroadcastEncodeError(t *testing.T) {
	sm := NewSessionManager(50)
	err := sm.Broadcast(protocol.TypeChatMessage, nil, nil)
	assert.True(t, errors.Is(err, protocol.ErrUnsupportedType))
}

func TestRemoveIsIdempotent(t *testing.T) {
	sm := NewSessionManager(50)

	alice, _ := registerPeer(t, sm, "alice")
	_, bobPeer := registerPeer(t, sm, "bob")

	var (
		wg      sync.WaitGroup
		removed atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sm.Remove(alice) {
				removed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), removed.Load())
	assert.Equal(t, StateClosed, alice.State())
	assert.Equal(t, []string{"bob"}, sm.Nicknames())

	leave := bobPeer.expect(t, protocol.TypeUserLeave)
	msg := &protocol.PresenceMessage{}
	require.NoError(t, msg.Decode(leave.Payload))
	assert.Equal(t, "alice", msg.Nickname)
	assert.Equal(t, "alice left the chat room", msg.Message)

	list := bobPeer.expect(t, protocol.TypeUserList)
	users := &protocol.UserListMessage{}
	require.NoError(t, users.Decode(list.Payload))
	assert.Equal(t, []string{"bob"}, users.Users)
	assert.Equal(t, 1, users.Count)

	bobPeer.expectNothing(t)
	assert.False(t, sm.Remove(alice))

	// The freed nickname can be claimed again
	again, _ := newPipeSession(t, DefaultConfig())
	require.NoError(t, sm.TryRegister(again, "alice"))
}

func TestRemoveUnregisteredSession(t *testing.T) {
	sm := NewSessionManager(50)
	_, bobPeer := registerPeer(t, sm, "bob")

	lurker, _ := newPipeSession(t, DefaultConfig())
	assert.False(t, sm.Remove(lurker))
	assert.Equal(t, StateClosed, lurker.State())
	assert.True(t, errors.Is(sm.TryRegister(lurker, "late"), ErrSessionClosed))

	bobPeer.expectNothing(t)
}

func TestBroadcastRemovesDeadSessions(t *testing.T) {
	sm := NewSessionManager(50)

	_, alicePeer := registerPeer(t, sm, "alice")
	_, bobPeer := registerPeer(t, sm, "bob")
	carol, carolPeer := registerPeer(t, sm, "carol")

	carolPeer.conn.Close()

	require.NoError(t, sm.Broadcast(protocol.TypeChatMessage, &protocol.ChatBroadcastMessage{
		Nickname: "alice",
		Message:  "anyone there?",
	}, nil))

	for _, peer := range []*pipePeer{alicePeer, bobPeer} {
		peer.expect(t, protocol.TypeChatMessage)
		leave := peer.expect(t, protocol.TypeUserLeave)
		assert.Contains(t, string(leave.Payload), `"nickname":"carol"`)
		peer.expect(t, protocol.TypeUserList)
	}

	assert.Equal(t, StateClosed, carol.State())
	assert.Equal(t, []string{"alice", "bob"}, sm.Nicknames())
}

func TestBroadcastWriteDeadlineDropsStalledPeer(t *testing.T) {
	sm := NewSessionManager(50)

	config := DefaultConfig()
	config.WriteTimeout = 50 * time.Millisecond

	_, alicePeer := registerPeer(t, sm, "alice")
	stalled, _ := newSilentSession(t, config)
	require.NoError(t, sm.TryRegister(stalled, "stalled"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		sm.Broadcast(protocol.TypeChatMessage, &protocol.ChatBroadcastMessage{Nickname: "alice", Message: "hi"}, nil)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a peer that never reads")
	}

	alicePeer.expect(t, protocol.TypeChatMessage)
	alicePeer.expect(t, protocol.TypeUserLeave)
	alicePeer.expect(t, protocol.TypeUserList)

	_, ok := sm.Lookup("stalled")
	assert.False(t, ok)
}

func TestCloseAll(t *testing.T) {
	sm := NewSessionManager(50)

	alice, alicePeer := registerPeer(t, sm, "alice")
	bob, bobPeer := registerPeer(t, sm, "bob")

	sm.CloseAll()

	assert.Zero(t, sm.Count())
	assert.Equal(t, StateClosed, alice.State())
	assert.Equal(t, StateClosed, bob.State())

	// Peers see the close, not a leave broadcast
	for _, peer := range []*pipePeer{alicePeer, bobPeer} {
		select {
		case _, ok := <-peer.frames:
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("connection not closed")
		}
	}
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "awaiting_login", StateAwaitingLogin.String())
	assert.Equal(t, "unknown", SessionState(42).String())
}

func TestSessionRateLimiter(t *testing.T) {
	config := DefaultConfig()
	config.MessageRateLimit = 0.001
	config.MessageBurst = 2

	sess, _ := newSilentSession(t, config)
	assert.True(t, sess.allowChat())
	assert.True(t, sess.allowChat())
	assert.False(t, sess.allowChat())

	unlimited, _ := newSilentSession(t, DefaultConfig())
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.allowChat())
	}
}
