package client

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fior4neee/Message-Broadcasting/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakeServer is the far end of a net.Pipe speaking the wire protocol
type fakeServer struct {
	t      *testing.T
	conn   net.Conn
	reader *protocol.FrameReader
}

func newPipeClient(t *testing.T, opts Options) (*Client, *fakeServer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	c := NewClient(clientConn, opts)
	t.Cleanup(func() {
		serverConn.Close()
		c.Close()
	})
	return c, &fakeServer{t: t, conn: serverConn, reader: protocol.NewFrameReader(serverConn, 0)}
}

func (s *fakeServer) expect(msgType uint8) *protocol.Frame {
	s.t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := s.reader.Next()
	require.NoError(s.t, err)
	require.Equal(s.t, protocol.TypeName(msgType), protocol.TypeName(frame.Type))
	return frame
}

func (s *fakeServer) send(msgType uint8, msg protocol.ProtocolMessage) {
	s.t.Helper()
	frame, err := protocol.NewFrame(msgType, msg)
	require.NoError(s.t, err)
	s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	require.NoError(s.t, protocol.EncodeFrame(s.conn, frame))
}

func (s *fakeServer) accept(nick string) {
	s.t.Helper()
	s.send(protocol.TypeLoginResponse, &protocol.LoginResponseMessage{
		Success:   true,
		Message:   "Welcome " + nick + "!",
		Timestamp: protocol.Now(),
	})
}

func (s *fakeServer) reject(code int, text string) {
	s.t.Helper()
	s.send(protocol.TypeError, &protocol.ErrorMessage{ErrorCode: code, ErrorMessage: text, Timestamp: protocol.Now()})
}

func (s *fakeServer) expectLogin(nick string) {
	s.t.Helper()
	frame := s.expect(protocol.TypeLoginRequest)
	assert.Equal(s.t, nick, string(frame.Payload))
}

func nextEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func startLogin(c *Client) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- c.Login(context.Background()) }()
	return errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Login")
		return nil
	}
}

func loggedInClient(t *testing.T, nick string) (*Client, *fakeServer) {
	t.Helper()
	c, srv := newPipeClient(t, Options{Nickname: nick})
	errc := startLogin(c)
	srv.expectLogin(nick)
	srv.accept(nick)
	require.NoError(t, waitErr(t, errc))
	ev := nextEvent(t, c)
	require.Equal(t, EventLogin, ev.Kind)
	return c, srv
}

func TestLoginSuccess(t *testing.T) {
	c, srv := newPipeClient(t, Options{Nickname: "  alice "})
	assert.False(t, c.IsLoggedIn())

	errc := startLogin(c)
	srv.expectLogin("alice")
	srv.accept("alice")

	require.NoError(t, waitErr(t, errc))
	assert.True(t, c.IsLoggedIn())
	assert.Equal(t, "alice", c.Nickname())

	ev := nextEvent(t, c)
	assert.Equal(t, EventLogin, ev.Kind)
	assert.Equal(t, "Welcome alice!", ev.Text)

	assert.ErrorIs(t, c.Login(context.Background()), ErrAlreadyLoggedIn)
}

func TestLoginRetriesAfterNicknameTaken(t *testing.T) {
	var prompts []error
	c, srv := newPipeClient(t, Options{
		Nickname: "alice",
		Prompt: func(attempt int, lastErr error) (string, error) {
			prompts = append(prompts, lastErr)
			assert.Equal(t, 2, attempt)
			return "alice2", nil
		},
	})

	errc := startLogin(c)
	srv.expectLogin("alice")
	srv.reject(protocol.ErrCodeNicknameExists, "Nickname already taken, please choose another")
	srv.expectLogin("alice2")
	srv.accept("alice2")

	require.NoError(t, waitErr(t, errc))
	assert.Equal(t, "alice2", c.Nickname())

	require.Len(t, prompts, 1)
	var errMsg *protocol.ErrorMessage
	require.ErrorAs(t, prompts[0], &errMsg)
	assert.Equal(t, protocol.ErrCodeNicknameExists, errMsg.ErrorCode)

	// The rejection is shown too
	ev := nextEvent(t, c)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, 409, ev.Code)
}

func TestLoginRetriesAfterTimeout(t *testing.T) {
	c, srv := newPipeClient(t, Options{
		Nickname:     "alice",
		LoginTimeout: 50 * time.Millisecond,
		Prompt: func(int, error) (string, error) {
			t.Error("nickname was not rejected, prompt should not be asked")
			return "bob", nil
		},
	})

	errc := startLogin(c)
	srv.expectLogin("alice") // never answered
	srv.expectLogin("alice")
	srv.accept("alice")

	require.NoError(t, waitErr(t, errc))
	assert.Equal(t, "alice", c.Nickname())
}

func TestLoginRetriesAfterTimeoutWithoutPrompt(t *testing.T) {
	c, srv := newPipeClient(t, Options{Nickname: "alice", LoginTimeout: 50 * time.Millisecond})

	errc := startLogin(c)
	srv.expectLogin("alice") // never answered
	srv.expectLogin("alice")
	srv.accept("alice")

	require.NoError(t, waitErr(t, errc))
	assert.True(t, c.IsLoggedIn())
}

func TestLoginTimesOutAfterAttempts(t *testing.T) {
	c, srv := newPipeClient(t, Options{Nickname: "alice", LoginTimeout: 30 * time.Millisecond})

	errc := startLogin(c)
	for i := 0; i < DefaultLoginAttempts; i++ {
		srv.expectLogin("alice")
	}

	err := waitErr(t, errc)
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.ErrorIs(t, err, ErrLoginTimeout)
	assert.False(t, c.IsLoggedIn())
}

func TestLoginGivesUpAfterAttempts(t *testing.T) {
	n := 0
	c, srv := newPipeClient(t, Options{
		Nickname: "taken",
		Prompt: func(int, error) (string, error) {
			n++
			return "taken", nil
		},
	})

	errc := startLogin(c)
	for i := 0; i < DefaultLoginAttempts; i++ {
		srv.expectLogin("taken")
		srv.reject(protocol.ErrCodeNicknameExists, "Nickname already taken, please choose another")
	}

	err := waitErr(t, errc)
	assert.ErrorIs(t, err, ErrLoginFailed)
	var errMsg *protocol.ErrorMessage
	require.ErrorAs(t, err, &errMsg)
	assert.Equal(t, protocol.ErrCodeNicknameExists, errMsg.ErrorCode)
	assert.Equal(t, DefaultLoginAttempts-1, n)
	assert.False(t, c.IsLoggedIn())
}

func TestLoginWithoutPromptResendsAfterRejection(t *testing.T) {
	c, srv := newPipeClient(t, Options{Nickname: "alice"})

	errc := startLogin(c)
	srv.expectLogin("alice")
	srv.reject(protocol.ErrCodeNicknameExists, "taken")
	srv.expectLogin("alice")
	srv.accept("alice")

	require.NoError(t, waitErr(t, errc))
	assert.Equal(t, "alice", c.Nickname())
}

func TestLoginWithoutPromptGivesUpAfterAttempts(t *testing.T) {
	c, srv := newPipeClient(t, Options{Nickname: "alice"})

	errc := startLogin(c)
	for i := 0; i < DefaultLoginAttempts; i++ {
		srv.expectLogin("alice")
		srv.reject(protocol.ErrCodeNicknameExists, "taken")
	}

	err := waitErr(t, errc)
	assert.ErrorIs(t, err, ErrLoginFailed)
	var errMsg *protocol.ErrorMessage
	require.ErrorAs(t, err, &errMsg)
	assert.Equal(t, protocol.ErrCodeNicknameExists, errMsg.ErrorCode)
}

func TestLoginFailureResponse(t *testing.T) {
	c, srv := newPipeClient(t, Options{Nickname: "alice", LoginAttempts: 1})

	errc := startLogin(c)
	srv.expectLogin("alice")
	srv.send(protocol.TypeLoginResponse, &protocol.LoginResponseMessage{Success: false, Message: "go away"})

	err := waitErr(t, errc)
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.Contains(t, err.Error(), "go away")
}

func TestLoginValidatesLocally(t *testing.T) {
	c, _ := newPipeClient(t, Options{})
	assert.ErrorIs(t, c.Login(context.Background()), ErrBlankNickname)

	// Too long for the server, so the prompt is asked again without a round trip
	long := strings.Repeat("x", MaxNicknameLength+1)
	var reasons []error
	c2, srv := newPipeClient(t, Options{
		Nickname: long,
		Prompt: func(attempt int, lastErr error) (string, error) {
			reasons = append(reasons, lastErr)
			return "short", nil
		},
	})
	errc := startLogin(c2)
	srv.expectLogin("short")
	srv.accept("short")
	require.NoError(t, waitErr(t, errc))
	require.Len(t, reasons, 1)
	assert.ErrorIs(t, reasons[0], ErrNicknameTooLong)

	// Without a prompt there is nothing to resend
	c3, _ := newPipeClient(t, Options{Nickname: long})
	err := c3.Login(context.Background())
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.ErrorIs(t, err, ErrNicknameTooLong)
}

func TestLoginPromptError(t *testing.T) {
	stop := errors.New("user quit")
	c, _ := newPipeClient(t, Options{
		Prompt: func(int, error) (string, error) { return "", stop },
	})
	assert.ErrorIs(t, c.Login(context.Background()), stop)
}

func TestLoginInProgress(t *testing.T) {
	c, srv := newPipeClient(t, Options{Nickname: "alice"})

	errc := startLogin(c)
	srv.expectLogin("alice")

	assert.ErrorIs(t, c.Login(context.Background()), ErrLoginInProgress)

	srv.accept("alice")
	require.NoError(t, waitErr(t, errc))
}

func TestLoginContextCanceled(t *testing.T) {
	c, srv := newPipeClient(t, Options{Nickname: "alice"})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Login(ctx) }()

	srv.expectLogin("alice")
	cancel()
	assert.ErrorIs(t, waitErr(t, errc), context.Canceled)
}

func TestLoginConnectionLost(t *testing.T) {
	c, srv := newPipeClient(t, Options{Nickname: "alice"})

	errc := startLogin(c)
	srv.expectLogin("alice")
	srv.conn.Close()

	assert.ErrorIs(t, waitErr(t, errc), ErrClosed)
}

func TestLateLoginResponseCounts(t *testing.T) {
	prompted := make(chan struct{})
	release := make(chan struct{})
	c, srv := newPipeClient(t, Options{
		Nickname:     "alice",
		LoginTimeout: 50 * time.Millisecond,
		Prompt: func(int, error) (string, error) {
			close(prompted)
			<-release
			return "other", nil
		},
	})

	errc := startLogin(c)
	srv.expectLogin("alice")
	srv.send(protocol.TypeLoginResponse, &protocol.LoginResponseMessage{Success: false, Message: "busy"})
	<-prompted
	// The rejection was followed by a success for the same request
	srv.accept("alice")
	require.Eventually(t, c.IsLoggedIn, 2*time.Second, 5*time.Millisecond)
	close(release)

	// The prompted nickname is dropped since the session already has one
	require.NoError(t, waitErr(t, errc))
	assert.Equal(t, "alice", c.Nickname())
}

func TestSendChatRequiresLogin(t *testing.T) {
	c, _ := newPipeClient(t, Options{})
	_, err := c.SendChat("hi")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.ErrorIs(t, c.Ping(), ErrNotLoggedIn)
}

func TestSendChat(t *testing.T) {
	c, srv := loggedInClient(t, "alice")

	_, err := c.SendChat("   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	ev, err := c.SendChat(`{"looks":"like json"}`)
	require.NoError(t, err)
	assert.Equal(t, EventChat, ev.Kind)
	assert.True(t, ev.Own)
	assert.Equal(t, "alice", ev.Nickname)

	frame := srv.expect(protocol.TypeChatMessage)
	assert.Equal(t, `{"looks":"like json"}`, string(frame.Payload))
}

func TestOwnChatSuppressed(t *testing.T) {
	c, srv := loggedInClient(t, "alice")

	srv.send(protocol.TypeChatMessage, &protocol.ChatBroadcastMessage{Nickname: "alice", Message: "echo", Timestamp: protocol.Now()})
	srv.send(protocol.TypeChatMessage, &protocol.ChatBroadcastMessage{Nickname: "bob", Message: "hi alice", Timestamp: protocol.Now()})

	ev := nextEvent(t, c)
	assert.Equal(t, EventChat, ev.Kind)
	assert.Equal(t, "bob", ev.Nickname)
	assert.Equal(t, "hi alice", ev.Text)
	assert.False(t, ev.Own)
	assert.True(t, ev.Mentions("alice"))
}

func TestPlainTextChatShown(t *testing.T) {
	c, srv := loggedInClient(t, "alice")

	srv.send(protocol.TypeChatMessage, &protocol.ChatRequestMessage{Text: "system notice"})

	ev := nextEvent(t, c)
	assert.Equal(t, EventChat, ev.Kind)
	assert.Empty(t, ev.Nickname)
	assert.Equal(t, "system notice", ev.Text)
}

func TestPingLatency(t *testing.T) {
	c, srv := loggedInClient(t, "alice")

	require.NoError(t, c.Ping())
	frame := srv.expect(protocol.TypePing)
	var ping protocol.PingMessage
	require.NoError(t, ping.Decode(frame.Payload))
	assert.NotZero(t, ping.Timestamp)

	time.Sleep(5 * time.Millisecond)
	srv.send(protocol.TypePong, &protocol.PongMessage{Timestamp: protocol.Now()})

	ev := nextEvent(t, c)
	assert.Equal(t, EventPong, ev.Kind)
	assert.GreaterOrEqual(t, ev.Latency, 5*time.Millisecond)
	assert.Equal(t, ev.Latency, c.Latency())
}

func TestUnsolicitedPongIgnored(t *testing.T) {
	c, srv := loggedInClient(t, "alice")

	srv.send(protocol.TypePong, &protocol.PongMessage{Timestamp: protocol.Now()})
	srv.send(protocol.TypeUserList, &protocol.UserListMessage{Users: []string{"alice"}})

	ev := nextEvent(t, c)
	assert.Equal(t, EventUserList, ev.Kind)
	assert.Zero(t, c.Latency())
}

func TestPresenceAndUserList(t *testing.T) {
	c, srv := loggedInClient(t, "alice")

	srv.send(protocol.TypeUserJoin, &protocol.PresenceMessage{Nickname: "bob", Message: "bob joined the chat room", Timestamp: protocol.Now()})
	srv.send(protocol.TypeUserList, &protocol.UserListMessage{Users: []string{"alice", "bob"}})
	srv.send(protocol.TypeUserLeave, &protocol.PresenceMessage{Nickname: "bob", Timestamp: protocol.Now()})

	join := nextEvent(t, c)
	assert.Equal(t, EventJoin, join.Kind)
	assert.Equal(t, "bob", join.Nickname)

	list := nextEvent(t, c)
	assert.Equal(t, EventUserList, list.Kind)
	assert.Equal(t, []string{"alice", "bob"}, c.Users())

	leave := nextEvent(t, c)
	assert.Equal(t, EventLeave, leave.Kind)
	assert.Equal(t, "bob left the chat room", leave.Text)
}

func TestErrorEventAfterLogin(t *testing.T) {
	c, srv := loggedInClient(t, "alice")

	srv.send(protocol.TypeError, &protocol.ErrorMessage{ErrorCode: 400, ErrorMessage: "Message cannot be empty"})
	ev := nextEvent(t, c)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, 400, ev.Code)
	assert.Equal(t, "Message cannot be empty", ev.Text)
}

func TestUnknownTypeBecomesNotice(t *testing.T) {
	c, srv := loggedInClient(t, "alice")

	srv.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := srv.conn.Write(protocol.Encode(0x42, nil))
	require.NoError(t, err)

	ev := nextEvent(t, c)
	assert.Equal(t, EventNotice, ev.Kind)
	assert.Contains(t, ev.Text, "0x42")
}

func TestServerDisconnect(t *testing.T) {
	c, srv := loggedInClient(t, "alice")

	srv.conn.Close()

	ev := nextEvent(t, c)
	assert.Equal(t, EventDisconnected, ev.Kind)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed")
	}
	_, ok := <-c.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, c.Err(), ErrClosed)

	_, err := c.SendChat("anyone?")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMalformedFrameDisconnects(t *testing.T) {
	c, srv := loggedInClient(t, "alice")

	srv.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := srv.conn.Write([]byte{0xDE, 0xAD, 1, 0, 3, 0, 0, 0, 0})
	require.NoError(t, err)

	ev := nextEvent(t, c)
	assert.Equal(t, EventDisconnected, ev.Kind)
	assert.Contains(t, ev.Text, "magic")
	assert.ErrorIs(t, c.Err(), protocol.ErrMalformedFrame)
}

func TestCloseIsQuiet(t *testing.T) {
	c, _ := loggedInClient(t, "alice")

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	for ev := range c.Events() {
		assert.NotEqual(t, EventDisconnected, ev.Kind)
	}
	assert.NoError(t, c.Err())
	assert.ErrorIs(t, c.Ping(), ErrClosed)
}

func TestSetLogger(t *testing.T) {
	var lines atomic.Int32
	c, srv := newPipeClient(t, Options{Nickname: "alice"})
	c.SetLogger(log.New(writerFunc(func(p []byte) (int, error) {
		lines.Add(1)
		return len(p), nil
	}), "", 0))

	errc := startLogin(c)
	srv.expectLogin("alice")
	srv.accept("alice")
	require.NoError(t, waitErr(t, errc))

	assert.Positive(t, lines.Load())
	c.SetLogger(nil)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
