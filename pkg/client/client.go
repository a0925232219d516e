package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/fior4neee/Message-Broadcasting/pkg/protocol"
)

const (
	// DefaultLoginTimeout bounds the wait for the server's answer to one login attempt
	DefaultLoginTimeout = 5 * time.Second

	// DefaultLoginAttempts is how many nicknames Login tries before giving up
	DefaultLoginAttempts = 3

	// MaxNicknameLength mirrors the server's default limit so obvious mistakes fail locally
	MaxNicknameLength = 50

	defaultEventBuffer = 100
	outgoingQueueSize  = 100
	writeTimeout       = 10 * time.Second
)

var (
	ErrClosed            = errors.New("connection closed")
	ErrNotLoggedIn       = errors.New("not logged in")
	ErrAlreadyLoggedIn   = errors.New("already logged in")
	ErrLoginInProgress   = errors.New("login already in progress")
	ErrLoginTimeout      = errors.New("timed out waiting for login response")
	ErrLoginFailed       = errors.New("login failed")
	ErrBlankNickname     = errors.New("nickname cannot be empty")
	ErrNicknameTooLong   = fmt.Errorf("nickname too long (max %d characters)", MaxNicknameLength)
	ErrEmptyMessage      = errors.New("message cannot be empty")
	ErrOutgoingQueueFull = errors.New("outgoing queue full")
)

// NicknamePrompt supplies the nickname for a login attempt. attempt starts at 1;
// lastErr is nil on the first call and the reason the previous attempt failed after that.
type NicknamePrompt func(attempt int, lastErr error) (string, error)

// Options configures a Client
type Options struct {
	// Nickname is used for the first login attempt
	Nickname string

	// Prompt is asked for a new nickname when one is rejected. Without one,
	// Login keeps resending the same nickname until the attempts run out.
	Prompt NicknamePrompt

	LoginTimeout  time.Duration
	LoginAttempts int
	EventBuffer   int
	MaxFrameSize  uint32
}

func (o Options) withDefaults() Options {
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = DefaultLoginTimeout
	}
	if o.LoginAttempts <= 0 {
		o.LoginAttempts = DefaultLoginAttempts
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = protocol.MaxFrameSize
	}
	return o
}

// Client is one chat connection: it logs in, sends chat and pings, and turns
// everything the server pushes into Events.
type Client struct {
	conn   net.Conn
	addr   string
	opts   Options
	logger *log.Logger
	logMu  sync.RWMutex
	reader *protocol.FrameReader

	mu              sync.RWMutex
	nickname        string
	pendingNickname string
	loggedIn        bool
	users           []string
	latency         time.Duration
	lastPing        time.Time
	err             error

	loggingIn   atomic.Bool
	loginResult chan error

	events   chan Event
	outgoing chan []byte
	shutdown chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient starts the receive and send loops on an established connection
func NewClient(conn net.Conn, opts Options) *Client {
	opts = opts.withDefaults()
	c := &Client{
		conn:        conn,
		addr:        conn.RemoteAddr().String(),
		opts:        opts,
		reader:      protocol.NewFrameReader(conn, opts.MaxFrameSize),
		loginResult: make(chan error, 1),
		events:      make(chan Event, opts.EventBuffer),
		outgoing:    make(chan []byte, outgoingQueueSize),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c
}

// SetLogger enables debug logging for the connection. Pass nil to disable.
func (c *Client) SetLogger(logger *log.Logger) {
	c.logMu.Lock()
	c.logger = logger
	c.logMu.Unlock()
}

func (c *Client) logf(format string, args ...interface{}) {
	c.logMu.RLock()
	logger := c.logger
	c.logMu.RUnlock()
	if logger != nil {
		logger.Printf(format, args...)
	}
}

// Addr returns the server address this client is connected to
func (c *Client) Addr() string {
	return c.addr
}

// Events delivers server activity in arrival order. It is closed after the
// connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed once the receive loop has exited
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open or after a local Close
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Nickname returns the accepted nickname, empty before login
func (c *Client) Nickname() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nickname
}

// IsLoggedIn reports whether the server accepted a nickname
func (c *Client) IsLoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggedIn
}

// Users returns the last user list the server sent
func (c *Client) Users() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.users))
	copy(out, c.users)
	return out
}

// Latency returns the round trip of the most recent answered ping
func (c *Client) Latency() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latency
}

// Login registers a nickname in up to LoginAttempts attempts, each sending a
// fresh LOGIN_REQUEST. Each attempt waits for the receive loop to signal the outcome.
func (c *Client) Login(ctx context.Context) error {
	if c.IsLoggedIn() {
		return ErrAlreadyLoggedIn
	}
	if !c.loggingIn.CompareAndSwap(false, true) {
		return ErrLoginInProgress
	}
	defer c.loggingIn.Store(false)

	var lastErr error
	var prev string
	for attempt := 1; attempt <= c.opts.LoginAttempts; attempt++ {
		if c.IsLoggedIn() {
			// A late answer to an earlier attempt
			return nil
		}

		nick, err := c.nextNickname(attempt, prev, lastErr)
		if err != nil {
			return err
		}
		if err := validateNickname(nick); err != nil {
			lastErr = err
			c.logf("[LOGIN] attempt %d rejected locally: %v", attempt, err)
			continue
		}
		prev = nick

		// Drop anything a timed-out attempt left behind
		select {
		case <-c.loginResult:
		default:
		}
		if c.IsLoggedIn() {
			return nil
		}

		c.mu.Lock()
		c.pendingNickname = nick
		c.mu.Unlock()

		c.logf("[LOGIN] attempt %d/%d as %q", attempt, c.opts.LoginAttempts, nick)
		msg := &protocol.LoginRequestMessage{Nickname: nick}
		if err := c.send(protocol.TypeLoginRequest, msg); err != nil {
			return err
		}

		lastErr = c.awaitLogin(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrClosed) || ctx.Err() != nil {
			return lastErr
		}
		c.logf("[LOGIN] attempt %d failed: %v", attempt, lastErr)
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrLoginFailed, c.opts.LoginAttempts, lastErr)
}

// nextNickname picks the nickname for an attempt. After a timeout, or after any
// failure when there is no Prompt, the previous nickname is sent again. Prompt
// is only asked once a nickname has been rejected.
func (c *Client) nextNickname(attempt int, prev string, lastErr error) (string, error) {
	if attempt == 1 && c.opts.Nickname != "" {
		return strings.TrimSpace(c.opts.Nickname), nil
	}
	if prev != "" && (c.opts.Prompt == nil || errors.Is(lastErr, ErrLoginTimeout)) {
		return prev, nil
	}
	if c.opts.Prompt == nil {
		if lastErr == nil {
			return "", ErrBlankNickname
		}
		return "", fmt.Errorf("%w: %w", ErrLoginFailed, lastErr)
	}
	nick, err := c.opts.Prompt(attempt, lastErr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(nick), nil
}

func (c *Client) awaitLogin(ctx context.Context) error {
	timer := time.NewTimer(c.opts.LoginTimeout)
	defer timer.Stop()

	select {
	case err := <-c.loginResult:
		return err
	case <-timer.C:
		return ErrLoginTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func validateNickname(nick string) error {
	if nick == "" {
		return ErrBlankNickname
	}
	if utf8.RuneCountInString(nick) > MaxNicknameLength {
		return ErrNicknameTooLong
	}
	return nil
}

// signalLogin hands the outcome of the current attempt to Login
func (c *Client) signalLogin(err error) {
	if !c.loggingIn.Load() {
		return
	}
	select {
	case c.loginResult <- err:
	default:
	}
}

// SendChat sends text to the room and returns the local echo, since the
// server's broadcast of our own message is not shown.
func (c *Client) SendChat(text string) (Event, error) {
	c.mu.RLock()
	nick, loggedIn := c.nickname, c.loggedIn
	c.mu.RUnlock()

	if !loggedIn {
		return Event{}, ErrNotLoggedIn
	}
	if strings.TrimSpace(text) == "" {
		return Event{}, ErrEmptyMessage
	}
	if err := c.send(protocol.TypeChatMessage, &protocol.ChatRequestMessage{Text: text}); err != nil {
		return Event{}, err
	}
	return Event{Kind: EventChat, Time: time.Now(), Nickname: nick, Text: text, Own: true}, nil
}

// Ping asks the server for a PONG; the answer arrives as an EventPong
func (c *Client) Ping() error {
	if !c.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	now := time.Now()
	c.mu.Lock()
	c.lastPing = now
	c.mu.Unlock()
	return c.send(protocol.TypePing, &protocol.PingMessage{Timestamp: protocol.Timestamp(now)})
}

// Close ends the connection and waits for both loops to exit
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.shutdown)
		err = c.conn.Close()
	})
	c.wg.Wait()
	return err
}

func (c *Client) send(msgType uint8, msg protocol.ProtocolMessage) error {
	frame, err := protocol.NewFrame(msgType, msg)
	if err != nil {
		return err
	}

	select {
	case <-c.shutdown:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- frame.Bytes():
		c.logf("[SEND] %s (%d bytes)", protocol.TypeName(msgType), len(frame.Payload))
		return nil
	default:
		return ErrOutgoingQueueFull
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.shutdown:
			return
		case <-c.done:
			return
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write(data); err != nil {
				c.logf("[SEND] write failed: %v", err)
				// Unblocks the reader so the connection ends in one place
				c.conn.Close()
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.done)
	defer close(c.events)

	for {
		frame, err := c.reader.Next()
		if err != nil {
			c.finish(err)
			return
		}
		c.handleFrame(frame)
	}
}

// finish records why the connection ended and reports it unless Close caused it
func (c *Client) finish(err error) {
	select {
	case <-c.shutdown:
		c.logf("[RECV] connection closed locally")
		return
	default:
	}

	if errors.Is(err, io.EOF) {
		err = ErrClosed
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.logf("[RECV] connection lost: %v", err)

	text := ""
	if errors.Is(err, protocol.ErrMalformedFrame) {
		text = err.Error()
	}
	c.emit(Event{Kind: EventDisconnected, Time: time.Now(), Text: text})
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.shutdown:
	}
}

func (c *Client) handleFrame(frame *protocol.Frame) {
	c.logf("[RECV] %s (%d bytes)", protocol.TypeName(frame.Type), len(frame.Payload))

	switch frame.Type {
	case protocol.TypeLoginResponse:
		c.handleLoginResponse(frame.Payload)
	case protocol.TypeChatMessage:
		c.handleChat(frame.Payload)
	case protocol.TypeUserJoin:
		c.handlePresence(EventJoin, frame.Payload)
	case protocol.TypeUserLeave:
		c.handlePresence(EventLeave, frame.Payload)
	case protocol.TypeUserList:
		c.handleUserList(frame.Payload)
	case protocol.TypePong:
		c.handlePong()
	case protocol.TypeError:
		c.handleError(frame.Payload)
	default:
		c.emit(Event{Kind: EventNotice, Time: time.Now(), Text: fmt.Sprintf("Unknown message type: %s", protocol.TypeName(frame.Type))})
	}
}

func (c *Client) handleLoginResponse(payload []byte) {
	var msg protocol.LoginResponseMessage
	if err := msg.Decode(payload); err != nil {
		c.logf("[RECV] bad LOGIN_RESPONSE: %v", err)
		c.signalLogin(fmt.Errorf("%w: bad login response: %v", ErrLoginFailed, err))
		return
	}
	if !msg.Success {
		c.signalLogin(fmt.Errorf("%w: %s", ErrLoginFailed, msg.Message))
		return
	}

	// State must be in place before Login returns
	c.mu.Lock()
	c.nickname = c.pendingNickname
	c.loggedIn = true
	c.mu.Unlock()

	c.signalLogin(nil)
	c.emit(Event{Kind: EventLogin, Time: eventTime(msg.Timestamp), Text: msg.Message})
}

func (c *Client) handleChat(payload []byte) {
	var msg protocol.ChatBroadcastMessage
	if err := msg.Decode(payload); err != nil {
		// Unstructured chat is shown as-is
		if p, perr := protocol.ParsePayload(payload); perr == nil && !p.IsStructured() {
			c.emit(Event{Kind: EventChat, Time: time.Now(), Text: p.Text})
			return
		}
		c.logf("[RECV] bad CHAT_MESSAGE: %v", err)
		return
	}

	if msg.Nickname == c.Nickname() {
		return
	}
	c.emit(Event{Kind: EventChat, Time: eventTime(msg.Timestamp), Nickname: msg.Nickname, Text: msg.Message})
}

func (c *Client) handlePresence(kind EventKind, payload []byte) {
	var msg protocol.PresenceMessage
	if err := msg.Decode(payload); err != nil {
		p, perr := protocol.ParsePayload(payload)
		if perr != nil {
			c.logf("[RECV] bad presence message: %v", err)
			return
		}
		c.emit(Event{Kind: kind, Time: time.Now(), Text: p.Text})
		return
	}

	text := msg.Message
	if text == "" {
		verb := "joined"
		if kind == EventLeave {
			verb = "left"
		}
		text = fmt.Sprintf("%s %s the chat room", msg.Nickname, verb)
	}
	c.emit(Event{Kind: kind, Time: eventTime(msg.Timestamp), Nickname: msg.Nickname, Text: text})
}

func (c *Client) handleUserList(payload []byte) {
	var msg protocol.UserListMessage
	if err := msg.Decode(payload); err != nil {
		c.logf("[RECV] bad USER_LIST: %v", err)
		return
	}

	users := make([]string, len(msg.Users))
	copy(users, msg.Users)
	c.mu.Lock()
	c.users = users
	c.mu.Unlock()

	c.emit(Event{Kind: EventUserList, Time: time.Now(), Users: msg.Users})
}

func (c *Client) handlePong() {
	c.mu.Lock()
	if c.lastPing.IsZero() {
		c.mu.Unlock()
		return
	}
	rtt := time.Since(c.lastPing)
	c.latency = rtt
	c.lastPing = time.Time{}
	c.mu.Unlock()

	c.emit(Event{Kind: EventPong, Time: time.Now(), Latency: rtt})
}

func (c *Client) handleError(payload []byte) {
	msg := &protocol.ErrorMessage{}
	if err := msg.Decode(payload); err != nil {
		c.logf("[RECV] bad ERROR: %v", err)
		return
	}

	if !c.IsLoggedIn() && c.loggingIn.Load() {
		c.signalLogin(msg)
	}
	c.emit(Event{Kind: EventError, Time: eventTime(msg.Timestamp), Code: msg.ErrorCode, Text: msg.ErrorMessage})
}

func eventTime(ts float64) time.Time {
	if t := protocol.TimeFromTimestamp(ts); !t.IsZero() {
		return t
	}
	return time.Now()
}
