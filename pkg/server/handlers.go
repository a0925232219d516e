package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/fior4neee/Message-Broadcasting/pkg/protocol"
)

// errSendFailed marks a write to the requesting session's own connection failing
var errSendFailed = errors.New("send failed")

// handleMessage dispatches a frame to the appropriate handler
func (s *Server) handleMessage(sess *Session, frame *protocol.Frame) (err error) {
	_, span := startDispatchSpan(context.Background(), sess, frame)
	defer func() { endSpan(span, err) }()

	if frame.Type == protocol.TypeLoginRequest {
		return s.handleLogin(sess, frame)
	}

	if !sess.IsAuthenticated() {
		return s.sendError(sess, protocol.ErrCodeBadRequest, "Please login first")
	}

	switch frame.Type {
	case protocol.TypeChatMessage:
		return s.handleChatMessage(sess, frame)
	case protocol.TypePing:
		return s.handlePing(sess, frame)
	default:
		return s.sendError(sess, protocol.ErrCodeBadRequest, fmt.Sprintf("Unknown message type: %d", frame.Type))
	}
}

// handleLogin handles LOGIN_REQUEST
func (s *Server) handleLogin(sess *Session, frame *protocol.Frame) error {
	if sess.IsAuthenticated() {
		s.metrics.RecordLogin("duplicate_login")
		return s.sendError(sess, protocol.ErrCodeBadRequest, "Already logged in as "+sess.Nickname())
	}

	msg := &protocol.LoginRequestMessage{}
	if err := msg.Decode(frame.Payload); err != nil {
		s.metrics.RecordLogin("invalid")
		return s.sendError(sess, protocol.ErrCodeBadRequest, "Invalid message format")
	}

	err := s.sessions.TryRegister(sess, msg.Nickname)
	switch {
	case err == nil:
	case errors.Is(err, ErrBlankNickname):
		s.metrics.RecordLogin("blank")
		return s.sendError(sess, protocol.ErrCodeBadRequest, "Nickname cannot be empty")
	case errors.Is(err, ErrNicknameTooLong):
		s.metrics.RecordLogin("too_long")
		return s.sendError(sess, protocol.ErrCodeBadRequest,
			fmt.Sprintf("Nickname too long (max %d characters)", s.config.MaxNicknameLength))
	case errors.Is(err, ErrNicknameTaken):
		s.metrics.RecordLogin("taken")
		return s.sendError(sess, protocol.ErrCodeNicknameExists, "Nickname already taken, please choose another")
	case errors.Is(err, ErrAlreadyRegistered):
		s.metrics.RecordLogin("duplicate_login")
		return s.sendError(sess, protocol.ErrCodeBadRequest, "Already logged in")
	default:
		return fmt.Errorf("register nickname: %w", err)
	}

	s.metrics.RecordLogin("ok")
	nickname := sess.Nickname()
	log.Printf("Session %s: %s joined from %s", sess.ID, nickname, sess.RemoteAddr)

	respErr := s.sendMessage(sess, protocol.TypeLoginResponse, &protocol.LoginResponseMessage{
		Success:   true,
		Message:   fmt.Sprintf("Welcome %s!", nickname),
		Timestamp: protocol.Now(),
	})

	// Announce the join even if the response failed. Removing a registered
	// session always broadcasts USER_LEAVE.
	if err := s.sessions.Broadcast(protocol.TypeUserJoin, &protocol.PresenceMessage{
		Nickname:  nickname,
		Message:   nickname + " joined the chat room",
		Timestamp: protocol.Now(),
	}, sess); err != nil {
		return errors.Join(respErr, err)
	}
	s.sessions.BroadcastUserList()
	return respErr
}

// handleChatMessage handles CHAT_MESSAGE from a logged in session
func (s *Server) handleChatMessage(sess *Session, frame *protocol.Frame) error {
	msg := &protocol.ChatRequestMessage{}
	if err := msg.Decode(frame.Payload); err != nil {
		return s.sendError(sess, protocol.ErrCodeBadRequest, "Message must be valid UTF-8 text")
	}

	if strings.TrimSpace(msg.Text) == "" {
		return s.sendError(sess, protocol.ErrCodeBadRequest, "Message cannot be empty")
	}

	if len(msg.Text) > s.config.MaxMessageLength {
		return s.sendError(sess, protocol.ErrCodeBadRequest,
			fmt.Sprintf("Message too long (max %d bytes)", s.config.MaxMessageLength))
	}

	if !sess.allowChat() {
		return s.sendError(sess, protocol.ErrCodeBadRequest, "Rate limit exceeded, slow down")
	}

	nickname := sess.Nickname()
	debugLog.Printf("[CHAT] %s: %s", nickname, msg.Text)

	return s.sessions.Broadcast(protocol.TypeChatMessage, &protocol.ChatBroadcastMessage{
		Nickname:  nickname,
		Message:   msg.Text,
		Timestamp: protocol.Now(),
	}, nil)
}

// handlePing handles PING
func (s *Server) handlePing(sess *Session, frame *protocol.Frame) error {
	return s.sendMessage(sess, protocol.TypePong, &protocol.PongMessage{
		Timestamp: protocol.Now(),
	})
}

// sendMessage encodes and sends a message to a single session
func (s *Server) sendMessage(sess *Session, msgType uint8, msg protocol.ProtocolMessage) error {
	frame, err := protocol.NewFrame(msgType, msg)
	if err != nil {
		return err
	}

	debugLog.Printf("Session %s → SEND: Type=0x%02X (%s) PayloadLen=%d", sess.ID, msgType, protocol.TypeName(msgType), len(frame.Payload))
	if err := sess.Conn.EncodeFrame(frame); err != nil {
		return fmt.Errorf("%w: %s to session %s: %v", errSendFailed, protocol.TypeName(msgType), sess.ID, err)
	}
	s.metrics.RecordMessageSent(msgType, 1)
	return nil
}

// sendError sends an ERROR message to a session
func (s *Server) sendError(sess *Session, code int, message string) error {
	s.metrics.RecordErrorSent(code)
	return s.sendMessage(sess, protocol.TypeError, &protocol.ErrorMessage{
		ErrorCode:    code,
		ErrorMessage: message,
		Timestamp:    protocol.Now(),
	})
}
