package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic identifies a chat frame on the wire
	Magic uint16 = 0xCAFE

	// ProtocolVersion is the current protocol version
	ProtocolVersion = 1

	// HeaderSize is the fixed frame header size in bytes
	HeaderSize = 9

	// MaxFrameSize is the largest payload a decoder accepts (1 MB)
	MaxFrameSize = 1024 * 1024
)

var (
	// ErrMalformedFrame means the stream can no longer be framed and the connection must be closed.
	ErrMalformedFrame = errors.New("malformed frame")

	ErrInvalidMagic   = fmt.Errorf("%w: invalid magic number", ErrMalformedFrame)
	ErrInvalidVersion = fmt.Errorf("%w: unsupported protocol version", ErrMalformedFrame)
	ErrFrameTooLarge  = fmt.Errorf("%w: frame exceeds maximum size (1 MB)", ErrMalformedFrame)
)

// Frame represents a protocol frame
// Format: [Magic (2 bytes)][Version (1 byte)][Reserved (1 byte)][Type (1 byte)][Length (4 bytes)][Payload (N bytes)]
type Frame struct {
	Type    uint8  // Message type
	Payload []byte // Message payload
}

// Encode returns the wire form of a single frame
func Encode(msgType uint8, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	putHeader(out, msgType, uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

// Bytes returns the wire form of the frame
func (f *Frame) Bytes() []byte {
	return Encode(f.Type, f.Payload)
}

// EncodeFrame writes a frame to the writer
func EncodeFrame(w io.Writer, f *Frame) error {
	_, err := w.Write(f.Bytes())
	return err
}

func putHeader(buf []byte, msgType uint8, length uint32) {
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = ProtocolVersion
	buf[3] = 0 // reserved
	buf[4] = msgType
	binary.BigEndian.PutUint32(buf[5:9], length)
}

// DecodeFrame decodes one frame from the start of buf.
//
// It returns (nil, 0, nil) while buf does not yet hold a whole frame, the frame and the
// number of bytes it occupied once it does, and an error wrapping ErrMalformedFrame when
// the header is invalid. The payload is copied, so buf may be reused by the caller.
func DecodeFrame(buf []byte) (*Frame, int, error) {
	return decodeFrame(buf, MaxFrameSize)
}

func decodeFrame(buf []byte, maxSize uint32) (*Frame, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, nil
	}

	if magic := binary.BigEndian.Uint16(buf[0:2]); magic != Magic {
		return nil, 0, fmt.Errorf("%w (got 0x%04X)", ErrInvalidMagic, magic)
	}
	if version := buf[2]; version != ProtocolVersion {
		return nil, 0, fmt.Errorf("%w (got %d)", ErrInvalidVersion, version)
	}

	length := binary.BigEndian.Uint32(buf[5:9])
	if length > maxSize {
		return nil, 0, fmt.Errorf("%w (declared %d bytes)", ErrFrameTooLarge, length)
	}

	total := HeaderSize + int(length)
	if len(buf) < total {
		return nil, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:total])

	return &Frame{
		Type:    buf[4],
		Payload: payload,
	}, total, nil
}
