package protocol

import (
	"io"
)

// readChunkSize matches the receive size used by the reference clients
const readChunkSize = 4096

// Reassembler turns an arbitrarily split byte stream back into frames.
// It is not safe for concurrent use; each connection owns one.
type Reassembler struct {
	buf     []byte
	maxSize uint32
}

// NewReassembler creates a reassembler that rejects frames larger than maxFrameSize.
// A zero maxFrameSize means MaxFrameSize.
func NewReassembler(maxFrameSize uint32) *Reassembler {
	if maxFrameSize == 0 {
		maxFrameSize = MaxFrameSize
	}
	return &Reassembler{maxSize: maxFrameSize}
}

// Feed appends chunk to the carry-over buffer and returns every frame it completes.
//
// On a malformed header Feed returns the frames decoded before it together with the error
// and drops everything buffered: offsets after a bad header cannot be trusted.
func (r *Reassembler) Feed(chunk []byte) ([]*Frame, error) {
	r.buf = append(r.buf, chunk...)

	var frames []*Frame
	offset := 0
	for {
		frame, n, err := decodeFrame(r.buf[offset:], r.maxSize)
		if err != nil {
			r.Reset()
			return frames, err
		}
		if frame == nil {
			break
		}
		frames = append(frames, frame)
		offset += n
	}

	if offset > 0 {
		// Keep only the partial tail
		rest := copy(r.buf, r.buf[offset:])
		r.buf = r.buf[:rest]
	}

	return frames, nil
}

// Buffered returns the number of bytes held for a partial frame
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset discards any buffered bytes
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
}

// FrameReader reads frames from a stream using a Reassembler
type FrameReader struct {
	r       io.Reader
	asm     *Reassembler
	pending []*Frame
	chunk   []byte
	err     error
}

// NewFrameReader creates a frame reader over r
func NewFrameReader(r io.Reader, maxFrameSize uint32) *FrameReader {
	return &FrameReader{
		r:     r,
		asm:   NewReassembler(maxFrameSize),
		chunk: make([]byte, readChunkSize),
	}
}

// Next returns the next complete frame.
//
// Frames already reassembled are returned before any read or decode error is reported.
// A clean close between frames yields io.EOF; a close inside a frame yields
// io.ErrUnexpectedEOF.
func (fr *FrameReader) Next() (*Frame, error) {
	for len(fr.pending) == 0 {
		if fr.err != nil {
			return nil, fr.err
		}

		n, err := fr.r.Read(fr.chunk)
		if n > 0 {
			frames, decodeErr := fr.asm.Feed(fr.chunk[:n])
			fr.pending = append(fr.pending, frames...)
			if decodeErr != nil {
				fr.err = decodeErr
				continue
			}
		}
		if err != nil {
			if err == io.EOF && fr.asm.Buffered() > 0 {
				err = io.ErrUnexpectedEOF
			}
			fr.err = err
		}
	}

	frame := fr.pending[0]
	fr.pending[0] = nil
	fr.pending = fr.pending[1:]
	return frame, nil
}
