// Package wire implements the securedrop message framing: each frame is
// a 4-byte ASCII tag followed by a JSON payload and terminated by the
// two-byte sentinel "\n\n". JSON strings encode newlines as escapes, so
// the sentinel cannot appear inside a payload.
package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// TagSize is the length of the frame type tag in bytes.
const TagSize = 4

// MaxFrameSize bounds the size of a single frame to keep a misbehaving
// peer from exhausting memory.
const MaxFrameSize = 1 << 20

var (
	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrShortFrame is returned when a frame is shorter than its tag.
	ErrShortFrame = errors.New("frame shorter than tag")

	// ErrBadTag is returned when a tag is not exactly TagSize ASCII bytes.
	ErrBadTag = errors.New("tag must be exactly 4 bytes")
)

// Frame is one decoded wire message.
type Frame struct {
	Tag     string
	Payload []byte
}

// Decode unmarshals the frame payload into v. An empty payload is
// treated as an empty JSON object, matching peers that send bare tags.
func (f Frame) Decode(v any) error {
	payload := f.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", f.Tag, err)
	}
	return nil
}

// Read consumes one frame from r, up to and including the terminator.
func Read(r *bufio.Reader) (Frame, error) {
	var buf []byte
	for {
		line, err := r.ReadBytes('\n')
		buf = append(buf, line...)
		if err != nil {
			return Frame{}, err
		}
		if len(buf) > MaxFrameSize {
			return Frame{}, ErrFrameTooLarge
		}
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b == '\n' {
			break
		}
		buf = append(buf, b)
	}
	// Strip the first byte of the terminator; the second was never
	// appended.
	buf = buf[:len(buf)-1]
	if len(buf) < TagSize {
		return Frame{}, ErrShortFrame
	}
	return Frame{Tag: string(buf[:TagSize]), Payload: buf[TagSize:]}, nil
}

// Write serializes v as JSON and writes one frame to w.
func Write(w io.Writer, tag string, v any) error {
	if len(tag) != TagSize {
		return ErrBadTag
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", tag, err)
	}
	if TagSize+len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 0, TagSize+len(payload)+2)
	buf = append(buf, tag...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}
