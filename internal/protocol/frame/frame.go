package frame

import (
	"bytes"
	"errors"
)

// Delimiter terminates every frame on the wire. It is never part of a frame.
var Delimiter = []byte("\r\n")

var ErrFrameTooLarge = errors.New("frame: frame too large")

// Limits constrains how many bytes may be buffered while waiting for a delimiter.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 8 * 1024 * 1024,
	}
}

// Check reports ErrFrameTooLarge once a delimiter-less buffer outgrows the limit.
// A zero or negative limit disables the check.
func (l Limits) Check(buffered int) error {
	if l.MaxFrameBytes > 0 && buffered > l.MaxFrameBytes {
		return ErrFrameTooLarge
	}
	return nil
}

// TryExtract returns the bytes before the first delimiter in buf and the bytes
// after it. When buf holds no delimiter, ok is false and rest is buf unchanged.
// The returned frame is a copy; buf is never modified.
func TryExtract(buf []byte) (frm []byte, rest []byte, ok bool) {
	p := bytes.Index(buf, Delimiter)
	if p < 0 {
		return nil, buf, false
	}
	frm = make([]byte, p)
	copy(frm, buf[:p])
	return frm, buf[p+len(Delimiter):], true
}

// Split drains every complete frame from buf and returns them in order along
// with the trailing partial bytes.
func Split(buf []byte) (frames [][]byte, rest []byte) {
	rest = buf
	for {
		frm, next, ok := TryExtract(rest)
		if !ok {
			return frames, rest
		}
		frames = append(frames, frm)
		rest = next
	}
}

// Append encodes payload as one frame onto dst.
func Append(dst, payload []byte) []byte {
	dst = append(dst, payload...)
	return append(dst, Delimiter...)
}
