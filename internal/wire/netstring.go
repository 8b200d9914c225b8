package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// MaxFrameLen bounds the declared length of a single netstring payload. It is
// far below the format's theoretical maximum so a hostile peer cannot make the
// server allocate unbounded buffers.
const MaxFrameLen = 64 * 1024

var (
	// ErrFrameTooLong indicates a declared length above MaxFrameLen.
	ErrFrameTooLong = errors.New("netstring frame too long")
	// ErrBadFrame indicates a malformed length prefix or terminator. The
	// stream can no longer be trusted to be in sync.
	ErrBadFrame = errors.New("malformed netstring frame")
)

// FrameReader reassembles netstrings (<decimal-length>:<payload>,) from an
// arbitrarily chunked byte stream. Feed it raw reads and call Next until it
// reports no complete frame.
type FrameReader struct {
	buf bytes.Buffer
}

// Feed appends freshly read bytes to the reassembly buffer.
func (r *FrameReader) Feed(p []byte) {
	r.buf.Write(p)
}

// Next extracts the next complete frame payload. It returns (nil, nil) when
// more bytes are needed. Length or terminator violations are fatal: the
// caller must close the connection.
func (r *FrameReader) Next() ([]byte, error) {
	data := r.buf.Bytes()
	colon := -1
	for i, c := range data {
		if c >= '0' && c <= '9' {
			// The length digits alone can exceed the bound long before
			// the colon arrives.
			if i > 6 {
				return nil, fmt.Errorf("%w: oversized length prefix", ErrFrameTooLong)
			}
			continue
		}
		if c == ':' {
			if i == 0 {
				return nil, fmt.Errorf("%w: empty length", ErrBadFrame)
			}
			colon = i
			break
		}
		return nil, fmt.Errorf("%w: non-digit %q in length", ErrBadFrame, c)
	}
	if colon < 0 {
		return nil, nil
	}

	length, err := strconv.Atoi(string(data[:colon]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if length > MaxFrameLen {
		return nil, fmt.Errorf("%w: %d bytes declared", ErrFrameTooLong, length)
	}

	// payload plus the trailing comma
	end := colon + 1 + length
	if len(data) < end+1 {
		return nil, nil
	}
	if data[end] != ',' {
		return nil, fmt.Errorf("%w: missing terminator", ErrBadFrame)
	}

	payload := make([]byte, length)
	copy(payload, data[colon+1:end])
	r.buf.Next(end + 1)
	return payload, nil
}

// EncodeFrame wraps a payload in netstring framing.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+12)
	out = strconv.AppendInt(out, int64(len(payload)), 10)
	out = append(out, ':')
	out = append(out, payload...)
	out = append(out, ',')
	return out
}
