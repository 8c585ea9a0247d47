package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// MaxFrameSize is the largest payload accepted on the wire (10 MiB).
const MaxFrameSize = 10 << 20

const (
	frameHeaderSize = 4
	zeroReadRetries = 5
	zeroReadBackoff = 10 * time.Millisecond
)

var (
	// ErrFrameTooLarge is returned when a length prefix exceeds the configured maximum.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrShortFrame is returned when the stream ends before a frame is complete.
	ErrShortFrame = errors.New("short frame")
)

// ReadFrame reads a length-prefixed payload from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	return readFrame(r, MaxFrameSize)
}

// ReadFrameLimit reads a length-prefixed payload from r, rejecting frames larger than limit.
func ReadFrameLimit(r io.Reader, limit int) ([]byte, error) {
	if limit <= 0 || limit > MaxFrameSize {
		limit = MaxFrameSize
	}
	return readFrame(r, limit)
}

// WriteFrame writes payload to w with a 4-byte little-endian length prefix.
// When w buffers (bufio.Writer and friends) it is flushed before returning.
func WriteFrame(w io.Writer, payload []byte) error {
	return writeFrame(w, payload)
}

func readFrame(r io.Reader, limit int) ([]byte, error) {
	var header [frameHeaderSize]byte
	if err := readFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[:])
	if int64(length) > int64(limit) {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, limit)
	}
	buf := make([]byte, length)
	if err := readFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: stream closed after header", ErrShortFrame)
		}
		return nil, err
	}
	return buf, nil
}

// readFull loops over partial reads. A read returning no bytes and no error is
// treated as transient and retried a few times before giving up.
func readFull(r io.Reader, buf []byte) error {
	read := 0
	idle := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if read == len(buf) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) && read > 0 {
				return fmt.Errorf("%w: got %d of %d bytes", ErrShortFrame, read, len(buf))
			}
			return err
		}
		if n > 0 {
			idle = 0
			continue
		}
		idle++
		if idle > zeroReadRetries {
			return io.ErrNoProgress
		}
		time.Sleep(zeroReadBackoff)
	}
	return nil
}

type flusher interface {
	Flush() error
}

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
