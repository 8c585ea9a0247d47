package ipc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{[]byte(`{"id":1}`), {}, bytes.Repeat([]byte("x"), 70000)}
	for _, p := range payloads {
		require.NoError(t, WriteFrame(&buf, p))
	}
	for _, want := range payloads {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, len(want), len(got))
		assert.True(t, bytes.Equal(want, got))
	}
	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameLittleEndianPrefix(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	raw := buf.Bytes()
	require.Len(t, raw, 9)
	assert.Equal(t, []byte{5, 0, 0, 0}, raw[:4])
	assert.Equal(t, "hello", string(raw[4:]))
}

func TestFrameWriteFlushesBufferedWriter(t *testing.T) {
	var sink bytes.Buffer
	w := bufio.NewWriter(&sink)
	require.NoError(t, WriteFrame(w, []byte("abc")))
	assert.Equal(t, 7, sink.Len())
}

func TestFramePartialReads(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"method":"inspect_object"}`)))
	got, err := ReadFrame(iotest.OneByteReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, `{"method":"inspect_object"}`, string(got))
}

func TestFrameRejectsOversizedLength(t *testing.T) {
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, MaxFrameSize+1)
	r := &countingReader{r: bytes.NewReader(header)}
	_, err := ReadFrame(r)
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, 4, r.n, "payload must not be read after a bad length")

	binary.LittleEndian.PutUint32(header, 0xFFFFFFFF)
	_, err = ReadFrame(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	binary.LittleEndian.PutUint32(header, 64)
	_, err = ReadFrameLimit(bytes.NewReader(header), 32)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameShortPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("0123456789")))
	truncated := buf.Bytes()[:8]
	_, err := ReadFrame(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, ErrShortFrame)

	_, err = ReadFrame(bytes.NewReader(buf.Bytes()[:4]))
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestFrameZeroByteReadsGiveUp(t *testing.T) {
	_, err := ReadFrame(stallReader{})
	assert.True(t, errors.Is(err, io.ErrNoProgress), "got %v", err)
}

func TestFrameZeroByteReadsAreTransient(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("ok")))
	r := &hiccupReader{r: &buf, stalls: 3}
	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(got))
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

type stallReader struct{}

func (stallReader) Read([]byte) (int, error) { return 0, nil }

// hiccupReader returns a few empty reads before delegating.
type hiccupReader struct {
	r      io.Reader
	stalls int
}

func (h *hiccupReader) Read(p []byte) (int, error) {
	if h.stalls > 0 {
		h.stalls--
		return 0, nil
	}
	return h.r.Read(p)
}
