package chunked

import (
	"errors"
	"io"
	"net/http"
	"strconv"
)

// DefaultChunkSize is the buffer size used when none is given.
const DefaultChunkSize = 8 * 1024

// ErrWriterClosed is returned by writes after Close.
var ErrWriterClosed = errors.New("chunked: write after close")

// Writer encodes everything written to it as chunks of at most the
// configured size. Close emits the terminal chunk.
type Writer struct {
	// Trailer, when non-empty at Close, is written after the terminal chunk.
	Trailer http.Header
	// CloseUnderlying makes Close also close the destination if it is an
	// io.Closer. By default the destination stays open for the next message.
	CloseUnderlying bool

	w      io.Writer
	buf    []byte
	closed bool
}

// NewWriter returns a Writer that emits chunks of up to chunkSize bytes.
func NewWriter(w io.Writer, chunkSize int) *Writer {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return &Writer{
		w:   w,
		buf: make([]byte, 0, chunkSize),
	}
}

func (cw *Writer) Write(p []byte) (int, error) {
	if cw.closed {
		return 0, ErrWriterClosed
	}
	written := 0
	for len(p) > 0 {
		n := copy(cw.buf[len(cw.buf):cap(cw.buf)], p)
		cw.buf = cw.buf[:len(cw.buf)+n]
		p = p[n:]
		written += n
		if len(cw.buf) == cap(cw.buf) {
			if err := cw.flushChunk(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Flush writes any buffered bytes as a chunk.
func (cw *Writer) Flush() error {
	if cw.closed {
		return ErrWriterClosed
	}
	if err := cw.flushChunk(); err != nil {
		return err
	}
	if f, ok := cw.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close flushes the pending chunk, writes the terminal chunk and the
// trailer. Calling Close twice is a no-op.
func (cw *Writer) Close() error {
	if cw.closed {
		return nil
	}
	if err := cw.flushChunk(); err != nil {
		return err
	}
	cw.closed = true
	if _, err := io.WriteString(cw.w, "0\r\n"); err != nil {
		return err
	}
	if len(cw.Trailer) > 0 {
		if err := cw.Trailer.Write(cw.w); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(cw.w, "\r\n"); err != nil {
		return err
	}
	if cw.CloseUnderlying {
		if c, ok := cw.w.(io.Closer); ok {
			return c.Close()
		}
	}
	return nil
}

func (cw *Writer) flushChunk() error {
	if len(cw.buf) == 0 {
		return nil
	}
	head := strconv.AppendInt(make([]byte, 0, 18), int64(len(cw.buf)), 16)
	head = append(head, '\r', '\n')
	if _, err := cw.w.Write(head); err != nil {
		return err
	}
	if _, err := cw.w.Write(cw.buf); err != nil {
		return err
	}
	if _, err := io.WriteString(cw.w, "\r\n"); err != nil {
		return err
	}
	cw.buf = cw.buf[:0]
	return nil
}
