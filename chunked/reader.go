// Package chunked implements the HTTP/1.1 chunked transfer-coding.
package chunked

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Serguei-P/http-sub000/wire"
)

// DefaultMaxChunkSize is the largest chunk the Reader accepts by default.
const DefaultMaxChunkSize = 64 << 20

// ErrFraming is wrapped by every chunk syntax failure.
var ErrFraming = errors.New("malformed chunked encoding")

// Reader decodes a chunked body from an underlying stream. It never reads
// past the final CRLF of the trailer section.
type Reader struct {
	r   io.Reader
	br  io.ByteReader
	lr  *wire.LineReader
	max int64

	remaining int64 // bytes left in the current chunk
	needCRLF  bool  // chunk data consumed, line end pending
	done      bool
	err       error
	trailer   http.Header
}

// NewReader returns a Reader with the default limits.
func NewReader(r io.Reader) *Reader {
	return NewReaderLimits(r, DefaultMaxChunkSize, wire.DefaultMaxLineLength)
}

// NewReaderLimits returns a Reader that rejects chunks larger than
// maxChunkSize and size or trailer lines longer than maxLine.
func NewReaderLimits(r io.Reader, maxChunkSize int64, maxLine int) *Reader {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &Reader{
		r:   r,
		br:  wire.ByteReader(r),
		lr:  wire.NewLineReader(r, maxLine),
		max: maxChunkSize,
	}
}

// Trailer returns the trailer fields. It is only complete once Read has
// returned io.EOF.
func (cr *Reader) Trailer() http.Header {
	if cr.trailer == nil {
		return http.Header{}
	}
	return cr.trailer
}

// Done reports whether the terminal chunk and trailer were consumed.
func (cr *Reader) Done() bool {
	return cr.done
}

func (cr *Reader) Read(p []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	for cr.remaining == 0 {
		if cr.done {
			return 0, io.EOF
		}
		if err := cr.nextChunk(); err != nil {
			cr.err = err
			return 0, err
		}
	}
	if int64(len(p)) > cr.remaining {
		p = p[:cr.remaining]
	}
	n, err := cr.r.Read(p)
	cr.remaining -= int64(n)
	if cr.remaining == 0 {
		cr.needCRLF = true
	}
	if err == io.EOF {
		if cr.remaining > 0 {
			err = io.ErrUnexpectedEOF
		} else {
			err = nil
		}
	}
	if err != nil {
		cr.err = err
	}
	return n, err
}

func (cr *Reader) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := cr.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// nextChunk consumes the line end of the previous chunk, then the next size
// line. On the terminal chunk it also consumes the trailer section.
func (cr *Reader) nextChunk() error {
	if cr.needCRLF {
		if err := cr.readLineEnd(); err != nil {
			return err
		}
		cr.needCRLF = false
	}
	line, err := cr.lr.ReadLine()
	if err != nil {
		return unexpected(err)
	}
	size, err := parseSize(line, cr.max)
	if err != nil {
		return err
	}
	if size > 0 {
		cr.remaining = size
		return nil
	}
	cr.trailer, err = wire.ReadHeader(cr.lr, 0)
	if err != nil {
		if wire.IsFraming(err) {
			return framing("bad trailer", err)
		}
		return err
	}
	cr.done = true
	return nil
}

// readLineEnd consumes the CRLF (or bare LF) that must follow chunk data.
// Whitespace before it is not tolerated.
func (cr *Reader) readLineEnd() error {
	b, err := cr.br.ReadByte()
	if err != nil {
		return unexpected(err)
	}
	if b == '\r' {
		if b, err = cr.br.ReadByte(); err != nil {
			return unexpected(err)
		}
	}
	if b != '\n' {
		return framing("missing CRLF after chunk data", nil)
	}
	return nil
}

func parseSize(line string, max int64) (int64, error) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimRight(line, " \t")
	if line == "" {
		return 0, framing("empty chunk size", nil)
	}
	if len(line) > 16 {
		return 0, framing("chunk size too long", nil)
	}
	size, err := strconv.ParseUint(line, 16, 64)
	if err != nil {
		return 0, framing(fmt.Sprintf("invalid chunk size %q", line), nil)
	}
	if size > uint64(max) {
		return 0, framing(fmt.Sprintf("chunk size %d exceeds limit %d", size, max), nil)
	}
	return int64(size), nil
}

func framing(msg string, err error) error {
	if err == nil {
		err = ErrFraming
	} else {
		err = fmt.Errorf("%w: %w", ErrFraming, err)
	}
	return wire.NewFramingError(wire.KindChunk, msg, err)
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	if wire.IsFraming(err) {
		return framing("bad chunk line", err)
	}
	return err
}
