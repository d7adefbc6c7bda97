// Package body decides how a message body is framed on the wire and builds
// the reader chain that delivers it: length-limited, chunked or read until
// close, optionally followed by a decompression stage.
package body

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Serguei-P/http-sub000/chunked"
	"github.com/Serguei-P/http-sub000/wire"
)

// FrameKind is how a body is delimited.
type FrameKind uint8

const (
	NoBody FrameKind = iota
	FixedLength
	Chunked
	UntilClose
)

func (k FrameKind) String() string {
	switch k {
	case FixedLength:
		return "fixed-length"
	case Chunked:
		return "chunked"
	case UntilClose:
		return "until-close"
	default:
		return "no-body"
	}
}

// Frame is the framing of one body. Length is only meaningful for
// FixedLength.
type Frame struct {
	Kind   FrameKind
	Length int64
}

func (f Frame) String() string {
	if f.Kind == FixedLength {
		return fmt.Sprintf("%s(%d)", f.Kind, f.Length)
	}
	return f.Kind.String()
}

// Declared is what the message head says about its body.
type Declared struct {
	// ContentLength is the declared length, or -1 when absent.
	ContentLength   int64
	Chunked         bool
	ContentEncoding string
	// AllowUnbounded lets a body without length or chunked coding run until
	// the peer closes. Only a client reading a response sets it.
	AllowUnbounded bool
}

// Resolve picks the frame. Chunked wins over a declared length.
func (d Declared) Resolve() Frame {
	switch {
	case d.Chunked:
		return Frame{Kind: Chunked}
	case d.ContentLength >= 0:
		return Frame{Kind: FixedLength, Length: d.ContentLength}
	case d.AllowUnbounded:
		return Frame{Kind: UntilClose}
	}
	return Frame{Kind: NoBody}
}

// Options tune the framed readers.
type Options struct {
	Registry      Registry
	MaxChunkSize  int64
	MaxLineLength int
}

// Body is one message body read from a shared connection reader. It owns
// that reader until it is fully consumed or drained.
type Body struct {
	frame    Frame
	encoding string
	decode   Decoder

	raw     *eofReader // framed bytes before decompression
	chunks  *chunked.Reader
	decoded io.ReadCloser
	err     error
}

// New builds the reader chain for a body declared by d on top of r.
func New(r io.Reader, d Declared, opts Options) *Body {
	b := &Body{frame: d.Resolve()}

	var framed io.Reader
	switch b.frame.Kind {
	case FixedLength:
		framed = wire.NewLimitedReader(r, b.frame.Length)
	case Chunked:
		b.chunks = chunked.NewReaderLimits(r, opts.MaxChunkSize, opts.MaxLineLength)
		framed = b.chunks
	case UntilClose:
		framed = r
	default:
		framed = eofOnly{}
	}
	b.raw = &eofReader{r: framed}

	if d.ContentEncoding != "" && opts.Registry != nil {
		if dec, ok := opts.Registry.Lookup(d.ContentEncoding); ok {
			b.encoding = d.ContentEncoding
			b.decode = dec
		}
	}
	return b
}

// Empty returns a body with no bytes.
func Empty() *Body {
	return New(nil, Declared{ContentLength: -1}, Options{})
}

// Frame returns how the body is delimited.
func (b *Body) Frame() Frame {
	return b.frame
}

// HasBody reports whether the message carries body bytes on the wire.
func (b *Body) HasBody() bool {
	switch b.frame.Kind {
	case NoBody:
		return false
	case FixedLength:
		return b.frame.Length > 0
	}
	return true
}

// IsCompressed reports whether reads go through a decompressor.
func (b *Body) IsCompressed() bool {
	return b.decode != nil
}

// ContentEncoding returns the encoding being decoded, if any.
func (b *Body) ContentEncoding() string {
	return b.encoding
}

// Trailer returns the chunked trailer, empty for other frames.
func (b *Body) Trailer() http.Header {
	if b.chunks == nil {
		return http.Header{}
	}
	return b.chunks.Trailer()
}

// Reader returns the body as a stream, decompressed when an encoding is
// known. The returned reader is the Body itself.
func (b *Body) Reader() io.Reader {
	return b
}

func (b *Body) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.decode == nil || !b.HasBody() {
		return b.raw.Read(p)
	}
	if b.decoded == nil {
		dec, err := b.decode(b.raw)
		if err != nil {
			b.err = fmt.Errorf("decode %s body: %w", b.encoding, err)
			return 0, b.err
		}
		b.decoded = dec
	}
	n, err := b.decoded.Read(p)
	if err != nil && err != io.EOF {
		b.err = err
	}
	return n, err
}

// ReadAll reads the whole body and leaves the underlying stream aligned on
// the next message.
func (b *Body) ReadAll() ([]byte, error) {
	data, err := io.ReadAll(b)
	if err != nil {
		return data, err
	}
	return data, b.Drain()
}

// Drain consumes whatever framed bytes are left, skipping decompression,
// and releases the decompressor. It is a no-op once the framed stream has
// reached its end.
func (b *Body) Drain() error {
	var closeErr error
	if b.decoded != nil {
		closeErr = b.decoded.Close()
		b.decoded = nil
		b.decode = nil
	}
	if !b.raw.eof {
		if _, err := io.Copy(io.Discard, b.raw); err != nil {
			return err
		}
	}
	return closeErr
}

// Close drains the body.
func (b *Body) Close() error {
	return b.Drain()
}

// Consumed reports whether the framed stream has been read to its end.
func (b *Body) Consumed() bool {
	return b.raw.eof
}

type eofReader struct {
	r   io.Reader
	eof bool
}

func (e *eofReader) Read(p []byte) (int, error) {
	if e.eof {
		return 0, io.EOF
	}
	n, err := e.r.Read(p)
	if errors.Is(err, io.EOF) {
		e.eof = true
	}
	return n, err
}

func (e *eofReader) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := e.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

type eofOnly struct{}

func (eofOnly) Read([]byte) (int, error) { return 0, io.EOF }
