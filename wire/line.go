// Package wire holds the byte-level building blocks shared by every framing
// component: a line tokenizer, a mark/replay reader, a length-limited reader
// and the framing error taxonomy.
//
// None of the readers here buffer ahead of what they return. A connection is
// expected to wrap its socket in a single bufio.Reader and hand that same
// reader to every component, so nothing past a message boundary is consumed.
package wire

import (
	"io"
)

// DefaultMaxLineLength bounds a single line when no maximum is configured.
const DefaultMaxLineLength = 8 * 1024

// ByteReader returns r as an io.ByteReader. Readers that cannot read single
// bytes natively are adapted with one-byte reads, which never over-read.
func ByteReader(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return &singleByteReader{r: r}
}

type singleByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (s *singleByteReader) ReadByte() (byte, error) {
	for {
		n, err := s.r.Read(s.buf[:])
		if n == 1 {
			return s.buf[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// LineReader tokenizes a byte stream into LF terminated lines.
type LineReader struct {
	r   io.ByteReader
	max int
	acc []byte
}

// NewLineReader returns a LineReader over r. A maxLength of zero or less
// selects DefaultMaxLineLength.
func NewLineReader(r io.Reader, maxLength int) *LineReader {
	if maxLength <= 0 {
		maxLength = DefaultMaxLineLength
	}
	return &LineReader{
		r:   ByteReader(r),
		max: maxLength,
	}
}

// MaxLength returns the configured line limit.
func (lr *LineReader) MaxLength() int {
	return lr.max
}

// ReadLine returns the next line without its terminator. A CR right before
// the LF is removed and any other trailing whitespace is trimmed. An empty
// but present line is returned as "". io.EOF is returned only when the
// stream ended before a single byte of the line was read; a final line
// without LF is returned normally.
func (lr *LineReader) ReadLine() (string, error) {
	lr.acc = lr.acc[:0]
	read := false
	for {
		b, err := lr.r.ReadByte()
		if err != nil {
			if err == io.EOF && read {
				break
			}
			return "", err
		}
		read = true
		if b == '\n' {
			break
		}
		// one extra byte leaves room for the CR of a line exactly max long
		if len(lr.acc) > lr.max {
			return "", NewFramingError(KindLine, "", ErrLineTooLong)
		}
		lr.acc = append(lr.acc, b)
	}
	line := trimRight(lr.acc)
	if len(line) > lr.max {
		return "", NewFramingError(KindLine, "", ErrLineTooLong)
	}
	return string(line), nil
}

func trimRight(b []byte) []byte {
	for len(b) > 0 {
		switch b[len(b)-1] {
		case '\r', ' ', '\t':
			b = b[:len(b)-1]
		default:
			return b
		}
	}
	return b
}
