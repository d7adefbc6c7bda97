package wire

import (
	"io"
)

// LimitedReader reads at most N bytes in total from R and then reports
// io.EOF, whatever R still holds. It never closes R.
type LimitedReader struct {
	R io.Reader
	N int64 // bytes remaining

	br io.ByteReader
}

// NewLimitedReader returns a reader capped at n bytes.
func NewLimitedReader(r io.Reader, n int64) *LimitedReader {
	if n < 0 {
		n = 0
	}
	return &LimitedReader{R: r, N: n}
}

// Remaining returns the number of bytes that may still be read.
func (l *LimitedReader) Remaining() int64 {
	return l.N
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.N <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.N {
		p = p[:l.N]
	}
	n, err := l.R.Read(p)
	l.N -= int64(n)
	if err == io.EOF && l.N > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (l *LimitedReader) ReadByte() (byte, error) {
	if l.N <= 0 {
		return 0, io.EOF
	}
	if l.br == nil {
		l.br = ByteReader(l.R)
	}
	b, err := l.br.ReadByte()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	l.N--
	return b, nil
}
