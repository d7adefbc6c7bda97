// Package multipart splits a multipart body (RFC 2046) into parts. The
// source is read strictly forward and never past a delimiter.
package multipart

import (
	"io"

	"github.com/Serguei-P/http-sub000/wire"
)

// BoundaryReader yields the bytes of its source up to, but excluding, the
// next occurrence of a delimiter. The delimiter is consumed and discarded.
// When the source ends first, every remaining byte is delivered.
type BoundaryReader struct {
	r     io.ByteReader
	delim []byte
	fail  []int

	matched int    // length of the delimiter prefix currently matched
	owed    []byte // bytes released from a failed partial match
	buf     []byte
	found   bool
	done    bool
	err     error
}

// NewBoundaryReader returns a reader that stops at delimiter. The delimiter
// must not be empty.
func NewBoundaryReader(r io.Reader, delimiter []byte) *BoundaryReader {
	if len(delimiter) == 0 {
		panic("multipart: empty delimiter")
	}
	delim := append([]byte(nil), delimiter...)
	return &BoundaryReader{
		r:     wire.ByteReader(r),
		delim: delim,
		fail:  failureTable(delim),
		buf:   make([]byte, 0, len(delim)+1),
	}
}

// failureTable returns, for each prefix length i+1 of d, the length of the
// longest proper prefix of d that is also a suffix of d[:i+1].
func failureTable(d []byte) []int {
	fail := make([]int, len(d))
	k := 0
	for i := 1; i < len(d); i++ {
		for k > 0 && d[i] != d[k] {
			k = fail[k-1]
		}
		if d[i] == d[k] {
			k++
		}
		fail[i] = k
	}
	return fail
}

// Found reports whether the delimiter ended the stream. It is only
// meaningful once Read has returned io.EOF.
func (b *BoundaryReader) Found() bool {
	return b.found
}

func (b *BoundaryReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(b.owed) > 0 {
			c := copy(p[n:], b.owed)
			b.owed = b.owed[c:]
			n += c
			continue
		}
		if b.done || b.err != nil {
			break
		}
		c, err := b.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				// an unfinished match at end of stream was data after all
				b.owed = append(b.buf[:0], b.delim[:b.matched]...)
				b.matched = 0
				b.done = true
				continue
			}
			b.err = err
			break
		}
		b.step(c)
	}
	if n > 0 {
		return n, nil
	}
	if b.err != nil {
		return 0, b.err
	}
	if b.done {
		return 0, io.EOF
	}
	return 0, nil
}

// step advances the match by one input byte and queues whatever bytes are
// known not to belong to the delimiter.
func (b *BoundaryReader) step(c byte) {
	prev := b.matched
	k := prev
	for k > 0 && b.delim[k] != c {
		k = b.fail[k-1]
	}
	owed := b.buf[:0]
	if b.delim[k] == c {
		owed = append(owed, b.delim[:prev-k]...)
		b.matched = k + 1
	} else {
		owed = append(owed, b.delim[:prev]...)
		owed = append(owed, c)
		b.matched = 0
	}
	b.owed = owed
	if b.matched == len(b.delim) {
		b.matched = 0
		b.found = true
		b.done = true
	}
}
