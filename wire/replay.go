package wire

import (
	"io"
)

// ReplayState is the mode of a ReplayReader.
type ReplayState uint8

const (
	// PassThrough reads go straight to the underlying stream.
	PassThrough ReplayState = iota
	// Recording reads go to the underlying stream and are remembered.
	Recording
	// Replaying reads are served from the remembered bytes first.
	Replaying
)

func (s ReplayState) String() string {
	switch s {
	case Recording:
		return "recording"
	case Replaying:
		return "replaying"
	default:
		return "pass-through"
	}
}

// ReplayReader lets one consumer read ahead from a mark and then hand an
// untouched-looking stream to another consumer.
//
//	PassThrough --Mark--> Recording --Reset--> Replaying --drained--> PassThrough
//
// Only one mark is outstanding at a time: Mark while Recording keeps the
// first mark. Mark while Replaying is ignored until the replay drains.
type ReplayReader struct {
	r     io.Reader
	state ReplayState
	buf   []byte
	pos   int // next byte to replay
}

// NewReplayReader wraps r in PassThrough state.
func NewReplayReader(r io.Reader) *ReplayReader {
	return &ReplayReader{r: r}
}

// State returns the current mode.
func (rr *ReplayReader) State() ReplayState {
	return rr.state
}

// Mark starts remembering every byte read from now on.
func (rr *ReplayReader) Mark() {
	if rr.state != PassThrough {
		return
	}
	rr.state = Recording
	rr.buf = rr.buf[:0]
	rr.pos = 0
}

// Reset rewinds to the mark. The underlying stream is not touched. Reset
// without an active mark does nothing.
func (rr *ReplayReader) Reset() {
	if rr.state != Recording {
		return
	}
	if len(rr.buf) == 0 {
		rr.state = PassThrough
		return
	}
	rr.state = Replaying
	rr.pos = 0
}

// AvailableToReplay returns the number of remembered bytes not yet
// re-delivered.
func (rr *ReplayReader) AvailableToReplay() int {
	if rr.state != Replaying {
		return 0
	}
	return len(rr.buf) - rr.pos
}

func (rr *ReplayReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	switch rr.state {
	case Replaying:
		n := copy(p, rr.buf[rr.pos:])
		rr.pos += n
		if rr.pos == len(rr.buf) {
			rr.state = PassThrough
			rr.buf = rr.buf[:0]
			rr.pos = 0
		}
		return n, nil
	case Recording:
		n, err := rr.r.Read(p)
		rr.buf = append(rr.buf, p[:n]...)
		return n, err
	default:
		return rr.r.Read(p)
	}
}

func (rr *ReplayReader) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := rr.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Skip discards the next n bytes and returns how many were discarded.
func (rr *ReplayReader) Skip(n int64) (int64, error) {
	return io.CopyN(io.Discard, rr, n)
}
