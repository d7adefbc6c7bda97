package wire

import (
	"errors"
	"fmt"
	"net"
)

// Kind classifies a framing failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLine
	KindStartLine
	KindHeader
	KindChunk
	KindLength
	KindMultipart
)

func (k Kind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindStartLine:
		return "start line"
	case KindHeader:
		return "header"
	case KindChunk:
		return "chunk"
	case KindLength:
		return "length"
	case KindMultipart:
		return "multipart"
	default:
		return "unknown"
	}
}

// ErrLineTooLong is returned when a line grows past the configured maximum.
var ErrLineTooLong = errors.New("line too long")

// FramingError reports a byte stream that cannot be split into messages.
// It is fatal to the current message: the stream cannot be resynchronized.
type FramingError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *FramingError) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return fmt.Sprintf("framing error (%s)", e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("framing error (%s): %s", e.Kind, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("framing error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("framing error (%s): %s: %v", e.Kind, e.Msg, e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// NewFramingError builds a FramingError.
func NewFramingError(kind Kind, msg string, err error) *FramingError {
	return &FramingError{Kind: kind, Msg: msg, Err: err}
}

// IsFraming reports whether err is, or wraps, a FramingError.
func IsFraming(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
