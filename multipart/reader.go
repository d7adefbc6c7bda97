package multipart

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/Serguei-P/http-sub000/wire"
)

// ErrMissingBoundary is returned when the opening boundary never appears,
// or when a content type carries no boundary parameter.
var ErrMissingBoundary = errors.New("multipart: missing boundary")

// ErrPartTooLarge is returned when a part payload exceeds MaxPartSize.
var ErrPartTooLarge = errors.New("multipart: part too large")

// Part is one body part. It is not modified after NextPart returns it.
type Part struct {
	Header http.Header
	Body   []byte
}

// FormName returns the name parameter of a form-data Content-Disposition.
func (p *Part) FormName() string {
	return p.dispositionParam("name")
}

// FileName returns the filename parameter of the Content-Disposition.
func (p *Part) FileName() string {
	return p.dispositionParam("filename")
}

func (p *Part) dispositionParam(key string) string {
	v := p.Header.Get("Content-Disposition")
	if v == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return params[key]
}

// Reader iterates over the parts of a multipart body.
type Reader struct {
	// MaxPartSize, when positive, bounds each part payload.
	MaxPartSize int64
	// MaxHeaderLines bounds the header block of each part.
	MaxHeaderLines int

	r        io.Reader
	lr       *wire.LineReader
	boundary string
	started  bool
	finished bool
}

// NewReader returns a Reader for the given boundary (without the leading
// dashes).
func NewReader(r io.Reader, boundary string) *Reader {
	return &Reader{
		r:        r,
		lr:       wire.NewLineReader(r, 0),
		boundary: boundary,
	}
}

// BoundaryFromContentType extracts the boundary parameter of a multipart
// content type.
func BoundaryFromContentType(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("content type %q is not multipart", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", ErrMissingBoundary
	}
	return boundary, nil
}

// NextPart returns the next part, or io.EOF once the closing boundary has
// been read. Further calls keep returning io.EOF.
func (mr *Reader) NextPart() (*Part, error) {
	if mr.finished {
		return nil, io.EOF
	}
	if mr.boundary == "" {
		return nil, wire.NewFramingError(wire.KindMultipart, "", ErrMissingBoundary)
	}
	if !mr.started {
		if err := mr.skipPreamble(); err != nil {
			return nil, err
		}
		mr.started = true
		if mr.finished {
			return nil, io.EOF
		}
	}

	header, err := wire.ReadHeader(mr.lr, mr.MaxHeaderLines)
	if err != nil {
		return nil, mr.truncated("part header", err)
	}

	br := NewBoundaryReader(mr.r, []byte("\r\n--"+mr.boundary))
	var src io.Reader = br
	if mr.MaxPartSize > 0 {
		src = io.LimitReader(br, mr.MaxPartSize+1)
	}
	payload, err := io.ReadAll(src)
	if err != nil {
		return nil, mr.truncated("part body", err)
	}
	if mr.MaxPartSize > 0 && int64(len(payload)) > mr.MaxPartSize {
		return nil, wire.NewFramingError(wire.KindMultipart, "", ErrPartTooLarge)
	}
	if !br.Found() {
		return nil, mr.truncated("part body", io.ErrUnexpectedEOF)
	}
	if err := mr.finishBoundaryLine(); err != nil {
		return nil, err
	}
	return &Part{Header: header, Body: payload}, nil
}

// ReadAll collects every remaining part.
func (mr *Reader) ReadAll() ([]*Part, error) {
	var parts []*Part
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return parts, nil
		}
		if err != nil {
			return parts, err
		}
		parts = append(parts, p)
	}
}

// skipPreamble discards everything up to and including the opening
// boundary line. A dash-boundary that is followed by anything other than
// padding or the closing dashes is treated as preamble text.
func (mr *Reader) skipPreamble() error {
	for {
		br := NewBoundaryReader(mr.r, []byte("--"+mr.boundary))
		if _, err := io.Copy(io.Discard, br); err != nil {
			return err
		}
		if !br.Found() {
			return wire.NewFramingError(wire.KindMultipart, "", ErrMissingBoundary)
		}
		rest, err := mr.lr.ReadLine()
		if err == io.EOF {
			return mr.truncated("boundary line", io.ErrUnexpectedEOF)
		}
		if err != nil {
			return mr.truncated("boundary line", err)
		}
		if strings.HasPrefix(rest, "--") {
			mr.finished = true
			return nil
		}
		if strings.TrimSpace(rest) == "" {
			return nil
		}
	}
}

func (mr *Reader) finishBoundaryLine() error {
	rest, err := mr.lr.ReadLine()
	if err == io.EOF {
		return mr.truncated("boundary line", io.ErrUnexpectedEOF)
	}
	if err != nil {
		return mr.truncated("boundary line", err)
	}
	switch {
	case strings.HasPrefix(rest, "--"):
		mr.finished = true
	case strings.TrimSpace(rest) != "":
		return wire.NewFramingError(wire.KindMultipart, fmt.Sprintf("unexpected text %q after boundary", rest), nil)
	}
	return nil
}

func (mr *Reader) truncated(what string, err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return wire.NewFramingError(wire.KindMultipart, what, err)
}
