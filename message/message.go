// Package message reads and writes HTTP/1.x message heads and attaches the
// body reader that the head declares.
package message

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/Serguei-P/http-sub000/body"
	"github.com/Serguei-P/http-sub000/wire"
)

// Options bound what a peer may send.
type Options struct {
	MaxLineLength  int
	MaxHeaderLines int
	MaxChunkSize   int64
	Registry       body.Registry
}

func (o Options) bodyOptions() body.Options {
	return body.Options{
		Registry:      o.Registry,
		MaxChunkSize:  o.MaxChunkSize,
		MaxLineLength: o.MaxLineLength,
	}
}

// maxLeadingBlankLines is how many empty lines may precede a request line.
const maxLeadingBlankLines = 4

// Request is a parsed request head plus its body.
type Request struct {
	Method     string
	Target     string
	Proto      string
	ProtoMajor int
	ProtoMinor int
	Header     http.Header
	Body       *body.Body
}

// Host returns the Host header, falling back to the authority of an
// absolute-form target.
func (r *Request) Host() string {
	if h := r.Header.Get("Host"); h != "" {
		return h
	}
	if _, rest, ok := strings.Cut(r.Target, "://"); ok {
		host, _, _ := strings.Cut(rest, "/")
		return host
	}
	return ""
}

// KeepAlive reports whether the connection may carry another request once
// this one is answered.
func (r *Request) KeepAlive() bool {
	return keepAlive(r.ProtoMajor, r.ProtoMinor, r.Header)
}

func keepAlive(major, minor int, h http.Header) bool {
	conn := h.Values("Connection")
	if httpguts.HeaderValuesContainsToken(conn, "close") {
		return false
	}
	if major == 1 && minor == 0 {
		return httpguts.HeaderValuesContainsToken(conn, "keep-alive")
	}
	return major >= 1
}

// WriteHead writes the request line and header fields.
func (r *Request) WriteHead(w io.Writer) error {
	proto := r.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	if _, err := fmt.Fprintf(w, "%s %s %s\r\n", r.Method, r.Target, proto); err != nil {
		return err
	}
	return writeHeader(w, r.Header)
}

// ReadRequest reads one request head from r and prepares its body. r must
// be the connection's shared reader. A clean end of stream before any byte
// of the request is returned as io.EOF.
func ReadRequest(r io.Reader, opts Options) (*Request, error) {
	lr := wire.NewLineReader(r, opts.MaxLineLength)

	var line string
	var err error
	for i := 0; ; i++ {
		line, err = lr.ReadLine()
		if err != nil {
			return nil, err
		}
		if line != "" {
			break
		}
		if i == maxLeadingBlankLines {
			return nil, wire.NewFramingError(wire.KindStartLine, "too many blank lines before request", nil)
		}
	}

	req := &Request{}
	var ok bool
	req.Method, req.Target, req.Proto, ok = splitStartLine(line)
	if !ok || !validMethod(req.Method) || req.Target == "" {
		return nil, wire.NewFramingError(wire.KindStartLine, "malformed request line "+quote(line), nil)
	}
	if req.ProtoMajor, req.ProtoMinor, ok = http.ParseHTTPVersion(req.Proto); !ok || req.ProtoMajor != 1 {
		return nil, wire.NewFramingError(wire.KindStartLine, "unsupported protocol "+quote(req.Proto), nil)
	}

	req.Header, err = wire.ReadHeader(lr, opts.MaxHeaderLines)
	if err != nil {
		return nil, err
	}
	declared, err := body.DeclaredFromHeader(req.Header, false)
	if err != nil {
		return nil, err
	}
	req.Body = body.New(r, declared, opts.bodyOptions())
	return req, nil
}

// ResponseHead is a status line plus header fields.
type ResponseHead struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     http.Header
}

// NewResponseHead returns an HTTP/1.1 head with the standard reason phrase.
func NewResponseHead(statusCode int) *ResponseHead {
	return &ResponseHead{
		Proto:      "HTTP/1.1",
		StatusCode: statusCode,
		Reason:     http.StatusText(statusCode),
		Header:     make(http.Header),
	}
}

// Write writes the status line and header fields.
func (h *ResponseHead) Write(w io.Writer) error {
	proto := h.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	if _, err := fmt.Fprintf(w, "%s %03d %s\r\n", proto, h.StatusCode, h.Reason); err != nil {
		return err
	}
	return writeHeader(w, h.Header)
}

// Response is a parsed response head plus its body.
type Response struct {
	ResponseHead
	ProtoMajor int
	ProtoMinor int
	Body       *body.Body
}

// KeepAlive reports whether the connection may be reused after the body
// has been consumed.
func (r *Response) KeepAlive() bool {
	if r.Body != nil && r.Body.Frame().Kind == body.UntilClose {
		return false
	}
	return keepAlive(r.ProtoMajor, r.ProtoMinor, r.Header)
}

// ReadResponse reads one response to a request made with method. Responses
// to HEAD, 1xx, 204, 304 and successful CONNECT carry no body whatever their
// header says; any other response without framing runs until close.
func ReadResponse(r io.Reader, method string, opts Options) (*Response, error) {
	lr := wire.NewLineReader(r, opts.MaxLineLength)
	line, err := lr.ReadLine()
	if err != nil {
		return nil, err
	}

	resp := &Response{}
	proto, code, reason, ok := splitStartLine(line)
	if !ok && strings.Count(line, " ") == 1 {
		// status line without a reason phrase
		proto, code, ok = strings.Cut(line, " ")
	}
	if !ok {
		return nil, wire.NewFramingError(wire.KindStartLine, "malformed status line "+quote(line), nil)
	}
	resp.Proto, resp.Reason = proto, reason
	if resp.ProtoMajor, resp.ProtoMinor, ok = http.ParseHTTPVersion(proto); !ok || resp.ProtoMajor != 1 {
		return nil, wire.NewFramingError(wire.KindStartLine, "unsupported protocol "+quote(proto), nil)
	}
	resp.StatusCode, err = strconv.Atoi(code)
	if err != nil || len(code) != 3 || resp.StatusCode < 100 {
		return nil, wire.NewFramingError(wire.KindStartLine, "malformed status code "+quote(code), nil)
	}

	resp.Header, err = wire.ReadHeader(lr, opts.MaxHeaderLines)
	if err != nil {
		return nil, err
	}
	if bodyless(method, resp.StatusCode) {
		resp.Body = body.Empty()
		return resp, nil
	}
	declared, err := body.DeclaredFromHeader(resp.Header, true)
	if err != nil {
		return nil, err
	}
	resp.Body = body.New(r, declared, opts.bodyOptions())
	return resp, nil
}

func bodyless(method string, status int) bool {
	switch {
	case method == http.MethodHead:
		return true
	case status >= 100 && status < 200:
		return true
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return true
	case method == http.MethodConnect && status >= 200 && status < 300:
		return true
	}
	return false
}

func splitStartLine(line string) (string, string, string, bool) {
	first, rest, ok := strings.Cut(line, " ")
	if !ok {
		return "", "", "", false
	}
	second, third, ok := strings.Cut(rest, " ")
	if !ok {
		return "", "", "", false
	}
	return first, second, third, true
}

func validMethod(m string) bool {
	return m != "" && httpguts.ValidHeaderFieldName(m)
}

func writeHeader(w io.Writer, h http.Header) error {
	if err := h.Write(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func quote(s string) string {
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return strconv.Quote(s)
}
