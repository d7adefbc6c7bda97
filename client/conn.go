// Package client speaks HTTP/1.1 over a single connection, dialed directly
// or through an upstream proxy.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Serguei-P/http-sub000/body"
	"github.com/Serguei-P/http-sub000/chunked"
	"github.com/Serguei-P/http-sub000/internal/helper"
	"github.com/Serguei-P/http-sub000/message"
	"github.com/Serguei-P/http-sub000/version"
	"github.com/Serguei-P/http-sub000/wire"
)

// ErrConnClosed is returned by RoundTrip once the connection cannot carry
// another request.
var ErrConnClosed = errors.New("client: connection closed")

// Request is a request to send. Target defaults to "/".
type Request struct {
	Method string
	Target string
	Header http.Header
	// Body is sent with a Content-Length when ContentLength is zero or
	// more, and chunked when it is negative.
	Body          io.Reader
	ContentLength int64
	// Trailer is sent after a chunked body.
	Trailer http.Header
}

// Conn is one client connection. It is not safe for concurrent use.
type Conn struct {
	Config *Config

	conn     net.Conn
	tconn    *wire.TimeoutConn
	br       *bufio.Reader
	bw       *bufio.Writer
	host     string
	tlsState *tls.ConnectionState
	pending  *body.Body
	reusable bool
}

// Dial connects to the host of rawURL, an http or https URL. The proxy
// chosen by cfg, if any, is reached first and asked for a tunnel.
func Dial(ctx context.Context, rawURL string, cfg *Config) (*Conn, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}

	if d := cfg.DialTimeout.Duration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	proxyURL, err := cfg.ProxyURL(u)
	if err != nil {
		return nil, fmt.Errorf("client: proxy: %w", err)
	}
	address := helper.CanonicalAddr(u)
	log := slog.Default().With("in", "client.Dial", "address", address)

	var conn net.Conn
	if proxyURL != nil {
		log.Debug("dialing through upstream proxy", "proxy", proxyURL.Redacted())
		conn, err = helper.GetProxyConn(ctx, proxyURL, address, cfg.SslInsecure)
	} else {
		conn, err = (&net.Dialer{}).DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, err
	}

	c := &Conn{Config: cfg, host: u.Host, reusable: true}
	if u.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         u.Hostname(),
			RootCAs:            cfg.RootCAs,
			InsecureSkipVerify: cfg.SslInsecure,
			NextProtos:         []string{"http/1.1"},
			KeyLogWriter:       helper.GetTLSKeyLogWriter(),
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		state := tlsConn.ConnectionState()
		c.tlsState = &state
		conn = tlsConn
	}

	c.conn = conn
	c.tconn = wire.NewTimeoutConn(conn, cfg.ReadTimeout.Duration())
	c.br = bufio.NewReader(c.tconn)
	c.bw = bufio.NewWriter(conn)
	log.Debug("connected", "tls", c.tlsState != nil)
	return c, nil
}

// TLS returns the negotiated TLS state, or nil for a plaintext connection.
func (c *Conn) TLS() *tls.ConnectionState {
	return c.tlsState
}

// Reusable reports whether another request may be sent.
func (c *Conn) Reusable() bool {
	return c.reusable
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.reusable = false
	return c.conn.Close()
}

// RoundTrip sends req and reads the response head. The response body
// streams from the connection and must be read or drained before the next
// request; RoundTrip drains an unread body itself. Interim 1xx responses
// other than 101 are skipped.
func (c *Conn) RoundTrip(ctx context.Context, req *Request) (*message.Response, error) {
	if !c.reusable {
		c.pending = nil
		return nil, ErrConnClosed
	}
	if c.pending != nil {
		err := c.pending.Drain()
		c.pending = nil
		if err != nil {
			c.reusable = false
			return nil, fmt.Errorf("drain previous response: %w", err)
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		c.tconn.Expire()
		c.conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()

	resp, err := c.roundTrip(req)
	if err != nil {
		c.reusable = false
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, err
	}
	c.pending = resp.Body
	if !resp.KeepAlive() {
		c.reusable = false
	}
	return resp, nil
}

func (c *Conn) roundTrip(req *Request) (*message.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	head := &message.Request{
		Method:     method,
		Target:     req.Target,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     req.Header.Clone(),
	}
	if head.Target == "" {
		head.Target = "/"
	}
	if head.Header == nil {
		head.Header = make(http.Header)
	}
	if head.Header.Get("Host") == "" {
		head.Header.Set("Host", c.host)
	}
	if _, ok := head.Header["User-Agent"]; !ok {
		head.Header.Set("User-Agent", version.UserAgent())
	}
	if err := c.writeRequest(head, req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if !head.KeepAlive() {
		c.reusable = false
	}

	for {
		resp, err := message.ReadResponse(c.br, method, c.Config.messageOptions())
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 200 || resp.StatusCode == http.StatusSwitchingProtocols {
			return resp, nil
		}
		slog.Debug("skipping interim response", "in", "Conn.roundTrip", "status", resp.StatusCode)
	}
}

func (c *Conn) writeRequest(head *message.Request, req *Request) error {
	chunkedBody := req.Body != nil && (req.ContentLength < 0 || c.Config.CompressRequests)
	switch {
	case chunkedBody:
		head.Header.Del("Content-Length")
		head.Header.Set("Transfer-Encoding", "chunked")
		if c.Config.CompressRequests {
			head.Header.Set("Content-Encoding", "gzip")
		}
	case req.Body != nil:
		head.Header.Set("Content-Length", fmt.Sprint(req.ContentLength))
	case expectsBody(head.Method) && head.Header.Get("Content-Length") == "":
		head.Header.Set("Content-Length", "0")
	}
	if err := head.WriteHead(c.bw); err != nil {
		return err
	}

	switch {
	case chunkedBody:
		cw := chunked.NewWriter(c.bw, c.Config.ChunkSize)
		cw.Trailer = req.Trailer
		if err := copyChunked(cw, req.Body, c.Config.CompressRequests); err != nil {
			return err
		}
		if err := cw.Close(); err != nil {
			return err
		}
	case req.Body != nil:
		n, err := io.CopyN(c.bw, req.Body, req.ContentLength)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("body is %d bytes, declared %d", n, req.ContentLength)
			}
			return err
		}
	}
	return c.bw.Flush()
}

func copyChunked(cw *chunked.Writer, src io.Reader, compress bool) error {
	if !compress {
		_, err := io.Copy(cw, src)
		return err
	}
	zw := gzip.NewWriter(cw)
	if _, err := io.Copy(zw, src); err != nil {
		return err
	}
	return zw.Close()
}

// expectsBody reports whether requests with this method are expected to
// carry a body, so an empty one is declared explicitly.
func expectsBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
