package server

import (
	"context"
	"fmt"
	"io"
	"net"

	uuid "github.com/satori/go.uuid"

	"github.com/Serguei-P/http-sub000/internal/helper"
	"github.com/Serguei-P/http-sub000/message"
	"github.com/Serguei-P/http-sub000/sniff"
	"github.com/Serguei-P/http-sub000/tlssession"
)

// Handler answers one request. It writes the whole response to w, which
// is flushed when Process returns. The request body may be left unread;
// the server drains it before reading the next request.
type Handler interface {
	Process(cc *ConnContext, req *message.Request, w io.Writer) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(cc *ConnContext, req *message.Request, w io.Writer) error

func (f HandlerFunc) Process(cc *ConnContext, req *message.Request, w io.Writer) error {
	return f(cc, req, w)
}

// HandlerError is a failure reported by a Handler. The connection it
// happened on is closed.
type HandlerError struct {
	ConnID uuid.UUID
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed on connection %s: %v", e.ConnID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// SessionFactory terminates TLS on an accepted connection.
// tlssession.Factory implements it.
type SessionFactory interface {
	Handshake(ctx context.Context, conn net.Conn) (*tlssession.Session, error)
}

// OnConnectFunc decides whether a connection is served. It runs after the
// first bytes have been sniffed and before any TLS handshake. hello is
// never nil; for a plaintext client it reports no TLS.
type OnConnectFunc func(conn net.Conn, hello *sniff.ClientHello) bool

// AllowHosts admits TLS clients whose server name matches one of patterns
// and refuses the others. Plaintext clients are admitted.
func AllowHosts(patterns []string) OnConnectFunc {
	return hostFilter(patterns, true)
}

// IgnoreHosts refuses TLS clients whose server name matches one of
// patterns.
func IgnoreHosts(patterns []string) OnConnectFunc {
	return hostFilter(patterns, false)
}

func hostFilter(patterns []string, allow bool) OnConnectFunc {
	return func(conn net.Conn, hello *sniff.ClientHello) bool {
		if hello == nil || !hello.IsTLS() {
			return true
		}
		address := net.JoinHostPort(hello.ServerName, helper.PortOf(conn.LocalAddr().String()))
		return helper.MatchHost(address, patterns) == allow
	}
}
