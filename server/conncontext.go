package server

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"

	"github.com/Serguei-P/http-sub000/sniff"
	"github.com/Serguei-P/http-sub000/tlssession"
	"github.com/Serguei-P/http-sub000/wire"
)

// ConnState is where a connection is in its lifecycle.
type ConnState uint32

const (
	StateAccepted ConnState = iota
	StateTLSHandshaking
	StateReading
	StateDispatching
	StateIdle
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateTLSHandshaking:
		return "tls-handshaking"
	case StateReading:
		return "reading"
	case StateDispatching:
		return "dispatching"
	case StateIdle:
		return "idle"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ConnContext is the record of one client connection. It is shared between
// the connection's worker, the handler and the registry.
type ConnContext struct {
	ID       uuid.UUID
	Conn     net.Conn
	Accepted time.Time

	tconn        *wire.TimeoutConn
	state        atomic.Uint32
	messages     atomic.Uint32
	lastActivity atomic.Int64
	closeAfter   atomic.Bool
	reset        atomic.Bool
	hello        atomic.Pointer[sniff.ClientHello]
	session      atomic.Pointer[tlssession.Session]

	closeMu   sync.Mutex
	closed    bool
	closeErr  error
	closeChan chan struct{}
}

func newConnContext(c net.Conn, readTimeout time.Duration) *ConnContext {
	now := time.Now()
	cc := &ConnContext{
		ID:        uuid.NewV4(),
		Conn:      c,
		Accepted:  now,
		tconn:     wire.NewTimeoutConn(c, readTimeout),
		closeChan: make(chan struct{}),
	}
	cc.lastActivity.Store(now.UnixNano())
	return cc
}

// State returns the current lifecycle state.
func (cc *ConnContext) State() ConnState {
	return ConnState(cc.state.Load())
}

// advance moves to next unless shutdown has already claimed the connection.
func (cc *ConnContext) advance(next ConnState) bool {
	for {
		cur := cc.state.Load()
		if s := ConnState(cur); s == StateClosing || s == StateClosed {
			return false
		}
		if cc.state.CompareAndSwap(cur, uint32(next)) {
			return true
		}
	}
}

// wake claims a connection that is waiting for its client and fails the
// pending read. Connections in any other state are left alone.
func (cc *ConnContext) wake() bool {
	if cc.state.CompareAndSwap(uint32(StateIdle), uint32(StateClosing)) ||
		cc.state.CompareAndSwap(uint32(StateAccepted), uint32(StateClosing)) {
		cc.tconn.Expire()
		return true
	}
	return false
}

// MessageCount returns how many requests have been read.
func (cc *ConnContext) MessageCount() uint32 {
	return cc.messages.Load()
}

// LastActivity returns when a request was last read or answered.
func (cc *ConnContext) LastActivity() time.Time {
	return time.Unix(0, cc.lastActivity.Load())
}

func (cc *ConnContext) touch() {
	cc.lastActivity.Store(time.Now().UnixNano())
}

// ClientHello returns the sniffed hello. It is never nil once the
// connection has left StateAccepted.
func (cc *ConnContext) ClientHello() *sniff.ClientHello {
	return cc.hello.Load()
}

// Session returns the TLS session, or nil for a plaintext connection.
func (cc *ConnContext) Session() *tlssession.Session {
	return cc.session.Load()
}

// TLS reports whether the connection is encrypted.
func (cc *ConnContext) TLS() bool {
	return cc.session.Load() != nil
}

// CloseConnection asks the server to close the connection once the
// current handler returns, whatever the request asked for.
func (cc *ConnContext) CloseConnection() {
	cc.closeAfter.Store(true)
}

// ResetConnection is like CloseConnection but aborts the TCP connection
// with a reset instead of an orderly close.
func (cc *ConnContext) ResetConnection() {
	cc.reset.Store(true)
}

// Done is closed once the connection has been closed.
func (cc *ConnContext) Done() <-chan struct{} {
	return cc.closeChan
}

func (cc *ConnContext) close() error {
	cc.closeMu.Lock()
	defer cc.closeMu.Unlock()
	if cc.closed {
		return cc.closeErr
	}
	slog.Debug("ConnContext close", "id", cc.ID.String(), "remoteAddr", cc.Conn.RemoteAddr().String())

	if cc.reset.Load() {
		if tcp, ok := cc.Conn.(*net.TCPConn); ok {
			_ = tcp.SetLinger(0)
		}
	}
	cc.closed = true
	cc.closeErr = cc.Conn.Close()
	close(cc.closeChan)
	return cc.closeErr
}

func (cc *ConnContext) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)
	m["id"] = cc.ID
	m["address"] = cc.Conn.RemoteAddr().String()
	m["state"] = cc.State().String()
	m["messages"] = cc.MessageCount()
	m["tls"] = cc.TLS()
	if s := cc.Session(); s != nil {
		m["serverName"] = s.ServerName
		m["tlsVersion"] = s.VersionName()
	}
	return json.Marshal(m)
}
