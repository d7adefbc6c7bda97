package wire

import (
	"net"
	"sync"
	"time"
)

// ReplayConn is a net.Conn whose reads go through a ReplayReader, so a
// prefix peeked by a sniffer is re-delivered to the next reader (typically
// a TLS server handshake).
type ReplayConn struct {
	net.Conn
	Replay *ReplayReader

	closeMu  sync.Mutex
	closed   bool
	closeErr error
	done     chan struct{}
}

// NewReplayConn wraps c.
func NewReplayConn(c net.Conn) *ReplayConn {
	return &ReplayConn{
		Conn:   c,
		Replay: NewReplayReader(c),
		done:   make(chan struct{}),
	}
}

func (c *ReplayConn) Read(p []byte) (int, error) {
	return c.Replay.Read(p)
}

// Close closes the underlying connection once; later calls return the
// first result.
func (c *ReplayConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return c.closeErr
	}
	c.closed = true
	c.closeErr = c.Conn.Close()
	close(c.done)
	return c.closeErr
}

// Done is closed once the connection has been closed.
func (c *ReplayConn) Done() <-chan struct{} {
	return c.done
}

// TimeoutConn refreshes its read deadline before every Read, which gives a
// socket the semantics of a per-read timeout: a peer that stays silent for
// longer than the timeout fails the pending read, while a slow but steady
// peer does not.
type TimeoutConn struct {
	net.Conn

	mu      sync.Mutex
	timeout time.Duration
	expired bool
}

// NewTimeoutConn wraps c with a per-read timeout. Zero disables it.
func NewTimeoutConn(c net.Conn, timeout time.Duration) *TimeoutConn {
	return &TimeoutConn{Conn: c, timeout: timeout}
}

// SetTimeout changes the timeout applied to subsequent reads.
func (c *TimeoutConn) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Timeout returns the current per-read timeout.
func (c *TimeoutConn) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// Expire fails the pending read, if any, and every read after it.
func (c *TimeoutConn) Expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expired = true
	_ = c.Conn.SetReadDeadline(aLongTimeAgo)
}

func (c *TimeoutConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	var err error
	switch {
	case c.expired:
		err = c.Conn.SetReadDeadline(aLongTimeAgo)
	case c.timeout > 0:
		err = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

var aLongTimeAgo = time.Unix(1, 0)
