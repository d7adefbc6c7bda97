// Package server accepts HTTP/1.x connections, optionally terminates TLS,
// and feeds each request on a connection to a Handler in sequence.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/Serguei-P/http-sub000/message"
	"github.com/Serguei-P/http-sub000/sniff"
	"github.com/Serguei-P/http-sub000/version"
	"github.com/Serguei-P/http-sub000/wire"
)

// ErrServerClosed is returned by Serve once Shutdown or Close was called.
var ErrServerClosed = errors.New("server: closed")

const maxAcceptDelay = time.Second

// Server supervises client connections.
type Server struct {
	Config  *Config
	Handler Handler
	// TLS, when set, terminates TLS for clients that open with a
	// ClientHello. Without it such clients are refused.
	TLS SessionFactory
	// OnConnect runs after the host filters from Config.
	OnConnect OnConnectFunc

	logger      *InstanceLogger
	addons      *addonRegistry
	registry    *Registry
	hostFilters []OnConnectFunc

	mu       sync.Mutex
	listener net.Listener
	stopping atomic.Bool
	wg       sync.WaitGroup
}

// New creates a server. A TLS factory is built when the config names a
// certificate.
func New(cfg *Config, handler Handler) (*Server, error) {
	s := &Server{
		Config:   cfg,
		Handler:  handler,
		logger:   NewInstanceLoggerWithFile(cfg.Addr, cfg.InstanceName, cfg.LogFilePath),
		addons:   &addonRegistry{},
		registry: NewRegistry(),
	}
	factory, err := cfg.TLSFactory()
	if err != nil {
		return nil, err
	}
	if factory != nil {
		s.TLS = factory
	}
	if len(cfg.AllowHosts) > 0 {
		s.hostFilters = append(s.hostFilters, AllowHosts(cfg.AllowHosts))
	}
	if len(cfg.IgnoreHosts) > 0 {
		s.hostFilters = append(s.hostFilters, IgnoreHosts(cfg.IgnoreHosts))
	}
	return s, nil
}

// AddAddon registers an addon. Connections accepted afterwards notify it.
func (s *Server) AddAddon(addon Addon) {
	s.addons.Add(addon)
}

// Logger returns the instance logger of the server.
func (s *Server) Logger() *InstanceLogger {
	return s.logger
}

// Connections returns the registry of open connections.
func (s *Server) Connections() *Registry {
	return s.registry
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	return s.registry.Len()
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe listens on Config.Addr and calls Serve.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown or Close, which make it
// return ErrServerClosed. Serve takes ownership of ln.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopping.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	log := s.logger.WithFields("in", "Server.Serve", "addr", ln.Addr().String())
	log.Info("server listening", "version", version.String())

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			log.Warn("accept failed, retrying", "error", err, "delay", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		cc := s.track(conn)
		if cc == nil {
			return ErrServerClosed
		}
		go s.serveConn(cc)
	}
}

// track registers conn, or closes it when the server is stopping.
func (s *Server) track(conn net.Conn) *ConnContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping.Load() {
		conn.Close()
		return nil
	}
	cc := newConnContext(conn, s.Config.IdleTimeout.Duration())
	s.registry.Add(cc)
	s.wg.Add(1)
	return cc
}

// stop prevents new connections and closes the listener.
func (s *Server) stop() error {
	s.mu.Lock()
	s.stopping.Store(true)
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting, lets every connection finish the request it
// is working on, and closes connections that are waiting for a request.
// It returns once all workers have exited or when ctx or
// Config.ShutdownTimeout expires, whichever comes first; running out of
// time is logged, not returned.
func (s *Server) Shutdown(ctx context.Context) error {
	log := s.logger.WithFields("in", "Server.Shutdown")

	err := s.stop()
	woken := 0
	for _, cc := range s.registry.Snapshot() {
		if cc.wake() {
			woken++
		}
	}
	log.Debug("shutting down", "active", s.ActiveConnections(), "woken", woken)

	if d := s.Config.ShutdownTimeout.Duration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("shutdown timed out", "active", s.ActiveConnections(), "error", ctx.Err())
	}
	return err
}

// Close stops accepting and closes every open connection at once. Blocked
// reads and writes on those connections fail immediately.
func (s *Server) Close() error {
	err := s.stop()
	for _, cc := range s.registry.Snapshot() {
		cc.close()
	}
	return err
}

func (s *Server) serveConn(cc *ConnContext) {
	defer s.wg.Done()

	log := s.logger.WithFields(
		"in", "Server.serveConn",
		"conn_id", cc.ID.String(),
		"remote_addr", cc.Conn.RemoteAddr().String(),
	)
	defer func() {
		cc.state.Store(uint32(StateClosing))
		cc.close()
		s.registry.Remove(cc.ID)
		cc.state.Store(uint32(StateClosed))
		for _, addon := range s.addons.Get() {
			addon.ConnectionClosed(cc)
		}
		log.Debug("connection closed", "messages", cc.MessageCount())
	}()

	for _, addon := range s.addons.Get() {
		addon.ConnectionOpened(cc)
	}

	conn, err := s.negotiate(cc, log)
	if err != nil {
		logErr(log, err)
		return
	}
	if conn == nil {
		return
	}
	cc.tconn.SetTimeout(s.Config.IdleTimeout.Duration())
	s.serveMessages(cc, conn, log)
}

// sniffConn waits for the first byte under the idle timeout and moves to
// the handshake timeout once that byte opens a ClientHello.
type sniffConn struct {
	*wire.TimeoutConn
	handshake time.Duration
	seen      bool
}

func (c *sniffConn) Read(p []byte) (int, error) {
	n, err := c.TimeoutConn.Read(p)
	if n > 0 && !c.seen {
		c.seen = true
		if sniff.OpensHello(p[0]) {
			c.TimeoutConn.SetTimeout(c.handshake)
		}
	}
	return n, err
}

// negotiate sniffs the first bytes of the connection, runs the connect
// hooks and terminates TLS when the client opened with a ClientHello. It
// returns a nil conn and a nil error when the connection is refused.
func (s *Server) negotiate(cc *ConnContext, log *slog.Logger) (net.Conn, error) {
	rc := wire.NewReplayConn(&sniffConn{TimeoutConn: cc.tconn, handshake: s.Config.HandshakeTimeout.Duration()})
	hello, err := sniff.Peek(rc.Replay, s.Config.MaxRecordSize)
	var anomaly *sniff.AnomalyError
	if errors.As(err, &anomaly) {
		log.Debug("client hello anomaly", "error", err)
	} else if err != nil {
		return nil, fmt.Errorf("sniff: %w", err)
	}
	cc.hello.Store(hello)

	if !s.admit(cc.Conn, hello) {
		log.Debug("connection refused", "tls", hello.IsTLS(), "server_name", hello.ServerName)
		return nil, nil
	}
	if !hello.IsTLS() {
		return rc, nil
	}
	if s.TLS == nil {
		log.Debug("TLS client on a plaintext server", "server_name", hello.ServerName)
		return nil, nil
	}
	if !cc.advance(StateTLSHandshaking) {
		return nil, nil
	}

	ctx := context.Background()
	if d := s.Config.HandshakeTimeout.Duration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	session, err := s.TLS.Handshake(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	cc.session.Store(session)
	log.Debug("tls established", "server_name", session.ServerName, "version", session.VersionName())
	for _, addon := range s.addons.Get() {
		addon.TLSEstablished(cc)
	}
	return session.Conn, nil
}

func (s *Server) admit(conn net.Conn, hello *sniff.ClientHello) bool {
	for _, f := range s.hostFilters {
		if !f(conn, hello) {
			return false
		}
	}
	return s.OnConnect == nil || s.OnConnect(conn, hello)
}

// serveMessages reads and dispatches requests until the connection has to
// close.
func (s *Server) serveMessages(cc *ConnContext, conn net.Conn, log *slog.Logger) {
	opts := s.Config.MessageOptions()
	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	for {
		if !cc.advance(StateIdle) {
			return
		}
		// Checked after claiming Idle: either wake sees Idle or we see the flag.
		if s.stopping.Load() {
			return
		}
		if _, err := br.Peek(1); err != nil {
			logErr(log, err)
			return
		}
		if !cc.advance(StateReading) {
			return
		}
		req, err := message.ReadRequest(br, opts)
		if err != nil {
			logErr(log, err)
			return
		}
		cc.messages.Inc()
		cc.touch()

		if !cc.advance(StateDispatching) {
			return
		}
		for _, addon := range s.addons.Get() {
			addon.RequestRead(cc, req)
		}
		if err := s.dispatch(cc, req, bw); err != nil {
			logErr(log, err)
			return
		}
		cc.touch()

		if cc.reset.Load() || cc.closeAfter.Load() || !req.KeepAlive() {
			return
		}
		if err := req.Body.Drain(); err != nil {
			logErr(log, fmt.Errorf("drain request body: %w", err))
			return
		}
	}
}

func (s *Server) dispatch(cc *ConnContext, req *message.Request, bw *bufio.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{ConnID: cc.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	perr := s.Handler.Process(cc, req, bw)
	ferr := bw.Flush()
	if perr != nil {
		return &HandlerError{ConnID: cc.ID, Err: perr}
	}
	if ferr != nil {
		return fmt.Errorf("write response: %w", ferr)
	}
	return nil
}
