package server_test

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.uber.org/atomic"

	"github.com/Serguei-P/http-sub000/message"
	"github.com/Serguei-P/http-sub000/server"
	"github.com/Serguei-P/http-sub000/sniff"
	"github.com/Serguei-P/http-sub000/tlssession"
)

func testConfig() *server.Config {
	cfg := server.NewConfig("127.0.0.1:0")
	cfg.IdleTimeout = server.Duration(5 * time.Second)
	cfg.HandshakeTimeout = server.Duration(5 * time.Second)
	cfg.ShutdownTimeout = server.Duration(5 * time.Second)
	return cfg
}

func startServer(c *qt.C, cfg *server.Config, h server.Handler, setup ...func(*server.Server)) (*server.Server, string) {
	s, err := server.New(cfg, h)
	c.Assert(err, qt.IsNil)
	for _, f := range setup {
		f(s)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, qt.IsNil)

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()
	c.Cleanup(func() {
		s.Close()
		c.Check(<-served, qt.Equals, server.ErrServerClosed)
	})
	return s, ln.Addr().String()
}

// echo answers with the request body and the request target in X-Target.
func echo(cc *server.ConnContext, req *message.Request, w io.Writer) error {
	data, err := req.Body.ReadAll()
	if err != nil {
		return err
	}
	return respond(w, 200, req.Target, data)
}

func respond(w io.Writer, status int, target string, data []byte) error {
	head := message.NewResponseHead(status)
	head.Header.Set("Content-Length", strconv.Itoa(len(data)))
	head.Header.Set("X-Target", target)
	if err := head.Write(w); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

type response struct {
	status int
	target string
	body   string
}

func readResponse(c *qt.C, br *bufio.Reader) response {
	resp, err := message.ReadResponse(br, "GET", message.Options{})
	c.Assert(err, qt.IsNil)
	data, err := resp.Body.ReadAll()
	c.Assert(err, qt.IsNil)
	return response{resp.StatusCode, resp.Header.Get("X-Target"), string(data)}
}

func dial(c *qt.C, addr string) (net.Conn, *bufio.Reader) {
	conn, err := net.Dial("tcp", addr)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

// assertClosed checks that the server closes conn without sending more.
func assertClosed(c *qt.C, conn net.Conn, br *bufio.Reader) {
	c.Assert(conn.SetReadDeadline(time.Now().Add(2*time.Second)), qt.IsNil)
	_, err := br.ReadByte()
	c.Assert(err, qt.Equals, io.EOF)
}

func waitFor(c *qt.C, what string, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			c.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerKeepAliveAndPipelining(t *testing.T) {
	c := qt.New(t)

	s, addr := startServer(c, testConfig(), server.HandlerFunc(echo))
	conn, br := dial(c, addr)

	_, err := io.WriteString(conn, "POST /a HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"+
		"POST /b HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n"+
		"GET /c HTTP/1.1\r\nHost: x\r\n\r\n")
	c.Assert(err, qt.IsNil)

	c.Assert(readResponse(c, br), qt.Equals, response{200, "/a", "hello"})
	c.Assert(readResponse(c, br), qt.Equals, response{200, "/b", "abc"})
	c.Assert(readResponse(c, br), qt.Equals, response{200, "/c", ""})

	c.Assert(s.ActiveConnections(), qt.Equals, 1)
	conns := s.Connections().Snapshot()
	c.Assert(conns, qt.HasLen, 1)
	c.Assert(conns[0].MessageCount(), qt.Equals, uint32(3))
	c.Assert(conns[0].TLS(), qt.IsFalse)
}

func TestServerDrainsUnreadBody(t *testing.T) {
	c := qt.New(t)

	_, addr := startServer(c, testConfig(), server.HandlerFunc(func(cc *server.ConnContext, req *message.Request, w io.Writer) error {
		return respond(w, 204, req.Target, nil)
	}))
	conn, br := dial(c, addr)

	_, err := io.WriteString(conn, "POST /a HTTP/1.1\r\nHost: x\r\nContent-Length: 11\r\n\r\nhello world"+
		"POST /b HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"+
		"GET /c HTTP/1.1\r\nHost: x\r\n\r\n")
	c.Assert(err, qt.IsNil)

	for _, target := range []string{"/a", "/b", "/c"} {
		resp, err := message.ReadResponse(br, "GET", message.Options{})
		c.Assert(err, qt.IsNil)
		c.Assert(resp.StatusCode, qt.Equals, 204)
		c.Assert(resp.Header.Get("X-Target"), qt.Equals, target)
	}
}

func TestServerClosesConnection(t *testing.T) {
	tests := []struct {
		name    string
		request string
	}{{
		name:    "connection close",
		request: "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n",
	}, {
		name:    "http/1.0 without keep-alive",
		request: "GET / HTTP/1.0\r\n\r\n",
	}, {
		name:    "handler asks to close",
		request: "GET /close HTTP/1.1\r\nHost: x\r\n\r\n",
	}}

	handler := server.HandlerFunc(func(cc *server.ConnContext, req *message.Request, w io.Writer) error {
		if req.Target == "/close" {
			cc.CloseConnection()
		}
		return respond(w, 200, req.Target, []byte("ok"))
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)

			_, addr := startServer(c, testConfig(), handler)
			conn, br := dial(c, addr)

			// the second request must never be answered
			_, err := io.WriteString(conn, tt.request+"GET /next HTTP/1.1\r\nHost: x\r\n\r\n")
			c.Assert(err, qt.IsNil)
			c.Assert(readResponse(c, br).body, qt.Equals, "ok")
			assertClosed(c, conn, br)
		})
	}
}

func TestServerClosesOnErrors(t *testing.T) {
	tests := []struct {
		name    string
		request string
	}{{
		name:    "handler error",
		request: "GET /fail HTTP/1.1\r\nHost: x\r\n\r\n",
	}, {
		name:    "handler panic",
		request: "GET /panic HTTP/1.1\r\nHost: x\r\n\r\n",
	}, {
		name:    "malformed request line",
		request: "NOT A REQUEST\r\n\r\n",
	}, {
		name:    "bad content length",
		request: "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: nope\r\n\r\n",
	}, {
		name:    "bad chunk size",
		request: "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n",
	}}

	handler := server.HandlerFunc(func(cc *server.ConnContext, req *message.Request, w io.Writer) error {
		switch req.Target {
		case "/fail":
			return errors.New("boom")
		case "/panic":
			panic("boom")
		}
		_, err := req.Body.ReadAll()
		if err != nil {
			return err
		}
		return respond(w, 200, req.Target, nil)
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)

			s, addr := startServer(c, testConfig(), handler)
			conn, br := dial(c, addr)

			_, err := io.WriteString(conn, tt.request)
			c.Assert(err, qt.IsNil)
			assertClosed(c, conn, br)
			waitFor(c, "connection removal", func() bool { return s.ActiveConnections() == 0 })
		})
	}
}

func TestServerIdleTimeout(t *testing.T) {
	c := qt.New(t)

	cfg := testConfig()
	cfg.IdleTimeout = server.Duration(50 * time.Millisecond)
	cfg.HandshakeTimeout = server.Duration(50 * time.Millisecond)
	_, addr := startServer(c, cfg, server.HandlerFunc(echo))

	// silent from the start
	conn, br := dial(c, addr)
	assertClosed(c, conn, br)

	// silent after one request
	conn, br = dial(c, addr)
	_, err := io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	c.Assert(err, qt.IsNil)
	c.Assert(readResponse(c, br).status, qt.Equals, 200)
	assertClosed(c, conn, br)
}

func TestServerFirstRequestWaitsForIdleTimeout(t *testing.T) {
	c := qt.New(t)

	cfg := testConfig()
	cfg.HandshakeTimeout = server.Duration(100 * time.Millisecond)
	_, addr := startServer(c, cfg, server.HandlerFunc(echo))

	// a plaintext client slower than the handshake timeout is still served
	conn, br := dial(c, addr)
	time.Sleep(300 * time.Millisecond)
	_, err := io.WriteString(conn, "GET /late HTTP/1.1\r\nHost: x\r\n\r\n")
	c.Assert(err, qt.IsNil)
	c.Assert(readResponse(c, br).target, qt.Equals, "/late")

	// a client that opens a TLS record and stalls gets the handshake timeout
	conn, br = dial(c, addr)
	_, err = conn.Write([]byte{0x16})
	c.Assert(err, qt.IsNil)
	start := time.Now()
	assertClosed(c, conn, br)
	c.Assert(time.Since(start) < time.Second, qt.IsTrue)
}

func TestServerShutdownWaitsForActiveRequests(t *testing.T) {
	c := qt.New(t)

	started := make(chan struct{})
	s, addr := startServer(c, testConfig(), server.HandlerFunc(func(cc *server.ConnContext, req *message.Request, w io.Writer) error {
		if req.Target == "/slow" {
			close(started)
			time.Sleep(200 * time.Millisecond)
		}
		return respond(w, 200, req.Target, []byte("done"))
	}))

	idle, idleBR := dial(c, addr)
	_, err := io.WriteString(idle, "GET /fast HTTP/1.1\r\nHost: x\r\n\r\n")
	c.Assert(err, qt.IsNil)
	c.Assert(readResponse(c, idleBR).body, qt.Equals, "done")

	busy, busyBR := dial(c, addr)
	_, err = io.WriteString(busy, "GET /slow HTTP/1.1\r\nHost: x\r\n\r\n")
	c.Assert(err, qt.IsNil)
	<-started
	waitFor(c, "idle state", func() bool {
		for _, cc := range s.Connections().Snapshot() {
			if cc.State() == server.StateIdle {
				return true
			}
		}
		return false
	})

	start := time.Now()
	c.Assert(s.Shutdown(context.Background()), qt.IsNil)
	c.Assert(time.Since(start) < 2*time.Second, qt.IsTrue)
	c.Assert(s.ActiveConnections(), qt.Equals, 0)

	c.Assert(readResponse(c, busyBR).body, qt.Equals, "done")
	assertClosed(c, busy, busyBR)
	assertClosed(c, idle, idleBR)

	_, err = net.DialTimeout("tcp", addr, time.Second)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestServerShutdownTimeoutIsNotAnError(t *testing.T) {
	c := qt.New(t)

	cfg := testConfig()
	cfg.ShutdownTimeout = server.Duration(100 * time.Millisecond)
	started := make(chan struct{})
	release := make(chan struct{})
	finished := atomic.NewBool(false)
	s, addr := startServer(c, cfg, server.HandlerFunc(func(cc *server.ConnContext, req *message.Request, w io.Writer) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	}))
	c.Cleanup(func() { close(release) })

	conn, _ := dial(c, addr)
	_, err := io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	c.Assert(err, qt.IsNil)
	<-started

	start := time.Now()
	c.Assert(s.Shutdown(context.Background()), qt.IsNil)
	c.Assert(time.Since(start) < time.Second, qt.IsTrue)
	c.Assert(finished.Load(), qt.IsFalse)
	c.Assert(s.ActiveConnections(), qt.Equals, 1)
}

func TestServerCloseFailsBlockedRead(t *testing.T) {
	c := qt.New(t)

	started := make(chan struct{})
	readErr := make(chan error, 1)
	s, addr := startServer(c, testConfig(), server.HandlerFunc(func(cc *server.ConnContext, req *message.Request, w io.Writer) error {
		close(started)
		_, err := req.Body.ReadAll()
		readErr <- err
		return err
	}))

	conn, _ := dial(c, addr)
	_, err := io.WriteString(conn, "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\n\r\nab")
	c.Assert(err, qt.IsNil)
	<-started

	c.Assert(s.Close(), qt.IsNil)
	select {
	case err := <-readErr:
		c.Assert(err, qt.Not(qt.IsNil))
	case <-time.After(time.Second):
		c.Fatal("blocked read survived Close")
	}
	waitFor(c, "connection removal", func() bool { return s.ActiveConnections() == 0 })
}

func newTLSServer(c *qt.C, cfg *server.Config, h server.Handler, onConnect server.OnConnectFunc) (string, *x509.CertPool) {
	cert, err := tlssession.SelfSigned("example.com", "a.allowed.test", "b.denied.test")
	c.Assert(err, qt.IsNil)
	factory, err := tlssession.NewFactory(tlssession.Config{Certificate: cert})
	c.Assert(err, qt.IsNil)
	roots := x509.NewCertPool()
	roots.AddCert(cert.Leaf)

	_, addr := startServer(c, cfg, h, func(s *server.Server) {
		s.TLS = factory
		s.OnConnect = onConnect
	})
	return addr, roots
}

func TestServerTerminatesTLS(t *testing.T) {
	c := qt.New(t)

	var mu sync.Mutex
	var sniffed []string
	onConnect := func(conn net.Conn, hello *sniff.ClientHello) bool {
		mu.Lock()
		defer mu.Unlock()
		sniffed = append(sniffed, fmt.Sprintf("%v/%s", hello.IsTLS(), hello.ServerName))
		return true
	}
	addr, roots := newTLSServer(c, testConfig(), server.HandlerFunc(func(cc *server.ConnContext, req *message.Request, w io.Writer) error {
		target := "plain"
		if s := cc.Session(); s != nil {
			target = s.ServerName + "/" + s.NegotiatedProtocol
		}
		return respond(w, 200, target, nil)
	}), onConnect)

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: "example.com", RootCAs: roots, NextProtos: []string{"http/1.1"}})
	c.Assert(err, qt.IsNil)
	defer conn.Close()
	br := bufio.NewReader(conn)
	for i := 0; i < 2; i++ {
		_, err = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
		c.Assert(err, qt.IsNil)
		c.Assert(readResponse(c, br).target, qt.Equals, "example.com/http/1.1")
	}

	plain, plainBR := dial(c, addr)
	_, err = io.WriteString(plain, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	c.Assert(err, qt.IsNil)
	c.Assert(readResponse(c, plainBR).target, qt.Equals, "plain")

	mu.Lock()
	defer mu.Unlock()
	c.Assert(sniffed, qt.DeepEquals, []string{"true/example.com", "false/"})
}

func TestServerFiltersHosts(t *testing.T) {
	c := qt.New(t)

	cfg := testConfig()
	cfg.AllowHosts = []string{"*.allowed.test"}
	addr, roots := newTLSServer(c, cfg, server.HandlerFunc(echo), nil)

	tests := []struct {
		serverName string
		wantErr    bool
	}{
		{"a.allowed.test", false},
		{"b.denied.test", true},
	}
	for _, tt := range tests {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: tt.serverName, RootCAs: roots})
		if tt.wantErr {
			c.Assert(err, qt.Not(qt.IsNil), qt.Commentf("%s", tt.serverName))
			continue
		}
		c.Assert(err, qt.IsNil, qt.Commentf("%s", tt.serverName))
		conn.Close()
	}
}

func TestServerRefusesTLSWithoutFactory(t *testing.T) {
	c := qt.New(t)

	_, addr := startServer(c, testConfig(), server.HandlerFunc(echo))
	_, err := tls.Dial("tcp", addr, &tls.Config{ServerName: "example.com", InsecureSkipVerify: true})
	c.Assert(err, qt.Not(qt.IsNil))
}

type recordingAddon struct {
	server.BaseAddon
	mu     sync.Mutex
	events []string
}

func (a *recordingAddon) record(e string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAddon) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func (a *recordingAddon) ConnectionOpened(*server.ConnContext) { a.record("opened") }
func (a *recordingAddon) RequestRead(_ *server.ConnContext, req *message.Request) {
	a.record("request " + req.Target)
}
func (a *recordingAddon) ConnectionClosed(cc *server.ConnContext) {
	a.record("closed " + cc.State().String())
}

func TestServerNotifiesAddons(t *testing.T) {
	c := qt.New(t)

	addon := &recordingAddon{}
	_, addr := startServer(c, testConfig(), server.HandlerFunc(echo), func(s *server.Server) {
		s.AddAddon(addon)
		s.AddAddon(&server.LogAddon{})
		s.AddAddon(server.NewInstanceLogAddon(s.Logger()))
	})

	conn, br := dial(c, addr)
	_, err := io.WriteString(conn, "GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	c.Assert(err, qt.IsNil)
	readResponse(c, br)
	readResponse(c, br)
	assertClosed(c, conn, br)

	waitFor(c, "close event", func() bool { return len(addon.Events()) == 4 })
	c.Assert(addon.Events(), qt.DeepEquals, []string{"opened", "request /a", "request /b", "closed closed"})
}

func TestServerResetConnection(t *testing.T) {
	c := qt.New(t)

	s, addr := startServer(c, testConfig(), server.HandlerFunc(func(cc *server.ConnContext, req *message.Request, w io.Writer) error {
		cc.ResetConnection()
		return nil
	}))
	conn, br := dial(c, addr)
	_, err := io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	c.Assert(err, qt.IsNil)

	c.Assert(conn.SetReadDeadline(time.Now().Add(2*time.Second)), qt.IsNil)
	_, err = br.ReadByte()
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(errors.Is(err, io.EOF) || !isTimeout(err), qt.IsTrue, qt.Commentf("%v", err))
	waitFor(c, "connection removal", func() bool { return s.ActiveConnections() == 0 })
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func TestServeAfterCloseFails(t *testing.T) {
	c := qt.New(t)

	s, err := server.New(testConfig(), server.HandlerFunc(echo))
	c.Assert(err, qt.IsNil)
	c.Assert(s.Close(), qt.IsNil)
	c.Assert(s.Addr(), qt.IsNil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, qt.IsNil)
	c.Assert(s.Serve(ln), qt.Equals, server.ErrServerClosed)
}
