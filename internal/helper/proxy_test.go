package helper_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/url"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/Serguei-P/http-sub000/internal/helper"
	"github.com/Serguei-P/http-sub000/message"
)

// fakeConnectProxy answers one CONNECT with status, then echoes the tunnel.
func fakeConnectProxy(c *qt.C, status int) (*url.URL, <-chan *message.Request) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { ln.Close() })

	seen := make(chan *message.Request, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		req, err := message.ReadRequest(br, message.Options{})
		if err != nil {
			return
		}
		seen <- req
		head := message.NewResponseHead(status)
		if status != 200 {
			head.Header.Set("Content-Length", "0")
		}
		if err := head.Write(conn); err != nil {
			return
		}
		_, _ = io.Copy(conn, br)
	}()
	return &url.URL{Scheme: "http", Host: ln.Addr().String(), User: url.UserPassword("u", "p")}, seen
}

func TestGetProxyConnTunnels(t *testing.T) {
	c := qt.New(t)

	proxyURL, seen := fakeConnectProxy(c, 200)
	conn, err := helper.GetProxyConn(context.Background(), proxyURL, "target.test:443", false)
	c.Assert(err, qt.IsNil)
	defer conn.Close()

	req := <-seen
	c.Assert(req.Method, qt.Equals, "CONNECT")
	c.Assert(req.Target, qt.Equals, "target.test:443")
	c.Assert(req.Header.Get("Proxy-Authorization"), qt.Equals, "Basic dTpw")

	_, err = conn.Write([]byte("ping"))
	c.Assert(err, qt.IsNil)
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf), qt.Equals, "ping")
}

func TestGetProxyConnRefused(t *testing.T) {
	c := qt.New(t)

	proxyURL, _ := fakeConnectProxy(c, 407)
	_, err := helper.GetProxyConn(context.Background(), proxyURL, "target.test:443", false)
	c.Assert(err, qt.ErrorMatches, `proxy CONNECT target.test:443: 407 Proxy Authentication Required`)
}
