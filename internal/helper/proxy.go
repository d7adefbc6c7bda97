package helper

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"github.com/Serguei-P/http-sub000/message"
)

// GetProxyConn connects to address through the upstream proxy at proxyURL.
// socks5 URLs go through a SOCKS5 dialer; http and https URLs open a
// CONNECT tunnel, https first wrapping the hop to the proxy in TLS.
func GetProxyConn(ctx context.Context, proxyURL *url.URL, address string, sslInsecure bool) (net.Conn, error) {
	if proxyURL.Scheme == "socks5" {
		proxyAuth := &proxy.Auth{}
		if proxyURL.User != nil {
			proxyAuth.User = proxyURL.User.Username()
			proxyAuth.Password, _ = proxyURL.User.Password()
		}
		dialer, err := proxy.SOCKS5("tcp", CanonicalAddr(proxyURL), proxyAuth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		dc, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("SOCKS5 dialer does not support DialContext")
		}
		return dc.DialContext(ctx, "tcp", address)
	}

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", CanonicalAddr(proxyURL))
	if err != nil {
		return nil, err
	}
	if proxyURL.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         proxyURL.Hostname(),
			InsecureSkipVerify: sslInsecure,
			KeyLogWriter:       GetTLSKeyLogWriter(),
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	connectReq := &message.Request{
		Method: http.MethodConnect,
		Target: address,
		Header: http.Header{"Host": {address}},
	}
	if proxyURL.User != nil {
		connectReq.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(proxyURL.User.String())))
	}

	connectCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	defer cancel()
	didReadResponse := make(chan struct{}) // closed after CONNECT write+read is done or fails
	var resp *message.Response
	go func() {
		defer close(didReadResponse)
		w := bufio.NewWriter(conn)
		if err = connectReq.WriteHead(w); err != nil {
			return
		}
		if err = w.Flush(); err != nil {
			return
		}
		// conn is read a byte at a time, so the tunnel starts right after the head
		resp, err = message.ReadResponse(conn, http.MethodConnect, message.Options{})
	}()
	select {
	case <-connectCtx.Done():
		conn.Close()
		<-didReadResponse
		return nil, connectCtx.Err()
	case <-didReadResponse:
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT %s: %d %s", address, resp.StatusCode, resp.Reason)
	}
	return conn, nil
}
