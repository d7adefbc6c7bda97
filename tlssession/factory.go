// Package tlssession performs server-side TLS handshakes and reports what
// was negotiated, peer certificates included, as a plain value.
package tlssession

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net"

	"github.com/Serguei-P/http-sub000/internal/helper"
)

// ErrNoCertificate is returned when neither a cache nor a static
// certificate is configured.
var ErrNoCertificate = errors.New("tlssession: no certificate configured")

// Session is the outcome of a completed handshake.
type Session struct {
	Conn               *tls.Conn
	ServerName         string
	NegotiatedProtocol string
	CipherSuite        uint16
	Version            uint16
	PeerCertificates   []*x509.Certificate
}

// CipherSuiteName returns the IANA name of the negotiated suite.
func (s *Session) CipherSuiteName() string {
	return tls.CipherSuiteName(s.CipherSuite)
}

// VersionName returns a readable name for the negotiated version.
func (s *Session) VersionName() string {
	return tls.VersionName(s.Version)
}

// Config selects the certificates and policy of a Factory.
type Config struct {
	// Certificate is presented when Certs is nil or the client sent no
	// server name.
	Certificate *tls.Certificate
	// Certs, when set, supplies a certificate per server name.
	Certs *CertCache
	// NextProtos defaults to http/1.1 only.
	NextProtos []string
	ClientAuth tls.ClientAuthType
	ClientCAs  *x509.CertPool
	MinVersion uint16
}

// Factory turns raw connections into TLS sessions.
type Factory struct {
	config *tls.Config
}

// NewFactory validates cfg and builds a Factory.
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.Certificate == nil && cfg.Certs == nil {
		return nil, ErrNoCertificate
	}
	nextProtos := cfg.NextProtos
	if len(nextProtos) == 0 {
		nextProtos = []string{"http/1.1"}
	}
	minVersion := cfg.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	f := &Factory{}
	f.config = &tls.Config{
		SessionTicketsDisabled: true,
		NextProtos:             nextProtos,
		ClientAuth:             cfg.ClientAuth,
		ClientCAs:              cfg.ClientCAs,
		MinVersion:             minVersion,
		KeyLogWriter:           helper.GetTLSKeyLogWriter(),
		GetCertificate: func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
			if cfg.Certs != nil && chi.ServerName != "" {
				c, err := cfg.Certs.Get(chi.ServerName)
				if err == nil || cfg.Certificate == nil {
					return c, err
				}
				slog.Default().With("in", "Factory.GetCertificate").
					Debug("falling back to default certificate", "serverName", chi.ServerName, "error", err)
			}
			if cfg.Certificate == nil {
				return nil, ErrNoCertificate
			}
			return cfg.Certificate, nil
		},
	}
	return f, nil
}

// Handshake runs the server side of a TLS handshake on conn. On failure
// the caller still owns conn and must close it.
func (f *Factory) Handshake(ctx context.Context, conn net.Conn) (*Session, error) {
	tlsConn := tls.Server(conn, f.config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	state := tlsConn.ConnectionState()
	return &Session{
		Conn:               tlsConn,
		ServerName:         state.ServerName,
		NegotiatedProtocol: state.NegotiatedProtocol,
		CipherSuite:        state.CipherSuite,
		Version:            state.Version,
		PeerCertificates:   state.PeerCertificates,
	}, nil
}
