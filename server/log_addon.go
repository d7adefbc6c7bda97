package server

import (
	"log/slog"
	"time"

	"github.com/Serguei-P/http-sub000/message"
)

// LogAddon logs connection events using the global slog logger.
type LogAddon struct {
	BaseAddon
}

func (*LogAddon) ConnectionOpened(cc *ConnContext) {
	slog.Info("client connected", "remoteAddr", cc.Conn.RemoteAddr().String())
}

func (*LogAddon) TLSEstablished(cc *ConnContext) {
	s := cc.Session()
	slog.Info("tls established",
		"remoteAddr", cc.Conn.RemoteAddr().String(),
		"serverName", s.ServerName,
		"version", s.VersionName(),
		"cipherSuite", s.CipherSuiteName(),
		"alpn", s.NegotiatedProtocol,
	)
}

func (*LogAddon) RequestRead(cc *ConnContext, req *message.Request) {
	slog.Debug("request read",
		"remoteAddr", cc.Conn.RemoteAddr().String(),
		"method", req.Method,
		"target", req.Target,
		"body", req.Body.Frame().String(),
	)
}

func (*LogAddon) ConnectionClosed(cc *ConnContext) {
	slog.Info("client disconnected",
		"remoteAddr", cc.Conn.RemoteAddr().String(),
		"messages", cc.MessageCount(),
		"durationMs", time.Since(cc.Accepted).Milliseconds(),
	)
}

// InstanceLogAddon logs connection events with instance identification.
type InstanceLogAddon struct {
	BaseAddon
	logger *InstanceLogger
}

// NewInstanceLogAddon creates an addon writing through logger.
func NewInstanceLogAddon(logger *InstanceLogger) *InstanceLogAddon {
	return &InstanceLogAddon{logger: logger}
}

func (adn *InstanceLogAddon) ConnectionOpened(cc *ConnContext) {
	adn.logger.WithFields(
		"client_addr", cc.Conn.RemoteAddr().String(),
		"conn_id", cc.ID.String(),
		"event", "connection_opened",
	).Info("Connection opened")
}

func (adn *InstanceLogAddon) TLSEstablished(cc *ConnContext) {
	adn.logger.WithFields(
		"client_addr", cc.Conn.RemoteAddr().String(),
		"conn_id", cc.ID.String(),
		"server_name", cc.Session().ServerName,
		"event", "tls_established",
	).Info("TLS established")
}

func (adn *InstanceLogAddon) RequestRead(cc *ConnContext, req *message.Request) {
	adn.logger.WithFields(
		"client_addr", cc.Conn.RemoteAddr().String(),
		"conn_id", cc.ID.String(),
		"method", req.Method,
		"target", req.Target,
		"event", "request_read",
	).Debug("Request read")
}

func (adn *InstanceLogAddon) ConnectionClosed(cc *ConnContext) {
	adn.logger.WithFields(
		"client_addr", cc.Conn.RemoteAddr().String(),
		"conn_id", cc.ID.String(),
		"messages", cc.MessageCount(),
		"event", "connection_closed",
	).Info("Connection closed")
}
