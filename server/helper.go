package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/Serguei-P/http-sub000/wire"
)

var normalErrMsgs = []string{
	"read: connection reset by peer",
	"write: broken pipe",
	"i/o timeout",
	"io: read/write on closed pipe",
	"use of closed network connection",
	"tls: first record does not look like a TLS handshake",
}

// Only print unexpected error messages.
func logErr(logger *slog.Logger, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || wire.IsTimeout(err) {
		logger.Debug("normal error", "error", err)
		return
	}
	msg := err.Error()
	for _, str := range normalErrMsgs {
		if strings.Contains(msg, str) {
			logger.Debug("normal error", "error", err)
			return
		}
	}

	logger.Error("unexpected error", "error", err)
}
