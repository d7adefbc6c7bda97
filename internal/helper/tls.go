package helper

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Wireshark HTTPS parsing configuration
var tlsKeyLogWriter io.Writer
var tlsKeyLogOnce sync.Once

// GetTLSKeyLogWriter returns a writer appending to $SSLKEYLOGFILE, or nil
// when the variable is unset or the file cannot be opened. The file is
// opened once per process.
func GetTLSKeyLogWriter() io.Writer {
	tlsKeyLogOnce.Do(func() {
		logfile := os.Getenv("SSLKEYLOGFILE")
		if logfile == "" {
			return
		}

		writer, err := os.OpenFile(logfile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			slog.Debug("GetTLSKeyLogWriter OpenFile error", "file", logfile, "error", err)
			return
		}

		tlsKeyLogWriter = writer
	})
	return tlsKeyLogWriter
}
