package server

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/Serguei-P/http-sub000/body"
	"github.com/Serguei-P/http-sub000/internal/helper"
	"github.com/Serguei-P/http-sub000/message"
	"github.com/Serguei-P/http-sub000/sniff"
	"github.com/Serguei-P/http-sub000/tlssession"
	"github.com/Serguei-P/http-sub000/wire"
)

// Duration reads and writes JSON as a Go duration string such as "30s".
type Duration = helper.Duration

// Config holds the server settings.
type Config struct {
	Addr         string `json:"addr"`
	InstanceName string `json:"instance_name"`
	LogFilePath  string `json:"log_file"`

	// IdleTimeout bounds every socket read once the connection is set up.
	IdleTimeout Duration `json:"idle_timeout"`
	// HandshakeTimeout bounds sniffing and the TLS handshake.
	HandshakeTimeout Duration `json:"handshake_timeout"`
	// ShutdownTimeout caps how long Shutdown waits for workers.
	ShutdownTimeout Duration `json:"shutdown_timeout"`

	MaxLineLength  int   `json:"max_line_length"`
	MaxHeaderLines int   `json:"max_header_lines"`
	MaxChunkSize   int64 `json:"max_chunk_size"`
	MaxRecordSize  int   `json:"max_record_size"`

	// AllowHosts and IgnoreHosts filter TLS clients by server name.
	AllowHosts  []string `json:"allow_hosts"`
	IgnoreHosts []string `json:"ignore_hosts"`

	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

// NewConfig creates a new Config with the given address.
// It sets default values for other fields.
func NewConfig(addr string) *Config {
	return &Config{
		Addr:             addr,
		IdleTimeout:      Duration(60 * time.Second),
		HandshakeTimeout: Duration(10 * time.Second),
		ShutdownTimeout:  Duration(30 * time.Second),
		MaxLineLength:    wire.DefaultMaxLineLength,
		MaxHeaderLines:   wire.DefaultMaxHeaderLines,
		MaxChunkSize:     64 << 20,
		MaxRecordSize:    sniff.DefaultMaxRecord,
	}
}

// LoadConfig reads a JSON config file. Fields missing from the file keep
// the NewConfig defaults.
func LoadConfig(filename string) (*Config, error) {
	cfg := NewConfig("")
	if err := helper.NewStructFromFile(filename, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", filename, err)
	}
	return cfg, nil
}

// MessageOptions returns the limits applied to requests read by the server.
func (c *Config) MessageOptions() message.Options {
	return message.Options{
		MaxLineLength:  c.MaxLineLength,
		MaxHeaderLines: c.MaxHeaderLines,
		MaxChunkSize:   c.MaxChunkSize,
		Registry:       body.DefaultRegistry(),
	}
}

// TLSFactory builds a session factory from CertFile and KeyFile. It returns
// nil when no certificate is configured.
func (c *Config) TLSFactory() (*tlssession.Factory, error) {
	if c.CertFile == "" && c.KeyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return tlssession.NewFactory(tlssession.Config{Certificate: &cert})
}
