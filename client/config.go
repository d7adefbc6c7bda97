package client

import (
	"crypto/x509"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"

	"github.com/Serguei-P/http-sub000/body"
	"github.com/Serguei-P/http-sub000/internal/helper"
	"github.com/Serguei-P/http-sub000/message"
	"github.com/Serguei-P/http-sub000/wire"
)

// Config holds the client settings.
type Config struct {
	// Upstream is the upstream proxy address (e.g., "http://proxy:8080" or
	// "socks5://proxy:1080"). If empty, HTTP_PROXY, HTTPS_PROXY and
	// NO_PROXY are consulted for every dial.
	Upstream string `json:"upstream"`
	// SslInsecure skips certificate verification of the server and of an
	// https upstream proxy.
	SslInsecure bool `json:"ssl_insecure"`
	// RootCAs verifies the server certificate. Nil uses the system pool.
	RootCAs *x509.CertPool `json:"-"`

	DialTimeout helper.Duration `json:"dial_timeout"`
	// ReadTimeout bounds every socket read. Zero disables it.
	ReadTimeout helper.Duration `json:"read_timeout"`

	MaxLineLength  int   `json:"max_line_length"`
	MaxHeaderLines int   `json:"max_header_lines"`
	MaxChunkSize   int64 `json:"max_chunk_size"`

	// ChunkSize is the chunk size used for request bodies of unknown length.
	ChunkSize int `json:"chunk_size"`
	// CompressRequests gzips request bodies and sends them chunked.
	CompressRequests bool `json:"compress_requests"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		DialTimeout:    helper.Duration(30 * time.Second),
		ReadTimeout:    helper.Duration(60 * time.Second),
		MaxLineLength:  wire.DefaultMaxLineLength,
		MaxHeaderLines: wire.DefaultMaxHeaderLines,
		MaxChunkSize:   64 << 20,
	}
}

// LoadConfig reads a JSON config file. Fields missing from the file keep
// the NewConfig defaults.
func LoadConfig(filename string) (*Config, error) {
	cfg := NewConfig()
	if err := helper.NewStructFromFile(filename, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) messageOptions() message.Options {
	return message.Options{
		MaxLineLength:  c.MaxLineLength,
		MaxHeaderLines: c.MaxHeaderLines,
		MaxChunkSize:   c.MaxChunkSize,
		Registry:       body.DefaultRegistry(),
	}
}

// ProxyURL returns the upstream proxy to use for target, or nil to dial
// directly. It checks in order:
// 1. Upstream (if configured)
// 2. Environment variables (HTTP_PROXY, HTTPS_PROXY, NO_PROXY)
func (c *Config) ProxyURL(target *url.URL) (*url.URL, error) {
	if len(c.Upstream) > 0 {
		return url.Parse(c.Upstream)
	}
	return httpproxy.FromEnvironment().ProxyFunc()(target)
}
