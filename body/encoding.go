package body

import (
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Decoder turns a compressed byte stream into its decompressed form.
type Decoder func(io.Reader) (io.ReadCloser, error)

// Registry resolves a content-encoding name to a Decoder.
type Registry interface {
	Lookup(name string) (Decoder, bool)
}

// Codecs is a Registry backed by a map keyed by lower-case encoding name.
type Codecs map[string]Decoder

// Lookup implements Registry. Names are matched case-insensitively.
func (c Codecs) Lookup(name string) (Decoder, bool) {
	d, ok := c[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// DefaultRegistry knows gzip, deflate, br and zstd.
func DefaultRegistry() Codecs {
	return Codecs{
		"gzip":    gzipDecoder,
		"x-gzip":  gzipDecoder,
		"deflate": deflateDecoder,
		"br":      brotliDecoder,
		"zstd":    zstdDecoder,
	}
}

func gzipDecoder(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func deflateDecoder(r io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(r), nil
}

func brotliDecoder(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(brotli.NewReader(r)), nil
}

func zstdDecoder(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}
