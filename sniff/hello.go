// Package sniff peeks at the first bytes of a connection and extracts what
// a TLS (or legacy SSLv2) ClientHello says about the client, without
// consuming anything: the bytes are replayed to whoever reads next.
package sniff

import (
	"fmt"

	"github.com/samber/lo"
)

// Version is a protocol version as it appears on the wire.
type Version uint16

const (
	VersionSSL20 Version = 0x0002
	VersionSSL30 Version = 0x0300
	VersionTLS10 Version = 0x0301
	VersionTLS11 Version = 0x0302
	VersionTLS12 Version = 0x0303
	VersionTLS13 Version = 0x0304
)

func (v Version) String() string {
	switch v {
	case 0:
		return "undefined"
	case VersionSSL20:
		return "SSLv2"
	case VersionSSL30:
		return "SSLv3"
	case VersionTLS10:
		return "TLSv1"
	case VersionTLS11:
		return "TLSv1.1"
	case VersionTLS12:
		return "TLSv1.2"
	case VersionTLS13:
		return "TLSv1.3"
	}
	return fmt.Sprintf("0x%04x", uint16(v))
}

// ClientHello is a best-effort summary. Fields the client did not send, or
// that could not be reached, keep their zero value.
type ClientHello struct {
	ServerName        string
	HandshakeVersion  Version
	RecordVersion     Version
	SessionID         []byte
	ALPNProtocols     []string
	SupportedVersions []Version
	// SSLv2 is set when the hello used the legacy SSLv2 record layout.
	SSLv2 bool
}

// IsTLS reports whether a TLS or SSL record was recognized at all.
func (h *ClientHello) IsTLS() bool {
	return h != nil && h.RecordVersion != 0
}

// MaxVersion returns the highest version offered, preferring the
// supported_versions extension over the legacy version field.
func (h *ClientHello) MaxVersion() Version {
	if h == nil {
		return 0
	}
	if len(h.SupportedVersions) > 0 {
		return lo.Max(lo.Filter(h.SupportedVersions, func(v Version, _ int) bool {
			return !isGrease(uint16(v))
		}))
	}
	return h.HandshakeVersion
}

// OffersALPN reports whether proto is among the ALPN protocols.
func (h *ClientHello) OffersALPN(proto string) bool {
	return h != nil && lo.Contains(h.ALPNProtocols, proto)
}

// GREASE values (RFC 8701) are reserved noise a client sprinkles in lists.
func isGrease(v uint16) bool {
	return v&0x0f0f == 0x0a0a && v>>8 == v&0xff
}

// AnomalyError reports a length field that cannot be right. It is never a
// reason to drop the connection; the summary simply stops where parsing did.
type AnomalyError struct {
	Field string
	Msg   string
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("client hello anomaly in %s: %s", e.Field, e.Msg)
}

func anomaly(field, format string, args ...any) *AnomalyError {
	return &AnomalyError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
