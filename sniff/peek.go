package sniff

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/cryptobyte"

	"github.com/Serguei-P/http-sub000/wire"
)

// DefaultMaxRecord bounds the record body read while sniffing.
const DefaultMaxRecord = 1<<14 + 2048

const (
	recordTypeHandshake      = 0x16
	handshakeTypeClientHello = 1
	sslv2ClientHello         = 1

	extServerName        = 0
	extALPN              = 16
	extSupportedVersions = 43

	serverNameTypeHostName = 0
)

// Peek parses the ClientHello at the front of rr and then rewinds rr, so the
// next reader sees the stream as if nothing had been read. The returned
// summary is never nil. A stream that is not TLS, a record above maxRecord,
// or a stream that ends early yield a partial summary and a nil error. An
// *AnomalyError is returned for lengths that contradict each other; any
// other error comes from the underlying stream.
func Peek(rr *wire.ReplayReader, maxRecord int) (*ClientHello, error) {
	if maxRecord <= 0 {
		maxRecord = DefaultMaxRecord
	}
	rr.Mark()
	defer rr.Reset()

	hello := &ClientHello{}
	err := peek(rr, maxRecord, hello)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	return hello, err
}

// OpensHello reports whether b, the first byte a client sends, starts a
// TLS handshake record or an SSLv2 hello.
func OpensHello(b byte) bool {
	return b == recordTypeHandshake || b&0x80 != 0
}

func peek(r io.Reader, maxRecord int, hello *ClientHello) error {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return err
	}
	switch {
	case first[0] == recordTypeHandshake:
		return peekTLS(r, maxRecord, hello)
	case first[0]&0x80 != 0:
		return peekSSLv2(r, first[0], maxRecord, hello)
	}
	return nil
}

func peekTLS(r io.Reader, maxRecord int, hello *ClientHello) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	if hdr[0] != 3 {
		// handshake type byte but no SSL3/TLS major version
		return nil
	}
	hello.RecordVersion = Version(uint16(hdr[0])<<8 | uint16(hdr[1]))
	length := int(hdr[2])<<8 | int(hdr[3])
	if length > maxRecord {
		return nil
	}
	record := make([]byte, length)
	if _, err := io.ReadFull(r, record); err != nil {
		return err
	}
	return parseClientHello(cryptobyte.String(record), hello)
}

func parseClientHello(s cryptobyte.String, hello *ClientHello) error {
	var msgType uint8
	var msg cryptobyte.String
	if !s.ReadUint8(&msgType) {
		return anomaly("handshake", "empty record")
	}
	if msgType != handshakeTypeClientHello {
		return nil
	}
	if !s.ReadUint24LengthPrefixed(&msg) {
		return anomaly("handshake", "message length exceeds record")
	}

	var version uint16
	if !msg.ReadUint16(&version) {
		return anomaly("client_version", "truncated")
	}
	hello.HandshakeVersion = Version(version)

	var sessionID, ciphers, compression cryptobyte.String
	switch {
	case !msg.Skip(32):
		return anomaly("random", "truncated")
	case !msg.ReadUint8LengthPrefixed(&sessionID):
		return anomaly("session_id", "length exceeds message")
	}
	hello.SessionID = append([]byte(nil), sessionID...)
	switch {
	case !msg.ReadUint16LengthPrefixed(&ciphers):
		return anomaly("cipher_suites", "length exceeds message")
	case !msg.ReadUint8LengthPrefixed(&compression):
		return anomaly("compression_methods", "length exceeds message")
	}
	if msg.Empty() {
		// no extensions block
		return nil
	}

	var exts cryptobyte.String
	if !msg.ReadUint16LengthPrefixed(&exts) {
		return anomaly("extensions", "length exceeds message")
	}
	for !exts.Empty() {
		var typ uint16
		var data cryptobyte.String
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&data) {
			return anomaly("extensions", "entry length exceeds block")
		}
		var err error
		switch typ {
		case extServerName:
			err = parseServerName(data, hello)
		case extALPN:
			err = parseALPN(data, hello)
		case extSupportedVersions:
			err = parseSupportedVersions(data, hello)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func parseServerName(data cryptobyte.String, hello *ClientHello) error {
	var list cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&list) {
		return anomaly("server_name", "list length exceeds extension")
	}
	for !list.Empty() {
		var nameType uint8
		var name cryptobyte.String
		if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&name) {
			return anomaly("server_name", "entry length exceeds list")
		}
		if nameType == serverNameTypeHostName && hello.ServerName == "" {
			hello.ServerName = latin1(name)
		}
	}
	return nil
}

func parseALPN(data cryptobyte.String, hello *ClientHello) error {
	var list cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&list) {
		return anomaly("alpn", "list length exceeds extension")
	}
	for !list.Empty() {
		var proto cryptobyte.String
		if !list.ReadUint8LengthPrefixed(&proto) {
			return anomaly("alpn", "protocol length exceeds list")
		}
		hello.ALPNProtocols = append(hello.ALPNProtocols, string(proto))
	}
	return nil
}

func parseSupportedVersions(data cryptobyte.String, hello *ClientHello) error {
	var list cryptobyte.String
	if !data.ReadUint8LengthPrefixed(&list) {
		return anomaly("supported_versions", "list length exceeds extension")
	}
	for !list.Empty() {
		var v uint16
		if !list.ReadUint16(&v) {
			return anomaly("supported_versions", "odd list length")
		}
		hello.SupportedVersions = append(hello.SupportedVersions, Version(v))
	}
	return nil
}

// peekSSLv2 reads a two byte header record whose first byte has the high
// bit set, followed by a CLIENT-HELLO message.
func peekSSLv2(r io.Reader, first byte, maxRecord int, hello *ClientHello) error {
	var hdr [4]byte // length low byte, msg type, version
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	length := int(first&0x7f)<<8 | int(hdr[0])
	if hdr[1] != sslv2ClientHello || length < 3 {
		return nil
	}
	hello.SSLv2 = true
	hello.RecordVersion = VersionSSL20
	hello.HandshakeVersion = Version(uint16(hdr[2])<<8 | uint16(hdr[3]))
	if length > maxRecord {
		return nil
	}

	rest := make([]byte, length-3)
	if _, err := io.ReadFull(r, rest); err != nil {
		return err
	}
	s := cryptobyte.String(rest)
	var cipherLen, sessionLen, challengeLen uint16
	if !s.ReadUint16(&cipherLen) || !s.ReadUint16(&sessionLen) || !s.ReadUint16(&challengeLen) {
		return anomaly("sslv2_hello", "truncated")
	}
	if int(cipherLen)+int(sessionLen)+int(challengeLen) != len(s) {
		return anomaly("sslv2_hello", "field lengths %d+%d+%d do not add up to %d",
			cipherLen, sessionLen, challengeLen, len(s))
	}
	var sessionID []byte
	if !s.Skip(int(cipherLen)) || !s.ReadBytes(&sessionID, int(sessionLen)) {
		return anomaly("sslv2_hello", "truncated")
	}
	hello.SessionID = append([]byte(nil), sessionID...)
	return nil
}

// latin1 decodes one byte per character.
func latin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}
