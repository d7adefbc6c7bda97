package sniff_test

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"testing"

	qt "github.com/frankban/quicktest"
	"golang.org/x/crypto/cryptobyte"

	"github.com/Serguei-P/http-sub000/sniff"
	"github.com/Serguei-P/http-sub000/wire"
)

// captureHello returns the first record a crypto/tls client sends.
func captureHello(c *qt.C, cfg *tls.Config) []byte {
	client, server := net.Pipe()
	defer server.Close()
	go func() {
		_ = tls.Client(client, cfg).Handshake()
		client.Close()
	}()

	hdr := make([]byte, 5)
	_, err := io.ReadFull(server, hdr)
	c.Assert(err, qt.IsNil)
	record := make([]byte, int(hdr[3])<<8|int(hdr[4]))
	_, err = io.ReadFull(server, record)
	c.Assert(err, qt.IsNil)
	return append(hdr, record...)
}

// helloRecord builds a ClientHello record with the given extensions.
func helloRecord(sessionID []byte, extensions func(b *cryptobyte.Builder)) []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(0x16)
	b.AddUint16(0x0301)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(1)
		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16(0x0303)
			b.AddBytes(make([]byte, 32))
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(sessionID) })
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint16(0x1301) })
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint8(0) })
			if extensions != nil {
				b.AddUint16LengthPrefixed(extensions)
			}
		})
	})
	return b.BytesOrPanic()
}

func peekAndReplay(c *qt.C, data []byte) (*sniff.ClientHello, error) {
	rr := wire.NewReplayReader(bytes.NewReader(data))
	hello, err := sniff.Peek(rr, 0)
	c.Assert(hello, qt.Not(qt.IsNil))

	// whatever was read must come back untouched
	c.Assert(rr.State(), qt.Not(qt.Equals), wire.Recording)
	again, rerr := io.ReadAll(rr)
	c.Assert(rerr, qt.IsNil)
	c.Assert(bytes.Equal(again, data), qt.IsTrue, qt.Commentf("replayed %x, want %x", again, data))
	return hello, err
}

func TestPeekRealClientHello(t *testing.T) {
	c := qt.New(t)

	record := captureHello(c, &tls.Config{
		ServerName: "example.com",
		NextProtos: []string{"h2", "http/1.1"},
		MinVersion: tls.VersionTLS12,
	})
	hello, err := peekAndReplay(c, append(record, "trailing"...))
	c.Assert(err, qt.IsNil)

	c.Assert(hello.ServerName, qt.Equals, "example.com")
	c.Assert(hello.IsTLS(), qt.IsTrue)
	c.Assert(hello.RecordVersion, qt.Equals, sniff.VersionTLS10)
	c.Assert(hello.HandshakeVersion, qt.Equals, sniff.VersionTLS12)
	c.Assert(hello.ALPNProtocols, qt.DeepEquals, []string{"h2", "http/1.1"})
	c.Assert(hello.OffersALPN("http/1.1"), qt.IsTrue)
	c.Assert(hello.MaxVersion(), qt.Equals, sniff.VersionTLS13)
	c.Assert(hello.SSLv2, qt.IsFalse)
}

func TestPeekNotTLS(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"two random bytes", []byte{0x47, 0x45}},
		{"plain request", []byte("GET / HTTP/1.1\r\n\r\n")},
		{"handshake byte then end", []byte{0x16, 0x03}},
		{"handshake byte without tls version", []byte{0x16, 0x47, 0x45, 0x54, 0x20, 0x2f}},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			hello, err := peekAndReplay(c, tt.data)
			c.Assert(err, qt.IsNil)
			c.Assert(hello.RecordVersion, qt.Equals, sniff.Version(0))
			c.Assert(hello.HandshakeVersion, qt.Equals, sniff.Version(0))
			c.Assert(hello.HandshakeVersion.String(), qt.Equals, "undefined")
			c.Assert(hello.ServerName, qt.Equals, "")
			c.Assert(hello.IsTLS(), qt.IsFalse)
		})
	}
}

func TestPeekRecordAboveCeiling(t *testing.T) {
	c := qt.New(t)

	data := []byte{0x16, 0x03, 0x01, 0x40, 0x00, 0x01}
	rr := wire.NewReplayReader(bytes.NewReader(data))
	hello, err := sniff.Peek(rr, 100)
	c.Assert(err, qt.IsNil)
	c.Assert(hello.RecordVersion, qt.Equals, sniff.VersionTLS10)
	c.Assert(hello.HandshakeVersion, qt.Equals, sniff.Version(0))

	again, _ := io.ReadAll(rr)
	c.Assert(again, qt.DeepEquals, data)
}

func TestPeekServerNameEntries(t *testing.T) {
	c := qt.New(t)

	record := helloRecord([]byte{9, 9}, func(b *cryptobyte.Builder) {
		b.AddUint16(0)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8(7) // not a host name
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte("other")) })
				b.AddUint8(0)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte{'c', 'a', 'f', 0xe9}) })
				b.AddUint8(0)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte("second")) })
			})
		})
	})
	hello, err := peekAndReplay(c, record)
	c.Assert(err, qt.IsNil)
	c.Assert(hello.ServerName, qt.Equals, "café")
	c.Assert(hello.SessionID, qt.DeepEquals, []byte{9, 9})
	c.Assert(hello.SupportedVersions, qt.HasLen, 0)
	c.Assert(hello.MaxVersion(), qt.Equals, sniff.VersionTLS12)
}

func TestPeekWithoutExtensions(t *testing.T) {
	c := qt.New(t)

	hello, err := peekAndReplay(c, helloRecord(nil, nil))
	c.Assert(err, qt.IsNil)
	c.Assert(hello.HandshakeVersion, qt.Equals, sniff.VersionTLS12)
	c.Assert(hello.ServerName, qt.Equals, "")
	c.Assert(hello.SessionID, qt.HasLen, 0)
}

func TestPeekAnomalies(t *testing.T) {
	badSessionID := cryptobyte.NewBuilder(nil)
	badSessionID.AddUint8(0x16)
	badSessionID.AddUint16(0x0301)
	badSessionID.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(1)
		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16(0x0303)
			b.AddBytes(make([]byte, 32))
			b.AddUint8(200)
			b.AddBytes([]byte{1, 2, 3})
		})
	})

	badExtension := helloRecord(nil, func(b *cryptobyte.Builder) {
		b.AddUint16(16)
		b.AddUint16(50) // claims more than is left
		b.AddUint8(1)
	})

	tests := []struct {
		name  string
		data  []byte
		field string
	}{
		{"session id longer than message", badSessionID.BytesOrPanic(), "session_id"},
		{"extension longer than block", badExtension, "extensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			hello, err := peekAndReplay(c, tt.data)
			var ae *sniff.AnomalyError
			c.Assert(errors.As(err, &ae), qt.IsTrue, qt.Commentf("err: %v", err))
			c.Assert(ae.Field, qt.Equals, tt.field)
			c.Assert(hello.HandshakeVersion, qt.Equals, sniff.VersionTLS12)
		})
	}
}

func TestPeekSSLv2Hello(t *testing.T) {
	c := qt.New(t)

	challenge := bytes.Repeat([]byte{0xaa}, 16)
	msg := []byte{
		0x01,       // CLIENT-HELLO
		0x03, 0x01, // version
		0x00, 0x03, // cipher specs length
		0x00, 0x00, // session id length
		0x00, 0x10, // challenge length
		0x01, 0x00, 0x80,
	}
	msg = append(msg, challenge...)
	data := append([]byte{0x80, byte(len(msg))}, msg...)

	hello, err := peekAndReplay(c, data)
	c.Assert(err, qt.IsNil)
	c.Assert(hello.SSLv2, qt.IsTrue)
	c.Assert(hello.RecordVersion, qt.Equals, sniff.VersionSSL20)
	c.Assert(hello.HandshakeVersion, qt.Equals, sniff.VersionTLS10)
	c.Assert(hello.RecordVersion.String(), qt.Equals, "SSLv2")

	// lengths that do not add up
	bad := append([]byte{}, data...)
	bad[10] = 0x20
	_, err = peekAndReplay(c, bad)
	var ae *sniff.AnomalyError
	c.Assert(errors.As(err, &ae), qt.IsTrue)
}
