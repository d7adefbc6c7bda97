// Package helper holds small utilities shared by the server and the client.
package helper

import (
	"encoding/json"
	"net"
	"net/url"
	"os"
)

// NewStructFromFile decodes the JSON file at filename into v.
func NewStructFromFile(filename string, v any) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	return nil
}

var portMap = map[string]string{
	"http":   "80",
	"https":  "443",
	"socks5": "1080",
}

// CanonicalAddr returns url.Host but always with a ":port" suffix.
func CanonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = portMap[u.Scheme]
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// PortOf returns the port part of a listen address such as ":8080" or
// "127.0.0.1:8080", or the address itself when it has none.
func PortOf(addr string) string {
	if _, port, err := net.SplitHostPort(addr); err == nil {
		return port
	}
	return addr
}
