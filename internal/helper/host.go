package helper

import (
	"net"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/match"
)

// MatchHost reports whether address matches any of the host patterns.
// Patterns may use * and ? wildcards. A pattern without a port matches the
// host on any port; a pattern with a port must match both.
func MatchHost(address string, hosts []string) bool {
	hostname, port, err := net.SplitHostPort(address)
	if err != nil {
		hostname, port = address, ""
	}
	return lo.ContainsBy(hosts, func(pattern string) bool {
		if strings.Contains(pattern, ":") {
			return port != "" && match.Match(net.JoinHostPort(hostname, port), pattern)
		}
		return match.Match(hostname, pattern)
	})
}
