package body

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/Serguei-P/http-sub000/wire"
)

// DeclaredFromHeader reads Content-Length, Transfer-Encoding and
// Content-Encoding from h. A Transfer-Encoding whose last coding is not
// chunked is only accepted when allowUnbounded is set, and then the body
// runs until close.
func DeclaredFromHeader(h http.Header, allowUnbounded bool) (Declared, error) {
	d := Declared{ContentLength: -1, AllowUnbounded: allowUnbounded}

	if codings := tokens(h.Values("Transfer-Encoding")); len(codings) > 0 {
		if strings.EqualFold(codings[len(codings)-1], "chunked") {
			d.Chunked = true
		} else if !allowUnbounded {
			return d, wire.NewFramingError(wire.KindLength,
				"transfer-encoding "+strings.Join(codings, ",")+" without chunked", nil)
		}
	}

	if values := tokens(h.Values("Content-Length")); len(values) > 0 {
		if len(lo.Uniq(values)) > 1 {
			return d, wire.NewFramingError(wire.KindLength, "conflicting content-length values", nil)
		}
		n, err := strconv.ParseInt(values[0], 10, 64)
		if err != nil || n < 0 {
			return d, wire.NewFramingError(wire.KindLength, "invalid content-length "+strconv.Quote(values[0]), nil)
		}
		if d.Chunked {
			slog.Default().With("in", "body.DeclaredFromHeader").Debug("content-length ignored for chunked body", "content_length", n)
		} else {
			d.ContentLength = n
		}
	}

	if codings := lo.Reject(tokens(h.Values("Content-Encoding")), func(c string, _ int) bool {
		return strings.EqualFold(c, "identity")
	}); len(codings) == 1 {
		d.ContentEncoding = strings.ToLower(codings[0])
	} else if len(codings) > 1 {
		// stacked codings are passed through undecoded
		slog.Default().With("in", "body.DeclaredFromHeader").Debug("stacked content-encoding left as is", "codings", codings)
	}

	return d, nil
}

func tokens(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, lo.Compact(lo.Map(strings.Split(v, ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		}))...)
	}
	return out
}
