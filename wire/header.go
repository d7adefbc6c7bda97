package wire

import (
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// DefaultMaxHeaderLines bounds the number of field lines in one block.
const DefaultMaxHeaderLines = 256

// ReadHeader reads "Name: value" lines until an empty line and collects them
// into an http.Header. maxLines of zero or less selects DefaultMaxHeaderLines.
// End of stream before the empty line is reported as io.ErrUnexpectedEOF.
func ReadHeader(lr *LineReader, maxLines int) (http.Header, error) {
	if maxLines <= 0 {
		maxLines = DefaultMaxHeaderLines
	}
	h := make(http.Header)
	for n := 0; ; n++ {
		line, err := lr.ReadLine()
		if err != nil {
			if err == io.EOF {
				return h, io.ErrUnexpectedEOF
			}
			return h, err
		}
		if line == "" {
			return h, nil
		}
		if n >= maxLines {
			return h, NewFramingError(KindHeader, "too many header lines", nil)
		}
		name, value, err := ParseHeaderLine(line)
		if err != nil {
			return h, err
		}
		h.Add(name, value)
	}
}

// ParseHeaderLine splits a single field line into its name and value.
func ParseHeaderLine(line string) (string, string, error) {
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", NewFramingError(KindHeader, "missing colon in "+quote(line), nil)
	}
	if !httpguts.ValidHeaderFieldName(name) {
		return "", "", NewFramingError(KindHeader, "invalid field name "+quote(name), nil)
	}
	value = strings.TrimSpace(value)
	if !httpguts.ValidHeaderFieldValue(value) {
		return "", "", NewFramingError(KindHeader, "invalid value for "+name, nil)
	}
	return name, value, nil
}

func quote(s string) string {
	const max = 64
	if len(s) > max {
		s = s[:max] + "..."
	}
	return `"` + s + `"`
}
