package version

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestString(t *testing.T) {
	c := qt.New(t)

	defer func(v, cm, d string) { Version, Commit, Date = v, cm, d }(Version, Commit, Date)
	Version, Commit, Date = "1.2.3", "abc123", "2026-01-01T00:00:00Z"

	c.Assert(String(), qt.Equals, "1.2.3 (abc123, built 2026-01-01T00:00:00Z)")
	c.Assert(UserAgent(), qt.Equals, "http-sub000/1.2.3")
}

func TestDefaultValues(t *testing.T) {
	c := qt.New(t)

	c.Assert(Version, qt.Not(qt.Equals), "")
	c.Assert(Commit, qt.Not(qt.Equals), "")
	c.Assert(Date, qt.Not(qt.Equals), "")
}
