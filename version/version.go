// Package version holds build information, set with -ldflags at build time:
//
//	-X github.com/Serguei-P/http-sub000/version.Version=x.y.z
package version

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String returns the version, commit and build date.
func String() string {
	return Version + " (" + Commit + ", built " + Date + ")"
}

// UserAgent is the User-Agent the client sends when the request has none.
func UserAgent() string {
	return "http-sub000/" + Version
}
