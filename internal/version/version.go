// Package version exposes build metadata stamped in via -ldflags.
package version

// Populated at build time:
//
//	go build -ldflags "-X .../internal/version.Version=v0.1.0 -X .../internal/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns the version string alone.
func Short() string {
	return Version
}

// Info returns a one-line human-readable version string.
func Info() string {
	return Version + " (" + Commit + ", " + Date + ")"
}

// Map returns all build metadata for health endpoints.
func Map() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	}
}
