// Package version holds build metadata injected at link time.
package version

var (
	Version = "0.1.0"
	Commit  = "dev"
	Date    = "unknown"
)
