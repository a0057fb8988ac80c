// Package version holds build-time version metadata, populated via
// -ldflags at release build time and left at their defaults otherwise.
package version

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
