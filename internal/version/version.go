// Package version holds build-time version information, injected via ldflags.
package version

import "fmt"

var (
	// Version is the semantic version of the build (e.g. v1.2.0).
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)

// Info returns a single-line human-readable version string.
func Info() string {
	return fmt.Sprintf("imgproxy %s (commit %s, built %s)", Version, Commit, Date)
}
