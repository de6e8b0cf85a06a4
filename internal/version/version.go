// Package version carries build metadata injected via ldflags.
package version

var (
	// Version is the release tag, set by the build system.
	Version = "dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
