// Package version carries build metadata stamped in via
// -ldflags "-X github.com/skald-labs/skald/internal/version.Version=...".
package version

var (
	// Version is the release tag, "dev" for unstamped builds.
	Version = "dev"

	// GitCommit is the short commit hash of the build.
	GitCommit = "unknown"

	// BuildTime is when the binary was produced, RFC3339.
	BuildTime = "unknown"
)
