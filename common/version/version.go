// Package version holds build metadata injected with -ldflags.
package version

var (
	// Version is the semantic version.
	Version = "v0.0.0-dev"

	// GitCommit is the git commit hash.
	GitCommit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info returns a one-line description suitable for `rivanna version` and
// the status endpoint.
func Info() string {
	return "rivanna " + Version + " (" + GitCommit + ") built at " + BuildTime
}
