// Package version carries the build identity stamped in at link time via
// -ldflags "-X".
package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the version together with the git SHA when one was
// stamped in.
func String() string {
	if GitSHA == "" || GitSHA == "unknown" {
		return Version
	}
	return Version + " (" + GitSHA + ")"
}
