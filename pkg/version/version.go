package version

var (
	// Version contains the current version of wire-sentinel
	Version = "dev"

	// CommitHash contains the current git commit hash
	CommitHash = "unknown"

	// BuildTime contains the time of build
	BuildTime = "unknown"
)

// String formats the build stamps for -version output.
func String() string {
	return "wire-sentinel version " + Version + " (commit: " + CommitHash + ", built at: " + BuildTime + ")"
}
