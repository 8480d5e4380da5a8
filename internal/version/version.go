package version

import "fmt"

var (
	// Version is the current firmware version, set with -ldflags at build time.
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
)

// String is the value reported on the version telemetry line.
func String() string {
	if GitSHA == "unknown" || GitSHA == "" {
		return Version
	}
	sha := GitSHA
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return fmt.Sprintf("%s+%s", Version, sha)
}
