package version

import "fmt"

// Version is set via ldflags in release builds:
// go build -ldflags "-X git.home.luguber.info/inful/buildgraph/internal/version.Version=v0.3.0".
var Version = "unknown"

var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version line printed by `buildgraph --version`.
func String() string {
	return fmt.Sprintf("buildgraph %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
