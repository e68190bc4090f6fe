package app

import "fmt"

// Version, Commit, and BuildTime are stamped through -ldflags "-X ..." by the
// release build. Local builds keep the defaults.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuildVersion renders the version line for startup logs and the health
// endpoint. An unstamped local build reports the bare version.
func BuildVersion() string {
	if Commit == "unknown" && BuildTime == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime)
}
