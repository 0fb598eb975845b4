// Package version carries build information for ezstats.
package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags "-X github.com/papaganelli/ezstats/internal/version.Version=...".
var (
	Version   = "0.3.0"
	GitCommit = "dev"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

const shortCommitLen = 7

// Info returns the multi-line output of -version.
func Info() string {
	return fmt.Sprintf(
		"ezstats version %s\n"+
			"Git commit: %s\n"+
			"Build date: %s\n"+
			"Go version: %s\n"+
			"OS/Arch: %s/%s",
		Version,
		GitCommit,
		BuildDate,
		GoVersion,
		runtime.GOOS,
		runtime.GOARCH,
	)
}

// Short returns the version with an abbreviated commit, as written to the error log.
func Short() string {
	if GitCommit == "dev" || GitCommit == "" {
		return Version
	}
	commit := GitCommit
	if len(commit) > shortCommitLen {
		commit = commit[:shortCommitLen]
	}
	return fmt.Sprintf("%s (%s)", Version, commit)
}
