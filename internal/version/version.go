// Package version carries build metadata stamped in via -ldflags.
package version

import "time"

var (
	// Version is the release version.
	Version = ""
	// Commit is the git commit hash.
	Commit = ""
	// BuildTime is the build timestamp.
	BuildTime = ""
)

// String renders the version for `ckpt version` and the CLI banner. A
// dev build without stamped metadata falls back to the current time so
// every binary reports something distinguishable.
func String() string {
	v := Version
	if v == "" {
		v = BuildTime
	}
	if v == "" {
		v = time.Now().UTC().Format("20060102T150405Z")
	}
	if Commit == "" {
		return v
	}
	return v + " (" + shortCommit(Commit) + ")"
}

func shortCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}
