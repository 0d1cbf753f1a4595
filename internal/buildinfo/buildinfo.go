// Package buildinfo carries version metadata stamped at link time with
// -ldflags "-X driveguard/internal/buildinfo.Version=...".
package buildinfo

import "runtime"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"builtAt":   BuiltAt,
		"goVersion": runtime.Version(),
	}
}

// String renders the version line printed by the CLI.
func String() string {
	s := Version
	if Commit != "" {
		s += " (" + Commit + ")"
	}
	if BuiltAt != "" {
		s += " built " + BuiltAt
	}
	return s
}
