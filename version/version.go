package version

import (
	"fmt"

	"pretorin/internal/codexruntime"
)

// Version and Commit are set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = ""
)

// Get returns the current version
func Get() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// String describes this build and the runtime it manages.
func String() string {
	v := Get()
	if Commit != "" {
		v += " (" + Commit + ")"
	}
	return fmt.Sprintf("pretorin %s, managed runtime %s", v, codexruntime.PinnedVersion)
}
