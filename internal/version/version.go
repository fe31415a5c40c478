// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/MeKo-Tech/facecls/internal/version.Version=1.2.0"
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables set by ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get returns the build metadata of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("facecls %s (commit: %s, built: %s, %s)", i.Version, i.GitCommit, i.BuildDate, i.GoVersion)
}
