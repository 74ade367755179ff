// Package buildconfig exposes the values stamped into the binary at link time:
//
//	go build -ldflags "-X github.com/Harshitk-cp/agentd/internal/buildconfig.version=v1.2.0 \
//	  -X github.com/Harshitk-cp/agentd/internal/buildconfig.commit=$(git rev-parse --short HEAD)"
package buildconfig

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = ""
)

func Version() string {
	return version
}

func Commit() string {
	return commit
}

// Info is the build description served by /metrics and `agentd version`.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	s := fmt.Sprintf("agentd %s (%s, %s)", i.Version, i.Commit, i.GoVersion)
	if i.BuildTime != "" {
		s += " built " + i.BuildTime
	}
	return s
}
