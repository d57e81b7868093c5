// Package vars holds build-time variables populated via the linker (ldflags).
package vars

import (
	"fmt"
	"io"
	"strconv"
	"time"
)

// Name of the project
const Name = "Outpost"

// License of the project
const License = "AGPL-3.0"

// URL to repository (https)
const URL = "https://github.com/woozymasta/outpost"

var (
	// Version of application (git tag) semver/tag, e.g. v1.2.3
	Version = "dev"

	// Commit is the current git commit, full or short git SHA
	Commit = "unknown"

	// BuildTime is the time of start build app, RFC3339 UTC
	BuildTime = time.Unix(0, 0).UTC()

	// Revision build, count of commits
	Revision = 0

	_revision  string
	_buildTime string
)

// BuildInfo is the build metadata exposed by /version and /healthz.
type BuildInfo struct {
	// betteralign:ignore

	BuildTime   time.Time `json:"build_time"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Commit      string    `json:"commit"`
	CommitShort string    `json:"commit_short"`
	URL         string    `json:"url,omitempty"`
	Revision    int       `json:"revision,omitempty"`
	License     string    `json:"license,omitempty"`
}

func init() {
	if n, err := strconv.Atoi(_revision); err == nil {
		Revision = n
	}

	if _buildTime != "" {
		if t, err := time.Parse(time.RFC3339, _buildTime); err == nil {
			BuildTime = t.UTC()
		}
	}
}

// Info returns the current build metadata.
func Info() BuildInfo {
	return BuildInfo{
		Name:        Name,
		Version:     Version,
		Commit:      Commit,
		CommitShort: CommitShort(),
		Revision:    Revision,
		BuildTime:   BuildTime,
		URL:         URL,
		License:     License,
	}
}

// Print writes human readable build information to w.
func Print(w io.Writer) {
	info := Info()
	_, _ = fmt.Fprintf(w, "name:     %s\nurl:      %s\nversion:  %s\ncommit:   %s\nrevision: %d\nbuilt:    %s\nlicense:  %s\n",
		info.Name, info.URL, info.Version, info.Commit, info.Revision, info.BuildTime.Format(time.RFC3339), info.License)
}

// CommitShort returns the first 7 characters of the git commit hash.
func CommitShort() string {
	if len(Commit) > 7 {
		return Commit[:7]
	}

	return Commit
}
