// Package buildinfo exposes version metadata injected at build time.
package buildinfo

import "fmt"

// Info identifies one build of the chaos lab binary.
type Info struct {
	Version   string
	GitCommit string
	BuildDate string
}

// Set with -ldflags "-X cpu-chaos-lab/internal/buildinfo.Version=..." in release builds.
var (
	Version   = "dev"     //nolint:gochecknoglobals // ldflags target
	GitCommit = "unknown" //nolint:gochecknoglobals // ldflags target
	BuildDate = "unknown" //nolint:gochecknoglobals // ldflags target
)

// Current returns the metadata compiled into the running binary.
func Current() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
	}
}

// String renders the one-line form printed by --version.
func (i Info) String() string {
	return fmt.Sprintf("cpu-chaos-lab %s (commit %s, built %s)", i.Version, i.GitCommit, i.BuildDate)
}
