// Package version exposes what the release pipeline stamped into the
// binary, completed from the Go toolchain's embedded VCS settings.
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
)

// Linked with -ldflags "-X github.com/keithlinneman/linnemanlabs-ssr/internal/version.Version=...".
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildID    string
	GoVersion  string
	VCSDirty   *bool

	// BuildMode decides which pipeline stages exist at all. Release
	// packaging links "production".
	BuildMode = string(Development)
)

type Mode string

const (
	Production  Mode = "production"
	Development Mode = "development"
)

func (m Mode) IsProduction() bool  { return m == Production }
func (m Mode) IsDevelopment() bool { return m == Development }

func ParseMode(s string) (Mode, error) {
	if m := Mode(s); m == Production || m == Development {
		return m, nil
	}
	return "", fmt.Errorf("invalid build mode %q (must be %s or %s)", s, Production, Development)
}

// CurrentMode parses the linked BuildMode.
func CurrentMode() (Mode, error) { return ParseMode(BuildMode) }

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildID    string `json:"build_id"`
	BuildMode  string `json:"build_mode"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Dirty reports a build from a modified tree; unknown counts as clean.
func (i Info) Dirty() bool { return i.VCSDirty != nil && *i.VCSDirty }

func (i Info) String() string {
	return fmt.Sprintf("%s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, build_mode=%s, go=%s, dirty=%t)",
		i.Version, i.Commit, i.CommitDate, i.BuildID, i.BuildDate, i.BuildMode, i.GoVersion, i.Dirty())
}

// Get returns the linked values. Fields the linker left unset are filled
// from the module's build settings when present.
func Get() Info {
	info := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildID:    BuildID,
		BuildMode:  BuildMode,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fill(bi)
	}
	return info
}

func (i *Info) fill(bi *debug.BuildInfo) {
	i.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		if s.Value == "" {
			continue
		}
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "none" {
				i.Commit = s.Value
			}
		case "vcs.time":
			i.CommitDate = s.Value
			if i.BuildDate == "" {
				i.BuildDate = s.Value
			}
		case "vcs.modified":
			if dirty, err := strconv.ParseBool(s.Value); err == nil {
				i.VCSDirty = &dirty
			}
		}
	}
}
