package meta

import (
	"fmt"
	"runtime"
)

// Info describes how a megaphone binary was built. The values are set by
// the linker, see the vars below.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

// These will be filled in using the linker -X flag
var (
	// Version as an arbitrary string
	Version string

	// Build is the Git sha from when we are building
	Build string

	// Branch is the Git branch that we are building from
	Branch string

	// BuildTimeUTC is the build time in UTC (year/month/day hour:min:sec)
	BuildTimeUTC string

	// GoTag lists the build tags
	GoTag string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

// UserAgent identifies the binary in logs, "megaphone/<version>".
func UserAgent() string {
	return "megaphone/" + orDev(Version)
}

// GetInfo returns an Info struct populated with the build information.
func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Version:   Version,
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  platform,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("megaphone %s (%s, %s) built %s on %s with %s",
		orDev(i.Version), i.Build, i.Branch, i.BuildTime, i.Platform, i.GoVersion)
}

func orDev(v string) string {
	if v == "" {
		return "dev"
	}

	return v
}
