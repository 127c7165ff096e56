package duckling

import (
	"fmt"
	"strings"
)

// Version represents the DuckDB version information
type Version struct {
	Major      int
	Minor      int
	Patch      int
	VersionStr string
}

// String returns the version as a string
func (v Version) String() string {
	if v.VersionStr != "" {
		return v.VersionStr
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast checks if the version is at least the given major, minor, patch
func (v Version) AtLeast(major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Patch >= patch
}

// ParseVersion parses a library version string such as "v1.2.1" or a
// development build like "v1.3.0-dev1234". Parts that cannot be read are
// left at zero; VersionStr always keeps the input.
func ParseVersion(s string) Version {
	v := Version{VersionStr: s}

	core := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if i := strings.IndexAny(core, "-+ "); i >= 0 {
		core = core[:i]
	}
	fmt.Sscanf(core, "%d.%d.%d", &v.Major, &v.Minor, &v.Patch)
	return v
}
