// Package kernel describes Darwin kernel versions and the macOS releases they map to.
package kernel

import (
	"errors"
	"fmt"
	"math"
	"regexp"

	semver "github.com/hashicorp/go-version"
)

// Darwin kernel major versions
const (
	Mavericks   = 13
	Yosemite    = 14
	ElCapitan   = 15
	Sierra      = 16
	HighSierra  = 17
	Mojave      = 18
	Catalina    = 19
	BigSur      = 20
	unknownName = "Unknown"
)

var ErrInvalidVersion = errors.New("invalid kernel version")

var releaseNames = map[int]string{
	Mavericks:  "Mavericks",
	Yosemite:   "Yosemite",
	ElCapitan:  "El Capitan",
	Sierra:     "Sierra",
	HighSierra: "High Sierra",
	Mojave:     "Mojave",
	Catalina:   "Catalina",
	BigSur:     "Big Sur",
}

var bannerRE = regexp.MustCompile(`Darwin Kernel Version (\d+\.\d+(?:\.\d+)?)`)

// Version is a Darwin kernel version (the `uname -r` value, e.g. 17.7.0)
type Version struct {
	Major int
	Minor int
	Patch int
}

// Parse parses a kernel release string such as "17.7.0" or "16.1"
func Parse(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("%w %q: %v", ErrInvalidVersion, s, err)
	}
	segs := v.Segments()
	if len(segs) < 1 || segs[0] <= 0 {
		return Version{}, fmt.Errorf("%w %q", ErrInvalidVersion, s)
	}
	kv := Version{Major: segs[0]}
	if len(segs) > 1 {
		kv.Minor = segs[1]
	}
	if len(segs) > 2 {
		kv.Patch = segs[2]
	}
	return kv, nil
}

// ParseBanner extracts the version from a kernel version banner
// ("Darwin Kernel Version 16.7.0: Thu Jun 15 17:36:27 PDT 2017; root:xnu-3789.70.16~2/RELEASE_X86_64")
func ParseBanner(banner string) (Version, error) {
	m := bannerRE.FindStringSubmatch(banner)
	if m == nil {
		return Version{}, fmt.Errorf("%w: no version in banner", ErrInvalidVersion)
	}
	return Parse(m[1])
}

// Last returns a version greater than every release of the given major version
func Last(major int) Version {
	return Version{Major: major, Minor: math.MaxInt32, Patch: math.MaxInt32}
}

// IsZero reports whether v was never set
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0 && v.Patch == 0
}

// Compare returns -1, 0 or +1 depending on whether v is less than, equal to or greater than o
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Patch, o.Patch)
	}
}

// Semver returns v as a hashicorp version for constraint checks
func (v Version) Semver() *semver.Version {
	return semver.Must(semver.NewVersion(v.String()))
}

// Satisfies reports whether v matches every constraint in c
func (v Version) Satisfies(c semver.Constraints) bool {
	if v.IsZero() {
		return false
	}
	return c.Check(v.Semver())
}

// Name returns the macOS release name for the kernel major version
func (v Version) Name() string {
	if name, ok := releaseNames[v.Major]; ok {
		return name
	}
	return unknownName
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
