// Package version identifies the coffer release and provides release
// string parsing and comparison.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the release reported by cofferd and announced in the
// protocol greeting. Overridden at build time:
//
//	go build -ldflags "-X github.com/coffer-backup/coffer-go/pkg/version.Version=2.41.1"
var Version = "2.41.0-dev"

// Release is a parsed "major.minor[.patch][-pre]" release version.
type Release struct {
	Major uint16
	Minor uint16
	Patch uint16

	// Pre is the pre-release suffix after the dash, e.g. "dev".
	// Empty for final releases.
	Pre string
}

// Parse parses a release string.
func Parse(s string) (Release, error) {
	var r Release

	base := s
	if i := strings.IndexByte(s, '-'); i >= 0 {
		base = s[:i]
		r.Pre = s[i+1:]
		if r.Pre == "" {
			return Release{}, fmt.Errorf("invalid release %q: empty pre-release suffix", s)
		}
	}

	parts := strings.Split(base, ".")
	if len(parts) != 2 && len(parts) != 3 {
		return Release{}, fmt.Errorf("invalid release %q: expected major.minor or major.minor.patch", s)
	}

	fields := []*uint16{&r.Major, &r.Minor, &r.Patch}
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 16)
		if err != nil || part == "" {
			return Release{}, fmt.Errorf("invalid release %q: bad component %q", s, part)
		}
		*fields[i] = uint16(n)
	}
	return r, nil
}

// String returns the canonical release string.
func (r Release) String() string {
	s := fmt.Sprintf("%d.%d.%d", r.Major, r.Minor, r.Patch)
	if r.Pre != "" {
		s += "-" + r.Pre
	}
	return s
}

// Compare orders two releases. Pre-release suffixes sort before the
// final release with the same numbers, so 2.41.0-dev < 2.41.0.
func (r Release) Compare(other Release) int {
	pairs := [][2]uint16{
		{r.Major, other.Major},
		{r.Minor, other.Minor},
		{r.Patch, other.Patch},
	}
	for _, p := range pairs {
		if p[0] != p[1] {
			if p[0] < p[1] {
				return -1
			}
			return 1
		}
	}

	switch {
	case r.Pre == other.Pre:
		return 0
	case r.Pre == "":
		return 1
	case other.Pre == "":
		return -1
	default:
		return strings.Compare(r.Pre, other.Pre)
	}
}

// Compatible reports whether the other release speaks the same wire
// protocol. Major versions define compatibility.
func (r Release) Compatible(other Release) bool {
	return r.Major == other.Major
}
