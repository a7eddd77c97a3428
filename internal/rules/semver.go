package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// CurrentVersion is the rule-compiler version stamped onto every
// Compiled result. Scenarios declare a compatible_with range against
// this value; a scenario whose range excludes it is skipped by the
// director rather than evaluated, per the compatibility-gate
// testable property.
const CurrentVersion = "1.4.0"

// semver is a minimal (major, minor, patch) version, enough to
// satisfy scenario compatible_with ranges — the rule language has no
// pre-release/build-metadata concept, so those SemVer extensions are
// intentionally unsupported.
type semver struct {
	major, minor, patch int
}

func parseSemver(s string) (semver, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return semver{}, fmt.Errorf("rules: %q is not a valid version (expected major.minor.patch)", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return semver{}, fmt.Errorf("rules: %q is not a valid version component", p)
		}
		nums[i] = n
	}
	return semver{major: nums[0], minor: nums[1], patch: nums[2]}, nil
}

// compare returns -1, 0, or 1 as v is less than, equal to, or greater
// than other.
func (v semver) compare(other semver) int {
	switch {
	case v.major != other.major:
		return cmp(v.major, other.major)
	case v.minor != other.minor:
		return cmp(v.minor, other.minor)
	default:
		return cmp(v.patch, other.patch)
	}
}

func cmp(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (v semver) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

// VersionRange is a scenario's compatible_with declaration: an
// inclusive [Min, Max] bound. A zero-value Max (empty string) means
// "no upper bound".
type VersionRange struct {
	Min string
	Max string
}

// Compatible reports whether CurrentVersion falls within r.
func Compatible(r VersionRange) (bool, error) {
	cur, err := parseSemver(CurrentVersion)
	if err != nil {
		return false, err
	}
	if r.Min != "" {
		min, err := parseSemver(r.Min)
		if err != nil {
			return false, err
		}
		if cur.compare(min) < 0 {
			return false, nil
		}
	}
	if r.Max != "" {
		max, err := parseSemver(r.Max)
		if err != nil {
			return false, err
		}
		if cur.compare(max) > 0 {
			return false, nil
		}
	}
	return true, nil
}
