package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"golang.org/x/mod/semver"

	"fleet-rollout/internal/types"
)

// semVersion is a fully specified MAJOR.MINOR.PATCH[-PRE] version with its
// canonical "v" form used for ordering.
type semVersion struct {
	major, minor, patch uint64
	pre                 string
	canonical           string
}

// ValidateVersion reports whether value is usable as an installed
// version.
func ValidateVersion(value string) error {
	_, err := parseVersion(value)
	return err
}

// parseVersion parses an installed version string. A leading "v" is
// accepted and all three numeric components are required.
func parseVersion(value string) (semVersion, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(value), "v")
	invalid := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("invalid version %q", value))
	if strings.Count(strings.SplitN(strings.SplitN(raw, "-", 2)[0], "+", 2)[0], ".") != 2 {
		return semVersion{}, invalid
	}
	canonical := semver.Canonical("v" + raw)
	if canonical == "" {
		return semVersion{}, invalid
	}
	base := strings.TrimPrefix(canonical, "v")
	pre := strings.TrimPrefix(semver.Prerelease(canonical), "-")
	if pre != "" {
		base = strings.TrimSuffix(base, "-"+pre)
	}
	parts := strings.Split(base, ".")
	nums := make([]uint64, 3)
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return semVersion{}, invalid
		}
		nums[i] = n
	}
	return semVersion{major: nums[0], minor: nums[1], patch: nums[2], pre: pre, canonical: canonical}, nil
}

func (v semVersion) String() string {
	return strings.TrimPrefix(v.canonical, "v")
}

// versionCache memoizes parsed versions and requirements. The registry
// evaluates the same requirement strings against the same installed
// versions for every device poll.
type versionCache struct {
	versions     map[string]semVersion
	requirements map[string]types.Requirement
}

func newVersionCache() *versionCache {
	return &versionCache{
		versions:     map[string]semVersion{},
		requirements: map[string]types.Requirement{},
	}
}

func (c *versionCache) version(value string) (semVersion, error) {
	if parsed, ok := c.versions[value]; ok {
		return parsed, nil
	}
	parsed, err := parseVersion(value)
	if err != nil {
		return semVersion{}, err
	}
	c.versions[value] = parsed
	return parsed, nil
}

func (c *versionCache) requirement(value string) (types.Requirement, error) {
	if parsed, ok := c.requirements[value]; ok {
		return parsed, nil
	}
	parsed, err := ParseRequirement(value)
	if err != nil {
		return types.Requirement{}, err
	}
	c.requirements[value] = parsed
	return parsed, nil
}

// Satisfies reports whether version matches requirement. Both are parsed
// on every call; use a versionCache when evaluating many pairs.
func Satisfies(requirement string, version string) (bool, error) {
	return newVersionCache().satisfies(requirement, version)
}

func (c *versionCache) satisfies(requirement string, version string) (bool, error) {
	req, err := c.requirement(requirement)
	if err != nil {
		return false, err
	}
	v, err := c.version(version)
	if err != nil {
		return false, err
	}
	return matchesRequirement(req, v), nil
}

// matchesRequirement applies every comparator. A prerelease version only
// matches when some comparator names the same MAJOR.MINOR.PATCH with a
// prerelease of its own.
func matchesRequirement(req types.Requirement, v semVersion) bool {
	for _, c := range req.Comparators {
		if !matchesComparator(c, v) {
			return false
		}
	}
	if v.pre == "" {
		return true
	}
	for _, c := range req.Comparators {
		if c.Prerelease == "" || c.Minor == nil || c.Patch == nil {
			continue
		}
		if c.Major == v.major && *c.Minor == v.minor && *c.Patch == v.patch {
			return true
		}
	}
	return false
}

func matchesComparator(c types.Comparator, v semVersion) bool {
	switch c.Op {
	case types.ComparatorWildcard:
		return true
	case types.ComparatorExact:
		switch {
		case c.Minor == nil:
			return v.major == c.Major
		case c.Patch == nil:
			return v.major == c.Major && v.minor == *c.Minor
		default:
			return compareTo(v, c) == 0
		}
	case types.ComparatorGreater:
		switch {
		case c.Minor == nil:
			return v.major > c.Major
		case c.Patch == nil:
			return v.major > c.Major || (v.major == c.Major && v.minor > *c.Minor)
		default:
			return compareTo(v, c) > 0
		}
	case types.ComparatorGreaterEq:
		switch {
		case c.Minor == nil:
			return v.major >= c.Major
		case c.Patch == nil:
			return v.major > c.Major || (v.major == c.Major && v.minor >= *c.Minor)
		default:
			return compareTo(v, c) >= 0
		}
	case types.ComparatorLess:
		switch {
		case c.Minor == nil:
			return v.major < c.Major
		case c.Patch == nil:
			return v.major < c.Major || (v.major == c.Major && v.minor < *c.Minor)
		default:
			return compareTo(v, c) < 0
		}
	case types.ComparatorLessEq:
		switch {
		case c.Minor == nil:
			return v.major <= c.Major
		case c.Patch == nil:
			return v.major < c.Major || (v.major == c.Major && v.minor <= *c.Minor)
		default:
			return compareTo(v, c) <= 0
		}
	case types.ComparatorTilde:
		switch {
		case c.Minor == nil:
			return v.major == c.Major
		case c.Patch == nil:
			return v.major == c.Major && v.minor == *c.Minor
		default:
			return v.major == c.Major && v.minor == *c.Minor && compareTo(v, c) >= 0
		}
	case types.ComparatorCaret:
		return matchesCaret(c, v)
	default:
		return false
	}
}

// matchesCaret allows changes that do not modify the left-most non-zero
// component.
func matchesCaret(c types.Comparator, v semVersion) bool {
	if v.major != c.Major {
		return false
	}
	if c.Minor == nil {
		return true
	}
	if c.Patch == nil {
		if c.Major > 0 {
			return v.minor >= *c.Minor
		}
		return v.minor == *c.Minor
	}
	switch {
	case c.Major > 0:
		return compareTo(v, c) >= 0
	case *c.Minor > 0:
		return v.minor == *c.Minor && compareTo(v, c) >= 0
	default:
		return v.minor == *c.Minor && v.patch == *c.Patch && compareTo(v, c) >= 0
	}
}

// compareTo orders v against a fully specified comparator version.
func compareTo(v semVersion, c types.Comparator) int {
	bound := fmt.Sprintf("v%d.%d.%d", c.Major, *c.Minor, *c.Patch)
	if c.Prerelease != "" {
		bound += "-" + c.Prerelease
	}
	return semver.Compare(v.canonical, bound)
}
