package core

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"fleet-rollout/internal/types"
)

// Eligibility is the outcome of matching one entry against a query.
type Eligibility int

const (
	NotEligible Eligibility = iota
	Eligible
	// EligibleWithEnrollment means the device may take the entry only by
	// being added to its whitelist.
	EligibleWithEnrollment
)

func (e Eligibility) String() string {
	switch e {
	case Eligible:
		return "eligible"
	case EligibleWithEnrollment:
		return "eligible-with-enrollment"
	default:
		return "not-eligible"
	}
}

// Resolver evaluates registry entries against device queries. It is not
// safe for concurrent use; create one per query.
type Resolver struct {
	cache *versionCache
}

func NewResolver() *Resolver {
	return &Resolver{cache: newVersionCache()}
}

// SelectEntry scans entries newest first by sequence number and returns
// the index of the first eligible entry, or -1.
func (r *Resolver) SelectEntry(ctx context.Context, entries []types.PackageEntry, query types.PackageQuery) (int, Eligibility) {
	for _, idx := range newestFirst(entries) {
		if eligibility := r.EntryEligibility(ctx, entries[idx], query); eligibility != NotEligible {
			return idx, eligibility
		}
	}
	return -1, NotEligible
}

// EntryEligibility checks requirements first and the whitelist second.
func (r *Resolver) EntryEligibility(ctx context.Context, entry types.PackageEntry, query types.PackageQuery) Eligibility {
	if !query.IgnoreRequirements && !r.RequirementsSatisfied(ctx, entry, query) {
		return NotEligible
	}
	return DeviceEligibility(entry, query)
}

// RequirementsSatisfied reports whether every declared dependency
// requirement holds against the versions the device reported. A missing or
// unparsable version fails its requirement.
func (r *Resolver) RequirementsSatisfied(ctx context.Context, entry types.PackageEntry, query types.PackageQuery) bool {
	names := make([]string, 0, len(entry.Requirements))
	for name := range entry.Requirements {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		requirement := entry.Requirements[name]
		installed, ok := installedVersion(name, query)
		if !ok {
			log.Ctx(ctx).Debug().
				Str("package", entry.Version.Name).
				Str("dependency", name).
				Msg("dependency not installed")
			return false
		}
		satisfied, err := r.cache.satisfies(requirement, installed)
		if err != nil {
			log.Ctx(ctx).Warn().
				Err(err).
				Str("package", entry.Version.Name).
				Str("dependency", name).
				Str("requirement", requirement).
				Str("installed", installed).
				Msg("dependency requirement could not be evaluated")
			return false
		}
		if !satisfied {
			return false
		}
	}
	return true
}

// DeviceEligibility applies the whitelist rules. Anonymous callers can
// never enroll.
func DeviceEligibility(entry types.PackageEntry, query types.PackageQuery) Eligibility {
	if query.IgnoreRequirements || len(entry.Whitelist) == 0 {
		return Eligible
	}
	if query.DeviceID == nil {
		return NotEligible
	}
	if entry.Whitelisted(*query.DeviceID) {
		return Eligible
	}
	if uint64(entry.AutoWhitelistLimit) > uint64(len(entry.Whitelist)) {
		return EligibleWithEnrollment
	}
	return NotEligible
}

func installedVersion(name string, query types.PackageQuery) (string, bool) {
	if query.ImagePackage != "" && name == query.ImagePackage {
		if query.ImageVersion == nil {
			return "", false
		}
		return *query.ImageVersion, true
	}
	version, ok := query.Installed[name]
	return version, ok
}

func newestFirst(entries []types.PackageEntry) []int {
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return entries[order[i]].Seq > entries[order[j]].Seq
	})
	return order
}

// ResolutionArches lists the architectures a query is resolved against,
// exact match first.
func ResolutionArches(arch types.Arch) []types.Arch {
	if arch == types.ArchAny || arch == "" {
		return []types.Arch{types.ArchAny}
	}
	return []types.Arch{arch, types.ArchAny}
}
