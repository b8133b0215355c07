package adapters

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"fleet-rollout/internal/core"
	"fleet-rollout/internal/policies"
	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

// RegistryFileAdapter keeps the package index in memory and rewrites the
// whole index file after every mutation. Reads never touch disk.
type RegistryFileAdapter struct {
	Path    string
	Metrics ports.MetricsPort

	mu    sync.RWMutex
	index types.RegistryIndex
}

// OpenRegistryFile loads the index at path. A missing file is an empty
// registry.
func OpenRegistryFile(path string) (*RegistryFileAdapter, error) {
	a := &RegistryFileAdapter{Path: path, Metrics: NopMetrics{}}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			a.index = emptyIndex()
			return a, nil
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read registry index").
			WithCause(err)
	}
	var index types.RegistryIndex
	if err := yaml.Unmarshal(content, &index); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse registry index").
			WithCause(err)
	}
	if index.Channels == nil {
		index.Channels = emptyIndex().Channels
	}
	a.index = index
	return a, nil
}

func emptyIndex() types.RegistryIndex {
	return types.RegistryIndex{NextSeq: 1, Channels: map[string]map[types.Arch]map[string][]types.PackageEntry{}}
}

// GetPackage resolves the newest eligible entry for the exact architecture,
// then for the wildcard architecture. Enrollment is checked under the read
// lock first and only re-validated and applied under the write lock.
func (a *RegistryFileAdapter) GetPackage(ctx context.Context, query types.PackageQuery) (*types.PackageEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	found, eligibility := a.resolveLocked(ctx, query)
	var out *types.PackageEntry
	if found != nil && eligibility == core.Eligible {
		clone := a.entryAt(*found).Clone()
		out = &clone
	}
	a.mu.RUnlock()
	if found == nil || eligibility == core.Eligible {
		return out, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Another enroller may have taken the last slot meanwhile.
	found, eligibility = a.resolveLocked(ctx, query)
	if found == nil {
		return nil, nil
	}
	if eligibility == core.EligibleWithEnrollment {
		if err := a.enrollLocked(*found, *query.DeviceID); err != nil {
			return nil, err
		}
		a.Metrics.IncEnrollments(query.Channel, query.Name)
		log.Ctx(ctx).Info().
			Str("channel", query.Channel).
			Str("package", query.Name).
			Str("device", query.DeviceID.String()).
			Msg("device auto-enrolled into whitelist")
	}
	clone := a.entryAt(*found).Clone()
	return &clone, nil
}

type entryRef struct {
	channel string
	arch    types.Arch
	name    string
	idx     int
}

func (a *RegistryFileAdapter) entryAt(ref entryRef) types.PackageEntry {
	return a.index.Channels[ref.channel][ref.arch][ref.name][ref.idx]
}

func (a *RegistryFileAdapter) resolveLocked(ctx context.Context, query types.PackageQuery) (*entryRef, core.Eligibility) {
	resolver := core.NewResolver()
	for _, arch := range core.ResolutionArches(query.Arch) {
		entries := a.index.Channels[query.Channel][arch][query.Name]
		idx, eligibility := resolver.SelectEntry(ctx, entries, query)
		if idx >= 0 {
			return &entryRef{channel: query.Channel, arch: arch, name: query.Name, idx: idx}, eligibility
		}
	}
	return nil, core.NotEligible
}

func (a *RegistryFileAdapter) enrollLocked(ref entryRef, device types.DeviceID) error {
	return a.mutateLocked(ref.channel, ref.arch, ref.name, func(entries []types.PackageEntry) ([]types.PackageEntry, error) {
		entries[ref.idx] = policies.Enroll(entries[ref.idx], device)
		return entries, nil
	})
}

// PushPackage inserts entry or replaces the entry with the same content
// hash in place, keeping its sequence number.
func (a *RegistryFileAdapter) PushPackage(ctx context.Context, channel string, entry types.PackageEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := policies.ValidateChannel(channel); err != nil {
		return err
	}
	if err := policies.ValidatePackageName(entry.Version.Name); err != nil {
		return err
	}
	if err := policies.ValidateArch(entry.Version.Arch); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	nextSeq := a.index.NextSeq
	err := a.mutateLocked(channel, entry.Version.Arch, entry.Version.Name, func(entries []types.PackageEntry) ([]types.PackageEntry, error) {
		stored := entry.Clone()
		for i := range entries {
			if entries[i].Version.Hash == entry.Version.Hash {
				stored.Seq = entries[i].Seq
				entries[i] = stored
				return entries, nil
			}
		}
		stored.Seq = a.index.NextSeq
		a.index.NextSeq++
		return append(entries, stored), nil
	})
	if err != nil {
		a.index.NextSeq = nextSeq
	}
	return err
}

// ChangeWhitelist applies change to the entry with exactly this content
// hash. It reports false when no entry matches.
func (a *RegistryFileAdapter) ChangeWhitelist(ctx context.Context, channel string, arch types.Arch, name string, hash types.Hash, change types.WhitelistChange) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := -1
	for i, e := range a.index.Channels[channel][arch][name] {
		if e.Version.Hash == hash {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	err := a.mutateLocked(channel, arch, name, func(entries []types.PackageEntry) ([]types.PackageEntry, error) {
		changed, err := policies.ApplyWhitelistChange(entries[idx], change)
		if err != nil {
			return nil, err
		}
		entries[idx] = changed
		return entries, nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Entries lists the entries of one package, oldest first.
func (a *RegistryFileAdapter) Entries(ctx context.Context, channel string, arch types.Arch, name string) ([]types.PackageEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	entries := a.index.Channels[channel][arch][name]
	out := make([]types.PackageEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Clone())
	}
	return out, nil
}

// mutateLocked runs fn on a private copy of one entry list, installs the
// result, and persists the index. The previous list is restored when
// persisting fails.
func (a *RegistryFileAdapter) mutateLocked(channel string, arch types.Arch, name string, fn func([]types.PackageEntry) ([]types.PackageEntry, error)) error {
	byArch, ok := a.index.Channels[channel]
	if !ok {
		byArch = map[types.Arch]map[string][]types.PackageEntry{}
	}
	byName, ok := byArch[arch]
	if !ok {
		byName = map[string][]types.PackageEntry{}
	}
	previous, existed := byName[name]
	working := make([]types.PackageEntry, len(previous))
	copy(working, previous)
	updated, err := fn(working)
	if err != nil {
		return err
	}

	byName[name] = updated
	byArch[arch] = byName
	a.index.Channels[channel] = byArch
	if err := a.persistLocked(); err != nil {
		if existed {
			byName[name] = previous
		} else {
			delete(byName, name)
		}
		return err
	}
	return nil
}

func (a *RegistryFileAdapter) persistLocked() error {
	if a.Path == "" {
		return nil
	}
	content, err := yaml.Marshal(a.index)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode registry index").
			WithCause(err)
	}
	if err := shared.WriteFileAtomic(a.Path, content, 0o600); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to write registry index %s", a.Path)).
			WithCause(err)
	}
	return nil
}

var _ ports.RegistryPort = (*RegistryFileAdapter)(nil)
