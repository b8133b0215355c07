package core

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"fleet-rollout/internal/types"
)

// UpdateState is the per-target state of one refresh cycle. The set of
// implementations is closed.
type UpdateState interface {
	isUpdateState()
}

// GatherInfo waits for a source to report the target's latest version.
type GatherInfo struct {
	Known      *types.PackageVersion
	TargetSlot types.Slot
}

// NoUpdate means the installed version is the latest.
type NoUpdate struct{}

// NotFound means no source offered the target this cycle.
type NotFound struct{}

// DownloadFile holds a verified version whose content is being fetched.
type DownloadFile struct {
	Known      *types.PackageVersion
	Version    types.PackageVersion
	Builder    *GetFileBuilder
	TargetSlot types.Slot
}

// Updated carries downloaded content whose hash matched.
type Updated struct {
	Version    types.PackageVersion
	Data       []byte
	TargetSlot types.Slot
}

func (GatherInfo) isUpdateState()   {}
func (NoUpdate) isUpdateState()     {}
func (NotFound) isUpdateState()     {}
func (DownloadFile) isUpdateState() {}
func (Updated) isUpdateState()      {}

// StateName is used in logs and reports.
func StateName(state UpdateState) string {
	switch state.(type) {
	case GatherInfo:
		return "gather-info"
	case NoUpdate:
		return "no-update"
	case NotFound:
		return "not-found"
	case DownloadFile:
		return "download-file"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// Resolved reports whether no further source needs to be asked.
func Resolved(state UpdateState) bool {
	switch state.(type) {
	case NoUpdate, NotFound, Updated:
		return true
	default:
		return false
	}
}

// OnPackageInfo advances an unresolved state with the answer one source
// gave. A missing answer or a bad signature leaves the state untouched so a
// later source can still resolve it. trusted reports whether this source's
// answer verified; only a trusted source may serve the download.
func OnPackageInfo(ctx context.Context, state UpdateState, info *types.PackageVersion, signingKey []byte, partSize uint64) (next UpdateState, trusted bool) {
	var known *types.PackageVersion
	var slot types.Slot
	switch s := state.(type) {
	case GatherInfo:
		known, slot = s.Known, s.TargetSlot
	case DownloadFile:
		known, slot = s.Known, s.TargetSlot
	default:
		return state, false
	}
	if info == nil {
		return state, false
	}
	if known != nil && known.Hash == info.Hash {
		return NoUpdate{}, true
	}
	if !VerifyPackageVersion(signingKey, *info) {
		log.Ctx(ctx).Warn().
			Str("package", info.Name).
			Str("version", info.Version).
			Str("hash", info.Hash.String()).
			Msg("package signature does not verify")
		return state, false
	}
	if current, ok := state.(DownloadFile); ok && current.Version.Hash == info.Hash {
		return current, true
	}
	return DownloadFile{
		Known:      known,
		Version:    *info,
		Builder:    NewGetFileBuilder(info.Hash, partSize),
		TargetSlot: slot,
	}, true
}

// CompleteDownload turns a finished download into Updated after checking
// the content hash. A mismatch is an integrity violation.
func CompleteDownload(state DownloadFile) (Updated, error) {
	if !state.Builder.Done() {
		return Updated{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("download of %s is incomplete", state.Version.Name))
	}
	data := state.Builder.Bytes()
	if got := ContentHash(data); got != state.Version.Hash {
		return Updated{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("content hash mismatch for %s %s: want %s got %s",
				state.Version.Name, state.Version.Version, state.Version.Hash, got))
	}
	return Updated{Version: state.Version, Data: data, TargetSlot: state.TargetSlot}, nil
}

// Finalize forces any unresolved state to NotFound once every source has
// been tried.
func Finalize(state UpdateState) UpdateState {
	if Resolved(state) {
		return state
	}
	return NotFound{}
}
