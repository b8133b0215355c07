package policies

import (
	"fmt"
	"math"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"fleet-rollout/internal/types"
)

// ApplyWhitelistChange returns a copy of entry with change applied. The
// input entry is never modified.
func ApplyWhitelistChange(entry types.PackageEntry, change types.WhitelistChange) (types.PackageEntry, error) {
	out := entry.Clone()
	switch change.Kind {
	case types.WhitelistChangeReplace:
		out.Whitelist = mergeDevices(nil, change.Devices)
	case types.WhitelistChangeAdd:
		out.Whitelist = mergeDevices(out.Whitelist, change.Devices)
	case types.WhitelistChangeRaiseLimit:
		if change.Limit > out.AutoWhitelistLimit {
			out.AutoWhitelistLimit = change.Limit
		}
	case types.WhitelistChangeIncrementLimit:
		if uint64(out.AutoWhitelistLimit)+uint64(change.Limit) > math.MaxUint32 {
			out.AutoWhitelistLimit = math.MaxUint32
		} else {
			out.AutoWhitelistLimit += change.Limit
		}
	default:
		return types.PackageEntry{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unknown whitelist change %q", change.Kind))
	}
	return out, nil
}

// Enroll returns a copy of entry with device appended to the whitelist.
func Enroll(entry types.PackageEntry, device types.DeviceID) types.PackageEntry {
	out := entry.Clone()
	out.Whitelist = mergeDevices(out.Whitelist, []types.DeviceID{device})
	return out
}

// mergeDevices appends the devices not yet present in base, keeping
// first-seen order.
func mergeDevices(base []types.DeviceID, devices []types.DeviceID) []types.DeviceID {
	seen := make(map[types.DeviceID]struct{}, len(base)+len(devices))
	out := make([]types.DeviceID, 0, len(base)+len(devices))
	for _, list := range [][]types.DeviceID{base, devices} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
