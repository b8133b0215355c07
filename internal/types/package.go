package types

type PackageVersion struct {
	Name       string   `json:"name" yaml:"name"`
	Version    string   `json:"version" yaml:"version"`
	Hash       Hash     `json:"hash" yaml:"hash"`
	Signature  HexBytes `json:"signature" yaml:"signature"`
	Arch       Arch     `json:"arch" yaml:"arch"`
	Entrypoint string   `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty"`
}

type PackageEntry struct {
	Seq                uint64            `json:"seq" yaml:"seq"`
	Version            PackageVersion    `json:"version" yaml:"version"`
	Whitelist          []DeviceID        `json:"whitelist" yaml:"whitelist"`
	AutoWhitelistLimit uint32            `json:"auto_whitelist_limit" yaml:"auto_whitelist_limit"`
	Requirements       map[string]string `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

// Clone returns a copy that shares no slices or maps with e.
func (e PackageEntry) Clone() PackageEntry {
	out := e
	out.Version.Signature = append(HexBytes(nil), e.Version.Signature...)
	if e.Whitelist != nil {
		out.Whitelist = append([]DeviceID(nil), e.Whitelist...)
	}
	if e.Requirements != nil {
		out.Requirements = make(map[string]string, len(e.Requirements))
		for name, req := range e.Requirements {
			out.Requirements[name] = req
		}
	}
	return out
}

func (e PackageEntry) Whitelisted(device DeviceID) bool {
	for _, id := range e.Whitelist {
		if id == device {
			return true
		}
	}
	return false
}

// RegistryIndex is the persisted registry: channel -> arch -> package name
// -> entries ordered by Seq.
type RegistryIndex struct {
	NextSeq  uint64                                       `yaml:"next_seq"`
	Channels map[string]map[Arch]map[string][]PackageEntry `yaml:"channels"`
}

// PackageQuery is what a device asks the registry for.
type PackageQuery struct {
	Channel            string
	Arch               Arch
	Name               string
	DeviceID           *DeviceID
	ImageVersion       *string
	Installed          map[string]string
	IgnoreRequirements bool
	ImagePackage       string
}

// PackageMeta records what is installed for one package on a device.
type PackageMeta struct {
	Version    PackageVersion `yaml:"version"`
	ActiveSlot Slot           `yaml:"active_slot"`
}

// Switch swaps the active slot and the version it carries together.
func (m PackageMeta) Switch(version PackageVersion) PackageMeta {
	return PackageMeta{Version: version, ActiveSlot: m.ActiveSlot.Other()}
}

type Disk struct {
	Name   string `json:"name"`
	Size   uint64 `json:"size"`
	Active bool   `json:"active"`
}
