package types

type SourceConfig struct {
	Name          string   `yaml:"name"`
	Address       string   `yaml:"address"`
	ConnectionKey HexBytes `yaml:"connection_key,omitempty"`
	SigningKey    HexBytes `yaml:"signing_key"`
	ReaderKey     *AuthKey `yaml:"reader_key,omitempty"`
}

// SourcesFile is the device's list of update sources. Later entries take
// priority over earlier ones.
type SourcesFile struct {
	Sources     []SourceConfig `yaml:"sources"`
	Channel     string         `yaml:"channel"`
	BootPackage string         `yaml:"boot_package,omitempty"`
	DeviceID    *DeviceID      `yaml:"device_id,omitempty"`
}

// CycleReport summarizes what one refresh cycle changed.
type CycleReport struct {
	Updated       []PackageVersion `json:"updated"`
	NotFound      []string         `json:"not_found"`
	ImageUpdated  bool             `json:"image_updated"`
	RestartDevice bool             `json:"restart_device"`
	RestartAgent  bool             `json:"restart_agent"`
	FailedSources []string         `json:"failed_sources,omitempty"`
	Err           string           `json:"error,omitempty"`
}
