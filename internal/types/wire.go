package types

// Flags carried in the frame header.
const (
	FlagEncrypted uint8 = 1 << 0
	FlagError     uint8 = 1 << 1
)

// HeaderSize is the fixed frame header length:
// body length u32, flags u8, correlation id u32, message kind u16.
const HeaderSize = 11

type Header struct {
	Length        uint32
	Flags         uint8
	CorrelationID uint32
	Kind          MessageKind
}

// Frame is one message on the wire. Body is plaintext once decoded.
type Frame struct {
	Header Header
	Body   []byte
}

func (f Frame) IsError() bool { return f.Header.Flags&FlagError != 0 }

type HandshakeReq struct {
	PublicKey HexBytes `json:"public_key"`
}

type PackageInfoReq struct {
	Channel            string            `json:"channel"`
	Arch               Arch              `json:"arch"`
	Name               string            `json:"name"`
	DeviceID           *DeviceID         `json:"device_id,omitempty"`
	ImageVersion       *string           `json:"image_version,omitempty"`
	Installed          map[string]string `json:"installed,omitempty"`
	IgnoreRequirements bool              `json:"ignore_requirements"`
}

type PackageInfoResp struct {
	Version *PackageVersion `json:"version"`
}

type SetPackageInfoReq struct {
	Channel            string            `json:"channel"`
	Version            PackageVersion    `json:"version"`
	Whitelist          []DeviceID        `json:"whitelist"`
	AutoWhitelistLimit uint32            `json:"auto_whitelist_limit"`
	Requirements       map[string]string `json:"requirements,omitempty"`
}

type WhitelistChange struct {
	Kind    WhitelistChangeKind `json:"kind"`
	Devices []DeviceID          `json:"devices,omitempty"`
	Limit   uint32              `json:"limit,omitempty"`
}

type ChangeWhitelistReq struct {
	Channel string          `json:"channel"`
	Arch    Arch            `json:"arch"`
	Name    string          `json:"name"`
	Hash    Hash            `json:"hash"`
	Change  WhitelistChange `json:"change"`
}

type ChangeWhitelistResp struct {
	Changed bool `json:"changed"`
}

type GetFileReq struct {
	Hash Hash `json:"hash"`
}

type GetFilePartReq struct {
	Hash  Hash   `json:"hash"`
	Start uint64 `json:"start"`
	Len   uint64 `json:"len"`
}

type NewAuthKeyReaderResp struct {
	Key AuthKey `json:"key"`
}

type AuthenticateReaderReq struct {
	Key AuthKey `json:"key"`
}

type AuthenticateWriter1Req struct {
	Channel string `json:"channel"`
}

type AuthenticateWriter1Resp struct {
	Challenge HexBytes `json:"challenge"`
}

type AuthenticateWriter2Req struct {
	Signature HexBytes `json:"signature"`
}

// Empty is the body of acknowledgements that carry nothing.
type Empty struct{}
