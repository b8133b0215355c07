package types

// Arch is the board architecture a package build targets.
type Arch string

const (
	ArchAny     Arch = "any"
	ArchAmd64   Arch = "amd64"
	ArchArm64   Arch = "arm64"
	ArchArmv7   Arch = "armv7"
	ArchRiscv64 Arch = "riscv64"
)

// ChannelDebug is the release track polled on the short fixed interval.
const ChannelDebug = "debug"

// DefaultImagePackage is the package name under which root filesystem
// images are published.
const DefaultImagePackage = "image"

type MessageKind uint16

const (
	MessageKindHandshake MessageKind = iota
	MessageKindPackageInfo
	MessageKindSetPackageInfo
	MessageKindGetFile
	MessageKindGetFilePart
	MessageKindSetFile
	MessageKindChangeWhitelist
	MessageKindNewAuthKeyReader
	MessageKindAuthenticateReader
	MessageKindAuthenticateWriter1
	MessageKindAuthenticateWriter2
)

var messageKindNames = map[MessageKind]string{
	MessageKindHandshake:           "handshake",
	MessageKindPackageInfo:         "package-info",
	MessageKindSetPackageInfo:      "set-package-info",
	MessageKindGetFile:             "get-file",
	MessageKindGetFilePart:         "get-file-part",
	MessageKindSetFile:             "set-file",
	MessageKindChangeWhitelist:     "change-whitelist",
	MessageKindNewAuthKeyReader:    "new-auth-key-reader",
	MessageKindAuthenticateReader:  "authenticate-reader",
	MessageKindAuthenticateWriter1: "authenticate-writer-step1",
	MessageKindAuthenticateWriter2: "authenticate-writer-step2",
}

func (k MessageKind) String() string {
	if name, ok := messageKindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k MessageKind) Valid() bool {
	_, ok := messageKindNames[k]
	return ok
}

// Slot names one of the two alternating storage locations of a package
// or image.
type Slot string

const (
	SlotA Slot = "a"
	SlotB Slot = "b"
)

func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

func (s Slot) Valid() bool {
	return s == SlotA || s == SlotB
}

type WhitelistChangeKind string

const (
	WhitelistChangeReplace        WhitelistChangeKind = "replace"
	WhitelistChangeAdd            WhitelistChangeKind = "add"
	WhitelistChangeRaiseLimit     WhitelistChangeKind = "raise_limit"
	WhitelistChangeIncrementLimit WhitelistChangeKind = "increment_limit"
)
