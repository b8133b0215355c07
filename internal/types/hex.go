package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Hash is a SHA-256 content digest. It names stored blobs and identifies
// package versions.
type Hash [32]byte

// DeviceID is the opaque 256-bit identity a device presents when it asks
// for package information.
type DeviceID [32]byte

// AuthKey is a persisted reader capability.
type AuthKey [32]byte

// HexBytes carries variable length binary values (signatures, public keys,
// challenges) as hex text in JSON and YAML.
type HexBytes []byte

func (h Hash) String() string     { return hex.EncodeToString(h[:]) }
func (d DeviceID) String() string { return hex.EncodeToString(d[:]) }
func (k AuthKey) String() string  { return hex.EncodeToString(k[:]) }
func (b HexBytes) String() string { return hex.EncodeToString(b) }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) MarshalText() ([]byte, error)     { return []byte(h.String()), nil }
func (d DeviceID) MarshalText() ([]byte, error) { return []byte(d.String()), nil }
func (k AuthKey) MarshalText() ([]byte, error)  { return []byte(k.String()), nil }
func (b HexBytes) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (h *Hash) UnmarshalText(text []byte) error     { return decodeFixed(h[:], text, "hash") }
func (d *DeviceID) UnmarshalText(text []byte) error { return decodeFixed(d[:], text, "device id") }
func (k *AuthKey) UnmarshalText(text []byte) error  { return decodeFixed(k[:], text, "auth key") }

func (b *HexBytes) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid hex value: %w", err)
	}
	*b = decoded
	return nil
}

func ParseHash(value string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(value))
	return h, err
}

func ParseDeviceID(value string) (DeviceID, error) {
	var d DeviceID
	err := d.UnmarshalText([]byte(value))
	return d, err
}

func ParseAuthKey(value string) (AuthKey, error) {
	var k AuthKey
	err := k.UnmarshalText([]byte(value))
	return k, err
}

// NewAuthKey draws a fresh reader key from the system random source.
func NewAuthKey() (AuthKey, error) {
	var k AuthKey
	if _, err := rand.Read(k[:]); err != nil {
		return AuthKey{}, err
	}
	return k, nil
}

func decodeFixed(dst []byte, text []byte, what string) error {
	if len(text) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("invalid %s: want %d hex characters, got %d", what, hex.EncodedLen(len(dst)), len(text))
	}
	if _, err := hex.Decode(dst, text); err != nil {
		return fmt.Errorf("invalid %s: %w", what, err)
	}
	return nil
}
