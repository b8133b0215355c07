package adapters

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"fleet-rollout/internal/shared"
)

// Key files hold a single hex encoded private key. Signing keys store the
// 32-byte ed25519 seed; connection keys store the curve25519 scalar.

func GenerateSigningKeyFile(path string) (ed25519.PublicKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, keyFileError("failed to generate signing key", err)
	}
	if err := writeKeyFile(path, private.Seed()); err != nil {
		return nil, err
	}
	return public, nil
}

func LoadSigningKeyFile(path string) (ed25519.PrivateKey, error) {
	seed, err := readKeyFile(path, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// GenerateConnectionKeyFile writes a new connection private key and
// returns the public half that sources must be configured with.
func GenerateConnectionKeyFile(path string) (*[32]byte, error) {
	public, private, err := GenerateConnectionKey()
	if err != nil {
		return nil, keyFileError("failed to generate connection key", err)
	}
	if err := writeKeyFile(path, private[:]); err != nil {
		return nil, err
	}
	return public, nil
}

func LoadConnectionKeyFile(path string) (*[32]byte, error) {
	raw, err := readKeyFile(path, 32)
	if err != nil {
		return nil, err
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

func writeKeyFile(path string, key []byte) error {
	if _, err := os.Stat(path); err == nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(fmt.Sprintf("key file %s already exists", path))
	}
	if err := shared.WriteFileAtomic(path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		return keyFileError("failed to write key file", err)
	}
	return nil
}

func readKeyFile(path string, size int) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg(fmt.Sprintf("key file %s not found", path)).
				WithCause(err)
		}
		return nil, keyFileError("failed to read key file", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(content)))
	if err != nil || len(raw) != size {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("key file %s must contain %d hex encoded bytes", path, size)).
			WithCause(err)
	}
	return raw, nil
}

func keyFileError(msg string, err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(msg).
		WithCause(err)
}
