package core

import (
	"crypto/ed25519"
	"crypto/sha256"

	"fleet-rollout/internal/types"
)

func ContentHash(data []byte) types.Hash {
	return types.Hash(sha256.Sum256(data))
}

// VerifySignature checks an ed25519 signature over message. Malformed keys
// never verify.
func VerifySignature(publicKey []byte, message []byte, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// VerifyPackageVersion checks the publisher signature over the content
// hash.
func VerifyPackageVersion(publicKey []byte, version types.PackageVersion) bool {
	return VerifySignature(publicKey, version.Hash[:], version.Signature)
}

// SignPackageVersion fills in the signature for version using the channel
// signing key.
func SignPackageVersion(privateKey ed25519.PrivateKey, version types.PackageVersion) types.PackageVersion {
	version.Signature = ed25519.Sign(privateKey, version.Hash[:])
	return version
}
