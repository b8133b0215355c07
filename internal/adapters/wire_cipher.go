package adapters

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/salsa20/salsa"
)

// FrameCipher seals frame bodies with nacl/secretbox under a key agreed by
// X25519. Nonces are per-direction counters, so both ends must process
// frames strictly in order.
type FrameCipher struct {
	sharedKey [32]byte
	stream    boxStream
}

var zeros [16]byte

// GenerateConnectionKey returns a new curve25519 key pair.
func GenerateConnectionKey() (publicKey, privateKey *[32]byte, err error) {
	return box.GenerateKey(rand.Reader)
}

// ConnectionPublicKey derives the public half of a curve25519 private key.
func ConnectionPublicKey(privateKey *[32]byte) (*[32]byte, error) {
	pub, err := curve25519.X25519(privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	var out [32]byte
	copy(out[:], pub)
	return &out, nil
}

func NewFrameCipher(myPublicKey, myPrivateKey, theirPublicKey *[32]byte) (*FrameCipher, error) {
	var c FrameCipher
	key, err := curve25519.X25519(myPrivateKey[:], theirPublicKey[:])
	if err != nil {
		return nil, err
	}
	copy(c.sharedKey[:], key)
	salsa.HSalsa20(&c.sharedKey, &zeros, &c.sharedKey, &salsa.Sigma)
	c.stream.initDirection(bytes.Compare(myPublicKey[:], theirPublicKey[:]) < 0)
	return &c, nil
}

func (c *FrameCipher) Overhead() int {
	return secretbox.Overhead
}

func (c *FrameCipher) Seal(data []byte) []byte {
	out := secretbox.Seal(nil, data, &c.stream.sealNonce, &c.sharedKey)
	c.stream.sealAdvance()
	return out
}

// Open does not advance the nonce on failure so both ends stay in step.
func (c *FrameCipher) Open(data []byte) ([]byte, bool) {
	out, ok := secretbox.Open(nil, data, &c.stream.openNonce, &c.sharedKey)
	if !ok {
		return nil, false
	}
	c.stream.openAdvance()
	return out, true
}

type boxStream struct {
	sealCounter uint64
	sealNonce   [24]byte
	openCounter uint64
	openNonce   [24]byte
}

// initDirection sets bit 64 of one direction's nonce so the two
// directions never share a nonce.
func (s *boxStream) initDirection(seal bool) {
	if seal {
		s.sealNonce[8] = 1
		return
	}
	s.openNonce[8] = 1
}

func (s *boxStream) sealAdvance() {
	s.sealCounter++
	binary.LittleEndian.PutUint64(s.sealNonce[:], s.sealCounter)
}

func (s *boxStream) openAdvance() {
	s.openCounter++
	binary.LittleEndian.PutUint64(s.openNonce[:], s.openCounter)
}
