// Package sealed encrypts and opens sealed order payloads.
//
// A payload is the 16-byte little-endian encoding of (price, quantity). It is sealed with
// nacl box (Curve25519 key agreement, XSalsa20-Poly1305) between the submitter's key pair
// and the auction's public key, under a fresh 24-byte nonce.
package sealed

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"

	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/fp32"
)

const (
	// KeySize is the size of public, secret and shared keys.
	KeySize = 32
	// NonceSize is the size of a box nonce.
	NonceSize = 24
	// PlaintextSize is the size of an encoded payload.
	PlaintextSize = 16
	// CiphertextSize is the size of a sealed payload.
	CiphertextSize = PlaintextSize + box.Overhead
)

// Key is a Curve25519 public, secret or precomputed shared key.
type Key [KeySize]byte

func (k Key) String() string { return hex.EncodeToString(k[:]) }

// IsZero reports whether k is unset.
func (k Key) IsZero() bool { return k == Key{} }

// ParseKey decodes a hex encoded key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("decode key: %w", err)
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// KeyPair is a Curve25519 key pair.
type KeyPair struct {
	Public Key
	Secret Key
}

// GenerateKeyPair creates a key pair from r, or crypto/rand when r is nil.
func GenerateKeyPair(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, sec, err := box.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate box key pair: %w", err)
	}
	return &KeyPair{Public: *pub, Secret: *sec}, nil
}

// Plaintext is the decrypted content of a sealed order.
type Plaintext struct {
	Price fp32.Fixed
	Qty   uint64
}

// Encode returns price LE8 || qty LE8.
func (p Plaintext) Encode() []byte {
	b := make([]byte, PlaintextSize)
	binary.LittleEndian.PutUint64(b[:8], p.Price.Raw())
	binary.LittleEndian.PutUint64(b[8:], p.Qty)
	return b
}

// DecodePlaintext parses a 16-byte payload.
func DecodePlaintext(b []byte) (Plaintext, error) {
	if len(b) != PlaintextSize {
		return Plaintext{}, fmt.Errorf("payload is %d bytes, want %d: %w", len(b), PlaintextSize, auctionerr.ErrInvalidSharedKey)
	}
	return Plaintext{
		Price: fp32.Fixed(binary.LittleEndian.Uint64(b[:8])),
		Qty:   binary.LittleEndian.Uint64(b[8:]),
	}, nil
}

// Order is a sealed payload as published to the ledger.
type Order struct {
	PublicKey  Key
	Nonce      [NonceSize]byte
	Ciphertext []byte
}

// SameCiphertext reports whether two sealed orders carry identical nonce and ciphertext.
func (o Order) SameCiphertext(other Order) bool {
	return o.Nonce == other.Nonce && bytes.Equal(o.Ciphertext, other.Ciphertext)
}

// Seal encrypts p for the auction key with a fresh random nonce from r.
func Seal(r io.Reader, p Plaintext, auctionPub Key, local *KeyPair) (Order, error) {
	if r == nil {
		r = rand.Reader
	}
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return Order{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	pub, sec := [KeySize]byte(auctionPub), [KeySize]byte(local.Secret)
	ct := box.Seal(nil, p.Encode(), &nonce, &pub, &sec)
	return Order{PublicKey: local.Public, Nonce: nonce, Ciphertext: ct}, nil
}

// SharedKey precomputes the box key between a peer public key and a secret key. Both
// sides of an exchange derive the same value.
func SharedKey(peerPub, secret Key) Key {
	var shared [KeySize]byte
	pub, sec := [KeySize]byte(peerPub), [KeySize]byte(secret)
	box.Precompute(&shared, &pub, &sec)
	return Key(shared)
}

// Open decrypts o with the auction secret key.
func Open(o Order, secret Key) (Plaintext, error) {
	return OpenWithSharedKey(o, SharedKey(o.PublicKey, secret))
}

// OpenWithSharedKey decrypts o with a precomputed shared key. Authentication failure
// returns auctionerr.ErrInvalidSharedKey.
func OpenWithSharedKey(o Order, shared Key) (Plaintext, error) {
	k := [KeySize]byte(shared)
	plain, ok := box.OpenAfterPrecomputation(nil, o.Ciphertext, &o.Nonce, &k)
	if !ok {
		return Plaintext{}, fmt.Errorf("open sealed order: %w", auctionerr.ErrInvalidSharedKey)
	}
	return DecodePlaintext(plain)
}
