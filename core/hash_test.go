package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/sealed"
	"github.com/cloudx-io/batchauction/slab"
)

func TestComputeSealedOrderHash(t *testing.T) {
	o := sealed.Order{
		PublicKey:  sealed.Key{1, 2, 3},
		Nonce:      [sealed.NonceSize]byte{9},
		Ciphertext: []byte{0xde, 0xad},
	}

	hash := ComputeSealedOrderHash(o)

	// Verify hash is 64 characters (SHA256 hex encoding)
	if len(hash) != 64 {
		t.Errorf("ComputeSealedOrderHash() hash length = %d, want 64", len(hash))
	}

	expectedData := fmt.Sprintf("%s|%s|dead", hex.EncodeToString(o.PublicKey[:]), hex.EncodeToString(o.Nonce[:]))
	expectedHash := fmt.Sprintf("%x", sha256.Sum256([]byte(expectedData)))
	if hash != expectedHash {
		t.Errorf("ComputeSealedOrderHash() = %v, want %v", hash, expectedHash)
	}

	// Flipping one ciphertext byte changes the commitment
	o2 := o
	o2.Ciphertext = []byte{0xde, 0xae}
	if ComputeSealedOrderHash(o2) == hash {
		t.Errorf("Different ciphertexts should produce different hashes")
	}
}

func TestComputeBookDigest(t *testing.T) {
	bids := []slab.Level{{Price: fp32.MustFromInt(10), Qty: 2000}}
	asks := []slab.Level{{Price: fp32.MustParse("9.5"), Qty: 1500}}

	digest := ComputeBookDigest(bids, asks)
	if len(digest) != 64 {
		t.Errorf("ComputeBookDigest() length = %d, want 64", len(digest))
	}
	if digest != ComputeBookDigest(bids, asks) {
		t.Errorf("ComputeBookDigest() not deterministic")
	}

	// Swapping sides must not collide
	if digest == ComputeBookDigest(asks, bids) {
		t.Errorf("Swapped sides should produce different digests")
	}

	// A level moving from one side to the other must not collide
	if ComputeBookDigest(append(bids, asks...), nil) == digest {
		t.Errorf("Moving a level between sides should change the digest")
	}
}

func TestComputeClearingHash(t *testing.T) {
	price := fp32.MustParse("9.75")
	hash := ComputeClearingHash("auction-1", price, 1500, "digest", "nonce")

	expectedData := fmt.Sprintf("auction-1|%d|1500|digest|nonce", price.Raw())
	expectedHash := fmt.Sprintf("%x", sha256.Sum256([]byte(expectedData)))
	if hash != expectedHash {
		t.Errorf("ComputeClearingHash() = %v, want %v", hash, expectedHash)
	}

	tests := []struct {
		name string
		hash string
	}{
		{"different auction", ComputeClearingHash("auction-2", price, 1500, "digest", "nonce")},
		{"different price", ComputeClearingHash("auction-1", price+1, 1500, "digest", "nonce")},
		{"different matched", ComputeClearingHash("auction-1", price, 1501, "digest", "nonce")},
		{"different book", ComputeClearingHash("auction-1", price, 1500, "other", "nonce")},
		{"different nonce", ComputeClearingHash("auction-1", price, 1500, "digest", "nonce2")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.hash == hash {
				t.Errorf("%s should produce a different hash", tt.name)
			}
		})
	}
}

func TestComputeKeyHash(t *testing.T) {
	pub := sealed.Key{7}
	hash := ComputeKeyHash("auction-1", pub)
	expectedHash := fmt.Sprintf("%x", sha256.Sum256([]byte("auction-1|"+hex.EncodeToString(pub[:]))))
	if hash != expectedHash {
		t.Errorf("ComputeKeyHash() = %v, want %v", hash, expectedHash)
	}
}
