package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/sealed"
	"github.com/cloudx-io/batchauction/slab"
)

// ComputeSealedOrderHash commits to a sealed order without revealing it.
// This is used by the engine (in decrypt reports) and the decryption agent (in reveal
// responses) so both sides can name the same order.
//
// Formula: SHA256(hex(pubkey) + "|" + hex(nonce) + "|" + hex(ciphertext))
func ComputeSealedOrderHash(o sealed.Order) string {
	data := fmt.Sprintf("%s|%s|%s", hex.EncodeToString(o.PublicKey[:]), hex.EncodeToString(o.Nonce[:]), hex.EncodeToString(o.Ciphertext))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeBookDigest hashes both sides of a book as aggregated levels. Levels are
// hashed in the order given, so callers pass them in priority order as returned by
// Book.Depth.
//
// Layout: BLAKE3("bids" || n || (price LE8 || qty LE8)* || "asks" || n || ...)
func ComputeBookDigest(bids, asks []slab.Level) string {
	h := blake3.New()
	var buf [8]byte
	writeSide := func(tag string, levels []slab.Level) {
		h.Write([]byte(tag))
		binary.LittleEndian.PutUint64(buf[:], uint64(len(levels)))
		h.Write(buf[:])
		for _, l := range levels {
			binary.LittleEndian.PutUint64(buf[:], l.Price.Raw())
			h.Write(buf[:])
			binary.LittleEndian.PutUint64(buf[:], l.Qty)
			h.Write(buf[:])
		}
	}
	writeSide("bids", bids)
	writeSide("asks", asks)
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeClearingHash binds a clearing result to the book it was computed from.
// This is used by the decryption agent (as attestation user data) and validation (to
// verify it).
//
// Formula: SHA256(auction_id + "|" + price_raw + "|" + matched + "|" + book_digest + "|" + nonce)
func ComputeClearingHash(auctionID string, price fp32.Fixed, matched uint64, bookDigest, nonce string) string {
	data := fmt.Sprintf("%s|%d|%d|%s|%s", auctionID, price.Raw(), matched, bookDigest, nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeKeyHash commits to an auction encryption key.
//
// Formula: SHA256(auction_id + "|" + hex(pubkey))
func ComputeKeyHash(auctionID string, pub sealed.Key) string {
	data := fmt.Sprintf("%s|%s", auctionID, hex.EncodeToString(pub[:]))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
