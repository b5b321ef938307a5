// Package address derives the deterministic identities of an auction's accounts.
//
// An identity is a sha256 digest of role-tagged seeds, the owning program and a bump byte.
// The bump search keeps the first digest that is not a valid ed25519 point, so no private
// key can exist for a derived identity.
package address

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/cloudx-io/batchauction/auctionerr"
)

const (
	// MaxSeeds bounds the number of seeds, bump included.
	MaxSeeds = 16
	// MaxSeedLen bounds the length of a single seed.
	MaxSeedLen = 32

	derivationMarker = "ProgramDerivedAddress"
)

// Role tags of the accounts owned by an auction.
const (
	RoleAuction      = "auction"
	RoleQuoteVault   = "quote_vault"
	RoleBaseVault    = "base_vault"
	RoleOpenOrders   = "open_orders"
	RoleOrderHistory = "order_history"
	RoleBids         = "bids"
	RoleAsks         = "asks"
	RoleEventQueue   = "event_queue"
)

// Identity is a 32-byte account or key identity.
type Identity [32]byte

// Zero is the unset identity.
var Zero Identity

func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns a copy of the identity bytes.
func (id Identity) Bytes() []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

// IsZero reports whether id is unset.
func (id Identity) IsZero() bool { return id == Zero }

// Compare orders identities bytewise.
func (id Identity) Compare(o Identity) int {
	return bytes.Compare(id[:], o[:])
}

// ParseIdentity decodes a hex string.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode identity: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("identity must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IdentityFromBytes copies b into an Identity. b must be 32 bytes.
func IdentityFromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != len(id) {
		return id, fmt.Errorf("identity must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Derived is a derived identity together with the bump that produced it.
type Derived struct {
	Identity Identity
	Bump     uint8
}

// CreateProgramAddress hashes seeds and program. It fails when the digest lands on the
// ed25519 curve.
func CreateProgramAddress(seeds [][]byte, program Identity) (Identity, error) {
	if len(seeds) > MaxSeeds {
		return Zero, fmt.Errorf("too many seeds: %d", len(seeds))
	}
	h := sha256.New()
	for i, s := range seeds {
		if len(s) > MaxSeedLen {
			return Zero, fmt.Errorf("seed %d is %d bytes, max %d", i, len(s), MaxSeedLen)
		}
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte(derivationMarker))

	var id Identity
	copy(id[:], h.Sum(nil))
	if onCurve(id) {
		return Zero, errOnCurve
	}
	return id, nil
}

var errOnCurve = errors.New("derived identity is on curve")

// FindProgramAddress searches bumps from 255 down and returns the first off-curve
// identity.
func FindProgramAddress(seeds [][]byte, program Identity) (Derived, error) {
	if len(seeds) >= MaxSeeds {
		return Derived{}, fmt.Errorf("too many seeds: %d", len(seeds))
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bump := []byte{0}
	withBump[len(seeds)] = bump

	for b := 255; b >= 0; b-- {
		bump[0] = byte(b)
		id, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return Derived{Identity: id, Bump: uint8(b)}, nil
		}
		if err != errOnCurve {
			return Derived{}, err
		}
	}
	return Derived{}, fmt.Errorf("find program address: %w", auctionerr.ErrNoViableBump)
}

func onCurve(id Identity) bool {
	_, err := new(edwards25519.Point).SetBytes(id[:])
	return err == nil
}

// Auction derives the auction account from its id and authority.
func Auction(auctionID []byte, authority, program Identity) (Derived, error) {
	return FindProgramAddress([][]byte{[]byte(RoleAuction), auctionID, authority[:]}, program)
}

// QuoteVault derives the custodial quote token account.
func QuoteVault(auctionID []byte, authority, program Identity) (Derived, error) {
	return FindProgramAddress([][]byte{[]byte(RoleQuoteVault), auctionID, authority[:]}, program)
}

// BaseVault derives the custodial base token account.
func BaseVault(auctionID []byte, authority, program Identity) (Derived, error) {
	return FindProgramAddress([][]byte{[]byte(RoleBaseVault), auctionID, authority[:]}, program)
}

// Bids derives the resident bid book record.
func Bids(auctionID []byte, authority, program Identity) (Derived, error) {
	return FindProgramAddress([][]byte{[]byte(RoleBids), auctionID, authority[:]}, program)
}

// Asks derives the resident ask book record.
func Asks(auctionID []byte, authority, program Identity) (Derived, error) {
	return FindProgramAddress([][]byte{[]byte(RoleAsks), auctionID, authority[:]}, program)
}

// EventQueue derives the match event queue record.
func EventQueue(auctionID []byte, authority, program Identity) (Derived, error) {
	return FindProgramAddress([][]byte{[]byte(RoleEventQueue), auctionID, authority[:]}, program)
}

// OpenOrders derives a user's OpenOrders account within an auction.
func OpenOrders(user Identity, auctionID []byte, authority, program Identity) (Derived, error) {
	return FindProgramAddress([][]byte{user[:], []byte(RoleOpenOrders), auctionID, authority[:]}, program)
}

// OrderHistory derives a user's OrderHistory account within an auction.
func OrderHistory(user Identity, auctionID []byte, authority, program Identity) (Derived, error) {
	return FindProgramAddress([][]byte{user[:], []byte(RoleOrderHistory), auctionID, authority[:]}, program)
}

// Set holds every identity an auction uses.
type Set struct {
	Auction    Derived
	QuoteVault Derived
	BaseVault  Derived
	Bids       Derived
	Asks       Derived
	EventQueue Derived
}

// DeriveSet derives all auction-level identities at once.
func DeriveSet(auctionID []byte, authority, program Identity) (Set, error) {
	var s Set
	var err error
	steps := []struct {
		dst  *Derived
		fn   func([]byte, Identity, Identity) (Derived, error)
		role string
	}{
		{&s.Auction, Auction, RoleAuction},
		{&s.QuoteVault, QuoteVault, RoleQuoteVault},
		{&s.BaseVault, BaseVault, RoleBaseVault},
		{&s.Bids, Bids, RoleBids},
		{&s.Asks, Asks, RoleAsks},
		{&s.EventQueue, EventQueue, RoleEventQueue},
	}
	for _, st := range steps {
		*st.dst, err = st.fn(auctionID, authority, program)
		if err != nil {
			return Set{}, fmt.Errorf("derive %s: %w", st.role, err)
		}
	}
	return s, nil
}
