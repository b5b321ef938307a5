package core

import (
	"fmt"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/layout"
	"github.com/cloudx-io/batchauction/sealed"
	"github.com/cloudx-io/batchauction/slab"
)

// Side re-exports the order side so callers of core rarely need the slab package.
type Side = slab.Side

const (
	Bid = slab.Bid
	Ask = slab.Ask
)

// MaxOrdersCap is the upper bound for OpenOrders.MaxOrders.
const MaxOrdersCap = 8

// MaxAuctionIDLen bounds the auction id so it fits a derivation seed.
const MaxAuctionIDLen = 32

// Auction is the root record of one batch auction.
type Auction struct {
	ID        []byte
	Authority address.Identity
	Bump      uint8

	QuoteMint     address.Identity
	BaseMint      address.Identity
	QuoteDecimals uint8
	BaseDecimals  uint8
	QuoteVault    address.Identity
	BaseVault     address.Identity
	Bids          address.Identity
	Asks          address.Identity
	EventQueue    address.Identity

	OrderPhaseStart    int64
	OrderPhaseEnd      int64
	DecryptionPhaseEnd int64

	AreBidsEncrypted bool
	AreAsksEncrypted bool
	EncryptionPubkey sealed.Key

	MinBaseOrderSize uint64
	TickSize         fp32.Fixed

	HasClearingPrice     bool
	ClearingPrice        fp32.Fixed
	TotalQuantityMatched uint64
	TotalQuantityFilled  uint64
	RemainingBidFills    uint64
	RemainingAskFills    uint64

	// NextSeq orders submissions at equal prices.
	NextSeq uint64

	BookCapacity       uint32
	EventQueueCapacity uint32
}

// SideEncrypted reports whether side only takes sealed orders.
func (a *Auction) SideEncrypted(side Side) bool {
	if side == Bid {
		return a.AreBidsEncrypted
	}
	return a.AreAsksEncrypted
}

// AnyEncrypted reports whether the auction has a decryption phase.
func (a *Auction) AnyEncrypted() bool { return a.AreBidsEncrypted || a.AreAsksEncrypted }

// Vault returns the custodial account holding the collateral of side: quote for bids,
// base for asks.
func (a *Auction) Vault(side Side) (owner, mint address.Identity) {
	if side == Bid {
		return a.QuoteVault, a.QuoteMint
	}
	return a.BaseVault, a.BaseMint
}

const auctionRecord = "Auction"

// MarshalBinary encodes the auction record.
func (a *Auction) MarshalBinary() ([]byte, error) {
	w := layout.NewWriter(auctionRecord)
	w.Bytes(a.ID)
	w.Fixed(a.Authority[:])
	w.U8(a.Bump)
	for _, id := range []address.Identity{a.QuoteMint, a.BaseMint} {
		w.Fixed(id[:])
	}
	w.U8(a.QuoteDecimals)
	w.U8(a.BaseDecimals)
	for _, id := range []address.Identity{a.QuoteVault, a.BaseVault, a.Bids, a.Asks, a.EventQueue} {
		w.Fixed(id[:])
	}
	w.I64(a.OrderPhaseStart)
	w.I64(a.OrderPhaseEnd)
	w.I64(a.DecryptionPhaseEnd)
	w.Bool(a.AreBidsEncrypted)
	w.Bool(a.AreAsksEncrypted)
	w.Fixed(a.EncryptionPubkey[:])
	w.U64(a.MinBaseOrderSize)
	w.U64(a.TickSize.Raw())
	w.Bool(a.HasClearingPrice)
	w.U64(a.ClearingPrice.Raw())
	w.U64(a.TotalQuantityMatched)
	w.U64(a.TotalQuantityFilled)
	w.U64(a.RemainingBidFills)
	w.U64(a.RemainingAskFills)
	w.U64(a.NextSeq)
	w.U32(a.BookCapacity)
	w.U32(a.EventQueueCapacity)
	return w.Finish(), nil
}

// UnmarshalAuction decodes an auction record.
func UnmarshalAuction(b []byte) (*Auction, error) {
	r, err := layout.NewReader(auctionRecord, b)
	if err != nil {
		return nil, err
	}
	a := &Auction{}
	a.ID = r.Bytes(MaxAuctionIDLen)
	r.Fixed(a.Authority[:])
	a.Bump = r.U8()
	r.Fixed(a.QuoteMint[:])
	r.Fixed(a.BaseMint[:])
	a.QuoteDecimals = r.U8()
	a.BaseDecimals = r.U8()
	for _, id := range []*address.Identity{&a.QuoteVault, &a.BaseVault, &a.Bids, &a.Asks, &a.EventQueue} {
		r.Fixed(id[:])
	}
	a.OrderPhaseStart = r.I64()
	a.OrderPhaseEnd = r.I64()
	a.DecryptionPhaseEnd = r.I64()
	a.AreBidsEncrypted = r.Bool()
	a.AreAsksEncrypted = r.Bool()
	r.Fixed(a.EncryptionPubkey[:])
	a.MinBaseOrderSize = r.U64()
	a.TickSize = fp32.Fixed(r.U64())
	a.HasClearingPrice = r.Bool()
	a.ClearingPrice = fp32.Fixed(r.U64())
	a.TotalQuantityMatched = r.U64()
	a.TotalQuantityFilled = r.U64()
	a.RemainingBidFills = r.U64()
	a.RemainingAskFills = r.U64()
	a.NextSeq = r.U64()
	a.BookCapacity = r.U32()
	a.EventQueueCapacity = r.U32()
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("decode auction: %w", err)
	}
	return a, nil
}

// SealedOrder is a sealed order held by an OpenOrders account until it is revealed.
type SealedOrder struct {
	sealed.Order
	// TokenQty is the plaintext deposit backing the order: quote tokens for bids, base
	// tokens for asks.
	TokenQty uint64
}

// OpenOrders is a user's account within one auction.
type OpenOrders struct {
	Owner   address.Identity
	Auction address.Identity
	Bump    uint8
	Side    Side

	MaxOrders uint8
	// Orders holds the ids of resting orders by slot; a zero key is a free slot.
	Orders [MaxOrdersCap]slab.Key

	EncryptionPubkey sealed.Key
	SealedOrders     []SealedOrder

	BaseFree    uint64
	BaseLocked  uint64
	QuoteFree   uint64
	QuoteLocked uint64

	QuantityFilled uint64
}

// NumOrders counts the resting orders.
func (o *OpenOrders) NumOrders() int {
	n := 0
	for _, k := range o.Orders {
		if k != (slab.Key{}) {
			n++
		}
	}
	return n
}

// RestingOrders returns the ids of resting orders in slot order.
func (o *OpenOrders) RestingOrders() []slab.Key {
	var keys []slab.Key
	for _, k := range o.Orders {
		if k != (slab.Key{}) {
			keys = append(keys, k)
		}
	}
	return keys
}

// freeSlot returns a free order slot, or false when the account is at MaxOrders
// counting sealed orders still waiting to be revealed.
func (o *OpenOrders) freeSlot() (uint8, bool) {
	if o.NumOrders()+len(o.SealedOrders) >= int(o.MaxOrders) {
		return 0, false
	}
	return o.emptySlot()
}

func (o *OpenOrders) emptySlot() (uint8, bool) {
	for i := 0; i < int(o.MaxOrders); i++ {
		if o.Orders[i] == (slab.Key{}) {
			return uint8(i), true
		}
	}
	return 0, false
}

func (o *OpenOrders) slotOf(key slab.Key) (uint8, bool) {
	for i, k := range o.Orders {
		if k == key && k != (slab.Key{}) {
			return uint8(i), true
		}
	}
	return 0, false
}

// HasLocked reports whether any balance is still reserved.
func (o *OpenOrders) HasLocked() bool { return o.BaseLocked != 0 || o.QuoteLocked != 0 }

// lock moves a fresh deposit of amount into the locked balance of the account's side.
func (o *OpenOrders) lock(amount uint64) error {
	return addTo(o.lockedFor(o.Side), amount)
}

// unlock moves amount from locked to free on the account's side.
func (o *OpenOrders) unlock(amount uint64) error {
	locked := o.lockedFor(o.Side)
	if *locked < amount {
		return fmt.Errorf("unlock %d of %d locked: %w", amount, *locked, auctionerr.ErrNumericalOverflow)
	}
	*locked -= amount
	return addTo(o.freeFor(o.Side), amount)
}

func (o *OpenOrders) lockedFor(side Side) *uint64 {
	if side == Bid {
		return &o.QuoteLocked
	}
	return &o.BaseLocked
}

func (o *OpenOrders) freeFor(side Side) *uint64 {
	if side == Bid {
		return &o.QuoteFree
	}
	return &o.BaseFree
}

func addTo(dst *uint64, amount uint64) error {
	if *dst+amount < *dst {
		return fmt.Errorf("add %d to %d: %w", amount, *dst, auctionerr.ErrNumericalOverflow)
	}
	*dst += amount
	return nil
}

const openOrdersRecord = "OpenOrders"

// MarshalBinary encodes the account record.
func (o *OpenOrders) MarshalBinary() ([]byte, error) {
	w := layout.NewWriter(openOrdersRecord)
	w.Fixed(o.Owner[:])
	w.Fixed(o.Auction[:])
	w.U8(o.Bump)
	w.U8(uint8(o.Side))
	w.U8(o.MaxOrders)
	for _, k := range o.Orders {
		w.U64(k.Hi)
		w.U64(k.Lo)
	}
	w.Fixed(o.EncryptionPubkey[:])
	w.U8(uint8(len(o.SealedOrders)))
	for _, so := range o.SealedOrders {
		w.Fixed(so.PublicKey[:])
		w.Bytes(so.Nonce[:])
		w.Bytes(so.Ciphertext)
		w.U64(so.TokenQty)
	}
	w.U64(o.BaseFree)
	w.U64(o.BaseLocked)
	w.U64(o.QuoteFree)
	w.U64(o.QuoteLocked)
	w.U64(o.QuantityFilled)
	return w.Finish(), nil
}

// UnmarshalOpenOrders decodes an account record.
func UnmarshalOpenOrders(b []byte) (*OpenOrders, error) {
	r, err := layout.NewReader(openOrdersRecord, b)
	if err != nil {
		return nil, err
	}
	o := &OpenOrders{}
	r.Fixed(o.Owner[:])
	r.Fixed(o.Auction[:])
	o.Bump = r.U8()
	o.Side = Side(r.U8())
	o.MaxOrders = r.U8()
	for i := range o.Orders {
		o.Orders[i] = slab.Key{Hi: r.U64(), Lo: r.U64()}
	}
	r.Fixed(o.EncryptionPubkey[:])
	n := int(r.U8())
	if n > MaxOrdersCap {
		return nil, fmt.Errorf("decode open orders: %d sealed orders: %w", n, auctionerr.ErrCorruptRecord)
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		var so SealedOrder
		r.Fixed(so.PublicKey[:])
		nonce := r.Bytes(sealed.NonceSize)
		if r.Err() == nil && len(nonce) != sealed.NonceSize {
			return nil, fmt.Errorf("decode open orders: nonce of %d bytes: %w", len(nonce), auctionerr.ErrCorruptRecord)
		}
		copy(so.Nonce[:], nonce)
		so.Ciphertext = r.Bytes(sealed.CiphertextSize)
		so.TokenQty = r.U64()
		o.SealedOrders = append(o.SealedOrders, so)
	}
	o.BaseFree = r.U64()
	o.BaseLocked = r.U64()
	o.QuoteFree = r.U64()
	o.QuoteLocked = r.U64()
	o.QuantityFilled = r.U64()
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	if !o.Side.Valid() || o.MaxOrders == 0 || o.MaxOrders > MaxOrdersCap {
		return nil, fmt.Errorf("decode open orders: side %d max %d: %w", o.Side, o.MaxOrders, auctionerr.ErrCorruptRecord)
	}
	return o, nil
}

// OrderHistory records what a user got out of an auction. It is written when the
// account is created and finalised when it is settled.
type OrderHistory struct {
	Owner               address.Identity
	Auction             address.Identity
	Side                Side
	QuantityFilled      uint64
	BaseAmountReturned  uint64
	QuoteAmountReturned uint64
	Settled             bool
	SettledAt           int64
}

const orderHistoryRecord = "OrderHistory"

// MarshalBinary encodes the history record.
func (h *OrderHistory) MarshalBinary() ([]byte, error) {
	w := layout.NewWriter(orderHistoryRecord)
	w.Fixed(h.Owner[:])
	w.Fixed(h.Auction[:])
	w.U8(uint8(h.Side))
	w.U64(h.QuantityFilled)
	w.U64(h.BaseAmountReturned)
	w.U64(h.QuoteAmountReturned)
	w.Bool(h.Settled)
	w.I64(h.SettledAt)
	return w.Finish(), nil
}

// UnmarshalOrderHistory decodes a history record.
func UnmarshalOrderHistory(b []byte) (*OrderHistory, error) {
	r, err := layout.NewReader(orderHistoryRecord, b)
	if err != nil {
		return nil, err
	}
	h := &OrderHistory{}
	r.Fixed(h.Owner[:])
	r.Fixed(h.Auction[:])
	h.Side = Side(r.U8())
	h.QuantityFilled = r.U64()
	h.BaseAmountReturned = r.U64()
	h.QuoteAmountReturned = r.U64()
	h.Settled = r.Bool()
	h.SettledAt = r.I64()
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("decode order history: %w", err)
	}
	return h, nil
}
