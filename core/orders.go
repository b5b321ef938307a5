package core

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"log"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/ledger"
	"github.com/cloudx-io/batchauction/sealed"
	"github.com/cloudx-io/batchauction/slab"
)

// InitAuctionParams describes a new auction.
type InitAuctionParams struct {
	AuctionID []byte
	Authority address.Identity

	QuoteMint     address.Identity
	BaseMint      address.Identity
	QuoteDecimals uint8
	BaseDecimals  uint8

	OrderPhaseStart    int64
	OrderPhaseEnd      int64
	DecryptionPhaseEnd int64

	AreBidsEncrypted bool
	AreAsksEncrypted bool
	// EncryptionPubkey is the authority's public key for sealed orders. The secret half
	// stays with the decryption agent.
	EncryptionPubkey sealed.Key

	MinBaseOrderSize uint64
	TickSize         fp32.Fixed
}

// Validate checks the parameters against the clock reading now.
func (p InitAuctionParams) Validate(now int64) error {
	switch {
	case len(p.AuctionID) == 0 || len(p.AuctionID) > MaxAuctionIDLen:
		return fmt.Errorf("auction id of %d bytes: %w", len(p.AuctionID), auctionerr.ErrInvalidAuctionID)
	case p.OrderPhaseStart >= p.OrderPhaseEnd:
		return fmt.Errorf("order phase [%d, %d): %w", p.OrderPhaseStart, p.OrderPhaseEnd, auctionerr.ErrInvalidStartTimes)
	case p.OrderPhaseEnd <= now:
		return fmt.Errorf("order phase ends %d, now %d: %w", p.OrderPhaseEnd, now, auctionerr.ErrInvalidEndTimes)
	case p.DecryptionPhaseEnd <= p.OrderPhaseEnd:
		return fmt.Errorf("decryption ends %d, order phase ends %d: %w", p.DecryptionPhaseEnd, p.OrderPhaseEnd, auctionerr.ErrInvalidDecryptionEndTime)
	case p.MinBaseOrderSize == 0:
		return auctionerr.ErrInvalidMinBaseOrderSize
	case p.TickSize == 0:
		return auctionerr.ErrInvalidTickSize
	case p.QuoteDecimals != p.BaseDecimals:
		return fmt.Errorf("quote decimals %d, base decimals %d: %w", p.QuoteDecimals, p.BaseDecimals, auctionerr.ErrIncompatibleMintDecimals)
	case (p.AreBidsEncrypted || p.AreAsksEncrypted) && p.EncryptionPubkey.IsZero():
		return auctionerr.ErrMissingEncryptionKey
	}
	return nil
}

// InitAuction creates the auction record together with its empty books and event
// queue, and returns the auction identity.
func (e *Engine) InitAuction(ctx context.Context, p InitAuctionParams) (address.Identity, error) {
	if err := p.Validate(e.clock.Now()); err != nil {
		return address.Identity{}, fmt.Errorf("init auction: %w", err)
	}
	ids, err := address.DeriveSet(p.AuctionID, p.Authority, e.program)
	if err != nil {
		return address.Identity{}, fmt.Errorf("init auction: %w", err)
	}
	addr := ids.Auction.Identity
	defer e.lock(addr)()
	tx := ledger.Begin(e.store)
	if _, err := tx.Get(ctx, addr); err == nil {
		return address.Identity{}, fmt.Errorf("init auction %s: %w", addr, auctionerr.ErrAlreadyInitialized)
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return address.Identity{}, fmt.Errorf("init auction %s: %w", addr, err)
	}

	a := &Auction{
		ID:                 append([]byte(nil), p.AuctionID...),
		Authority:          p.Authority,
		Bump:               ids.Auction.Bump,
		QuoteMint:          p.QuoteMint,
		BaseMint:           p.BaseMint,
		QuoteDecimals:      p.QuoteDecimals,
		BaseDecimals:       p.BaseDecimals,
		QuoteVault:         ids.QuoteVault.Identity,
		BaseVault:          ids.BaseVault.Identity,
		Bids:               ids.Bids.Identity,
		Asks:               ids.Asks.Identity,
		EventQueue:         ids.EventQueue.Identity,
		OrderPhaseStart:    p.OrderPhaseStart,
		OrderPhaseEnd:      p.OrderPhaseEnd,
		DecryptionPhaseEnd: p.DecryptionPhaseEnd,
		AreBidsEncrypted:   p.AreBidsEncrypted,
		AreAsksEncrypted:   p.AreAsksEncrypted,
		EncryptionPubkey:   p.EncryptionPubkey,
		MinBaseOrderSize:   p.MinBaseOrderSize,
		TickSize:           p.TickSize,
		BookCapacity:       e.cfg.BookCapacity,
		EventQueueCapacity: e.cfg.EventQueueCapacity,
	}

	b := tx.Batch()
	for id, rec := range map[address.Identity]encoding.BinaryMarshaler{
		addr:         a,
		a.Bids:       slab.New(e.cfg.BookCapacity),
		a.Asks:       slab.New(e.cfg.BookCapacity),
		a.EventQueue: NewEventQueue(e.cfg.EventQueueCapacity),
	} {
		if err := stage(b, id, rec); err != nil {
			return address.Identity{}, err
		}
	}
	if err := e.store.Apply(ctx, b); err != nil {
		return address.Identity{}, fmt.Errorf("init auction %s: %w", addr, err)
	}
	log.Printf("INFO: Initialized auction %s (order phase %d..%d, decryption until %d)",
		addr, p.OrderPhaseStart, p.OrderPhaseEnd, p.DecryptionPhaseEnd)
	return addr, nil
}

// InitOpenOrders creates the account user trades side through, and its order history.
// encryptionPubkey is the user's key for sealed orders and is required when side is
// sealed.
func (e *Engine) InitOpenOrders(ctx context.Context, auctionAddr, user address.Identity, side Side, maxOrders uint8, encryptionPubkey sealed.Key) (address.Identity, error) {
	defer e.lock(auctionAddr)()
	tx := ledger.Begin(e.store)
	if maxOrders == 0 || maxOrders > MaxOrdersCap {
		return address.Identity{}, fmt.Errorf("max orders %d: %w", maxOrders, auctionerr.ErrMaxOrdersValueIsInvalid)
	}
	if !side.Valid() {
		return address.Identity{}, fmt.Errorf("init open orders: %s", side)
	}
	a, err := getAuction(ctx, tx, auctionAddr)
	if err != nil {
		return address.Identity{}, err
	}
	if e.clock.Now() >= a.OrderPhaseEnd {
		return address.Identity{}, fmt.Errorf("init open orders: %w", auctionerr.ErrOrderPhaseIsOver)
	}
	if a.SideEncrypted(side) && encryptionPubkey.IsZero() {
		return address.Identity{}, fmt.Errorf("init open orders on sealed %s side: %w", side, auctionerr.ErrMissingEncryptionKey)
	}

	ooAddr, err := e.openOrdersAddress(a, user)
	if err != nil {
		return address.Identity{}, err
	}
	histAddr, err := e.orderHistoryAddress(a, user)
	if err != nil {
		return address.Identity{}, err
	}
	if _, err := tx.Get(ctx, ooAddr.Identity); err == nil {
		return address.Identity{}, fmt.Errorf("open orders %s: %w", ooAddr.Identity, auctionerr.ErrAlreadyInitialized)
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return address.Identity{}, err
	}

	oo := &OpenOrders{
		Owner:            user,
		Auction:          auctionAddr,
		Bump:             ooAddr.Bump,
		Side:             side,
		MaxOrders:        maxOrders,
		EncryptionPubkey: encryptionPubkey,
	}
	hist := &OrderHistory{Owner: user, Auction: auctionAddr, Side: side}

	b := tx.Batch()
	if err := stage(b, ooAddr.Identity, oo); err != nil {
		return address.Identity{}, err
	}
	if err := stage(b, histAddr.Identity, hist); err != nil {
		return address.Identity{}, err
	}
	if err := e.store.Apply(ctx, b); err != nil {
		return address.Identity{}, fmt.Errorf("init open orders: %w", err)
	}
	return ooAddr.Identity, nil
}

// collateral is the amount locked for an order: quote at the limit price for bids,
// base quantity for asks.
func collateral(side Side, price fp32.Fixed, qty uint64) (uint64, error) {
	if side == Bid {
		return price.MulQty(qty)
	}
	return qty, nil
}

// deposit stages a transfer of amount from user into the vault of side.
func deposit(b *ledger.Batch, a *Auction, side Side, user address.Identity, amount uint64) {
	vault, mint := a.Vault(side)
	b.Transfer(mint, user, vault, amount)
}

func depositErr(err error) error {
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return fmt.Errorf("%w: %w", auctionerr.ErrInsufficientTokens, err)
	}
	return err
}

// NewOrder rests a plain limit order and locks its collateral from user's wallet.
func (e *Engine) NewOrder(ctx context.Context, auctionAddr, user address.Identity, price fp32.Fixed, qty uint64) (slab.Key, error) {
	defer e.lock(auctionAddr)()
	tx := ledger.Begin(e.store)
	st, err := e.loadState(ctx, tx, auctionAddr)
	if err != nil {
		return slab.Key{}, err
	}
	a := st.auction
	if err := requireOrderPhase(a, e.clock.Now()); err != nil {
		return slab.Key{}, fmt.Errorf("new order: %w", err)
	}
	oo, ooAddr, err := e.userAccount(ctx, tx, a, user)
	if err != nil {
		return slab.Key{}, err
	}
	side := oo.Side
	if a.SideEncrypted(side) {
		return slab.Key{}, fmt.Errorf("new %s order: %w", side, auctionerr.ErrEncryptedOrdersOnly)
	}
	if err := st.book.Validate(price, qty); err != nil {
		return slab.Key{}, fmt.Errorf("new %s order: %w", side, err)
	}
	slot, ok := oo.freeSlot()
	if !ok {
		return slab.Key{}, fmt.Errorf("new %s order: %w", side, auctionerr.ErrTooManyOrders)
	}
	amount, err := collateral(side, price, qty)
	if err != nil {
		return slab.Key{}, err
	}

	key, err := st.book.Insert(side, price, qty, a.NextSeq, user, slot)
	if err != nil {
		return slab.Key{}, fmt.Errorf("new %s order: %w", side, err)
	}
	a.NextSeq++
	oo.Orders[slot] = key
	if err := oo.lock(amount); err != nil {
		return slab.Key{}, err
	}

	b := tx.Batch()
	deposit(b, a, side, user, amount)
	if err := stage(b, auctionAddr, a); err != nil {
		return slab.Key{}, err
	}
	if err := st.stageBook(b, side); err != nil {
		return slab.Key{}, err
	}
	if err := stage(b, ooAddr, oo); err != nil {
		return slab.Key{}, err
	}
	if err := e.store.Apply(ctx, b); err != nil {
		return slab.Key{}, fmt.Errorf("new %s order: %w", side, depositErr(err))
	}
	return key, nil
}

// CancelOrder removes a resting order during the order phase and frees its collateral
// into the account's free balance.
func (e *Engine) CancelOrder(ctx context.Context, auctionAddr, user address.Identity, orderID slab.Key) error {
	defer e.lock(auctionAddr)()
	tx := ledger.Begin(e.store)
	st, err := e.loadState(ctx, tx, auctionAddr)
	if err != nil {
		return err
	}
	a := st.auction
	if err := requireOrderPhase(a, e.clock.Now()); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	oo, ooAddr, err := e.userAccount(ctx, tx, a, user)
	if err != nil {
		return err
	}
	slot, ok := oo.slotOf(orderID)
	if !ok {
		return fmt.Errorf("cancel order %s: %w", orderID, auctionerr.ErrOrderIDNotFound)
	}
	leaf, err := st.book.Remove(oo.Side, orderID)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	amount, err := collateral(oo.Side, leaf.Price(), leaf.Qty)
	if err != nil {
		return err
	}
	if err := oo.unlock(amount); err != nil {
		return err
	}
	oo.Orders[slot] = slab.Key{}

	b := tx.Batch()
	if err := st.stageBook(b, oo.Side); err != nil {
		return err
	}
	if err := stage(b, ooAddr, oo); err != nil {
		return err
	}
	if err := e.store.Apply(ctx, b); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}
