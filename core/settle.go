package core

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/ledger"
	"github.com/cloudx-io/batchauction/slab"
)

// SettlementResult is what a closed account paid out.
type SettlementResult struct {
	QuantityFilled uint64
	BaseReturned   uint64
	QuoteReturned  uint64
	// OrdersRemoved counts resting orders taken off the book unfilled.
	OrdersRemoved int
	// SealedRefunded counts sealed orders that were never revealed.
	SealedRefunded int
}

// CloseOpenOrders withdraws the free balances of an account that has no orders and
// nothing locked, and deletes it. It can run in any phase.
func (e *Engine) CloseOpenOrders(ctx context.Context, auctionAddr, user address.Identity) (*SettlementResult, error) {
	defer e.lock(auctionAddr)()
	tx := ledger.Begin(e.store)
	a, err := getAuction(ctx, tx, auctionAddr)
	if err != nil {
		return nil, err
	}
	oo, ooAddr, err := e.userAccount(ctx, tx, a, user)
	if err != nil {
		return nil, err
	}
	if n := oo.NumOrders() + len(oo.SealedOrders); n > 0 {
		return nil, fmt.Errorf("close open orders with %d orders: %w", n, auctionerr.ErrOpenOrdersHasOpenOrders)
	}
	if oo.HasLocked() {
		return nil, fmt.Errorf("close open orders: %w", auctionerr.ErrOpenOrdersHasLockedTokens)
	}

	b := tx.Batch()
	res, err := e.closeAccount(b, a, ooAddr, oo)
	if err != nil {
		return nil, err
	}
	if err := e.store.Apply(ctx, b); err != nil {
		return nil, fmt.Errorf("close open orders of %s: %w", user, err)
	}
	return res, nil
}

// SettleAndCloseOpenOrders finishes a user's auction once matching is done and every
// event has been consumed. Unfilled orders leave the book, unrevealed deposits and all
// locked balances are released, and everything the account holds is paid out.
func (e *Engine) SettleAndCloseOpenOrders(ctx context.Context, auctionAddr, user address.Identity) (*SettlementResult, error) {
	defer e.lock(auctionAddr)()
	tx := ledger.Begin(e.store)
	st, err := e.loadState(ctx, tx, auctionAddr)
	if err != nil {
		return nil, err
	}
	a := st.auction
	if err := requireSettlement(a, e.clock.Now()); err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}
	if n := st.events.Len(); n > 0 {
		return nil, fmt.Errorf("settle with %d pending events: %w", n, auctionerr.ErrEventQueueNotEmpty)
	}
	oo, ooAddr, err := e.userAccount(ctx, tx, a, user)
	if err != nil {
		return nil, err
	}

	removed := 0
	for slot, key := range oo.Orders {
		if key == (slab.Key{}) {
			continue
		}
		if _, err := st.book.Remove(oo.Side, key); err != nil {
			return nil, fmt.Errorf("settle order %s: %w: %w", key, auctionerr.ErrNodeKeyNotFound, err)
		}
		oo.Orders[slot] = slab.Key{}
		removed++
	}
	refunded := len(oo.SealedOrders)
	oo.SealedOrders = nil
	if err := addTo(&oo.BaseFree, oo.BaseLocked); err != nil {
		return nil, err
	}
	if err := addTo(&oo.QuoteFree, oo.QuoteLocked); err != nil {
		return nil, err
	}
	oo.BaseLocked, oo.QuoteLocked = 0, 0

	b := tx.Batch()
	if removed > 0 {
		if err := st.stageBook(b, oo.Side); err != nil {
			return nil, err
		}
	}
	res, err := e.closeAccount(b, a, ooAddr, oo)
	if err != nil {
		return nil, err
	}
	res.OrdersRemoved, res.SealedRefunded = removed, refunded
	if err := e.store.Apply(ctx, b); err != nil {
		return nil, fmt.Errorf("settle %s: %w", user, err)
	}
	log.Printf("INFO: Settled %s in auction %s: filled %d, returned %d base and %d quote",
		user, auctionAddr, res.QuantityFilled, res.BaseReturned, res.QuoteReturned)
	return res, nil
}

// closeAccount stages the payout of oo's free balances, its final history and its
// deletion.
func (e *Engine) closeAccount(b *ledger.Batch, a *Auction, ooAddr address.Identity, oo *OpenOrders) (*SettlementResult, error) {
	b.Transfer(a.BaseMint, a.BaseVault, oo.Owner, oo.BaseFree)
	b.Transfer(a.QuoteMint, a.QuoteVault, oo.Owner, oo.QuoteFree)

	histAddr, err := e.orderHistoryAddress(a, oo.Owner)
	if err != nil {
		return nil, err
	}
	hist := &OrderHistory{
		Owner:               oo.Owner,
		Auction:             oo.Auction,
		Side:                oo.Side,
		QuantityFilled:      oo.QuantityFilled,
		BaseAmountReturned:  oo.BaseFree,
		QuoteAmountReturned: oo.QuoteFree,
		Settled:             true,
		SettledAt:           e.clock.Now(),
	}
	if err := stage(b, histAddr.Identity, hist); err != nil {
		return nil, err
	}
	b.Delete(ooAddr)
	return &SettlementResult{
		QuantityFilled: oo.QuantityFilled,
		BaseReturned:   oo.BaseFree,
		QuoteReturned:  oo.QuoteFree,
	}, nil
}

// CloseAuction deletes the auction and its resident records once every account has
// been settled: both books, the event queue and both vaults must be empty.
func (e *Engine) CloseAuction(ctx context.Context, auctionAddr address.Identity) error {
	defer e.lock(auctionAddr)()
	tx := ledger.Begin(e.store)
	st, err := e.loadState(ctx, tx, auctionAddr)
	if err != nil {
		return err
	}
	a := st.auction
	if err := requireSettlement(a, e.clock.Now()); err != nil {
		return fmt.Errorf("close auction: %w", err)
	}
	if !st.book.Empty() {
		return fmt.Errorf("close auction with %d bids and %d asks: %w",
			st.book.Bids.Len(), st.book.Asks.Len(), auctionerr.ErrOrderBookNotEmpty)
	}
	if n := st.events.Len(); n > 0 {
		return fmt.Errorf("close auction with %d events: %w", n, auctionerr.ErrEventQueueNotEmpty)
	}
	for _, acct := range []ledger.Account{
		{Owner: a.BaseVault, Mint: a.BaseMint},
		{Owner: a.QuoteVault, Mint: a.QuoteMint},
	} {
		bal, err := e.store.Balance(ctx, acct)
		if err != nil {
			return fmt.Errorf("close auction: %w", err)
		}
		if bal != 0 {
			return fmt.Errorf("vault %s holds %d: %w", acct, bal, auctionerr.ErrVaultNotEmpty)
		}
	}

	b := tx.Batch()
	for _, id := range []address.Identity{auctionAddr, a.Bids, a.Asks, a.EventQueue} {
		b.Delete(id)
	}
	if err := e.store.Apply(ctx, b); err != nil {
		return fmt.Errorf("close auction: %w", err)
	}
	e.locks.Delete(auctionAddr)
	log.Printf("INFO: Closed auction %s", auctionAddr)
	return nil
}
