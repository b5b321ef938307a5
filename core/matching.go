package core

import (
	"context"
	"encoding"
	"fmt"
	"log"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/ledger"
	"github.com/cloudx-io/batchauction/slab"
)

// eventsPerMatch is the most events one match can queue: two fills and two outs.
const eventsPerMatch = 4

// MatchResult summarises a MatchOrders call.
type MatchResult struct {
	Matches           int
	QuantityFilled    uint64
	RemainingBidFills uint64
	RemainingAskFills uint64
}

// Done reports whether matching has finished.
func (r *MatchResult) Done() bool { return r.RemainingBidFills == 0 || r.RemainingAskFills == 0 }

// MatchOrders crosses the best bid with the best ask at the clearing price, up to limit
// times, queuing fill and out events for ConsumeEvents. It stops early when the event
// queue cannot hold another match and fails with AobEventQueueFull only if no match fit.
// Calls can be repeated until Done.
func (e *Engine) MatchOrders(ctx context.Context, auctionAddr address.Identity, limit int) (*MatchResult, error) {
	defer e.lock(auctionAddr)()
	tx := ledger.Begin(e.store)
	if limit <= 0 {
		limit = e.cfg.MatchBatchSize
	}
	st, err := e.loadState(ctx, tx, auctionAddr)
	if err != nil {
		return nil, err
	}
	a := st.auction
	if err := requireMatchPhase(a); err != nil {
		return nil, fmt.Errorf("match orders: %w", err)
	}

	res := &MatchResult{}
	for res.Matches < limit && a.RemainingBidFills > 0 && a.RemainingAskFills > 0 {
		if st.events.Free() < eventsPerMatch {
			if res.Matches == 0 {
				return nil, fmt.Errorf("match orders: %d of %d slots free: %w",
					st.events.Free(), st.events.Cap(), auctionerr.ErrEventQueueFull)
			}
			break
		}
		bid, okBid := st.book.Best(Bid)
		ask, okAsk := st.book.Best(Ask)
		if !okBid || !okAsk {
			log.Printf("WARNING: Auction %s book exhausted with %d bid and %d ask fills remaining",
				auctionAddr, a.RemainingBidFills, a.RemainingAskFills)
			a.RemainingBidFills, a.RemainingAskFills = 0, 0
			break
		}

		fill := min(bid.Qty, ask.Qty, a.RemainingBidFills, a.RemainingAskFills)
		if err := st.fill(Bid, bid, fill, a); err != nil {
			return nil, fmt.Errorf("match orders: %w", err)
		}
		if err := st.fill(Ask, ask, fill, a); err != nil {
			return nil, fmt.Errorf("match orders: %w", err)
		}
		a.RemainingBidFills -= fill
		a.RemainingAskFills -= fill
		if err := addTo(&a.TotalQuantityFilled, fill); err != nil {
			return nil, err
		}
		res.Matches++
		res.QuantityFilled += fill
	}
	res.RemainingBidFills = a.RemainingBidFills
	res.RemainingAskFills = a.RemainingAskFills

	b := tx.Batch()
	for _, put := range []struct {
		id  address.Identity
		rec encoding.BinaryMarshaler
	}{
		{auctionAddr, a},
		{a.Bids, st.book.Bids},
		{a.Asks, st.book.Asks},
		{a.EventQueue, st.events},
	} {
		if err := stage(b, put.id, put.rec); err != nil {
			return nil, err
		}
	}
	if err := e.store.Apply(ctx, b); err != nil {
		return nil, fmt.Errorf("match orders: %w", err)
	}
	log.Printf("INFO: Auction %s matched %d orders for %d, remaining %d",
		auctionAddr, res.Matches, res.QuantityFilled, res.RemainingBidFills)
	return res, nil
}

// fill takes qty off a resting order and queues its fill, and its out event if the
// order is exhausted.
func (st *auctionState) fill(side Side, leaf slab.Leaf, qty uint64, a *Auction) error {
	err := st.events.Push(Event{
		Kind:      EventFill,
		Side:      side,
		Owner:     leaf.Owner,
		OwnerSlot: leaf.OwnerSlot,
		OrderID:   leaf.Key,
		Price:     a.ClearingPrice,
		Qty:       qty,
	})
	if err != nil {
		return err
	}
	book := st.book.Side(side)
	if leaf.Qty > qty {
		return book.SetQty(leaf.Key, leaf.Qty-qty)
	}
	if _, err := book.Remove(leaf.Key); err != nil {
		return err
	}
	return st.events.Push(Event{
		Kind:      EventOut,
		Side:      side,
		Owner:     leaf.Owner,
		OwnerSlot: leaf.OwnerSlot,
		OrderID:   leaf.Key,
	})
}
