package core

import (
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/ledger"
	"github.com/cloudx-io/batchauction/slab"
)

// ClearingResult is the uniform price of a batch and the quantity it clears.
type ClearingResult struct {
	Price   fp32.Fixed
	Matched uint64
	// Low and High bound the book prices that clear Matched. Every price between them
	// clears the same quantity.
	Low  fp32.Fixed
	High fp32.Fixed
}

// ComputeClearingPrice finds the price maximising min(bid qty at or above p, ask qty at
// or below p) over the price levels of both books.
//
// When several levels clear the same maximum the price is the bid/ask midpoint,
// floored to the tick and clamped into [Low, High]:
//
//	price = clamp(quantize(midpoint(bestBid, bestAsk), tick), Low, High)
//
// The levels reaching the maximum are contiguous, so the result always clears the
// maximum. Levels may be given in any order.
func ComputeClearingPrice(bids, asks []slab.Level, tick fp32.Fixed) (ClearingResult, error) {
	switch {
	case len(bids) == 0 && len(asks) == 0:
		return ClearingResult{}, auctionerr.ErrNoOrdersInOrderbook
	case len(bids) == 0:
		return ClearingResult{}, auctionerr.ErrNoBidOrders
	case len(asks) == 0:
		return ClearingResult{}, auctionerr.ErrNoAskOrders
	}

	byPrice := func(a, b slab.Level) int {
		switch {
		case a.Price < b.Price:
			return -1
		case a.Price > b.Price:
			return 1
		}
		return 0
	}
	bids = slices.SortedFunc(slices.Values(bids), byPrice)
	asks = slices.SortedFunc(slices.Values(asks), byPrice)

	prices := make([]fp32.Fixed, 0, len(bids)+len(asks))
	var totalBid uint64
	for _, l := range bids {
		prices = append(prices, l.Price)
		if err := addTo(&totalBid, l.Qty); err != nil {
			return ClearingResult{}, err
		}
	}
	for _, l := range asks {
		prices = append(prices, l.Price)
	}
	slices.Sort(prices)
	prices = slices.Compact(prices)

	matched := make([]uint64, len(prices))
	var cumAsk, bidsBelow uint64
	ai, bi := 0, 0
	for i, p := range prices {
		for ai < len(asks) && asks[ai].Price <= p {
			if err := addTo(&cumAsk, asks[ai].Qty); err != nil {
				return ClearingResult{}, err
			}
			ai++
		}
		for bi < len(bids) && bids[bi].Price < p {
			bidsBelow += bids[bi].Qty
			bi++
		}
		matched[i] = min(totalBid-bidsBelow, cumAsk)
	}

	best := slices.Max(matched)
	lo := slices.Index(matched, best)
	hi := lo
	for hi+1 < len(matched) && matched[hi+1] == best {
		hi++
	}

	mid := fp32.Midpoint(bids[len(bids)-1].Price, asks[0].Price)
	return ClearingResult{
		Price:   mid.Quantize(tick).Clamp(prices[lo], prices[hi]),
		Matched: best,
		Low:     prices[lo],
		High:    prices[hi],
	}, nil
}

// MatchedAt returns the quantity that would trade at price p.
func MatchedAt(bids, asks []slab.Level, p fp32.Fixed) uint64 {
	var b, a uint64
	for _, l := range bids {
		if l.Price >= p {
			b += l.Qty
		}
	}
	for _, l := range asks {
		if l.Price <= p {
			a += l.Qty
		}
	}
	return min(a, b)
}

// CalculateClearingPrice computes the clearing price of the revealed book once the
// order and decryption windows have closed, and opens matching. Sealed orders that were
// never revealed do not take part.
func (e *Engine) CalculateClearingPrice(ctx context.Context, auctionAddr address.Identity) (ClearingResult, error) {
	defer e.lock(auctionAddr)()
	tx := ledger.Begin(e.store)
	st, err := e.loadState(ctx, tx, auctionAddr)
	if err != nil {
		return ClearingResult{}, err
	}
	a := st.auction
	if err := requireClearingPhase(a, e.clock.Now()); err != nil {
		return ClearingResult{}, fmt.Errorf("calculate clearing price: %w", err)
	}

	bids, err := st.book.Depth(Bid, 0)
	if err != nil {
		return ClearingResult{}, err
	}
	asks, err := st.book.Depth(Ask, 0)
	if err != nil {
		return ClearingResult{}, err
	}
	res, err := ComputeClearingPrice(bids, asks, a.TickSize)
	if err != nil {
		return ClearingResult{}, fmt.Errorf("calculate clearing price: %w", err)
	}

	a.HasClearingPrice = true
	a.ClearingPrice = res.Price
	a.TotalQuantityMatched = res.Matched
	a.RemainingBidFills = res.Matched
	a.RemainingAskFills = res.Matched

	b := tx.Batch()
	if err := stage(b, auctionAddr, a); err != nil {
		return ClearingResult{}, err
	}
	if err := e.store.Apply(ctx, b); err != nil {
		return ClearingResult{}, fmt.Errorf("calculate clearing price: %w", err)
	}
	log.Printf("INFO: Auction %s cleared at %s, matched %d across %d bid and %d ask levels",
		auctionAddr, res.Price, res.Matched, len(bids), len(asks))
	return res, nil
}
