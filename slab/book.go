package slab

import (
	"fmt"
	"math/bits"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/fp32"
)

// Side is the side of an order.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// Valid reports whether s is Bid or Ask.
func (s Side) Valid() bool { return s == Bid || s == Ask }

// OrderKey builds the id of an order. Asks iterate ascending and bids descending, so
// the low half holds seq for asks and its complement for bids: either way earlier
// orders come first at equal prices.
func OrderKey(side Side, price fp32.Fixed, seq uint64) Key {
	if side == Bid {
		return Key{Hi: price.Raw(), Lo: ^seq}
	}
	return Key{Hi: price.Raw(), Lo: seq}
}

// Price returns the price encoded in an order id.
func (k Key) Price() fp32.Fixed { return fp32.Fixed(k.Hi) }

// Seq returns the sequence number encoded in an order id.
func (k Key) Seq(side Side) uint64 {
	if side == Bid {
		return ^k.Lo
	}
	return k.Lo
}

// Price returns the limit price of the order.
func (l Leaf) Price() fp32.Fixed { return l.Key.Price() }

// Level is the aggregated resting quantity at one price.
type Level struct {
	Price fp32.Fixed
	Qty   uint64
}

// Book holds one slab per side together with the auction's order constraints.
type Book struct {
	Bids     *Slab
	Asks     *Slab
	Tick     fp32.Fixed
	MinSize  uint64
	MaxDepth int
}

// NewBook returns an empty book with capacity leaves per side.
func NewBook(capacity uint32, tick fp32.Fixed, minSize uint64, maxDepth int) *Book {
	return &Book{
		Bids:     New(capacity),
		Asks:     New(capacity),
		Tick:     tick,
		MinSize:  minSize,
		MaxDepth: maxDepth,
	}
}

// Side returns the slab for side.
func (b *Book) Side(side Side) *Slab {
	if side == Bid {
		return b.Bids
	}
	return b.Asks
}

// Validate checks an order against the tick size and minimum size.
func (b *Book) Validate(price fp32.Fixed, qty uint64) error {
	if !price.IsMultipleOf(b.Tick) {
		return fmt.Errorf("price %s, tick %s: %w", price, b.Tick, auctionerr.ErrLimitPriceNotTickMultiple)
	}
	if qty < b.MinSize {
		return fmt.Errorf("qty %d, min %d: %w", qty, b.MinSize, auctionerr.ErrOrderBelowMinSize)
	}
	return nil
}

// Insert validates and rests an order, returning its id.
func (b *Book) Insert(side Side, price fp32.Fixed, qty, seq uint64, owner address.Identity, slot uint8) (Key, error) {
	if err := b.Validate(price, qty); err != nil {
		return Key{}, err
	}
	key := OrderKey(side, price, seq)
	err := b.Side(side).Insert(Leaf{Key: key, Owner: owner, OwnerSlot: slot, Qty: qty})
	if err != nil {
		return Key{}, fmt.Errorf("%s book: %w", side, err)
	}
	return key, nil
}

// Remove deletes an order by id.
func (b *Book) Remove(side Side, key Key) (Leaf, error) {
	return b.Side(side).Remove(key)
}

// Best returns the highest priority order on side.
func (b *Book) Best(side Side) (Leaf, bool) {
	if side == Bid {
		return b.Bids.Max()
	}
	return b.Asks.Min()
}

// Iter walks side in priority order.
func (b *Book) Iter(side Side) *Iterator {
	if side == Bid {
		return b.Bids.Descending(b.MaxDepth)
	}
	return b.Asks.Ascending(b.MaxDepth)
}

// Depth sums resting quantity into at most levels price levels in priority order.
// levels <= 0 aggregates the whole side.
func (b *Book) Depth(side Side, levels int) ([]Level, error) {
	it := b.Iter(side)
	var out []Level
	for {
		leaf, ok := it.Next()
		if !ok {
			break
		}
		if n := len(out); n > 0 && out[n-1].Price == leaf.Price() {
			sum, carry := bits.Add64(out[n-1].Qty, leaf.Qty, 0)
			if carry != 0 {
				return nil, fmt.Errorf("%s depth at %s: %w", side, leaf.Price(), auctionerr.ErrNumericalOverflow)
			}
			out[n-1].Qty = sum
			continue
		}
		if levels > 0 && len(out) == levels {
			break
		}
		out = append(out, Level{Price: leaf.Price(), Qty: leaf.Qty})
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("%s depth: %w", side, err)
	}
	return out, nil
}

// OrdersOf returns the ids of owner's orders on side.
func (b *Book) OrdersOf(side Side, owner address.Identity) ([]Key, error) {
	it := b.Iter(side)
	var keys []Key
	for {
		leaf, ok := it.Next()
		if !ok {
			break
		}
		if leaf.Owner == owner {
			keys = append(keys, leaf.Key)
		}
	}
	return keys, it.Err()
}

// Empty reports whether both sides are empty.
func (b *Book) Empty() bool { return b.Bids.Empty() && b.Asks.Empty() }
