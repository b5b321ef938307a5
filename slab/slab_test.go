package slab

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"pgregory.net/rapid"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/fp32"
)

func keysOf(leaves []Leaf) []Key {
	out := make([]Key, len(leaves))
	for i, l := range leaves {
		out[i] = l.Key
	}
	return out
}

func TestInsertFindRemove(t *testing.T) {
	s := New(8)
	for _, lo := range []uint64{5, 1, 9, 3} {
		assert.NoError(t, s.Insert(Leaf{Key: Key{Lo: lo}, Qty: lo * 10}))
	}
	check.Equal(t, 4, s.Len())

	leaf, ok := s.Find(Key{Lo: 9})
	check.True(t, ok)
	check.Equal(t, uint64(90), leaf.Qty)

	_, ok = s.Find(Key{Lo: 4})
	check.False(t, ok)

	lo, _ := s.Min()
	hi, _ := s.Max()
	check.Equal(t, Key{Lo: 1}, lo.Key)
	check.Equal(t, Key{Lo: 9}, hi.Key)

	removed, err := s.Remove(Key{Lo: 5})
	assert.NoError(t, err)
	check.Equal(t, uint64(50), removed.Qty)
	check.Equal(t, 3, s.Len())

	_, err = s.Remove(Key{Lo: 5})
	check.True(t, errors.Is(err, auctionerr.ErrOrderIDNotFound))

	all, err := s.Ascending(0).Collect()
	assert.NoError(t, err)
	check.Equal(t, []Key{{Lo: 1}, {Lo: 3}, {Lo: 9}}, keysOf(all))
}

func TestRemoveToEmptyAndReuse(t *testing.T) {
	s := New(2)
	assert.NoError(t, s.Insert(Leaf{Key: Key{Lo: 1}}))
	assert.NoError(t, s.Insert(Leaf{Key: Key{Lo: 2}}))

	err := s.Insert(Leaf{Key: Key{Lo: 3}})
	check.True(t, errors.Is(err, auctionerr.ErrSlabFull))

	_, err = s.Remove(Key{Lo: 1})
	assert.NoError(t, err)
	_, err = s.Remove(Key{Lo: 2})
	assert.NoError(t, err)
	check.True(t, s.Empty())
	_, ok := s.Min()
	check.False(t, ok)

	// Freed nodes are reused.
	assert.NoError(t, s.Insert(Leaf{Key: Key{Lo: 7}}))
	assert.NoError(t, s.Insert(Leaf{Key: Key{Lo: 8}}))
	check.Equal(t, 2, s.Len())
}

func TestDuplicateKey(t *testing.T) {
	s := New(4)
	assert.NoError(t, s.Insert(Leaf{Key: Key{Hi: 1, Lo: 1}}))
	err := s.Insert(Leaf{Key: Key{Hi: 1, Lo: 1}})
	check.True(t, errors.Is(err, auctionerr.ErrDuplicateOrderKey))
	check.Equal(t, 1, s.Len())
}

func TestSetQty(t *testing.T) {
	s := New(4)
	assert.NoError(t, s.Insert(Leaf{Key: Key{Lo: 1}, Qty: 10}))
	assert.NoError(t, s.SetQty(Key{Lo: 1}, 4))
	leaf, _ := s.Find(Key{Lo: 1})
	check.Equal(t, uint64(4), leaf.Qty)

	err := s.SetQty(Key{Lo: 2}, 1)
	check.True(t, errors.Is(err, auctionerr.ErrNodeKeyNotFound))
}

func TestIteratorDepthBound(t *testing.T) {
	s := New(4)
	for _, lo := range []uint64{1, 2, 3} {
		assert.NoError(t, s.Insert(Leaf{Key: Key{Lo: lo}}))
	}

	asc, err := s.Ascending(2).Collect()
	assert.NoError(t, err)
	check.Equal(t, 3, len(asc))

	it := s.Descending(2)
	first, ok := it.Next()
	check.False(t, ok)
	check.Equal(t, Key{}, first.Key)
	check.True(t, errors.Is(it.Err(), auctionerr.ErrSlabIteratorOverflow))

	// The iterator stays stopped.
	_, ok = it.Next()
	check.False(t, ok)

	single := New(1)
	assert.NoError(t, single.Insert(Leaf{Key: Key{Lo: 1}}))
	one, err := single.Descending(1).Collect()
	assert.NoError(t, err)
	check.Equal(t, 1, len(one))
}

func TestCodecRoundTrip(t *testing.T) {
	s := New(4)
	owner := address.Identity{1, 2, 3}
	for _, lo := range []uint64{4, 2, 6} {
		assert.NoError(t, s.Insert(Leaf{Key: Key{Hi: 9, Lo: lo}, Owner: owner, OwnerSlot: uint8(lo), Qty: lo}))
	}
	_, err := s.Remove(Key{Hi: 9, Lo: 2})
	assert.NoError(t, err)

	raw, err := s.MarshalBinary()
	assert.NoError(t, err)

	empty, err := New(4).MarshalBinary()
	assert.NoError(t, err)
	check.Equal(t, len(empty), len(raw))

	back, err := Unmarshal(raw)
	assert.NoError(t, err)
	check.Equal(t, s.Len(), back.Len())

	want, _ := s.Ascending(0).Collect()
	got, err := back.Ascending(0).Collect()
	assert.NoError(t, err)
	check.Equal(t, want, got)

	assert.NoError(t, back.Insert(Leaf{Key: Key{Hi: 9, Lo: 1}}))
	check.Equal(t, 3, back.Len())

	_, err = Unmarshal(raw[:len(raw)-1])
	check.True(t, errors.Is(err, auctionerr.ErrCorruptRecord))
}

func TestBookPriorityOrder(t *testing.T) {
	tick := fp32.MustParse("0.5")
	b := NewBook(8, tick, 1, 0)
	p := func(s string) fp32.Fixed { return fp32.MustParse(s) }

	_, err := b.Insert(Bid, p("10"), 1, 1, address.Zero, 0)
	assert.NoError(t, err)
	_, err = b.Insert(Bid, p("11"), 1, 2, address.Zero, 0)
	assert.NoError(t, err)
	_, err = b.Insert(Bid, p("10"), 1, 3, address.Zero, 0)
	assert.NoError(t, err)

	_, err = b.Insert(Ask, p("10"), 1, 4, address.Zero, 0)
	assert.NoError(t, err)
	_, err = b.Insert(Ask, p("9"), 1, 5, address.Zero, 0)
	assert.NoError(t, err)
	_, err = b.Insert(Ask, p("10"), 1, 6, address.Zero, 0)
	assert.NoError(t, err)

	bids, err := b.Iter(Bid).Collect()
	assert.NoError(t, err)
	check.Equal(t, []Key{
		OrderKey(Bid, p("11"), 2),
		OrderKey(Bid, p("10"), 1),
		OrderKey(Bid, p("10"), 3),
	}, keysOf(bids))

	asks, err := b.Iter(Ask).Collect()
	assert.NoError(t, err)
	check.Equal(t, []Key{
		OrderKey(Ask, p("9"), 5),
		OrderKey(Ask, p("10"), 4),
		OrderKey(Ask, p("10"), 6),
	}, keysOf(asks))

	best, ok := b.Best(Bid)
	check.True(t, ok)
	check.Equal(t, p("11"), best.Price())
	check.Equal(t, uint64(2), best.Key.Seq(Bid))
}

func TestBookValidation(t *testing.T) {
	tick := fp32.MustParse("0.1")
	b := NewBook(4, tick, 1000, 0)

	_, err := b.Insert(Bid, fp32.MustParse("10.03"), 2000, 1, address.Zero, 0)
	check.True(t, errors.Is(err, auctionerr.ErrLimitPriceNotTickMultiple))

	ten, err := fp32.Ticks(100, tick)
	assert.NoError(t, err)
	_, err = b.Insert(Bid, ten, 500, 1, address.Zero, 0)
	check.True(t, errors.Is(err, auctionerr.ErrOrderBelowMinSize))

	_, err = b.Insert(Bid, 0, 2000, 1, address.Zero, 0)
	check.True(t, errors.Is(err, auctionerr.ErrLimitPriceNotTickMultiple))

	_, err = b.Insert(Bid, ten, 2000, 1, address.Zero, 0)
	assert.NoError(t, err)
	check.True(t, b.Asks.Empty())
	check.False(t, b.Empty())
}

func TestBookDepth(t *testing.T) {
	b := NewBook(8, fp32.One, 1, 0)
	owner := address.Identity{9}
	price := func(n uint64) fp32.Fixed { return fp32.MustFromInt(n) }

	inserts := []struct {
		price uint64
		qty   uint64
	}{{5, 10}, {7, 1}, {5, 4}, {6, 3}}
	for i, in := range inserts {
		_, err := b.Insert(Bid, price(in.price), in.qty, uint64(i), owner, 0)
		assert.NoError(t, err)
	}

	all, err := b.Depth(Bid, 0)
	assert.NoError(t, err)
	check.Equal(t, []Level{{price(7), 1}, {price(6), 3}, {price(5), 14}}, all)

	top, err := b.Depth(Bid, 2)
	assert.NoError(t, err)
	check.Equal(t, []Level{{price(7), 1}, {price(6), 3}}, top)

	// Depth is read only.
	check.Equal(t, 4, b.Bids.Len())

	mine, err := b.OrdersOf(Bid, owner)
	assert.NoError(t, err)
	check.Equal(t, 4, len(mine))

	none, err := b.Depth(Ask, 5)
	assert.NoError(t, err)
	check.Equal(t, 0, len(none))
}

func TestBookDepthOverflow(t *testing.T) {
	b := NewBook(4, fp32.One, 1, 0)
	p := fp32.MustFromInt(5)
	_, err := b.Insert(Ask, p, math.MaxUint64, 1, address.Identity{1}, 0)
	assert.NoError(t, err)
	_, err = b.Insert(Ask, p, 1, 2, address.Identity{2}, 0)
	assert.NoError(t, err)

	_, err = b.Depth(Ask, 0)
	check.True(t, errors.Is(err, auctionerr.ErrNumericalOverflow))
}

func TestSide(t *testing.T) {
	check.Equal(t, Ask, Bid.Opposite())
	check.Equal(t, Bid, Ask.Opposite())
	check.Equal(t, "bid", Bid.String())
	check.False(t, Side(7).Valid())
}

func TestPropertyBookOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		side := Side(rapid.IntRange(0, 1).Draw(t, "side"))
		b := NewBook(64, fp32.One, 1, 0)
		live := map[Key]bool{}
		var seq uint64

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(live) > 0 && rapid.Bool().Draw(t, "remove") {
				keys := make([]Key, 0, len(live))
				for k := range live {
					keys = append(keys, k)
				}
				sort.Slice(keys, func(a, c int) bool { return keys[a].Less(keys[c]) })
				k := keys[rapid.IntRange(0, len(keys)-1).Draw(t, "victim")]
				if _, err := b.Remove(side, k); err != nil {
					t.Fatalf("remove %s: %v", k, err)
				}
				delete(live, k)
				continue
			}
			if len(live) == 64 {
				continue
			}
			seq++
			price := fp32.MustFromInt(rapid.Uint64Range(1, 20).Draw(t, "price"))
			k, err := b.Insert(side, price, 1, seq, address.Zero, 0)
			if err != nil {
				t.Fatalf("insert: %v", err)
			}
			live[k] = true
		}

		leaves, err := b.Iter(side).Collect()
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
		if len(leaves) != len(live) {
			t.Fatalf("iterated %d leaves, want %d", len(leaves), len(live))
		}
		for i := 1; i < len(leaves); i++ {
			prev, cur := leaves[i-1], leaves[i]
			if side == Bid && prev.Price() < cur.Price() {
				t.Fatalf("bid prices increase: %s then %s", prev.Price(), cur.Price())
			}
			if side == Ask && prev.Price() > cur.Price() {
				t.Fatalf("ask prices decrease: %s then %s", prev.Price(), cur.Price())
			}
			if prev.Price() == cur.Price() && prev.Key.Seq(side) >= cur.Key.Seq(side) {
				t.Fatalf("time priority broken at %s: seq %d then %d", cur.Price(), prev.Key.Seq(side), cur.Key.Seq(side))
			}
		}
	})
}
