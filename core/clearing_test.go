package core

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"pgregory.net/rapid"

	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/slab"
)

func lvl(price, qty uint64) slab.Level {
	return slab.Level{Price: fp32.MustFromInt(price), Qty: qty}
}

func TestComputeClearingPrice(t *testing.T) {
	one := fp32.MustFromInt(1)
	tests := []struct {
		name    string
		bids    []slab.Level
		asks    []slab.Level
		price   fp32.Fixed
		matched uint64
	}{
		{
			name:    "single cross takes quantized midpoint",
			bids:    []slab.Level{lvl(20, 10)},
			asks:    []slab.Level{lvl(10, 10)},
			price:   fp32.MustFromInt(15),
			matched: 10,
		},
		{
			name:    "unique maximum ignores midpoint",
			bids:    []slab.Level{lvl(12, 5), lvl(10, 20)},
			asks:    []slab.Level{lvl(9, 20), lvl(11, 5)},
			price:   fp32.MustFromInt(10),
			matched: 20,
		},
		{
			name:    "midpoint clamped into range",
			bids:    []slab.Level{lvl(30, 1), lvl(10, 100)},
			asks:    []slab.Level{lvl(8, 100), lvl(9, 1)},
			price:   fp32.MustFromInt(10),
			matched: 101,
		},
		{
			name:    "no cross still prices the book",
			bids:    []slab.Level{lvl(5, 10)},
			asks:    []slab.Level{lvl(7, 10)},
			price:   fp32.MustFromInt(6),
			matched: 0,
		},
		{
			name:    "levels in any order",
			bids:    []slab.Level{lvl(10, 20), lvl(12, 5)},
			asks:    []slab.Level{lvl(11, 5), lvl(9, 20)},
			price:   fp32.MustFromInt(10),
			matched: 20,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ComputeClearingPrice(tt.bids, tt.asks, one)
			assert.NoError(t, err)
			check.Equal(t, tt.price, res.Price)
			check.Equal(t, tt.matched, res.Matched)
			check.Equal(t, tt.matched, MatchedAt(tt.bids, tt.asks, res.Price))
		})
	}
}

func TestComputeClearingPriceEmptySides(t *testing.T) {
	one := fp32.MustFromInt(1)
	_, err := ComputeClearingPrice(nil, nil, one)
	check.True(t, errors.Is(err, auctionerr.ErrNoOrdersInOrderbook))
	_, err = ComputeClearingPrice(nil, []slab.Level{lvl(1, 1)}, one)
	check.True(t, errors.Is(err, auctionerr.ErrNoBidOrders))
	_, err = ComputeClearingPrice([]slab.Level{lvl(1, 1)}, nil, one)
	check.True(t, errors.Is(err, auctionerr.ErrNoAskOrders))
}

func TestComputeClearingPriceDecimalTick(t *testing.T) {
	tick, err := fp32.FromFloat(0.1)
	assert.NoError(t, err)
	p100, _ := fp32.Ticks(100, tick)
	p95, _ := fp32.Ticks(95, tick)
	p97, _ := fp32.Ticks(97, tick)

	res, err := ComputeClearingPrice(
		[]slab.Level{{Price: p100, Qty: 2000}},
		[]slab.Level{{Price: p95, Qty: 1500}},
		tick,
	)
	assert.NoError(t, err)
	check.Equal(t, p97, res.Price)
	check.Equal(t, uint64(1500), res.Matched)
	check.Equal(t, p95, res.Low)
	check.Equal(t, p100, res.High)
	check.True(t, res.Price.IsMultipleOf(tick))
}

func genLevels(t *rapid.T, label string) []slab.Level {
	n := rapid.IntRange(1, 8).Draw(t, label+"_n")
	levels := make([]slab.Level, 0, n)
	seen := map[uint64]bool{}
	for i := 0; i < n; i++ {
		p := rapid.Uint64Range(1, 40).Draw(t, label+"_price")
		if seen[p] {
			continue
		}
		seen[p] = true
		levels = append(levels, lvl(p, rapid.Uint64Range(1, 1000).Draw(t, label+"_qty")))
	}
	return levels
}

func TestClearingPriceOptimal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bids := genLevels(t, "bid")
		asks := genLevels(t, "ask")
		tick := fp32.MustFromInt(rapid.Uint64Range(1, 3).Draw(t, "tick"))

		res, err := ComputeClearingPrice(bids, asks, tick)
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		got := MatchedAt(bids, asks, res.Price)
		if got != res.Matched {
			t.Fatalf("price %s clears %d, reported %d", res.Price, got, res.Matched)
		}
		for _, l := range append(append([]slab.Level{}, bids...), asks...) {
			if m := MatchedAt(bids, asks, l.Price); m > got {
				t.Fatalf("level %s clears %d > %d at %s", l.Price, m, got, res.Price)
			}
		}
		if res.Price < res.Low || res.Price > res.High {
			t.Fatalf("price %s outside [%s, %s]", res.Price, res.Low, res.High)
		}
	})
}
