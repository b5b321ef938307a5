package core

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/slab"
)

func TestEventQueueRing(t *testing.T) {
	q := NewEventQueue(3)
	for i := 0; i < 3; i++ {
		assert.NoError(t, q.Push(Event{Kind: EventFill, Qty: uint64(i)}))
	}
	check.Equal(t, 0, q.Free())
	check.True(t, errors.Is(q.Push(Event{Kind: EventOut}), auctionerr.ErrEventQueueFull))

	e, ok := q.Pop()
	check.True(t, ok)
	check.Equal(t, uint64(0), e.Qty)
	check.Equal(t, uint64(0), e.Seq)

	// Wraps around the end of the buffer.
	assert.NoError(t, q.Push(Event{Kind: EventOut, Qty: 3}))
	var qtys, seqs []uint64
	for _, e := range q.Events() {
		qtys = append(qtys, e.Qty)
		seqs = append(seqs, e.Seq)
	}
	check.Equal(t, []uint64{1, 2, 3}, qtys)
	check.Equal(t, []uint64{1, 2, 3}, seqs)

	for q.Len() > 0 {
		q.Pop()
	}
	_, ok = q.Pop()
	check.False(t, ok)
}

func TestEventQueueRecord(t *testing.T) {
	q := NewEventQueue(4)
	assert.NoError(t, q.Push(Event{Kind: EventFill, Side: Bid, Owner: address.Identity{1}, OwnerSlot: 2,
		OrderID: slab.OrderKey(Bid, fp32.MustFromInt(10), 4), Price: fp32.MustFromInt(9), Qty: 100}))
	assert.NoError(t, q.Push(Event{Kind: EventOut, Side: Ask, Owner: address.Identity{2}}))
	q.Pop()

	raw, err := q.MarshalBinary()
	assert.NoError(t, err)
	got, err := UnmarshalEventQueue(raw)
	assert.NoError(t, err)
	check.Equal(t, q.Events(), got.Events())
	check.Equal(t, q.Cap(), got.Cap())

	assert.NoError(t, got.Push(Event{Kind: EventFill}))
	check.Equal(t, uint64(2), got.Events()[1].Seq)

	_, err = UnmarshalEventQueue(raw[:20])
	check.True(t, errors.Is(err, auctionerr.ErrCorruptRecord))
}

func TestApplyEvent(t *testing.T) {
	key := slab.OrderKey(Bid, fp32.MustFromInt(10), 1)
	a := &Auction{ClearingPrice: fp32.MustFromInt(8)}

	bidder := &OpenOrders{Side: Bid, MaxOrders: 1, QuoteLocked: 1000}
	bidder.Orders[0] = key
	assert.NoError(t, applyEvent(a, bidder, Event{Kind: EventFill, Side: Bid, OrderID: key, Qty: 100}))
	check.Equal(t, uint64(200), bidder.QuoteLocked)
	check.Equal(t, uint64(100), bidder.BaseFree)
	check.Equal(t, uint64(100), bidder.QuantityFilled)

	assert.NoError(t, applyEvent(a, bidder, Event{Kind: EventOut, Side: Bid, OrderID: key}))
	check.Equal(t, 0, bidder.NumOrders())

	err := applyEvent(a, bidder, Event{Kind: EventOut, Side: Bid, OrderID: key})
	check.True(t, errors.Is(err, auctionerr.ErrNodeKeyNotFound))
	check.True(t, auctionerr.IsFatal(err))

	err = applyEvent(a, bidder, Event{Kind: EventFill, Side: Ask, OrderID: key, Qty: 1})
	check.True(t, errors.Is(err, auctionerr.ErrUserSideDiffFromEventSide))

	askKey := slab.OrderKey(Ask, fp32.MustFromInt(7), 2)
	asker := &OpenOrders{Side: Ask, MaxOrders: 1, BaseLocked: 100}
	asker.Orders[0] = askKey
	assert.NoError(t, applyEvent(a, asker, Event{Kind: EventFill, Side: Ask, OrderID: askKey, Qty: 100}))
	check.Equal(t, uint64(0), asker.BaseLocked)
	check.Equal(t, uint64(800), asker.QuoteFree)
}
