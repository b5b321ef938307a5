package core

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/fp32"
	"github.com/cloudx-io/batchauction/layout"
	"github.com/cloudx-io/batchauction/ledger"
	"github.com/cloudx-io/batchauction/slab"
)

// EventKind tags the variants of Event.
type EventKind uint8

const (
	// EventFill reports qty of an order traded at the clearing price.
	EventFill EventKind = iota + 1
	// EventOut reports that an order left the book fully filled.
	EventOut
)

func (k EventKind) String() string {
	switch k {
	case EventFill:
		return "fill"
	case EventOut:
		return "out"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is one entry of the match event queue. Price and Qty are zero for EventOut.
type Event struct {
	Kind      EventKind
	Side      Side
	Owner     address.Identity
	OwnerSlot uint8
	OrderID   slab.Key
	Price     fp32.Fixed
	Qty       uint64
	// Seq numbers events in the order they were queued.
	Seq uint64
}

// EventQueue is a fixed-capacity ring buffer of match events.
type EventQueue struct {
	head   uint32
	count  uint32
	seqNum uint64
	buf    []Event
}

// NewEventQueue returns an empty queue holding up to capacity events.
func NewEventQueue(capacity uint32) *EventQueue {
	return &EventQueue{buf: make([]Event, capacity)}
}

func (q *EventQueue) Len() int  { return int(q.count) }
func (q *EventQueue) Cap() int  { return len(q.buf) }
func (q *EventQueue) Free() int { return len(q.buf) - int(q.count) }

// Push appends e and stamps its sequence number.
func (q *EventQueue) Push(e Event) error {
	if q.Free() == 0 {
		return fmt.Errorf("push %s event: %w", e.Kind, auctionerr.ErrEventQueueFull)
	}
	e.Seq = q.seqNum
	q.seqNum++
	q.buf[(q.head+q.count)%uint32(len(q.buf))] = e
	q.count++
	return nil
}

// Pop removes the oldest event.
func (q *EventQueue) Pop() (Event, bool) {
	if q.count == 0 {
		return Event{}, false
	}
	e := q.buf[q.head]
	q.buf[q.head] = Event{}
	q.head = (q.head + 1) % uint32(len(q.buf))
	q.count--
	return e, true
}

// Events returns the queued events oldest first.
func (q *EventQueue) Events() []Event {
	out := make([]Event, 0, q.count)
	for i := uint32(0); i < q.count; i++ {
		out = append(out, q.buf[(q.head+i)%uint32(len(q.buf))])
	}
	return out
}

const eventQueueRecord = "EventQueue"

// MaxEventQueueCapacity bounds the capacity a persisted queue may declare.
const MaxEventQueueCapacity = 1 << 16

// MarshalBinary encodes the whole ring so the record size depends only on capacity.
func (q *EventQueue) MarshalBinary() ([]byte, error) {
	w := layout.NewWriter(eventQueueRecord)
	w.U32(uint32(len(q.buf)))
	w.U32(q.head)
	w.U32(q.count)
	w.U64(q.seqNum)
	for i := range q.buf {
		e := &q.buf[i]
		w.U8(uint8(e.Kind))
		w.U8(uint8(e.Side))
		w.Fixed(e.Owner[:])
		w.U8(e.OwnerSlot)
		w.U64(e.OrderID.Hi)
		w.U64(e.OrderID.Lo)
		w.U64(e.Price.Raw())
		w.U64(e.Qty)
		w.U64(e.Seq)
	}
	return w.Finish(), nil
}

// UnmarshalEventQueue decodes a queue record.
func UnmarshalEventQueue(b []byte) (*EventQueue, error) {
	r, err := layout.NewReader(eventQueueRecord, b)
	if err != nil {
		return nil, err
	}
	capacity := r.U32()
	if r.Err() != nil || capacity == 0 || capacity > MaxEventQueueCapacity {
		return nil, fmt.Errorf("event queue capacity %d: %w", capacity, auctionerr.ErrCorruptRecord)
	}
	q := &EventQueue{
		head:   r.U32(),
		count:  r.U32(),
		seqNum: r.U64(),
		buf:    make([]Event, capacity),
	}
	for i := range q.buf {
		e := &q.buf[i]
		e.Kind = EventKind(r.U8())
		e.Side = Side(r.U8())
		r.Fixed(e.Owner[:])
		e.OwnerSlot = r.U8()
		e.OrderID.Hi = r.U64()
		e.OrderID.Lo = r.U64()
		e.Price = fp32.Fixed(r.U64())
		e.Qty = r.U64()
		e.Seq = r.U64()
	}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("decode event queue: %w", err)
	}
	if q.head >= capacity || q.count > capacity {
		return nil, fmt.Errorf("event queue header out of range: %w", auctionerr.ErrCorruptRecord)
	}
	return q, nil
}

// EventSink receives events after ConsumeEvents has committed them to the owners'
// accounts. A failed Publish does not roll the commit back and the events are not
// offered again; the owners' OpenOrders and OrderHistory records stay authoritative.
type EventSink interface {
	Publish(ctx context.Context, auction address.Identity, events []Event) error
}

// ConsumeResult summarises a ConsumeEvents call.
type ConsumeResult struct {
	Events    []Event
	Remaining int
	// PublishErr is set when the sink rejected events that were already committed. Those
	// events are lost to the feed only.
	PublishErr error
}

// ConsumeEvents applies up to limit queued events to the owners' OpenOrders accounts.
// A fill moves the traded amounts at the clearing price: a bidder pays quote out of its
// locked balance and receives base, an asker gives up locked base and receives quote.
// An out event releases the order's slot.
func (e *Engine) ConsumeEvents(ctx context.Context, auctionAddr address.Identity, limit int) (*ConsumeResult, error) {
	defer e.lock(auctionAddr)()
	tx := ledger.Begin(e.store)
	if limit <= 0 {
		limit = e.cfg.ConsumeBatchSize
	}
	st, err := e.loadState(ctx, tx, auctionAddr)
	if err != nil {
		return nil, err
	}
	a := st.auction
	if st.events.Len() == 0 {
		return nil, fmt.Errorf("consume events: %w", auctionerr.ErrNoEventsProcessed)
	}

	accounts := map[address.Identity]*OpenOrders{}
	addrs := map[address.Identity]address.Identity{}
	var consumed []Event
	for len(consumed) < limit {
		ev, ok := st.events.Pop()
		if !ok {
			break
		}
		oo, found := accounts[ev.Owner]
		if !found {
			d, err := e.openOrdersAddress(a, ev.Owner)
			if err != nil {
				return nil, err
			}
			oo, err = getOpenOrders(ctx, tx, d.Identity)
			if err != nil {
				return nil, fmt.Errorf("event %d owner %s: %w: %w", ev.Seq, ev.Owner, auctionerr.ErrMissingOpenOrders, err)
			}
			accounts[ev.Owner] = oo
			addrs[ev.Owner] = d.Identity
		}
		if err := applyEvent(a, oo, ev); err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		consumed = append(consumed, ev)
	}

	b := tx.Batch()
	if err := stage(b, a.EventQueue, st.events); err != nil {
		return nil, err
	}
	for owner, oo := range accounts {
		if err := stage(b, addrs[owner], oo); err != nil {
			return nil, err
		}
	}
	if err := e.store.Apply(ctx, b); err != nil {
		return nil, fmt.Errorf("consume events: %w", err)
	}

	res := &ConsumeResult{Events: consumed, Remaining: st.events.Len()}
	if e.sink != nil {
		if err := e.sink.Publish(ctx, auctionAddr, consumed); err != nil {
			log.Printf("WARNING: Failed to publish %d events for auction %s: %v", len(consumed), auctionAddr, err)
			res.PublishErr = err
		}
	}
	return res, nil
}

func applyEvent(a *Auction, oo *OpenOrders, ev Event) error {
	if oo.Side != ev.Side {
		return fmt.Errorf("account side %s, event side %s: %w", oo.Side, ev.Side, auctionerr.ErrUserSideDiffFromEventSide)
	}
	if int(ev.OwnerSlot) >= MaxOrdersCap || oo.Orders[ev.OwnerSlot] != ev.OrderID {
		return fmt.Errorf("order %s in slot %d: %w", ev.OrderID, ev.OwnerSlot, auctionerr.ErrNodeKeyNotFound)
	}

	switch ev.Kind {
	case EventFill:
		cost, err := a.ClearingPrice.MulQty(ev.Qty)
		if err != nil {
			return err
		}
		if ev.Side == Bid {
			if oo.QuoteLocked < cost {
				return fmt.Errorf("bid fill cost %d exceeds locked %d: %w", cost, oo.QuoteLocked, auctionerr.ErrNumericalOverflow)
			}
			oo.QuoteLocked -= cost
			if err := addTo(&oo.BaseFree, ev.Qty); err != nil {
				return err
			}
		} else {
			if oo.BaseLocked < ev.Qty {
				return fmt.Errorf("ask fill %d exceeds locked %d: %w", ev.Qty, oo.BaseLocked, auctionerr.ErrNumericalOverflow)
			}
			oo.BaseLocked -= ev.Qty
			if err := addTo(&oo.QuoteFree, cost); err != nil {
				return err
			}
		}
		return addTo(&oo.QuantityFilled, ev.Qty)
	case EventOut:
		oo.Orders[ev.OwnerSlot] = slab.Key{}
		return nil
	default:
		return fmt.Errorf("unknown event kind %d: %w", ev.Kind, auctionerr.ErrCorruptRecord)
	}
}
