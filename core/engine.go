package core

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/auctionerr"
	"github.com/cloudx-io/batchauction/ledger"
	"github.com/cloudx-io/batchauction/slab"
)

// Config sizes the resident records of new auctions and bounds per-call work.
type Config struct {
	// BookCapacity is the number of orders each side of the book can hold.
	BookCapacity uint32
	// EventQueueCapacity is the number of match events held between consume calls.
	EventQueueCapacity uint32
	// MaxTraversalDepth bounds the iterator stack when walking a book.
	MaxTraversalDepth int
	// MatchBatchSize is the default number of matches per MatchOrders call.
	MatchBatchSize int
	// ConsumeBatchSize is the default number of events per ConsumeEvents call.
	ConsumeBatchSize int
}

// DefaultConfig returns the settings used by the simulator and tests.
func DefaultConfig() Config {
	return Config{
		BookCapacity:       1024,
		EventQueueCapacity: 512,
		MaxTraversalDepth:  slab.DefaultMaxTraversalDepth,
		MatchBatchSize:     64,
		ConsumeBatchSize:   64,
	}
}

// Engine executes auction operations against a ledger. Every operation loads the
// records it needs, validates against the clock read at execution time, and applies
// its effects as one ledger batch conditioned on the records it loaded. The engine
// holds no auction state between calls.
//
// Operations on one auction are serialised within an engine. Engines sharing a store
// from different processes are kept consistent by the store, which fails the later of
// two overlapping operations with ledger.ErrConflict.
type Engine struct {
	store   ledger.Store
	clock   ledger.Clock
	program address.Identity
	cfg     Config
	sink    EventSink

	locks sync.Map // address.Identity -> *sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventSink publishes consumed events to sink.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// NewEngine returns an engine deriving identities under program.
func NewEngine(store ledger.Store, clock ledger.Clock, program address.Identity, cfg Config, opts ...Option) *Engine {
	e := &Engine{store: store, clock: clock, program: program, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Program returns the identity all auction records are derived under.
func (e *Engine) Program() address.Identity { return e.program }

// lock serialises mutating operations on the auction at addr and returns the unlock.
func (e *Engine) lock(addr address.Identity) func() {
	mu, _ := e.locks.LoadOrStore(addr, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// reader is where an operation loads records from: the store itself for queries, a
// ledger.Txn for operations that write.
type reader interface {
	Get(ctx context.Context, id address.Identity) ([]byte, error)
}

// auctionState is an auction together with its resident book and event queue.
type auctionState struct {
	auction *Auction
	book    *slab.Book
	events  *EventQueue
}

func getAuction(ctx context.Context, r reader, addr address.Identity) (*Auction, error) {
	raw, err := r.Get(ctx, addr)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("auction %s: %w", addr, auctionerr.ErrAuctionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load auction %s: %w", addr, err)
	}
	return UnmarshalAuction(raw)
}

func (e *Engine) loadState(ctx context.Context, r reader, addr address.Identity) (*auctionState, error) {
	a, err := getAuction(ctx, r, addr)
	if err != nil {
		return nil, err
	}
	bids, err := getSlab(ctx, r, a.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := getSlab(ctx, r, a.Asks)
	if err != nil {
		return nil, err
	}
	raw, err := r.Get(ctx, a.EventQueue)
	if err != nil {
		return nil, fmt.Errorf("load event queue %s: %w", a.EventQueue, err)
	}
	events, err := UnmarshalEventQueue(raw)
	if err != nil {
		return nil, err
	}
	return &auctionState{
		auction: a,
		book: &slab.Book{
			Bids:     bids,
			Asks:     asks,
			Tick:     a.TickSize,
			MinSize:  a.MinBaseOrderSize,
			MaxDepth: e.cfg.MaxTraversalDepth,
		},
		events: events,
	}, nil
}

func getSlab(ctx context.Context, r reader, id address.Identity) (*slab.Slab, error) {
	raw, err := r.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load book %s: %w", id, err)
	}
	return slab.Unmarshal(raw)
}

func (e *Engine) openOrdersAddress(a *Auction, user address.Identity) (address.Derived, error) {
	return address.OpenOrders(user, a.ID, a.Authority, e.program)
}

func (e *Engine) orderHistoryAddress(a *Auction, user address.Identity) (address.Derived, error) {
	return address.OrderHistory(user, a.ID, a.Authority, e.program)
}

func getOpenOrders(ctx context.Context, r reader, id address.Identity) (*OpenOrders, error) {
	raw, err := r.Get(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("open orders %s: %w", id, auctionerr.ErrOpenOrdersNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load open orders %s: %w", id, err)
	}
	return UnmarshalOpenOrders(raw)
}

// userAccount loads the OpenOrders account of user and returns it with its identity.
func (e *Engine) userAccount(ctx context.Context, r reader, a *Auction, user address.Identity) (*OpenOrders, address.Identity, error) {
	d, err := e.openOrdersAddress(a, user)
	if err != nil {
		return nil, address.Identity{}, err
	}
	oo, err := getOpenOrders(ctx, r, d.Identity)
	if err != nil {
		return nil, address.Identity{}, err
	}
	return oo, d.Identity, nil
}

func stage(b *ledger.Batch, id address.Identity, rec encoding.BinaryMarshaler) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	b.Put(id, data)
	return nil
}

func (st *auctionState) stageBook(b *ledger.Batch, side Side) error {
	if side == Bid {
		return stage(b, st.auction.Bids, st.book.Bids)
	}
	return stage(b, st.auction.Asks, st.book.Asks)
}

// Auction returns the auction record.
func (e *Engine) Auction(ctx context.Context, addr address.Identity) (*Auction, error) {
	return getAuction(ctx, e.store, addr)
}

// OpenOrders returns the account of user in the auction.
func (e *Engine) OpenOrders(ctx context.Context, auctionAddr, user address.Identity) (*OpenOrders, error) {
	a, err := getAuction(ctx, e.store, auctionAddr)
	if err != nil {
		return nil, err
	}
	oo, _, err := e.userAccount(ctx, e.store, a, user)
	return oo, err
}

// OrderHistory returns the history record of user in the auction.
func (e *Engine) OrderHistory(ctx context.Context, auctionAddr, user address.Identity) (*OrderHistory, error) {
	a, err := getAuction(ctx, e.store, auctionAddr)
	if err != nil {
		return nil, err
	}
	d, err := e.orderHistoryAddress(a, user)
	if err != nil {
		return nil, err
	}
	raw, err := e.store.Get(ctx, d.Identity)
	if err != nil {
		return nil, fmt.Errorf("load order history %s: %w", d.Identity, err)
	}
	return UnmarshalOrderHistory(raw)
}

// Depth aggregates one side of the book into at most levels price levels.
func (e *Engine) Depth(ctx context.Context, auctionAddr address.Identity, side Side, levels int) ([]slab.Level, error) {
	a, err := getAuction(ctx, e.store, auctionAddr)
	if err != nil {
		return nil, err
	}
	id := a.Asks
	if side == Bid {
		id = a.Bids
	}
	s, err := getSlab(ctx, e.store, id)
	if err != nil {
		return nil, err
	}
	book := &slab.Book{Bids: s, Asks: s, Tick: a.TickSize, MinSize: a.MinBaseOrderSize, MaxDepth: e.cfg.MaxTraversalDepth}
	return book.Depth(side, levels)
}

// PendingEvents returns the queued events that have not been consumed yet.
func (e *Engine) PendingEvents(ctx context.Context, auctionAddr address.Identity) ([]Event, error) {
	st, err := e.loadState(ctx, e.store, auctionAddr)
	if err != nil {
		return nil, err
	}
	return st.events.Events(), nil
}
