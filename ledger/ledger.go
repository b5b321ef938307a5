// Package ledger is the substrate the auction engine runs on: a record store keyed by
// derived identities, token balances, and a clock.
//
// The engine never writes directly. Each operation builds a Batch of record writes and
// transfer intents, and the store applies it all-or-nothing. A batch also carries the
// records the operation read; the store rejects it with ErrConflict if any of them
// changed before the batch landed.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cloudx-io/batchauction/address"
)

var (
	// ErrNotFound is returned by Get for absent records.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrInsufficientFunds rejects a batch whose transfers overdraw an account.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrConflict reports that a concurrent writer changed a record or balance the batch
	// depended on. Nothing was applied and the operation can be retried.
	ErrConflict = errors.New("ledger: concurrent modification")
)

// Account is a token balance: the holdings of Owner in Mint.
type Account struct {
	Owner address.Identity
	Mint  address.Identity
}

func (a Account) String() string {
	return fmt.Sprintf("%s/%s", a.Owner, a.Mint)
}

// Transfer moves Amount of Mint from one owner to another.
type Transfer struct {
	Mint   address.Identity
	From   address.Identity
	To     address.Identity
	Amount uint64
}

// OpKind is a record mutation.
type OpKind uint8

const (
	OpPut OpKind = iota + 1
	OpDelete
)

// Op is one record mutation in a batch.
type Op struct {
	Kind OpKind
	ID   address.Identity
	Data []byte
}

// Expectation is the state of a record a batch was built from.
type Expectation struct {
	ID     address.Identity
	Data   []byte
	Exists bool
}

// Verify returns ErrConflict unless the record currently holds what e expects.
func (e Expectation) Verify(current []byte, found bool) error {
	if found != e.Exists || (found && !bytes.Equal(current, e.Data)) {
		return fmt.Errorf("record %s changed since read: %w", e.ID, ErrConflict)
	}
	return nil
}

// Batch collects the effects of one operation.
type Batch struct {
	expects   []Expectation
	ops       []Op
	transfers []Transfer
}

// NewBatch returns an empty batch.
func NewBatch() *Batch { return &Batch{} }

// Expect makes the batch conditional on the record under id still holding data.
func (b *Batch) Expect(id address.Identity, data []byte) {
	b.expects = append(b.expects, Expectation{ID: id, Data: data, Exists: true})
}

// ExpectAbsent makes the batch conditional on there being no record under id.
func (b *Batch) ExpectAbsent(id address.Identity) {
	b.expects = append(b.expects, Expectation{ID: id})
}

// Put stores data under id.
func (b *Batch) Put(id address.Identity, data []byte) {
	b.ops = append(b.ops, Op{Kind: OpPut, ID: id, Data: data})
}

// Delete removes the record under id.
func (b *Batch) Delete(id address.Identity) {
	b.ops = append(b.ops, Op{Kind: OpDelete, ID: id})
}

// Transfer adds a transfer intent. Zero amounts are dropped.
func (b *Batch) Transfer(mint, from, to address.Identity, amount uint64) {
	if amount == 0 {
		return
	}
	b.transfers = append(b.transfers, Transfer{Mint: mint, From: from, To: to, Amount: amount})
}

// Expectations returns the record states the batch depends on.
func (b *Batch) Expectations() []Expectation { return b.expects }

// Ops returns the record mutations in order.
func (b *Batch) Ops() []Op { return b.ops }

// Transfers returns the transfer intents in order.
func (b *Batch) Transfers() []Transfer { return b.transfers }

// Empty reports whether the batch does nothing.
func (b *Batch) Empty() bool { return len(b.ops) == 0 && len(b.transfers) == 0 }

// Store is the record and balance substrate.
type Store interface {
	// Get returns the record under id, or ErrNotFound.
	Get(ctx context.Context, id address.Identity) ([]byte, error)
	// Balance returns the balance of acct. Unknown accounts hold zero.
	Balance(ctx context.Context, acct Account) (uint64, error)
	// Apply executes every op and transfer of b atomically, or none of them.
	Apply(ctx context.Context, b *Batch) error
}

// Txn reads through a store and records each read as an expectation of its batch, so
// the batch only applies over the same state the reads observed.
type Txn struct {
	store Store
	batch *Batch
}

// Begin starts a transaction on s.
func Begin(s Store) *Txn {
	return &Txn{store: s, batch: NewBatch()}
}

// Get reads the record under id and pins it for the batch.
func (t *Txn) Get(ctx context.Context, id address.Identity) ([]byte, error) {
	data, err := t.store.Get(ctx, id)
	switch {
	case err == nil:
		t.batch.Expect(id, data)
	case errors.Is(err, ErrNotFound):
		t.batch.ExpectAbsent(id)
	}
	return data, err
}

// Batch returns the batch the transaction's writes go into.
func (t *Txn) Batch() *Batch { return t.batch }

// Funder credits balances from outside the auction, standing in for deposits.
type Funder interface {
	Credit(ctx context.Context, acct Account, amount uint64) error
}

// Settle applies transfers to balances read through balanceOf and returns the new balance
// of every touched account. Transfers apply in order, so a batch may move funds into an
// account and out again.
func Settle(transfers []Transfer, balanceOf func(Account) (uint64, error)) (map[Account]uint64, error) {
	next := make(map[Account]uint64)
	get := func(a Account) (uint64, error) {
		if v, ok := next[a]; ok {
			return v, nil
		}
		v, err := balanceOf(a)
		if err != nil {
			return 0, err
		}
		next[a] = v
		return v, nil
	}
	for _, tr := range transfers {
		from := Account{Owner: tr.From, Mint: tr.Mint}
		to := Account{Owner: tr.To, Mint: tr.Mint}
		fromBal, err := get(from)
		if err != nil {
			return nil, err
		}
		if fromBal < tr.Amount {
			return nil, fmt.Errorf("transfer %d from %s holding %d: %w", tr.Amount, from, fromBal, ErrInsufficientFunds)
		}
		next[from] = fromBal - tr.Amount
		toBal, err := get(to)
		if err != nil {
			return nil, err
		}
		if toBal+tr.Amount < toBal {
			return nil, fmt.Errorf("transfer %d to %s overflows", tr.Amount, to)
		}
		next[to] = toBal + tr.Amount
	}
	return next, nil
}

// Clock reads the ledger time in unix seconds.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	t atomic.Int64
}

// NewManualClock returns a clock reading start.
func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.t.Store(start)
	return c
}

func (c *ManualClock) Now() int64 { return c.t.Load() }

// Set moves the clock to t.
func (c *ManualClock) Set(t int64) { c.t.Store(t) }

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d int64) { c.t.Add(d) }
