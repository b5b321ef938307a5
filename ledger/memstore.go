package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudx-io/batchauction/address"
)

// MemStore is an in-memory Store.
type MemStore struct {
	mu       sync.RWMutex
	records  map[address.Identity][]byte
	balances map[Account]uint64
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		records:  make(map[address.Identity][]byte),
		balances: make(map[Account]uint64),
	}
}

func (m *MemStore) Get(_ context.Context, id address.Identity) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemStore) Balance(_ context.Context, acct Account) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[acct], nil
}

func (m *MemStore) Apply(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, exp := range b.Expectations() {
		cur, ok := m.records[exp.ID]
		if err := exp.Verify(cur, ok); err != nil {
			return err
		}
	}
	next, err := Settle(b.Transfers(), func(a Account) (uint64, error) {
		return m.balances[a], nil
	})
	if err != nil {
		return err
	}
	for acct, bal := range next {
		m.balances[acct] = bal
	}
	for _, op := range b.Ops() {
		switch op.Kind {
		case OpPut:
			m.records[op.ID] = append([]byte(nil), op.Data...)
		case OpDelete:
			delete(m.records, op.ID)
		}
	}
	return nil
}

// Credit adds amount to acct.
func (m *MemStore) Credit(_ context.Context, acct Account, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[acct] += amount
	return nil
}

// Records returns the number of stored records.
func (m *MemStore) Records() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// TotalSupply sums every balance of mint.
func (m *MemStore) TotalSupply(mint address.Identity) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total uint64
	for acct, bal := range m.balances {
		if acct.Mint == mint {
			total += bal
		}
	}
	return total
}
