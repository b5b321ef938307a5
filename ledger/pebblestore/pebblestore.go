// Package pebblestore is a ledger.Store on an embedded pebble database.
//
// Records and balances share one keyspace under the "rec/" and "bal/" prefixes. Each
// ledger batch commits as a single synced pebble batch; a mutex serialises writers so
// record expectations, balance checks and the commit see the same state.
package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/ledger"
)

type Store struct {
	db *pebble.DB
	mu sync.Mutex
}

// Open opens or creates a store in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(id address.Identity) []byte {
	return append([]byte("rec/"), id[:]...)
}

func balanceKey(acct ledger.Account) []byte {
	k := make([]byte, 0, 4+64)
	k = append(k, "bal/"...)
	k = append(k, acct.Owner[:]...)
	return append(k, acct.Mint[:]...)
}

func (s *Store) Get(_ context.Context, id address.Identity) ([]byte, error) {
	val, found, err := s.record(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("get %s: %w", id, ledger.ErrNotFound)
	}
	return val, nil
}

func (s *Store) record(id address.Identity) ([]byte, bool, error) {
	val, closer, err := s.db.Get(recordKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", id, err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

func (s *Store) Balance(_ context.Context, acct ledger.Account) (uint64, error) {
	return s.balance(acct)
}

func (s *Store) balance(acct ledger.Account) (uint64, error) {
	val, closer, err := s.db.Get(balanceKey(acct))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", acct, err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("balance %s: invalid length %d", acct, len(val))
	}
	return binary.LittleEndian.Uint64(val), nil
}

func encodeBalance(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func (s *Store) Apply(ctx context.Context, b *ledger.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, exp := range b.Expectations() {
		cur, found, err := s.record(exp.ID)
		if err != nil {
			return err
		}
		if err := exp.Verify(cur, found); err != nil {
			return err
		}
	}
	next, err := ledger.Settle(b.Transfers(), s.balance)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for acct, bal := range next {
		if err := batch.Set(balanceKey(acct), encodeBalance(bal), nil); err != nil {
			return fmt.Errorf("stage balance %s: %w", acct, err)
		}
	}
	for _, op := range b.Ops() {
		switch op.Kind {
		case ledger.OpPut:
			err = batch.Set(recordKey(op.ID), op.Data, nil)
		case ledger.OpDelete:
			err = batch.Delete(recordKey(op.ID), nil)
		}
		if err != nil {
			return fmt.Errorf("stage record %s: %w", op.ID, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit ledger batch: %w", err)
	}
	return nil
}

// Credit adds amount to acct.
func (s *Store) Credit(_ context.Context, acct ledger.Account, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, err := s.balance(acct)
	if err != nil {
		return err
	}
	return s.db.Set(balanceKey(acct), encodeBalance(bal+amount), pebble.Sync)
}
