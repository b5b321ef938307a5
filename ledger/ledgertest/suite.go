// Package ledgertest holds the behaviour every ledger.Store implementation must share.
package ledgertest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/ledger"
)

// Store is a ledger.Store that can also be funded.
type Store interface {
	ledger.Store
	ledger.Funder
}

func id(tag string) address.Identity {
	return address.Identity(sha256.Sum256([]byte(tag)))
}

// Run exercises a store built by newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()
	mint := id("mint")
	alice := ledger.Account{Owner: id("alice"), Mint: mint}
	vault := ledger.Account{Owner: id("vault"), Mint: mint}

	t.Run("get missing record", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, id("missing"))
		check.True(t, errors.Is(err, ledger.ErrNotFound))
	})

	t.Run("put and delete", func(t *testing.T) {
		s := newStore(t)
		b := ledger.NewBatch()
		b.Put(id("a"), []byte("one"))
		b.Put(id("b"), []byte("two"))
		assert.NoError(t, s.Apply(ctx, b))

		got, err := s.Get(ctx, id("a"))
		assert.NoError(t, err)
		check.Equal(t, []byte("one"), got)

		b = ledger.NewBatch()
		b.Delete(id("a"))
		b.Put(id("b"), []byte("three"))
		assert.NoError(t, s.Apply(ctx, b))

		_, err = s.Get(ctx, id("a"))
		check.True(t, errors.Is(err, ledger.ErrNotFound))
		got, err = s.Get(ctx, id("b"))
		assert.NoError(t, err)
		check.Equal(t, []byte("three"), got)
	})

	t.Run("transfers move balances", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Credit(ctx, alice, 100))

		b := ledger.NewBatch()
		b.Transfer(mint, alice.Owner, vault.Owner, 60)
		b.Transfer(mint, vault.Owner, alice.Owner, 10)
		assert.NoError(t, s.Apply(ctx, b))

		bal, err := s.Balance(ctx, alice)
		assert.NoError(t, err)
		check.Equal(t, uint64(50), bal)
		bal, err = s.Balance(ctx, vault)
		assert.NoError(t, err)
		check.Equal(t, uint64(50), bal)
	})

	t.Run("overdraft rejects the whole batch", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Credit(ctx, alice, 10))

		b := ledger.NewBatch()
		b.Put(id("record"), []byte("x"))
		b.Transfer(mint, alice.Owner, vault.Owner, 11)
		err := s.Apply(ctx, b)
		check.True(t, errors.Is(err, ledger.ErrInsufficientFunds))

		_, err = s.Get(ctx, id("record"))
		check.True(t, errors.Is(err, ledger.ErrNotFound))
		bal, err := s.Balance(ctx, alice)
		assert.NoError(t, err)
		check.Equal(t, uint64(10), bal)
	})

	t.Run("unknown account holds zero", func(t *testing.T) {
		s := newStore(t)
		bal, err := s.Balance(ctx, ledger.Account{Owner: id("nobody"), Mint: mint})
		assert.NoError(t, err)
		check.Equal(t, uint64(0), bal)
	})

	t.Run("stale read conflicts", func(t *testing.T) {
		s := newStore(t)
		b := ledger.NewBatch()
		b.Put(id("book"), []byte("v1"))
		assert.NoError(t, s.Apply(ctx, b))

		stale := ledger.Begin(s)
		_, err := stale.Get(ctx, id("book"))
		assert.NoError(t, err)

		b = ledger.NewBatch()
		b.Put(id("book"), []byte("v2"))
		assert.NoError(t, s.Apply(ctx, b))

		stale.Batch().Put(id("book"), []byte("v1+order"))
		err = s.Apply(ctx, stale.Batch())
		check.True(t, errors.Is(err, ledger.ErrConflict))
		got, err := s.Get(ctx, id("book"))
		assert.NoError(t, err)
		check.Equal(t, []byte("v2"), got)
	})

	t.Run("absent record created concurrently conflicts", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Credit(ctx, alice, 10))

		tx := ledger.Begin(s)
		_, err := tx.Get(ctx, id("account"))
		check.True(t, errors.Is(err, ledger.ErrNotFound))

		b := ledger.NewBatch()
		b.Put(id("account"), []byte("first"))
		assert.NoError(t, s.Apply(ctx, b))

		tx.Batch().Put(id("account"), []byte("second"))
		tx.Batch().Transfer(mint, alice.Owner, vault.Owner, 10)
		err = s.Apply(ctx, tx.Batch())
		check.True(t, errors.Is(err, ledger.ErrConflict))
		bal, err := s.Balance(ctx, alice)
		assert.NoError(t, err)
		check.Equal(t, uint64(10), bal)
	})

	t.Run("concurrent writers keep every update", func(t *testing.T) {
		s := newStore(t)
		counter := id("counter")
		const writers, increments = 2, 25

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for done := 0; done < increments; {
					tx := ledger.Begin(s)
					var n uint64
					raw, err := tx.Get(ctx, counter)
					switch {
					case err == nil:
						n = binary.BigEndian.Uint64(raw)
					case !errors.Is(err, ledger.ErrNotFound):
						errs <- err
						return
					}
					tx.Batch().Put(counter, binary.BigEndian.AppendUint64(nil, n+1))
					err = s.Apply(ctx, tx.Batch())
					if errors.Is(err, ledger.ErrConflict) {
						continue
					}
					if err != nil {
						errs <- err
						return
					}
					done++
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		raw, err := s.Get(ctx, counter)
		assert.NoError(t, err)
		check.Equal(t, uint64(writers*increments), binary.BigEndian.Uint64(raw))
	})
}
