package pebblestore

import (
	"context"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/ledger"
	"github.com/cloudx-io/batchauction/ledger/ledgertest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledgertest.Store { return openTemp(t) })
}

func TestReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	acct := ledger.Account{Owner: address.Identity{1}, Mint: address.Identity{2}}

	s, err := Open(dir)
	assert.NoError(t, err)
	b := ledger.NewBatch()
	b.Put(address.Identity{9}, []byte("auction"))
	assert.NoError(t, s.Apply(ctx, b))
	assert.NoError(t, s.Credit(ctx, acct, 42))
	assert.NoError(t, s.Close())

	s, err = Open(dir)
	assert.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, address.Identity{9})
	assert.NoError(t, err)
	check.Equal(t, []byte("auction"), got)
	bal, err := s.Balance(ctx, acct)
	assert.NoError(t, err)
	check.Equal(t, uint64(42), bal)
}
