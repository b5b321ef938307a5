// Package redisstore is a ledger.Store backed by redis, for auctions whose state is
// shared between processes.
//
// A batch is applied inside WATCH/MULTI on the record keys it read and the balance keys
// it touches. A record that no longer matches what the batch read, or a concurrent
// change to any watched key before EXEC, aborts the batch with ledger.ErrConflict;
// retrying is left to the caller.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/ledger"
)

type Store struct {
	client *redis.Client
	prefix string
}

// Options configures the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, so several ledgers can share one redis.
	Prefix string
}

// New connects and pings the server.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &Store{client: client, prefix: opts.Prefix}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) recordKey(id address.Identity) string {
	return s.prefix + "rec:" + id.String()
}

func (s *Store) balanceKey(acct ledger.Account) string {
	return s.prefix + "bal:" + acct.Owner.String() + ":" + acct.Mint.String()
}

func (s *Store) Get(ctx context.Context, id address.Identity) ([]byte, error) {
	val, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return val, nil
}

func (s *Store) Balance(ctx context.Context, acct ledger.Account) (uint64, error) {
	return readBalance(ctx, s.client, s.balanceKey(acct))
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readBalance(ctx context.Context, c getter, key string) (uint64, error) {
	val, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", key, err)
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) Apply(ctx context.Context, b *ledger.Batch) error {
	var watched []string
	seen := map[string]bool{}
	for _, exp := range b.Expectations() {
		k := s.recordKey(exp.ID)
		if !seen[k] {
			seen[k] = true
			watched = append(watched, k)
		}
	}
	for _, tr := range b.Transfers() {
		for _, owner := range []address.Identity{tr.From, tr.To} {
			k := s.balanceKey(ledger.Account{Owner: owner, Mint: tr.Mint})
			if !seen[k] {
				seen[k] = true
				watched = append(watched, k)
			}
		}
	}

	txf := func(tx *redis.Tx) error {
		for _, exp := range b.Expectations() {
			cur, err := tx.Get(ctx, s.recordKey(exp.ID)).Bytes()
			found := true
			if errors.Is(err, redis.Nil) {
				found, err = false, nil
			}
			if err != nil {
				return fmt.Errorf("get %s: %w", exp.ID, err)
			}
			if err := exp.Verify(cur, found); err != nil {
				return err
			}
		}
		next, err := ledger.Settle(b.Transfers(), func(a ledger.Account) (uint64, error) {
			return readBalance(ctx, tx, s.balanceKey(a))
		})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for acct, bal := range next {
				pipe.Set(ctx, s.balanceKey(acct), strconv.FormatUint(bal, 10), 0)
			}
			for _, op := range b.Ops() {
				switch op.Kind {
				case ledger.OpPut:
					pipe.Set(ctx, s.recordKey(op.ID), op.Data, 0)
				case ledger.OpDelete:
					pipe.Del(ctx, s.recordKey(op.ID))
				}
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, watched...)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("apply batch: %w", ledger.ErrConflict)
	}
	return err
}

// Credit adds amount to acct.
func (s *Store) Credit(ctx context.Context, acct ledger.Account, amount uint64) error {
	key := s.balanceKey(acct)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		bal, err := readBalance(ctx, tx, key)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, strconv.FormatUint(bal+amount, 10), 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("credit %s: %w", acct, ledger.ErrConflict)
	}
	return err
}
