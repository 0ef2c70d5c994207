// Package pebblestore keeps accounts and ledger entries in an embedded pebble
// database. Writers are serialized and commit through an indexed batch synced
// to disk; readers work from snapshots.
package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"lv-walletledger/internal/model"
	"lv-walletledger/internal/store"
	"lv-walletledger/internal/walleterr"

	"github.com/cockroachdb/pebble"
)

type Store struct {
	db     *pebble.DB
	writer chan struct{}
}

var _ store.Store = (*Store)(nil)

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db, writer: make(chan struct{}, 1)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	_, closer, err := s.db.Get([]byte("ping"))
	if err == nil {
		closer.Close()
		return nil
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return walleterr.Unavailable(err)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return walleterr.Unavailable(ctx.Err())
	}
	defer func() { <-s.writer }()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()
	if err := fn(ctx, &pebbleTx{batch: batch}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return walleterr.Unavailable(err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return walleterr.Unavailable(err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, key model.AccountKey) (model.Account, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()
	return getAccount(snap, key)
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]model.Account, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()
	prefix := userIndexPrefix(userID)
	iter, err := snap.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, walleterr.Unavailable(err)
	}
	defer iter.Close()

	var out []model.Account
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Key()[len(prefix):])
		var acct model.Account
		if err := getJSON(snap, accountKey(id), &acct); err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	if err := iter.Error(); err != nil {
		return nil, walleterr.Unavailable(err)
	}
	return out, nil
}

func (s *Store) ScanEntries(ctx context.Context, accountID string, after int64, fn func(model.LedgerEntry) bool) error {
	snap := s.db.NewSnapshot()
	defer snap.Close()
	prefix := entryPrefix(accountID)
	lower := prefix
	if after > 0 {
		lower = entryKey(accountID, after+1)
	}
	iter, err := snap.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upperBound(prefix)})
	if err != nil {
		return walleterr.Unavailable(err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return walleterr.Unavailable(err)
		}
		var e model.LedgerEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return fmt.Errorf("decode entry %s: %w", iter.Key(), err)
		}
		if !fn(e) {
			return nil
		}
	}
	if err := iter.Error(); err != nil {
		return walleterr.Unavailable(err)
	}
	return nil
}

type pebbleTx struct {
	batch *pebble.Batch
}

func (tx *pebbleTx) GetAccount(ctx context.Context, key model.AccountKey) (model.Account, error) {
	return getAccount(tx.batch, key)
}

func (tx *pebbleTx) InsertAccount(ctx context.Context, acct model.Account) error {
	key := acct.Key()
	_, closer, err := tx.batch.Get(accountIndexKey(key))
	if err == nil {
		closer.Close()
		return store.ErrAccountExists
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return walleterr.Unavailable(err)
	}
	if err := tx.batch.Set(accountIndexKey(key), []byte(acct.ID), nil); err != nil {
		return walleterr.Unavailable(err)
	}
	if err := tx.batch.Set(userIndexKey(acct.UserID, acct.ID), nil, nil); err != nil {
		return walleterr.Unavailable(err)
	}
	return tx.putAccount(acct)
}

func (tx *pebbleTx) UpdateAccount(ctx context.Context, acct model.Account) error {
	_, closer, err := tx.batch.Get(accountKey(acct.ID))
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("%w: account %s", walleterr.ErrNotFound, acct.ID)
	}
	if err != nil {
		return walleterr.Unavailable(err)
	}
	closer.Close()
	return tx.putAccount(acct)
}

func (tx *pebbleTx) putAccount(acct model.Account) error {
	buf, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	if err := tx.batch.Set(accountKey(acct.ID), buf, nil); err != nil {
		return walleterr.Unavailable(err)
	}
	return nil
}

func (tx *pebbleTx) EntryByKey(ctx context.Context, idempotencyKey string) (model.LedgerEntry, error) {
	ref, closer, err := tx.batch.Get(idemKey(idempotencyKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return model.LedgerEntry{}, fmt.Errorf("%w: entry %q", walleterr.ErrNotFound, idempotencyKey)
	}
	if err != nil {
		return model.LedgerEntry{}, walleterr.Unavailable(err)
	}
	entryRef := append([]byte(nil), ref...)
	closer.Close()
	var e model.LedgerEntry
	if err := getJSON(tx.batch, entryRef, &e); err != nil {
		return model.LedgerEntry{}, err
	}
	return e, nil
}

func (tx *pebbleTx) InsertEntry(ctx context.Context, entry model.LedgerEntry) error {
	_, closer, err := tx.batch.Get(idemKey(entry.IdempotencyKey))
	if err == nil {
		closer.Close()
		return fmt.Errorf("%w: idempotency key %q", walleterr.ErrDuplicateEntry, entry.IdempotencyKey)
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return walleterr.Unavailable(err)
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	ek := entryKey(entry.AccountID, entry.Seq)
	if err := tx.batch.Set(ek, buf, nil); err != nil {
		return walleterr.Unavailable(err)
	}
	if err := tx.batch.Set(idemKey(entry.IdempotencyKey), ek, nil); err != nil {
		return walleterr.Unavailable(err)
	}
	return nil
}

func getAccount(r pebble.Reader, key model.AccountKey) (model.Account, error) {
	id, closer, err := r.Get(accountIndexKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return model.Account{}, fmt.Errorf("%w: account %s", walleterr.ErrNotFound, key)
	}
	if err != nil {
		return model.Account{}, walleterr.Unavailable(err)
	}
	accountID := string(id)
	closer.Close()
	var acct model.Account
	if err := getJSON(r, accountKey(accountID), &acct); err != nil {
		return model.Account{}, err
	}
	return acct, nil
}

func getJSON(r pebble.Reader, key []byte, out any) error {
	v, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("%w: %s", walleterr.ErrNotFound, key)
	}
	if err != nil {
		return walleterr.Unavailable(err)
	}
	defer closer.Close()
	if err := json.Unmarshal(v, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
