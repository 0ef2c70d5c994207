// Package memory is an in-process store. Transactions stage their writes and
// publish them under a single write lock at commit, so readers never see a
// partially applied transaction.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"lv-walletledger/internal/model"
	"lv-walletledger/internal/store"
	"lv-walletledger/internal/walleterr"
)

type Store struct {
	mu       sync.RWMutex
	accounts map[string]model.Account
	byKey    map[model.AccountKey]string
	entries  map[string][]model.LedgerEntry
	byIdem   map[string]model.LedgerEntry

	// beforeCommit lets tests inject a fault between staging and publishing.
	beforeCommit func() error
}

type Option func(*Store)

func WithCommitHook(fn func() error) Option {
	return func(s *Store) { s.beforeCommit = fn }
}

func New(opts ...Option) *Store {
	s := &Store{
		accounts: make(map[string]model.Account),
		byKey:    make(map[model.AccountKey]string),
		entries:  make(map[string][]model.LedgerEntry),
		byIdem:   make(map[string]model.LedgerEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return walleterr.Unavailable(err)
	}
	tx := &memTx{
		s:        s,
		accounts: make(map[string]model.Account),
		newKeys:  make(map[model.AccountKey]string),
		idem:     make(map[string]model.LedgerEntry),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return walleterr.Unavailable(err)
	}
	if s.beforeCommit != nil {
		if err := s.beforeCommit(); err != nil {
			return walleterr.Unavailable(err)
		}
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range tx.newKeys {
		if _, ok := s.byKey[key]; ok {
			return store.ErrAccountExists
		}
	}
	for key := range tx.idem {
		if _, ok := s.byIdem[key]; ok {
			return fmt.Errorf("%w: idempotency key %q", walleterr.ErrDuplicateEntry, key)
		}
	}
	for key, id := range tx.newKeys {
		s.byKey[key] = id
	}
	for id, acct := range tx.accounts {
		s.accounts[id] = acct.Clone()
	}
	for _, e := range tx.entries {
		s.entries[e.AccountID] = append(s.entries[e.AccountID], e)
		s.byIdem[e.IdempotencyKey] = e
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, key model.AccountKey) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(key)
}

func (s *Store) lookup(key model.AccountKey) (model.Account, error) {
	id, ok := s.byKey[key]
	if !ok {
		return model.Account{}, fmt.Errorf("%w: account %s", walleterr.ErrNotFound, key)
	}
	return s.accounts[id].Clone(), nil
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Account
	for _, acct := range s.accounts {
		if acct.UserID == userID {
			out = append(out, acct.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (s *Store) ScanEntries(ctx context.Context, accountID string, after int64, fn func(model.LedgerEntry) bool) error {
	if err := ctx.Err(); err != nil {
		return walleterr.Unavailable(err)
	}
	s.mu.RLock()
	all := s.entries[accountID]
	from := sort.Search(len(all), func(i int) bool { return all[i].Seq > after })
	snapshot := make([]model.LedgerEntry, len(all)-from)
	copy(snapshot, all[from:])
	s.mu.RUnlock()
	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return walleterr.Unavailable(err)
		}
		if !fn(e) {
			return nil
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

type memTx struct {
	s        *Store
	accounts map[string]model.Account
	newKeys  map[model.AccountKey]string
	entries  []model.LedgerEntry
	idem     map[string]model.LedgerEntry
}

func (tx *memTx) GetAccount(ctx context.Context, key model.AccountKey) (model.Account, error) {
	if id, ok := tx.newKeys[key]; ok {
		return tx.accounts[id].Clone(), nil
	}
	tx.s.mu.RLock()
	acct, err := tx.s.lookup(key)
	tx.s.mu.RUnlock()
	if err != nil {
		return model.Account{}, err
	}
	if staged, ok := tx.accounts[acct.ID]; ok {
		return staged.Clone(), nil
	}
	return acct, nil
}

func (tx *memTx) InsertAccount(ctx context.Context, acct model.Account) error {
	key := acct.Key()
	if _, ok := tx.newKeys[key]; ok {
		return store.ErrAccountExists
	}
	tx.s.mu.RLock()
	_, exists := tx.s.byKey[key]
	tx.s.mu.RUnlock()
	if exists {
		return store.ErrAccountExists
	}
	tx.newKeys[key] = acct.ID
	tx.accounts[acct.ID] = acct.Clone()
	return nil
}

func (tx *memTx) UpdateAccount(ctx context.Context, acct model.Account) error {
	if _, ok := tx.accounts[acct.ID]; !ok {
		tx.s.mu.RLock()
		_, ok := tx.s.accounts[acct.ID]
		tx.s.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: account %s", walleterr.ErrNotFound, acct.ID)
		}
	}
	tx.accounts[acct.ID] = acct.Clone()
	return nil
}

func (tx *memTx) EntryByKey(ctx context.Context, idempotencyKey string) (model.LedgerEntry, error) {
	if e, ok := tx.idem[idempotencyKey]; ok {
		return e, nil
	}
	tx.s.mu.RLock()
	e, ok := tx.s.byIdem[idempotencyKey]
	tx.s.mu.RUnlock()
	if !ok {
		return model.LedgerEntry{}, fmt.Errorf("%w: entry %q", walleterr.ErrNotFound, idempotencyKey)
	}
	return e, nil
}

func (tx *memTx) InsertEntry(ctx context.Context, entry model.LedgerEntry) error {
	if _, err := tx.EntryByKey(ctx, entry.IdempotencyKey); err == nil {
		return fmt.Errorf("%w: idempotency key %q", walleterr.ErrDuplicateEntry, entry.IdempotencyKey)
	}
	tx.idem[entry.IdempotencyKey] = entry
	tx.entries = append(tx.entries, entry)
	return nil
}
