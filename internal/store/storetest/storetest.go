// Package storetest holds the behaviour every store.Store implementation must
// share. Driver packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"lv-walletledger/internal/model"
	"lv-walletledger/internal/store"
	"lv-walletledger/internal/types"
	"lv-walletledger/internal/walleterr"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("InsertAndGetAccount", func(t *testing.T) { testInsertAndGet(t, newStore(t)) })
	t.Run("UniqueAccountKey", func(t *testing.T) { testUniqueAccountKey(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("EntriesInSequence", func(t *testing.T) { testEntries(t, newStore(t)) })
	t.Run("UniqueIdempotencyKey", func(t *testing.T) { testUniqueIdempotencyKey(t, newStore(t)) })
	t.Run("ListAccounts", func(t *testing.T) { testListAccounts(t, newStore(t)) })
	t.Run("CancelledContext", func(t *testing.T) { testCancelled(t, newStore(t)) })
}

func NewAccount(userID, currency string, wt types.WalletType) model.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return model.Account{
		ID:         uuid.NewString(),
		UserID:     userID,
		Currency:   currency,
		WalletType: wt,
		Balance:    decimal.Zero,
		InOrder:    decimal.Zero,
		Status:     types.AccountStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func newEntry(acct model.Account, seq int64, amount int64, key string) model.LedgerEntry {
	return model.LedgerEntry{
		ID:             fmt.Sprintf("%s-%d", acct.ID, seq),
		IdempotencyKey: key,
		AccountID:      acct.ID,
		Amount:         decimal.NewFromInt(amount),
		Kind:           types.EntryKindDeposit,
		Seq:            seq,
		Hash:           fmt.Sprintf("h%d", seq),
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
}

func testInsertAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := NewAccount("u-"+uuid.NewString(), "USD", types.WalletTypeFiat)
	acct.Addresses = map[string]model.Address{"erc20": {Address: "0xabc", Network: "erc20", Balance: decimal.Zero}}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertAccount(ctx, acct)
	}))

	got, err := s.GetAccount(ctx, acct.Key())
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.True(t, got.Balance.IsZero())
	assert.Equal(t, "0xabc", got.Addresses["erc20"].Address)

	_, err = s.GetAccount(ctx, model.NewAccountKey(acct.UserID, "EUR", types.WalletTypeFiat))
	assert.ErrorIs(t, err, walleterr.ErrNotFound)
}

func testUniqueAccountKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := "u-" + uuid.NewString()
	first := NewAccount(user, "BTC", types.WalletTypeSpot)
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertAccount(ctx, first)
	}))
	second := NewAccount(user, "BTC", types.WalletTypeSpot)
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertAccount(ctx, second)
	})
	assert.ErrorIs(t, err, store.ErrAccountExists)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := NewAccount("u-"+uuid.NewString(), "USD", types.WalletTypeFiat)
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertAccount(ctx, acct)
	}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.GetAccount(ctx, acct.Key())
		if err != nil {
			return err
		}
		a.Balance = decimal.NewFromInt(50)
		if err := tx.InsertEntry(ctx, newEntry(a, 1, 50, "rb-"+a.ID)); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, acct.Key())
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
	count := 0
	require.NoError(t, s.ScanEntries(ctx, acct.ID, 0, func(model.LedgerEntry) bool { count++; return true }))
	assert.Zero(t, count)
}

func testEntries(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := NewAccount("u-"+uuid.NewString(), "ETH", types.WalletTypeSpot)
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertAccount(ctx, acct)
	}))
	for seq := int64(1); seq <= 12; seq++ {
		seq := seq
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			a, err := tx.GetAccount(ctx, acct.Key())
			if err != nil {
				return err
			}
			e := newEntry(a, seq, seq, fmt.Sprintf("%s-k%d", a.ID, seq))
			if err := tx.InsertEntry(ctx, e); err != nil {
				return err
			}
			a.LedgerSeq = seq
			a.Balance = a.Balance.Add(e.Amount)
			return tx.UpdateAccount(ctx, a)
		}))
	}

	var seqs []int64
	require.NoError(t, s.ScanEntries(ctx, acct.ID, 0, func(e model.LedgerEntry) bool {
		seqs = append(seqs, e.Seq)
		return true
	}))
	require.Len(t, seqs, 12)
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq)
	}

	var first []int64
	require.NoError(t, s.ScanEntries(ctx, acct.ID, 0, func(e model.LedgerEntry) bool {
		first = append(first, e.Seq)
		return len(first) < 3
	}))
	assert.Equal(t, []int64{1, 2, 3}, first)

	var tail []int64
	require.NoError(t, s.ScanEntries(ctx, acct.ID, 9, func(e model.LedgerEntry) bool {
		tail = append(tail, e.Seq)
		return true
	}))
	assert.Equal(t, []int64{10, 11, 12}, tail, "scan starts after the given sequence")

	var none []int64
	require.NoError(t, s.ScanEntries(ctx, acct.ID, 12, func(e model.LedgerEntry) bool {
		none = append(none, e.Seq)
		return true
	}))
	assert.Empty(t, none)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := tx.EntryByKey(ctx, fmt.Sprintf("%s-k%d", acct.ID, 7))
		require.NoError(t, err)
		assert.Equal(t, int64(7), e.Seq)
		assert.True(t, e.Amount.Equal(decimal.NewFromInt(7)))
		_, err = tx.EntryByKey(ctx, "missing-"+acct.ID)
		assert.ErrorIs(t, err, walleterr.ErrNotFound)
		return nil
	}))

	got, err := s.GetAccount(ctx, acct.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.LedgerSeq)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(78)))
}

func testUniqueIdempotencyKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := NewAccount("u-"+uuid.NewString(), "USD", types.WalletTypeFiat)
	key := "dup-" + acct.ID
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertAccount(ctx, acct); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, newEntry(acct, 1, 10, key))
	}))
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertEntry(ctx, newEntry(acct, 2, 10, key))
	})
	assert.ErrorIs(t, err, walleterr.ErrDuplicateEntry)
}

func testListAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := "u-" + uuid.NewString()
	other := "u-" + uuid.NewString()
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, a := range []model.Account{
			NewAccount(user, "USD", types.WalletTypeFiat),
			NewAccount(user, "BTC", types.WalletTypeSpot),
			NewAccount(user, "BTC", types.WalletTypeFutures),
			NewAccount(other, "USD", types.WalletTypeFiat),
		} {
			if err := tx.InsertAccount(ctx, a); err != nil {
				return err
			}
		}
		return nil
	}))
	accts, err := s.ListAccounts(ctx, user)
	require.NoError(t, err)
	assert.Len(t, accts, 3)
	for _, a := range accts {
		assert.Equal(t, user, a.UserID)
	}
	none, err := s.ListAccounts(ctx, "u-nobody-"+uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testCancelled(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	acct := NewAccount("u-"+uuid.NewString(), "USD", types.WalletTypeFiat)
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertAccount(ctx, acct); err != nil {
			return err
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, walleterr.ErrStoreUnavailable)
	_, err = s.GetAccount(context.Background(), acct.Key())
	assert.ErrorIs(t, err, walleterr.ErrNotFound)
}
