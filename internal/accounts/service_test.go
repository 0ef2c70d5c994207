package accounts

import (
	"context"
	"sync"
	"testing"
	"time"

	"lv-walletledger/internal/events"
	"lv-walletledger/internal/keylock"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/store"
	"lv-walletledger/internal/store/memory"
	"lv-walletledger/internal/types"
	"lv-walletledger/internal/walleterr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() (*Service, *memory.Store) {
	st := memory.New()
	return NewService(st, keylock.New(), nil, time.Second), st
}

func TestGetOrCreate(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	acct, err := svc.GetOrCreate(ctx, model.AccountKey{UserID: " u1 ", Currency: "usd", WalletType: "fiat"})
	require.NoError(t, err)
	assert.Equal(t, "u1", acct.UserID)
	assert.Equal(t, "USD", acct.Currency)
	assert.Equal(t, types.WalletTypeFiat, acct.WalletType)
	assert.Equal(t, types.AccountStatusActive, acct.Status)
	assert.True(t, acct.Balance.IsZero())
	assert.True(t, acct.InOrder.IsZero())

	again, err := svc.GetOrCreate(ctx, model.NewAccountKey("u1", "USD", types.WalletTypeFiat))
	require.NoError(t, err)
	assert.Equal(t, acct.ID, again.ID)
}

func TestGetOrCreateValidates(t *testing.T) {
	svc, _ := newService()
	for name, key := range map[string]model.AccountKey{
		"empty currency": {UserID: "u1", WalletType: types.WalletTypeSpot},
		"empty user":     {Currency: "BTC", WalletType: types.WalletTypeSpot},
		"unknown type":   {UserID: "u1", Currency: "BTC", WalletType: "MARGIN"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.GetOrCreate(context.Background(), key)
			assert.ErrorIs(t, err, walleterr.ErrValidation)
		})
	}
}

func TestGetOrCreateConcurrentCreatesOnce(t *testing.T) {
	svc, _ := newService()
	key := model.NewAccountKey("u1", "BTC", types.WalletTypeSpot)
	ids := make([]string, 16)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acct, err := svc.GetOrCreate(context.Background(), key)
			if assert.NoError(t, err) {
				ids[i] = acct.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestGetAndList(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.Get(ctx, model.NewAccountKey("u1", "USD", types.WalletTypeFiat))
	assert.ErrorIs(t, err, walleterr.ErrNotFound)

	for _, k := range []model.AccountKey{
		model.NewAccountKey("u1", "USD", types.WalletTypeFiat),
		model.NewAccountKey("u1", "BTC", types.WalletTypeSpot),
		model.NewAccountKey("u2", "USD", types.WalletTypeFiat),
	} {
		_, err := svc.GetOrCreate(ctx, k)
		require.NoError(t, err)
	}
	list, err := svc.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = svc.ListByUser(ctx, " ")
	assert.ErrorIs(t, err, walleterr.ErrValidation)
}

func TestLifecycle(t *testing.T) {
	svc, st := newService()
	ctx := context.Background()
	key := model.NewAccountKey("u1", "ETH", types.WalletTypeSpot)
	acct, err := svc.GetOrCreate(ctx, key)
	require.NoError(t, err)

	frozen, err := svc.SetStatus(ctx, key, "frozen")
	require.NoError(t, err)
	assert.Equal(t, types.AccountStatusFrozen, frozen.Status)

	_, err = svc.SetStatus(ctx, key, types.AccountStatusRetired)
	assert.ErrorIs(t, err, walleterr.ErrValidation)

	_, err = svc.SetStatus(ctx, key, types.AccountStatusActive)
	require.NoError(t, err)

	// Funds on the account block retirement.
	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.GetAccount(ctx, key)
		if err != nil {
			return err
		}
		a.InOrder = decimal.NewFromInt(1)
		return tx.UpdateAccount(ctx, a)
	}))
	_, err = svc.Retire(ctx, key)
	assert.ErrorIs(t, err, walleterr.ErrValidation)

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.GetAccount(ctx, key)
		if err != nil {
			return err
		}
		a.InOrder = decimal.Zero
		return tx.UpdateAccount(ctx, a)
	}))
	retired, err := svc.Retire(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, types.AccountStatusRetired, retired.Status)

	got, err := svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.Equal(t, types.AccountStatusRetired, got.Status)

	_, err = svc.SetStatus(ctx, key, types.AccountStatusActive)
	assert.ErrorIs(t, err, walleterr.ErrValidation)
}

func TestSetAddress(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	key := model.NewAccountKey("u1", "USDT", types.WalletTypeEco)
	_, err := svc.GetOrCreate(ctx, key)
	require.NoError(t, err)

	acct, err := svc.SetAddress(ctx, key, model.Address{Address: "0xabc", Network: "ERC20"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", acct.Addresses["erc20"].Address)

	_, err = svc.SetAddress(ctx, key, model.Address{Address: "", Network: "trc20"})
	assert.ErrorIs(t, err, walleterr.ErrValidation)

	_, err = svc.SetAddress(ctx, model.NewAccountKey("u9", "USDT", types.WalletTypeEco), model.Address{Address: "T1", Network: "trc20"})
	assert.ErrorIs(t, err, walleterr.ErrNotFound)
}

func TestMutationWaitsForLockThenTimesOut(t *testing.T) {
	st := memory.New()
	locks := keylock.New()
	svc := NewService(st, locks, nil, 50*time.Millisecond)
	key := model.NewAccountKey("u1", "USD", types.WalletTypeFiat)
	_, err := svc.GetOrCreate(context.Background(), key)
	require.NoError(t, err)

	unlock, err := locks.Acquire(context.Background(), key.String())
	require.NoError(t, err)
	defer unlock()

	_, err = svc.SetStatus(context.Background(), key, types.AccountStatusFrozen)
	assert.ErrorIs(t, err, walleterr.ErrStoreUnavailable)
}

type eventLog struct {
	mu  sync.Mutex
	got []events.Event
}

func (l *eventLog) Publish(evt events.Event) {
	l.mu.Lock()
	l.got = append(l.got, evt)
	l.mu.Unlock()
}

func TestLifecycleChangesArePublished(t *testing.T) {
	svc, _ := newService()
	log := &eventLog{}
	svc.SetPublisher(log)
	ctx := context.Background()
	key := model.NewAccountKey("u1", "BTC", types.WalletTypeSpot)
	_, err := svc.GetOrCreate(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, log.got, "creation is not a lifecycle change")

	_, err = svc.SetStatus(ctx, key, types.AccountStatusFrozen)
	require.NoError(t, err)
	_, err = svc.SetAddress(ctx, key, model.Address{Address: "bc1q", Network: "btc"})
	require.NoError(t, err)
	_, err = svc.Retire(ctx, key)
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, key, types.AccountStatusActive)
	require.ErrorIs(t, err, walleterr.ErrValidation)

	require.Len(t, log.got, 3, "rejected changes publish nothing")
	for _, evt := range log.got {
		assert.Equal(t, events.TypeAccountUpdate, evt.Type)
		assert.Equal(t, "u1", evt.UserID)
	}
	first := log.got[0].Data.(model.Account)
	assert.Equal(t, types.AccountStatusFrozen, first.Status)
	last := log.got[2].Data.(model.Account)
	assert.Equal(t, types.AccountStatusRetired, last.Status)
	assert.Equal(t, "bc1q", last.Addresses["btc"].Address)
}
