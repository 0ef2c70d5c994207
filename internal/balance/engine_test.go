package balance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lv-walletledger/internal/accounts"
	"lv-walletledger/internal/events"
	"lv-walletledger/internal/keylock"
	"lv-walletledger/internal/ledger"
	"lv-walletledger/internal/metrics"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/store"
	"lv-walletledger/internal/store/memory"
	"lv-walletledger/internal/store/pebblestore"
	"lv-walletledger/internal/types"
	"lv-walletledger/internal/walleterr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine   *Engine
	store    store.Store
	locks    *keylock.Table
	accounts *accounts.Service
	ledger   *ledger.Service
	events   *recorder
}

type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) Publish(evt events.Event) {
	r.mu.Lock()
	r.got = append(r.got, evt)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func newFixture(t *testing.T, st store.Store, opts Options) *fixture {
	t.Helper()
	locks := keylock.New()
	accts := accounts.NewService(st, locks, nil, time.Second)
	led := ledger.NewService(st)
	rec := &recorder{}
	if opts.Publisher == nil {
		opts.Publisher = rec
	}
	if opts.StoreTimeout == 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	return &fixture{
		engine:   NewEngine(st, locks, accts, led, opts),
		store:    st,
		locks:    locks,
		accounts: accts,
		ledger:   led,
		events:   rec,
	}
}

// eachStore runs fn against every embedded store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newFixture(t, memory.New(), Options{}))
	})
	t.Run("pebble", func(t *testing.T) {
		st, err := pebblestore.Open(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		fn(t, newFixture(t, st, Options{}))
	})
}

var usd = model.NewAccountKey("U", "USD", types.WalletTypeFiat)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func entry(key model.AccountKey, idem string, amount int64, kind types.EntryKind) model.Draft {
	return model.Draft{Account: key, Amount: dec(amount), Kind: kind, IdempotencyKey: idem}
}

func deposit(key model.AccountKey, idem string, amount int64) model.Draft {
	return entry(key, idem, amount, types.EntryKindDeposit)
}

func withdraw(key model.AccountKey, idem string, amount int64) model.Draft {
	return entry(key, idem, -amount, types.EntryKindWithdrawal)
}

func countEntries(t *testing.T, f *fixture, key model.AccountKey) int {
	t.Helper()
	acct, err := f.accounts.Get(context.Background(), key)
	if errors.Is(err, walleterr.ErrNotFound) {
		return 0
	}
	require.NoError(t, err)
	n := 0
	for _, err := range f.ledger.EntriesFor(context.Background(), acct.ID) {
		require.NoError(t, err)
		n++
	}
	return n
}

func TestApplyEntryCreatesAccount(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		acct, err := f.engine.ApplyEntry(context.Background(), deposit(usd, "d1", 100))
		require.NoError(t, err)
		assert.True(t, acct.Balance.Equal(dec(100)))
		assert.True(t, acct.InOrder.IsZero())
		assert.Equal(t, int64(1), acct.LedgerSeq)

		got, err := f.accounts.Get(context.Background(), usd)
		require.NoError(t, err)
		assert.Equal(t, acct.ID, got.ID)
		assert.True(t, got.Balance.Equal(dec(100)))
		assert.Equal(t, 1, f.events.count())
	})
}

func TestNonNegativity(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		_, err := f.engine.ApplyEntry(ctx, deposit(usd, "d1", 10))
		require.NoError(t, err)

		_, err = f.engine.ApplyEntry(ctx, withdraw(usd, "w1", 11))
		require.ErrorIs(t, err, walleterr.ErrInsufficientFunds)

		res := entry(usd, "r1", -1, types.EntryKindTrade)
		res.Reservation = true
		_, err = f.engine.ApplyEntry(ctx, res)
		require.ErrorIs(t, err, walleterr.ErrInsufficientFunds)
		assert.NotErrorIs(t, err, walleterr.ErrInsufficientReservation)

		_, err = f.engine.ApplyBatch(ctx, res)
		require.ErrorIs(t, err, walleterr.ErrInsufficientReservation)

		acct, err := f.accounts.Get(ctx, usd)
		require.NoError(t, err)
		assert.True(t, acct.Balance.Equal(dec(10)))
		assert.True(t, acct.InOrder.IsZero())
		assert.Equal(t, 1, countEntries(t, f, usd), "rejected drafts leave no ledger trace")

		// The rejected key was never recorded, so it can still be used.
		acct, err = f.engine.ApplyEntry(ctx, withdraw(usd, "w1", 10))
		require.NoError(t, err)
		assert.True(t, acct.Balance.IsZero())
	})
}

func TestIdempotency(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		first, err := f.engine.ApplyEntry(ctx, deposit(usd, "d1", 100))
		require.NoError(t, err)
		second, err := f.engine.ApplyEntry(ctx, deposit(usd, "d1", 100))
		require.NoError(t, err)

		assert.True(t, first.Balance.Equal(second.Balance))
		assert.Equal(t, first.LedgerSeq, second.LedgerSeq)
		assert.Equal(t, 1, countEntries(t, f, usd))
		assert.Equal(t, 1, f.events.count(), "replays publish nothing")

		_, err = f.engine.ApplyEntry(ctx, deposit(usd, "d1", 50))
		assert.ErrorIs(t, err, walleterr.ErrDuplicateEntry)

		other := model.NewAccountKey("V", "USD", types.WalletTypeFiat)
		_, err = f.engine.ApplyEntry(ctx, deposit(other, "d1", 100))
		assert.ErrorIs(t, err, walleterr.ErrDuplicateEntry)
	})
}

func TestValidation(t *testing.T) {
	f := newFixture(t, memory.New(), Options{})
	ctx := context.Background()
	cases := map[string]model.Draft{
		"zero amount":    deposit(usd, "z", 0),
		"unknown kind":   entry(usd, "k", 5, "BONUS"),
		"empty currency": deposit(model.AccountKey{UserID: "U", WalletType: types.WalletTypeFiat}, "c", 5),
		"bad wallet":     deposit(model.AccountKey{UserID: "U", Currency: "USD", WalletType: "SAVINGS"}, "w", 5),
		"missing key":    deposit(usd, "", 5),
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.ApplyEntry(ctx, d)
			assert.ErrorIs(t, err, walleterr.ErrValidation)
		})
	}
	_, err := f.engine.ApplyBatch(ctx, deposit(usd, "same", 1), deposit(usd, "same", 1))
	assert.ErrorIs(t, err, walleterr.ErrValidation)
	_, err = f.engine.ApplyBatch(ctx)
	assert.ErrorIs(t, err, walleterr.ErrValidation)
}

func TestFrozenAndRetiredAccountsRejectEntries(t *testing.T) {
	f := newFixture(t, memory.New(), Options{})
	ctx := context.Background()
	_, err := f.engine.ApplyEntry(ctx, deposit(usd, "d1", 5))
	require.NoError(t, err)

	_, err = f.accounts.SetStatus(ctx, usd, types.AccountStatusFrozen)
	require.NoError(t, err)
	_, err = f.engine.ApplyEntry(ctx, deposit(usd, "d2", 5))
	assert.ErrorIs(t, err, walleterr.ErrAccountFrozen)

	// A replay does not change anything, so it is still answered.
	acct, err := f.engine.ApplyEntry(ctx, deposit(usd, "d1", 5))
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec(5)))

	_, err = f.accounts.SetStatus(ctx, usd, types.AccountStatusActive)
	require.NoError(t, err)
	_, err = f.engine.ApplyEntry(ctx, withdraw(usd, "w1", 5))
	require.NoError(t, err)
	_, err = f.accounts.Retire(ctx, usd)
	require.NoError(t, err)
	_, err = f.engine.ApplyEntry(ctx, deposit(usd, "d3", 5))
	assert.ErrorIs(t, err, walleterr.ErrValidation)
}

func TestTransferConservation(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		dst := model.NewAccountKey("V", "USD", types.WalletTypeFiat)
		_, err := f.engine.ApplyEntry(ctx, deposit(usd, "d1", 100))
		require.NoError(t, err)
		_, err = f.engine.ApplyEntry(ctx, deposit(dst, "d2", 5))
		require.NoError(t, err)

		res, err := f.engine.ApplyTransfer(ctx,
			model.Draft{Account: usd, Amount: dec(-40), IdempotencyKey: "t1/out"},
			model.Draft{Account: dst, Amount: dec(40), IdempotencyKey: "t1/in"})
		require.NoError(t, err)
		assert.NotEmpty(t, res.Reference)
		assert.True(t, res.From.Balance.Equal(dec(60)))
		assert.True(t, res.To.Balance.Equal(dec(45)))
		assert.True(t, res.From.Balance.Add(res.To.Balance).Equal(dec(105)))

		// Failure leaves both sides untouched.
		_, err = f.engine.ApplyTransfer(ctx,
			model.Draft{Account: usd, Amount: dec(-61), IdempotencyKey: "t2/out"},
			model.Draft{Account: dst, Amount: dec(61), IdempotencyKey: "t2/in"})
		require.ErrorIs(t, err, walleterr.ErrInsufficientFunds)

		from, err := f.accounts.Get(ctx, usd)
		require.NoError(t, err)
		to, err := f.accounts.Get(ctx, dst)
		require.NoError(t, err)
		assert.True(t, from.Balance.Equal(dec(60)))
		assert.True(t, to.Balance.Equal(dec(45)))
		assert.Equal(t, 2, countEntries(t, f, usd))
		assert.Equal(t, 2, countEntries(t, f, dst))
	})
}

func TestTransferToFrozenAccountRollsBackDebit(t *testing.T) {
	f := newFixture(t, memory.New(), Options{})
	ctx := context.Background()
	dst := model.NewAccountKey("V", "USD", types.WalletTypeFiat)
	_, err := f.engine.ApplyEntry(ctx, deposit(usd, "d1", 100))
	require.NoError(t, err)
	_, err = f.accounts.GetOrCreate(ctx, dst)
	require.NoError(t, err)
	_, err = f.accounts.SetStatus(ctx, dst, types.AccountStatusFrozen)
	require.NoError(t, err)

	_, err = f.engine.ApplyTransfer(ctx,
		model.Draft{Account: usd, Amount: dec(-10), IdempotencyKey: "t/out"},
		model.Draft{Account: dst, Amount: dec(10), IdempotencyKey: "t/in"})
	require.ErrorIs(t, err, walleterr.ErrAccountFrozen)

	from, err := f.accounts.Get(ctx, usd)
	require.NoError(t, err)
	assert.True(t, from.Balance.Equal(dec(100)))
	assert.Equal(t, 1, countEntries(t, f, usd))
	assert.Equal(t, 0, countEntries(t, f, dst))
}

func TestTransferReplay(t *testing.T) {
	f := newFixture(t, memory.New(), Options{})
	ctx := context.Background()
	dst := model.NewAccountKey("V", "USD", types.WalletTypeFiat)
	_, err := f.engine.ApplyEntry(ctx, deposit(usd, "d1", 100))
	require.NoError(t, err)

	out := model.Draft{Account: usd, Amount: dec(-10), IdempotencyKey: "t/out"}
	in := model.Draft{Account: dst, Amount: dec(10), IdempotencyKey: "t/in"}
	first, err := f.engine.ApplyTransfer(ctx, out, in)
	require.NoError(t, err)
	again, err := f.engine.ApplyTransfer(ctx, out, in)
	require.NoError(t, err)
	assert.Equal(t, first.Reference, again.Reference)
	assert.True(t, again.From.Balance.Equal(dec(90)))
	assert.True(t, again.To.Balance.Equal(dec(10)))

	_, err = f.engine.ApplyTransfer(ctx, out, model.Draft{Account: dst, Amount: dec(10), IdempotencyKey: "t/in-2"})
	assert.ErrorIs(t, err, walleterr.ErrDuplicateEntry)
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t, memory.New(), Options{})
	eur := model.NewAccountKey("V", "EUR", types.WalletTypeFiat)
	dst := model.NewAccountKey("V", "USD", types.WalletTypeFiat)
	cases := map[string][2]model.Draft{
		"currency mismatch": {{Account: usd, Amount: dec(-1), IdempotencyKey: "a"}, {Account: eur, Amount: dec(1), IdempotencyKey: "b"}},
		"unbalanced":        {{Account: usd, Amount: dec(-2), IdempotencyKey: "a"}, {Account: dst, Amount: dec(1), IdempotencyKey: "b"}},
		"positive source":   {{Account: usd, Amount: dec(1), IdempotencyKey: "a"}, {Account: dst, Amount: dec(-1), IdempotencyKey: "b"}},
		"same account":      {{Account: usd, Amount: dec(-1), IdempotencyKey: "a"}, {Account: usd, Amount: dec(1), IdempotencyKey: "b"}},
		"same key":          {{Account: usd, Amount: dec(-1), IdempotencyKey: "a"}, {Account: dst, Amount: dec(1), IdempotencyKey: "a"}},
		"wrong kind":        {{Account: usd, Amount: dec(-1), IdempotencyKey: "a", Kind: types.EntryKindFee}, {Account: dst, Amount: dec(1), IdempotencyKey: "b"}},
		"references differ": {{Account: usd, Amount: dec(-1), IdempotencyKey: "a", Reference: "x"}, {Account: dst, Amount: dec(1), IdempotencyKey: "b", Reference: "y"}},
	}
	for name, legs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.ApplyTransfer(context.Background(), legs[0], legs[1])
			assert.ErrorIs(t, err, walleterr.ErrValidation)
		})
	}
}

func TestConcurrentDebitRace(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		for round := 0; round < 20; round++ {
			key := model.NewAccountKey(fmt.Sprintf("race-%d", round), "USD", types.WalletTypeFiat)
			_, err := f.engine.ApplyEntry(context.Background(), deposit(key, key.String()+"/d", 10))
			require.NoError(t, err)

			var ok, insufficient atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := f.engine.ApplyEntry(context.Background(), withdraw(key, fmt.Sprintf("%s/w%d", key, i), 8))
					switch {
					case err == nil:
						ok.Add(1)
					case errors.Is(err, walleterr.ErrInsufficientFunds):
						insufficient.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int32(1), ok.Load())
			assert.Equal(t, int32(1), insufficient.Load())
			acct, err := f.accounts.Get(context.Background(), key)
			require.NoError(t, err)
			assert.True(t, acct.Balance.Equal(dec(2)), acct.Balance.String())
		}
	})
}

func TestOppositeTransfersDoNotDeadlock(t *testing.T) {
	f := newFixture(t, memory.New(), Options{})
	ctx := context.Background()
	a := model.NewAccountKey("A", "USD", types.WalletTypeSpot)
	b := model.NewAccountKey("B", "USD", types.WalletTypeSpot)
	_, err := f.engine.ApplyEntry(ctx, deposit(a, "da", 1000))
	require.NoError(t, err)
	_, err = f.engine.ApplyEntry(ctx, deposit(b, "db", 1000))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.ApplyTransfer(ctx,
				model.Draft{Account: a, Amount: dec(-1), IdempotencyKey: fmt.Sprintf("ab%d/out", i)},
				model.Draft{Account: b, Amount: dec(1), IdempotencyKey: fmt.Sprintf("ab%d/in", i)})
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.ApplyTransfer(ctx,
				model.Draft{Account: b, Amount: dec(-2), IdempotencyKey: fmt.Sprintf("ba%d/out", i)},
				model.Draft{Account: a, Amount: dec(2), IdempotencyKey: fmt.Sprintf("ba%d/in", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	accA, err := f.accounts.Get(ctx, a)
	require.NoError(t, err)
	accB, err := f.accounts.Get(ctx, b)
	require.NoError(t, err)
	assert.True(t, accA.Balance.Equal(dec(1050)))
	assert.True(t, accB.Balance.Equal(dec(950)))
}

func TestLedgerMatchesBalance(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		amounts := []int64{100, -30, 45, -15, 7, -100}
		for i, amt := range amounts {
			kind := types.EntryKindDeposit
			if amt < 0 {
				kind = types.EntryKindWithdrawal
			}
			_, err := f.engine.ApplyEntry(ctx, entry(usd, fmt.Sprintf("e%d", i), amt, kind))
			require.NoError(t, err)
		}
		acct, err := f.accounts.Get(ctx, usd)
		require.NoError(t, err)

		sum := decimal.Zero
		n := 0
		for e, err := range f.ledger.EntriesFor(ctx, acct.ID) {
			require.NoError(t, err)
			sum = sum.Add(e.Amount)
			n++
		}
		assert.Equal(t, len(amounts), n)
		assert.True(t, sum.Equal(acct.Balance))
		assert.True(t, acct.Balance.Equal(dec(7)))

		rep, err := f.ledger.Verify(ctx, usd)
		require.NoError(t, err)
		assert.True(t, rep.OK(), rep.Problems)
	})
}

func TestTimeoutReportsStoreUnavailable(t *testing.T) {
	f := newFixture(t, memory.New(), Options{StoreTimeout: 30 * time.Millisecond})
	ctx := context.Background()
	_, err := f.engine.ApplyEntry(ctx, deposit(usd, "d1", 10))
	require.NoError(t, err)

	unlock, err := f.locks.Acquire(ctx, usd.String())
	require.NoError(t, err)
	_, err = f.engine.ApplyEntry(ctx, withdraw(usd, "w1", 5))
	unlock()
	require.ErrorIs(t, err, walleterr.ErrStoreUnavailable)

	acct, err := f.accounts.Get(ctx, usd)
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec(10)))
	assert.Equal(t, 1, countEntries(t, f, usd))
}

func TestCommitFaultCommitsNothing(t *testing.T) {
	var fail atomic.Bool
	st := memory.New(memory.WithCommitHook(func() error {
		if fail.Load() {
			return errors.New("fsync failed")
		}
		return nil
	}))
	f := newFixture(t, st, Options{})
	ctx := context.Background()
	_, err := f.engine.ApplyEntry(ctx, deposit(usd, "d1", 10))
	require.NoError(t, err)

	fail.Store(true)
	_, err = f.engine.ApplyEntry(ctx, withdraw(usd, "w1", 4))
	require.ErrorIs(t, err, walleterr.ErrStoreUnavailable)
	fail.Store(false)

	acct, err := f.accounts.Get(ctx, usd)
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec(10)))
	assert.Equal(t, 1, countEntries(t, f, usd))

	// The caller may retry with the same key.
	acct, err = f.engine.ApplyEntry(ctx, withdraw(usd, "w1", 4))
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec(6)))
}

// racingStore loses the first account insert to a concurrent writer.
type racingStore struct {
	store.Store
	raced atomic.Bool
}

func (s *racingStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if s.raced.CompareAndSwap(false, true) {
		return store.ErrAccountExists
	}
	return s.Store.WithTx(ctx, fn)
}

func TestRetriesAfterLosingCreateRace(t *testing.T) {
	st := &racingStore{Store: memory.New()}
	f := newFixture(t, st, Options{})
	acct, err := f.engine.ApplyEntry(context.Background(), deposit(usd, "d1", 3))
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec(3)))
}

func TestEventsAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	f := newFixture(t, memory.New(), Options{Metrics: m})
	ctx := context.Background()

	_, err := f.engine.ApplyEntry(ctx, deposit(usd, "d1", 10))
	require.NoError(t, err)
	_, err = f.engine.ApplyEntry(ctx, withdraw(usd, "w1", 50))
	require.ErrorIs(t, err, walleterr.ErrInsufficientFunds)

	require.Equal(t, 1, f.events.count())
	evt := f.events.got[0]
	assert.Equal(t, events.TypeEntryApplied, evt.Type)
	assert.Equal(t, "U", evt.UserID)
	payload, ok := evt.Data.(events.EntryApplied)
	require.True(t, ok)
	assert.True(t, payload.Account.Balance.Equal(dec(10)))
	assert.Equal(t, "d1", payload.Entry.IdempotencyKey)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntriesApplied.WithLabelValues("DEPOSIT", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("apply_entry", "insufficient_funds")))
}

func TestApplyBatch(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		btc := model.NewAccountKey("U", "BTC", types.WalletTypeSpot)

		accts, err := f.engine.ApplyBatch(ctx, deposit(usd, "b1", 40), deposit(btc, "b2", 2), withdraw(usd, "b3", 15))
		require.NoError(t, err)
		require.Len(t, accts, 3)
		assert.True(t, accts[0].Balance.Equal(dec(25)))
		assert.True(t, accts[1].Balance.Equal(dec(2)))
		assert.True(t, accts[2].Balance.Equal(dec(25)), "each result is the post-batch state")

		replay, err := f.engine.ApplyBatchResult(ctx, deposit(usd, "b1", 40), deposit(btc, "b2", 2), withdraw(usd, "b3", 15))
		require.NoError(t, err)
		assert.True(t, replay.Replayed)
		require.Len(t, replay.Entries, 3)
		assert.Equal(t, "b3", replay.Entries[2].IdempotencyKey)
		assert.Equal(t, 2, countEntries(t, f, usd))

		fresh, err := f.engine.ApplyBatchResult(ctx, deposit(btc, "b7", 1))
		require.NoError(t, err)
		assert.False(t, fresh.Replayed)
		assert.Equal(t, int64(2), fresh.Entries[0].Seq)

		_, err = f.engine.ApplyBatch(ctx, deposit(usd, "b1", 40), deposit(usd, "b4", 5))
		assert.ErrorIs(t, err, walleterr.ErrDuplicateEntry)

		_, err = f.engine.ApplyBatch(ctx, deposit(btc, "b5", 1), withdraw(usd, "b6", 100))
		assert.ErrorIs(t, err, walleterr.ErrInsufficientFunds)
		acct, err := f.accounts.Get(ctx, btc)
		require.NoError(t, err)
		assert.True(t, acct.Balance.Equal(dec(3)), "a failed batch leaves no partial credit")
		assert.Equal(t, 2, countEntries(t, f, usd))
	})
}
