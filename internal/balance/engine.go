// Package balance is the only writer of account balances. Every mutation is
// a batch of ledger drafts applied under the per-account locks and a single
// store transaction: the idempotency lookups, the non-negativity checks, the
// entry inserts and the account updates commit together or not at all.
package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"lv-walletledger/internal/accounts"
	"lv-walletledger/internal/events"
	"lv-walletledger/internal/keylock"
	"lv-walletledger/internal/ledger"
	"lv-walletledger/internal/metrics"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/store"
	"lv-walletledger/internal/types"
	"lv-walletledger/internal/walleterr"
)

// maxCreateRetries bounds retries after losing an account-creation race to
// a writer that does not hold the engine's locks.
const maxCreateRetries = 2

type Options struct {
	StoreTimeout time.Duration
	Publisher    events.Publisher
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

type Engine struct {
	store    store.Store
	locks    *keylock.Table
	accounts *accounts.Service
	ledger   *ledger.Service
	timeout  time.Duration
	pub      events.Publisher
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewEngine(st store.Store, locks *keylock.Table, accts *accounts.Service, led *ledger.Service, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		locks:    locks,
		accounts: accts,
		ledger:   led,
		timeout:  opts.StoreTimeout,
		pub:      opts.Publisher,
		metrics:  opts.Metrics,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ApplyEntry applies one draft, creating the target account on first use.
// A draft whose idempotency key was already applied returns the account's
// current state without changing it.
func (e *Engine) ApplyEntry(ctx context.Context, d model.Draft) (model.Account, error) {
	out, err := e.apply(ctx, "apply_entry", []model.Draft{d})
	if err != nil {
		return model.Account{}, err
	}
	return out.accounts[0], nil
}

// ApplyBatch applies drafts over one or more accounts as a single unit. The
// result holds the state of each draft's account after the batch, in draft
// order. Replaying a batch whose keys were all applied is a no-op; a batch
// where only some keys were applied is ErrDuplicateEntry.
func (e *Engine) ApplyBatch(ctx context.Context, drafts ...model.Draft) ([]model.Account, error) {
	res, err := e.ApplyBatchResult(ctx, drafts...)
	if err != nil {
		return nil, err
	}
	return res.Accounts, nil
}

// BatchResult is indexed like the drafts. When Replayed is set nothing moved
// and Entries holds the previously recorded entries.
type BatchResult struct {
	Accounts []model.Account
	Entries  []model.LedgerEntry
	Replayed bool
}

// ApplyBatchResult is ApplyBatch that also reports the committed entries and
// whether the call only replayed keys that were already applied.
func (e *Engine) ApplyBatchResult(ctx context.Context, drafts ...model.Draft) (BatchResult, error) {
	out, err := e.apply(ctx, "apply_batch", drafts)
	if err != nil {
		return BatchResult{}, err
	}
	return BatchResult{Accounts: out.accounts, Entries: out.entries, Replayed: !out.fresh}, nil
}

type TransferResult struct {
	Reference string        `json:"reference"`
	From      model.Account `json:"from"`
	To        model.Account `json:"to"`
}

// ApplyTransfer debits from and credits to in one atomic scope. from must be
// a negative amount and to the equal positive amount in the same currency.
// An empty kind defaults to TRANSFER_OUT / TRANSFER_IN, and both entries share
// one reference, generated when neither draft carries one.
func (e *Engine) ApplyTransfer(ctx context.Context, from, to model.Draft) (TransferResult, error) {
	from, to, err := prepareTransfer(from, to)
	if err != nil {
		e.reject("apply_transfer", err)
		return TransferResult{}, err
	}
	out, err := e.apply(ctx, "apply_transfer", []model.Draft{from, to})
	if err != nil {
		return TransferResult{}, err
	}
	// On replay the stored reference wins over one generated for this call.
	return TransferResult{Reference: out.entries[0].Reference, From: out.accounts[0], To: out.accounts[1]}, nil
}

// outcome describes a committed batch. accounts and entries are indexed like
// the drafts; on replay entries holds the previously recorded ones.
type outcome struct {
	accounts []model.Account
	entries  []model.LedgerEntry
	fresh    bool
	final    map[string]model.Account
}

func (e *Engine) apply(ctx context.Context, op string, drafts []model.Draft) (outcome, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveMutation(op, time.Since(start)) }()

	drafts, keys, err := prepare(drafts)
	if err != nil {
		e.reject(op, err)
		return outcome{}, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	lockKeys := make([]string, len(keys))
	for i, k := range keys {
		lockKeys[i] = k.String()
	}
	unlock, err := e.locks.Acquire(ctx, lockKeys...)
	if err != nil {
		err = walleterr.FromContext(err)
		e.reject(op, err)
		return outcome{}, err
	}
	defer unlock()

	// A single entry that overdraws in_order is reported like any other
	// overdraft; batches built by the reservation manager keep the distinction.
	shortReservation := walleterr.ErrInsufficientReservation
	if op == "apply_entry" {
		shortReservation = walleterr.ErrInsufficientFunds
	}

	var out outcome
	for attempt := 0; ; attempt++ {
		err = e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			out, err = e.applyTx(ctx, tx, drafts, keys, shortReservation)
			return err
		})
		if errors.Is(err, store.ErrAccountExists) && attempt+1 < maxCreateRetries {
			continue
		}
		break
	}
	if err != nil {
		err = walleterr.FromContext(err)
		e.reject(op, err)
		return outcome{}, err
	}

	for _, d := range drafts {
		e.metrics.EntryApplied(string(d.Kind), !out.fresh)
	}
	if !out.fresh {
		e.log.Debug("replayed", "op", op, "idempotency_key", drafts[0].IdempotencyKey)
		return out, nil
	}
	for _, entry := range out.entries {
		acct := out.final[entry.AccountID]
		e.log.Debug("entry applied",
			"op", op,
			"account_id", entry.AccountID,
			"entry_id", entry.ID,
			"seq", entry.Seq,
			"kind", string(entry.Kind),
			"amount", entry.Amount.String(),
			"balance", acct.Balance.String(),
			"in_order", acct.InOrder.String(),
		)
	}
	e.publish(out)
	return out, nil
}

// applyTx must be safe to run more than once: the postgres store reruns it
// after a serialization failure.
func (e *Engine) applyTx(ctx context.Context, tx store.Tx, drafts []model.Draft, keys []model.AccountKey, shortReservation error) (outcome, error) {
	byKey := make(map[model.AccountKey]*model.Account, len(keys))
	for _, key := range keys {
		acct, _, err := e.accounts.EnsureTx(ctx, tx, key)
		if err != nil {
			return outcome{}, err
		}
		byKey[key] = &acct
	}

	out := outcome{entries: make([]model.LedgerEntry, len(drafts))}
	applied := 0
	for i, d := range drafts {
		prior, found, err := e.ledger.Lookup(ctx, tx, byKey[d.Account].ID, d)
		if err != nil {
			return outcome{}, err
		}
		if found {
			out.entries[i] = prior
			applied++
		}
	}
	switch {
	case applied == len(drafts):
		out.accounts = snapshot(drafts, byKey)
		return out, nil
	case applied > 0:
		return outcome{}, fmt.Errorf("%w: %d of %d idempotency keys were already applied", walleterr.ErrDuplicateEntry, applied, len(drafts))
	}

	for _, key := range keys {
		if err := checkStatus(byKey[key]); err != nil {
			return outcome{}, err
		}
	}

	now := e.now()
	for i, d := range drafts {
		acct := byKey[d.Account]
		if err := credit(acct, d, shortReservation); err != nil {
			return outcome{}, err
		}
		entry, fresh, err := e.ledger.Append(ctx, tx, acct, d)
		if err != nil {
			return outcome{}, err
		}
		if !fresh {
			return outcome{}, fmt.Errorf("%w: idempotency key %q", walleterr.ErrDuplicateEntry, d.IdempotencyKey)
		}
		acct.UpdatedAt = now
		out.entries[i] = entry
	}
	out.final = make(map[string]model.Account, len(keys))
	for _, key := range keys {
		acct := byKey[key]
		if err := tx.UpdateAccount(ctx, *acct); err != nil {
			return outcome{}, err
		}
		out.final[acct.ID] = acct.Clone()
	}
	out.fresh = true
	out.accounts = snapshot(drafts, byKey)
	return out, nil
}

// credit moves d's amount into acct, rejecting any result below zero. An
// in_order overdraft fails with shortReservation.
func credit(acct *model.Account, d model.Draft, shortReservation error) error {
	if d.Reservation {
		next := acct.InOrder.Add(d.Amount)
		if next.IsNegative() {
			return fmt.Errorf("%w: account %s has %s in order, cannot apply %s",
				shortReservation, acct.Key(), acct.InOrder, d.Amount)
		}
		acct.InOrder = next
		return nil
	}
	next := acct.Balance.Add(d.Amount)
	if next.IsNegative() {
		return fmt.Errorf("%w: account %s has %s available, cannot apply %s",
			walleterr.ErrInsufficientFunds, acct.Key(), acct.Balance, d.Amount)
	}
	acct.Balance = next
	return nil
}

func checkStatus(acct *model.Account) error {
	switch acct.Status {
	case types.AccountStatusFrozen:
		return fmt.Errorf("%w: %s", walleterr.ErrAccountFrozen, acct.Key())
	case types.AccountStatusRetired:
		return walleterr.Invalid("account %s is retired", acct.Key())
	}
	return nil
}

func snapshot(drafts []model.Draft, byKey map[model.AccountKey]*model.Account) []model.Account {
	out := make([]model.Account, len(drafts))
	for i, d := range drafts {
		out[i] = byKey[d.Account].Clone()
	}
	return out
}

// prepare normalizes and validates drafts and returns the distinct account
// keys they touch in lock order.
func prepare(drafts []model.Draft) ([]model.Draft, []model.AccountKey, error) {
	if len(drafts) == 0 {
		return nil, nil, walleterr.Invalid("no entries to apply")
	}
	out := make([]model.Draft, len(drafts))
	seenKeys := make(map[string]struct{}, len(drafts))
	seenAccts := make(map[model.AccountKey]struct{}, len(drafts))
	var keys []model.AccountKey
	for i, d := range drafts {
		d = d.Normalize()
		if err := d.Validate(); err != nil {
			return nil, nil, err
		}
		if _, dup := seenKeys[d.IdempotencyKey]; dup {
			return nil, nil, walleterr.Invalid("idempotency key %q repeated in one batch", d.IdempotencyKey)
		}
		seenKeys[d.IdempotencyKey] = struct{}{}
		if _, ok := seenAccts[d.Account]; !ok {
			seenAccts[d.Account] = struct{}{}
			keys = append(keys, d.Account)
		}
		out[i] = d
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return out, keys, nil
}

func (e *Engine) publish(out outcome) {
	if e.pub == nil {
		return
	}
	for _, entry := range out.entries {
		acct := out.final[entry.AccountID]
		e.pub.Publish(events.Event{
			Type:   events.TypeEntryApplied,
			UserID: acct.UserID,
			Data:   events.EntryApplied{Entry: entry, Account: acct},
		})
	}
}

func (e *Engine) reject(op string, err error) {
	reason := walleterr.Reason(err)
	e.metrics.Rejected(op, reason)
	if walleterr.Business(err) {
		e.log.Info("mutation rejected", "op", op, "reason", reason, "error", err)
		return
	}
	e.log.Error("mutation failed", "op", op, "reason", reason, "error", err)
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}
