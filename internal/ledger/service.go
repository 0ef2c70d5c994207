// Package ledger records balance-changing entries. Entries are append-only and
// chained per account: each carries the hash of its predecessor, so Verify
// can detect rows that were edited or removed underneath the service.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"lv-walletledger/internal/id"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/store"
	"lv-walletledger/internal/walleterr"

	"github.com/shopspring/decimal"
)

type Service struct {
	store store.Store
	newID func() string
	now   func() time.Time
}

func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		newID: id.NewEntryID,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Lookup returns the entry already recorded under d's idempotency key.
// found is false when the key is unused. A key recorded for a different
// account, amount, kind, reservation flag or ticket is ErrDuplicateEntry.
func (s *Service) Lookup(ctx context.Context, tx store.Tx, accountID string, d model.Draft) (model.LedgerEntry, bool, error) {
	prior, err := tx.EntryByKey(ctx, d.IdempotencyKey)
	if errors.Is(err, walleterr.ErrNotFound) {
		return model.LedgerEntry{}, false, nil
	}
	if err != nil {
		return model.LedgerEntry{}, false, err
	}
	if !d.Matches(prior, accountID) {
		return model.LedgerEntry{}, false, fmt.Errorf("%w: idempotency key %q was used for a different entry", walleterr.ErrDuplicateEntry, d.IdempotencyKey)
	}
	return prior, true, nil
}

// Append records d against acct inside tx and advances acct's chain head.
// The caller persists acct. When the key was already recorded the prior
// entry is returned with fresh == false and acct is left untouched.
func (s *Service) Append(ctx context.Context, tx store.Tx, acct *model.Account, d model.Draft) (model.LedgerEntry, bool, error) {
	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return model.LedgerEntry{}, false, err
	}
	if d.Account != acct.Key() {
		return model.LedgerEntry{}, false, walleterr.Invalid("draft for %s applied to account %s", d.Account, acct.Key())
	}
	prior, found, err := s.Lookup(ctx, tx, acct.ID, d)
	if err != nil {
		return model.LedgerEntry{}, false, err
	}
	if found {
		return prior, false, nil
	}

	e := model.LedgerEntry{
		ID:             s.newID(),
		IdempotencyKey: d.IdempotencyKey,
		AccountID:      acct.ID,
		Amount:         d.Amount,
		Kind:           d.Kind,
		Reservation:    d.Reservation,
		Reference:      d.Reference,
		TicketID:       d.TicketID,
		Seq:            acct.LedgerSeq + 1,
		PrevHash:       acct.LedgerHash,
		CreatedAt:      s.now().Truncate(time.Microsecond),
	}
	e.Hash = computeHash(e)
	if err := tx.InsertEntry(ctx, e); err != nil {
		return model.LedgerEntry{}, false, err
	}
	acct.LedgerSeq = e.Seq
	acct.LedgerHash = e.Hash
	return e, true, nil
}

// EntriesFor yields an account's entries in sequence order. Each range over
// the result reads a fresh snapshot. A read failure is yielded once as the
// final element.
func (s *Service) EntriesFor(ctx context.Context, accountID string) iter.Seq2[model.LedgerEntry, error] {
	return s.EntriesAfter(ctx, accountID, 0)
}

// EntriesAfter is EntriesFor starting past sequence number after.
func (s *Service) EntriesAfter(ctx context.Context, accountID string, after int64) iter.Seq2[model.LedgerEntry, error] {
	return func(yield func(model.LedgerEntry, error) bool) {
		stopped := false
		err := s.store.ScanEntries(ctx, accountID, after, func(e model.LedgerEntry) bool {
			if !yield(e, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(model.LedgerEntry{}, err)
		}
	}
}

type Report struct {
	AccountID  string          `json:"account_id"`
	Entries    int64           `json:"entries"`
	Balance    decimal.Decimal `json:"balance"`
	InOrder    decimal.Decimal `json:"in_order"`
	HeadHash   string          `json:"head_hash"`
	Problems   []string        `json:"problems,omitempty"`
	VerifiedAt time.Time       `json:"verified_at"`
}

func (r Report) OK() bool {
	return len(r.Problems) == 0
}

// Verify replays the account's chain and checks it against the stored
// account row: sequence numbers, hash links, recomputed hashes and both sums.
func (s *Service) Verify(ctx context.Context, key model.AccountKey) (Report, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return Report{}, err
	}
	acct, err := s.store.GetAccount(ctx, key)
	if err != nil {
		return Report{}, err
	}

	rep := Report{AccountID: acct.ID, Balance: decimal.Zero, InOrder: decimal.Zero}
	prevHash := ""
	for e, err := range s.EntriesFor(ctx, acct.ID) {
		if err != nil {
			return Report{}, err
		}
		rep.Entries++
		if e.Seq != rep.Entries {
			rep.Problems = append(rep.Problems, fmt.Sprintf("entry %s: seq %d, expected %d", e.ID, e.Seq, rep.Entries))
		}
		if e.PrevHash != prevHash {
			rep.Problems = append(rep.Problems, fmt.Sprintf("entry %s: broken link to previous entry", e.ID))
		}
		if want := computeHash(e); e.Hash != want {
			rep.Problems = append(rep.Problems, fmt.Sprintf("entry %s: hash mismatch", e.ID))
		}
		if e.Reservation {
			rep.InOrder = rep.InOrder.Add(e.Amount)
		} else {
			rep.Balance = rep.Balance.Add(e.Amount)
		}
		prevHash = e.Hash
	}
	rep.HeadHash = prevHash

	if rep.Entries != acct.LedgerSeq {
		rep.Problems = append(rep.Problems, fmt.Sprintf("account records %d entries, ledger has %d", acct.LedgerSeq, rep.Entries))
	}
	if rep.HeadHash != acct.LedgerHash {
		rep.Problems = append(rep.Problems, "account chain head does not match last entry")
	}
	if !rep.Balance.Equal(acct.Balance) {
		rep.Problems = append(rep.Problems, fmt.Sprintf("balance %s, entries sum to %s", acct.Balance, rep.Balance))
	}
	if !rep.InOrder.Equal(acct.InOrder) {
		rep.Problems = append(rep.Problems, fmt.Sprintf("in_order %s, reservation entries sum to %s", acct.InOrder, rep.InOrder))
	}
	rep.VerifiedAt = s.now()
	return rep, nil
}

func computeHash(e model.LedgerEntry) string {
	buf := e.ID + "|" + e.IdempotencyKey + "|" + e.AccountID + "|" + e.Amount.String() + "|" + string(e.Kind) + "|" +
		strconv.FormatBool(e.Reservation) + "|" + e.Reference + "|" + e.TicketID + "|" + strconv.FormatInt(e.Seq, 10) + "|" + e.PrevHash
	sum := sha256.Sum256([]byte(buf))
	return hex.EncodeToString(sum[:])
}
