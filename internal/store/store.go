// Package store defines the persistence contract behind the account store and
// the ledger. Implementations live in the memory, postgres and pebblestore
// subpackages.
package store

import (
	"context"
	"errors"

	"lv-walletledger/internal/model"
)

// ErrAccountExists is returned when an insert collides with the unique
// (user, currency, wallet type) triple.
var ErrAccountExists = errors.New("account already exists")

// Store is safe for concurrent use. Reads observe committed state only.
type Store interface {
	// WithTx runs fn in a serializable scope. Everything fn writes through tx
	// commits together when fn returns nil, and nothing commits otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAccount(ctx context.Context, key model.AccountKey) (model.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]model.Account, error)
	// ScanEntries yields the entries of one account with a sequence number
	// above after, in sequence order, until fn returns false.
	ScanEntries(ctx context.Context, accountID string, after int64, fn func(model.LedgerEntry) bool) error

	Ping(ctx context.Context) error
	Close() error
}

type Tx interface {
	// GetAccount returns walleterr.ErrNotFound when the key is unknown. SQL
	// implementations lock the row until the transaction ends.
	GetAccount(ctx context.Context, key model.AccountKey) (model.Account, error)
	InsertAccount(ctx context.Context, acct model.Account) error
	UpdateAccount(ctx context.Context, acct model.Account) error

	// EntryByKey returns walleterr.ErrNotFound when the idempotency key is unused.
	EntryByKey(ctx context.Context, idempotencyKey string) (model.LedgerEntry, error)
	// InsertEntry returns walleterr.ErrDuplicateEntry on an idempotency key collision.
	InsertEntry(ctx context.Context, entry model.LedgerEntry) error
}
