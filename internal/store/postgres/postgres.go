// Package postgres implements the store on PostgreSQL through pgx. Every
// transaction runs at serializable isolation and locks the account rows it
// reads, so the balance check and the write it guards cannot interleave with
// another writer in any process.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lv-walletledger/internal/model"
	"lv-walletledger/internal/store"
	"lv-walletledger/internal/types"
	"lv-walletledger/internal/walleterr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const maxSerializationRetries = 3

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxSerializationRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return walleterr.Unavailable(err)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.Background())
		}
	}()
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	committed = true
	return nil
}

const accountColumns = `id::text, user_id, currency, wallet_type, balance::text, in_order::text, status, addresses, ledger_seq, ledger_hash, created_at, updated_at`

const entryColumns = `id, idempotency_key, account_id::text, amount::text, kind, reservation, reference, ticket_id, seq, prev_hash, hash, created_at`

func (s *Store) GetAccount(ctx context.Context, key model.AccountKey) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `select `+accountColumns+` from wallet_accounts
		where user_id = $1 and currency = $2 and wallet_type = $3`, key.UserID, key.Currency, string(key.WalletType))
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, fmt.Errorf("%w: account %s", walleterr.ErrNotFound, key)
	}
	return acct, classify(err)
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, `select `+accountColumns+` from wallet_accounts
		where user_id = $1 order by currency, wallet_type`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []model.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, classify(rows.Err())
}

func (s *Store) ScanEntries(ctx context.Context, accountID string, after int64, fn func(model.LedgerEntry) bool) error {
	rows, err := s.pool.Query(ctx, `select `+entryColumns+` from wallet_ledger_entries
		where account_id = $1 and seq > $2 order by seq`, accountID, after)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if !fn(e) {
			return nil
		}
	}
	return classify(rows.Err())
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAccount(ctx context.Context, key model.AccountKey) (model.Account, error) {
	row := t.tx.QueryRow(ctx, `select `+accountColumns+` from wallet_accounts
		where user_id = $1 and currency = $2 and wallet_type = $3 for update`, key.UserID, key.Currency, string(key.WalletType))
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, fmt.Errorf("%w: account %s", walleterr.ErrNotFound, key)
	}
	return acct, classify(err)
}

func (t *pgTx) InsertAccount(ctx context.Context, acct model.Account) error {
	addrs, err := encodeAddresses(acct.Addresses)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `insert into wallet_accounts
		(id, user_id, currency, wallet_type, balance, in_order, status, addresses, ledger_seq, ledger_hash, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		on conflict (user_id, currency, wallet_type) do nothing`,
		acct.ID, acct.UserID, acct.Currency, string(acct.WalletType), acct.Balance.String(), acct.InOrder.String(),
		string(acct.Status), addrs, acct.LedgerSeq, acct.LedgerHash, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAccountExists
	}
	return nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, acct model.Account) error {
	addrs, err := encodeAddresses(acct.Addresses)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `update wallet_accounts
		set balance = $1, in_order = $2, status = $3, addresses = $4, ledger_seq = $5, ledger_hash = $6, updated_at = $7
		where id = $8`,
		acct.Balance.String(), acct.InOrder.String(), string(acct.Status), addrs, acct.LedgerSeq, acct.LedgerHash, acct.UpdatedAt, acct.ID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", walleterr.ErrNotFound, acct.ID)
	}
	return nil
}

func (t *pgTx) EntryByKey(ctx context.Context, idempotencyKey string) (model.LedgerEntry, error) {
	row := t.tx.QueryRow(ctx, `select `+entryColumns+` from wallet_ledger_entries where idempotency_key = $1`, idempotencyKey)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LedgerEntry{}, fmt.Errorf("%w: entry %q", walleterr.ErrNotFound, idempotencyKey)
	}
	return e, classify(err)
}

func (t *pgTx) InsertEntry(ctx context.Context, e model.LedgerEntry) error {
	_, err := t.tx.Exec(ctx, `insert into wallet_ledger_entries
		(id, idempotency_key, account_id, amount, kind, reservation, reference, ticket_id, seq, prev_hash, hash, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.IdempotencyKey, e.AccountID, e.Amount.String(), string(e.Kind), e.Reservation, e.Reference, e.TicketID,
		e.Seq, e.PrevHash, e.Hash, e.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: idempotency key %q", walleterr.ErrDuplicateEntry, e.IdempotencyKey)
	}
	return classify(err)
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	var walletType, status, balance, inOrder string
	var addrs []byte
	if err := row.Scan(&a.ID, &a.UserID, &a.Currency, &walletType, &balance, &inOrder, &status, &addrs,
		&a.LedgerSeq, &a.LedgerHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return model.Account{}, err
	}
	a.WalletType = types.WalletType(walletType)
	a.Status = types.AccountStatus(status)
	var err error
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return model.Account{}, fmt.Errorf("parse balance: %w", err)
	}
	if a.InOrder, err = decimal.NewFromString(inOrder); err != nil {
		return model.Account{}, fmt.Errorf("parse in_order: %w", err)
	}
	if len(addrs) > 0 {
		if err := json.Unmarshal(addrs, &a.Addresses); err != nil {
			return model.Account{}, fmt.Errorf("parse addresses: %w", err)
		}
		if len(a.Addresses) == 0 {
			a.Addresses = nil
		}
	}
	return a, nil
}

func scanEntry(row pgx.Row) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	var kind, amount string
	if err := row.Scan(&e.ID, &e.IdempotencyKey, &e.AccountID, &amount, &kind, &e.Reservation, &e.Reference, &e.TicketID,
		&e.Seq, &e.PrevHash, &e.Hash, &e.CreatedAt); err != nil {
		return model.LedgerEntry{}, err
	}
	e.Kind = types.EntryKind(kind)
	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return model.LedgerEntry{}, fmt.Errorf("parse amount: %w", err)
	}
	return e, nil
}

func encodeAddresses(addrs map[string]model.Address) ([]byte, error) {
	if addrs == nil {
		return []byte("{}"), nil
	}
	buf, err := json.Marshal(addrs)
	if err != nil {
		return nil, fmt.Errorf("encode addresses: %w", err)
	}
	return buf, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

// classify leaves server-reported errors alone and turns everything that
// means the database could not be reached in time into ErrStoreUnavailable.
func classify(err error) error {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if isSerializationFailure(err) {
			return err
		}
		return fmt.Errorf("postgres: %w", err)
	}
	return walleterr.Unavailable(err)
}
