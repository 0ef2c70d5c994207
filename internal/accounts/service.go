package accounts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"lv-walletledger/internal/events"
	"lv-walletledger/internal/id"
	"lv-walletledger/internal/keylock"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/store"
	"lv-walletledger/internal/types"
	"lv-walletledger/internal/walleterr"

	"github.com/shopspring/decimal"
)

type Service struct {
	store   store.Store
	locks   *keylock.Table
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time
	events  events.Publisher
}

// NewService builds the account store. locks must be the table the balance
// engine uses so lifecycle changes serialize with entries on the same account.
func NewService(st store.Store, locks *keylock.Table, logger *slog.Logger, timeout time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		locks:   locks,
		log:     logger,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetPublisher sends an account.updated event to p after every committed
// status or address change.
func (s *Service) SetPublisher(p events.Publisher) {
	s.events = p
}

func (s *Service) Get(ctx context.Context, key model.AccountKey) (model.Account, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return model.Account{}, err
	}
	return s.store.GetAccount(ctx, key)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]model.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, walleterr.Invalid("user_id is required")
	}
	return s.store.ListAccounts(ctx, userID)
}

// GetOrCreate returns the account for key, creating it with zero balances on
// first use. Retired accounts are returned as they are.
func (s *Service) GetOrCreate(ctx context.Context, key model.AccountKey) (model.Account, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return model.Account{}, err
	}
	acct, err := s.store.GetAccount(ctx, key)
	if err == nil || !errors.Is(err, walleterr.ErrNotFound) {
		return acct, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		acct, _, err = s.EnsureTx(ctx, tx, key)
		return err
	})
	if errors.Is(err, store.ErrAccountExists) {
		// Lost the insert race to another writer; theirs is the account.
		return s.store.GetAccount(ctx, key)
	}
	if err != nil {
		return model.Account{}, walleterr.FromContext(err)
	}
	s.log.Debug("account created", "account_id", acct.ID, "account", key.String())
	return acct, nil
}

// EnsureTx resolves key inside tx, inserting a zero-balance account when it
// does not exist yet. key must already be normalized and valid.
func (s *Service) EnsureTx(ctx context.Context, tx store.Tx, key model.AccountKey) (model.Account, bool, error) {
	acct, err := tx.GetAccount(ctx, key)
	if err == nil {
		return acct, false, nil
	}
	if !errors.Is(err, walleterr.ErrNotFound) {
		return model.Account{}, false, err
	}
	now := s.now()
	acct = model.Account{
		ID:         id.NewAccountID(),
		UserID:     key.UserID,
		Currency:   key.Currency,
		WalletType: key.WalletType,
		Balance:    decimal.Zero,
		InOrder:    decimal.Zero,
		Status:     types.AccountStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.InsertAccount(ctx, acct); err != nil {
		return model.Account{}, false, err
	}
	return acct, true, nil
}

// SetStatus freezes or unfreezes an account. Retired accounts stay retired.
func (s *Service) SetStatus(ctx context.Context, key model.AccountKey, status types.AccountStatus) (model.Account, error) {
	status = types.AccountStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if status != types.AccountStatusActive && status != types.AccountStatusFrozen {
		return model.Account{}, walleterr.Invalid("status must be %s or %s", types.AccountStatusActive, types.AccountStatusFrozen)
	}
	return s.mutate(ctx, key, func(acct *model.Account) error {
		if acct.Status == types.AccountStatusRetired {
			return walleterr.Invalid("account %s is retired", key)
		}
		acct.Status = status
		return nil
	})
}

// Retire takes an empty account out of service. The row and its entries are
// kept and stay readable.
func (s *Service) Retire(ctx context.Context, key model.AccountKey) (model.Account, error) {
	return s.mutate(ctx, key, func(acct *model.Account) error {
		if !acct.Balance.IsZero() || !acct.InOrder.IsZero() {
			return walleterr.Invalid("account %s still holds %s (in order %s)", key, acct.Balance, acct.InOrder)
		}
		acct.Status = types.AccountStatusRetired
		return nil
	})
}

func (s *Service) SetAddress(ctx context.Context, key model.AccountKey, addr model.Address) (model.Account, error) {
	addr.Network = strings.ToLower(strings.TrimSpace(addr.Network))
	addr.Address = strings.TrimSpace(addr.Address)
	if addr.Network == "" || addr.Address == "" {
		return model.Account{}, walleterr.Invalid("network and address are required")
	}
	if strings.ContainsAny(addr.Network+addr.Address, " \t\n") {
		return model.Account{}, walleterr.Invalid("address and network must not contain whitespace")
	}
	if addr.Balance.IsNegative() {
		return model.Account{}, walleterr.Invalid("address balance must not be negative")
	}
	return s.mutate(ctx, key, func(acct *model.Account) error {
		if acct.Status == types.AccountStatusRetired {
			return walleterr.Invalid("account %s is retired", key)
		}
		if acct.Addresses == nil {
			acct.Addresses = make(map[string]model.Address)
		}
		acct.Addresses[addr.Network] = addr
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, key model.AccountKey, fn func(*model.Account) error) (model.Account, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return model.Account{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	unlock, err := s.locks.Acquire(ctx, key.String())
	if err != nil {
		return model.Account{}, walleterr.FromContext(err)
	}
	defer unlock()

	var out model.Account
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetAccount(ctx, key)
		if err != nil {
			return err
		}
		if err := fn(&acct); err != nil {
			return err
		}
		acct.UpdatedAt = s.now()
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		out = acct
		return nil
	})
	if err != nil {
		return model.Account{}, walleterr.FromContext(err)
	}
	s.log.Info("account updated", "account_id", out.ID, "account", key.String(), "status", string(out.Status))
	if s.events != nil {
		s.events.Publish(events.Event{Type: events.TypeAccountUpdate, UserID: out.UserID, Data: out.Clone()})
	}
	return out, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// ParseKey builds an account key from loosely formatted request values.
func ParseKey(userID, currency, walletType string) (model.AccountKey, error) {
	wt, ok := types.ParseWalletType(walletType)
	if !ok {
		return model.AccountKey{}, walleterr.Invalid("unknown wallet type %q", walletType)
	}
	key := model.NewAccountKey(userID, currency, wt)
	return key, key.Validate()
}
