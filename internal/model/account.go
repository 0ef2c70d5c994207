package model

import (
	"strings"
	"time"

	"lv-walletledger/internal/types"
	"lv-walletledger/internal/walleterr"

	"github.com/shopspring/decimal"
)

// AccountKey identifies an account by its unique (user, currency, wallet type) triple.
type AccountKey struct {
	UserID     string           `json:"user_id"`
	Currency   string           `json:"currency"`
	WalletType types.WalletType `json:"wallet_type"`
}

func NewAccountKey(userID, currency string, walletType types.WalletType) AccountKey {
	return AccountKey{UserID: userID, Currency: currency, WalletType: walletType}.Normalize()
}

func (k AccountKey) Normalize() AccountKey {
	k.UserID = strings.TrimSpace(k.UserID)
	k.Currency = strings.ToUpper(strings.TrimSpace(k.Currency))
	k.WalletType = types.WalletType(strings.ToUpper(strings.TrimSpace(string(k.WalletType))))
	return k
}

func (k AccountKey) Validate() error {
	if k.UserID == "" {
		return walleterr.Invalid("user_id is required")
	}
	if strings.ContainsAny(k.UserID, "|/") {
		return walleterr.Invalid("user_id must not contain '|' or '/'")
	}
	if k.Currency == "" {
		return walleterr.Invalid("currency is required")
	}
	if strings.ContainsAny(k.Currency, "|/ \t") {
		return walleterr.Invalid("invalid currency %q", k.Currency)
	}
	if !k.WalletType.Valid() {
		return walleterr.Invalid("unknown wallet type %q", k.WalletType)
	}
	return nil
}

// String is also the total order used when locking several accounts.
func (k AccountKey) String() string {
	return k.UserID + "|" + k.Currency + "|" + string(k.WalletType)
}

type Address struct {
	Address string          `json:"address"`
	Network string          `json:"network"`
	Balance decimal.Decimal `json:"balance"`
}

type Account struct {
	ID         string              `json:"id"`
	UserID     string              `json:"user_id"`
	Currency   string              `json:"currency"`
	WalletType types.WalletType    `json:"wallet_type"`
	Balance    decimal.Decimal     `json:"balance"`
	InOrder    decimal.Decimal     `json:"in_order"`
	Status     types.AccountStatus `json:"status"`
	Addresses  map[string]Address  `json:"addresses,omitempty"`
	LedgerSeq  int64               `json:"ledger_seq"`
	LedgerHash string              `json:"ledger_hash,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func (a Account) Key() AccountKey {
	return AccountKey{UserID: a.UserID, Currency: a.Currency, WalletType: a.WalletType}
}

func (a Account) Total() decimal.Decimal {
	return a.Balance.Add(a.InOrder)
}

// Clone returns a copy that shares no mutable state with a.
func (a Account) Clone() Account {
	if a.Addresses != nil {
		addrs := make(map[string]Address, len(a.Addresses))
		for k, v := range a.Addresses {
			addrs[k] = v
		}
		a.Addresses = addrs
	}
	return a
}
