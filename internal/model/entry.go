package model

import (
	"strings"
	"time"

	"lv-walletledger/internal/types"
	"lv-walletledger/internal/walleterr"

	"github.com/shopspring/decimal"
)

type LedgerEntry struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	AccountID      string          `json:"account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Kind           types.EntryKind `json:"kind"`
	Reservation    bool            `json:"reservation"`
	Reference      string          `json:"reference,omitempty"`
	TicketID       string          `json:"ticket_id,omitempty"`
	Seq            int64           `json:"seq"`
	PrevHash       string          `json:"prev_hash,omitempty"`
	Hash           string          `json:"hash"`
	CreatedAt      time.Time       `json:"created_at"`
}

// MaxScale is the number of decimal places amounts are stored with.
const MaxScale = 18

// Draft is a request to append one ledger entry.
type Draft struct {
	Account        AccountKey      `json:"account"`
	Amount         decimal.Decimal `json:"amount"`
	Kind           types.EntryKind `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Reservation    bool            `json:"reservation"`
	Reference      string          `json:"reference,omitempty"`
	// TicketID links the entry to a reservation. Only the reservation
	// manager sets it.
	TicketID string `json:"-"`
}

func (d Draft) Normalize() Draft {
	d.Account = d.Account.Normalize()
	d.Kind = types.EntryKind(strings.ToUpper(strings.TrimSpace(string(d.Kind))))
	d.IdempotencyKey = strings.TrimSpace(d.IdempotencyKey)
	d.Reference = strings.TrimSpace(d.Reference)
	d.TicketID = strings.TrimSpace(d.TicketID)
	return d
}

func (d Draft) Validate() error {
	if err := d.Account.Validate(); err != nil {
		return err
	}
	if d.IdempotencyKey == "" {
		return walleterr.Invalid("idempotency_key is required")
	}
	if d.Amount.IsZero() {
		return walleterr.Invalid("amount must be non-zero")
	}
	if d.Amount.Exponent() < -MaxScale && !d.Amount.Equal(d.Amount.Truncate(MaxScale)) {
		return walleterr.Invalid("amount has more than %d decimal places", MaxScale)
	}
	if !d.Kind.Valid() {
		return walleterr.Invalid("unknown entry kind %q", d.Kind)
	}
	return nil
}

// Matches reports whether e is the committed form of d against accountID.
func (d Draft) Matches(e LedgerEntry, accountID string) bool {
	return e.AccountID == accountID &&
		e.Amount.Equal(d.Amount) &&
		e.Kind == d.Kind &&
		e.Reservation == d.Reservation &&
		e.TicketID == d.TicketID
}
