package types

import "strings"

type WalletType string

type EntryKind string

type AccountStatus string

type TicketStatus string

const (
	WalletTypeFiat    WalletType = "FIAT"
	WalletTypeSpot    WalletType = "SPOT"
	WalletTypeEco     WalletType = "ECO"
	WalletTypeFutures WalletType = "FUTURES"
)

const (
	EntryKindDeposit     EntryKind = "DEPOSIT"
	EntryKindWithdrawal  EntryKind = "WITHDRAWAL"
	EntryKindTrade       EntryKind = "TRADE"
	EntryKindFee         EntryKind = "FEE"
	EntryKindAdjustment  EntryKind = "ADJUSTMENT"
	EntryKindTransferIn  EntryKind = "TRANSFER_IN"
	EntryKindTransferOut EntryKind = "TRANSFER_OUT"
)

const (
	AccountStatusActive  AccountStatus = "ACTIVE"
	AccountStatusFrozen  AccountStatus = "FROZEN"
	AccountStatusRetired AccountStatus = "RETIRED"
)

const (
	TicketStatusOpen     TicketStatus = "OPEN"
	TicketStatusReleased TicketStatus = "RELEASED"
	TicketStatusSettled  TicketStatus = "SETTLED"
)

func ParseWalletType(s string) (WalletType, bool) {
	w := WalletType(strings.ToUpper(strings.TrimSpace(s)))
	return w, w.Valid()
}

func (w WalletType) Valid() bool {
	switch w {
	case WalletTypeFiat, WalletTypeSpot, WalletTypeEco, WalletTypeFutures:
		return true
	}
	return false
}

func ParseEntryKind(s string) (EntryKind, bool) {
	k := EntryKind(strings.ToUpper(strings.TrimSpace(s)))
	return k, k.Valid()
}

func (k EntryKind) Valid() bool {
	switch k {
	case EntryKindDeposit, EntryKindWithdrawal, EntryKindTrade, EntryKindFee,
		EntryKindAdjustment, EntryKindTransferIn, EntryKindTransferOut:
		return true
	}
	return false
}

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusRetired:
		return true
	}
	return false
}
