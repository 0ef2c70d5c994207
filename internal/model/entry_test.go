package model

import (
	"testing"

	"lv-walletledger/internal/types"
	"lv-walletledger/internal/walleterr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDraftValidate(t *testing.T) {
	valid := Draft{
		Account:        NewAccountKey(" u1 ", "usd", "fiat"),
		Amount:         decimal.RequireFromString("1.5"),
		Kind:           " deposit ",
		IdempotencyKey: " k1 ",
	}.Normalize()
	assert.NoError(t, valid.Validate())
	assert.Equal(t, "u1|USD|FIAT", valid.Account.String())
	assert.Equal(t, types.EntryKindDeposit, valid.Kind)
	assert.Equal(t, "k1", valid.IdempotencyKey)

	cases := map[string]func(d *Draft){
		"zero amount":     func(d *Draft) { d.Amount = decimal.Zero },
		"missing key":     func(d *Draft) { d.IdempotencyKey = "" },
		"unknown kind":    func(d *Draft) { d.Kind = "BONUS" },
		"bad wallet type": func(d *Draft) { d.Account.WalletType = "SAVINGS" },
		"separator in user": func(d *Draft) {
			d.Account.UserID = "a|b"
		},
		"too many decimals": func(d *Draft) { d.Amount = decimal.RequireFromString("0.0000000000000000001") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := valid
			mutate(&d)
			assert.ErrorIs(t, d.Validate(), walleterr.ErrValidation)
		})
	}

	trailing := valid
	trailing.Amount = decimal.RequireFromString("2.0000000000000000000000")
	assert.NoError(t, trailing.Validate())
}

func TestDraftMatches(t *testing.T) {
	d := Draft{Amount: decimal.NewFromInt(-5), Kind: types.EntryKindTrade, Reservation: true}
	e := LedgerEntry{AccountID: "a", Amount: decimal.RequireFromString("-5.00"), Kind: types.EntryKindTrade, Reservation: true}
	assert.True(t, d.Matches(e, "a"))
	assert.False(t, d.Matches(e, "b"))
	e.TicketID = "order-1"
	assert.False(t, d.Matches(e, "a"), "same movement charged to a different ticket")
	d.TicketID = "order-1"
	assert.True(t, d.Matches(e, "a"))
	e.Reservation = false
	assert.False(t, d.Matches(e, "a"))
}
