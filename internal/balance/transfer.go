package balance

import (
	"lv-walletledger/internal/id"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/types"
	"lv-walletledger/internal/walleterr"
)

func prepareTransfer(from, to model.Draft) (model.Draft, model.Draft, error) {
	from, to = from.Normalize(), to.Normalize()
	if from.Kind == "" {
		from.Kind = types.EntryKindTransferOut
	}
	if to.Kind == "" {
		to.Kind = types.EntryKindTransferIn
	}
	if err := from.Validate(); err != nil {
		return from, to, err
	}
	if err := to.Validate(); err != nil {
		return from, to, err
	}

	switch {
	case from.Kind != types.EntryKindTransferOut:
		return from, to, walleterr.Invalid("transfer source must be %s, got %s", types.EntryKindTransferOut, from.Kind)
	case to.Kind != types.EntryKindTransferIn:
		return from, to, walleterr.Invalid("transfer destination must be %s, got %s", types.EntryKindTransferIn, to.Kind)
	case from.Reservation || to.Reservation:
		return from, to, walleterr.Invalid("transfers move available balance only")
	case from.Account == to.Account:
		return from, to, walleterr.Invalid("transfer source and destination are the same account")
	case from.Account.Currency != to.Account.Currency:
		return from, to, walleterr.Invalid("transfer between %s and %s", from.Account.Currency, to.Account.Currency)
	case !from.Amount.IsNegative():
		return from, to, walleterr.Invalid("transfer source amount must be negative")
	case !to.Amount.Equal(from.Amount.Neg()):
		return from, to, walleterr.Invalid("transfer amounts %s and %s do not balance", from.Amount, to.Amount)
	case from.IdempotencyKey == to.IdempotencyKey:
		return from, to, walleterr.Invalid("transfer legs need distinct idempotency keys")
	}

	switch {
	case from.Reference == "" && to.Reference == "":
		ref := id.NewReference()
		from.Reference, to.Reference = ref, ref
	case from.Reference == "":
		from.Reference = to.Reference
	case to.Reference == "":
		to.Reference = from.Reference
	case from.Reference != to.Reference:
		return from, to, walleterr.Invalid("transfer legs carry different references")
	}
	return from, to, nil
}
