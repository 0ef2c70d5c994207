// Package watcher applies on-chain deposits and withdrawals reported on the
// movements topic. Each chain transaction becomes one ledger entry whose
// idempotency key is derived from the network and transaction id, so a
// redelivered message replays instead of crediting twice.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"lv-walletledger/internal/kafka"
	"lv-walletledger/internal/metrics"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/types"
	"lv-walletledger/internal/walleterr"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
)

const EventTypeMovement = "wallet.movement"

// Movement is one confirmed chain transfer. Amount is a positive magnitude;
// Direction decides the sign.
type Movement struct {
	kafka.Envelope
	UserID     string          `json:"user_id"`
	Currency   string          `json:"currency"`
	WalletType string          `json:"wallet_type"`
	Network    string          `json:"network"`
	TxID       string          `json:"tx_id"`
	Direction  types.EntryKind `json:"direction"`
	Amount     decimal.Decimal `json:"amount"`
}

// IdempotencyKey is stable across redeliveries of the same chain transaction.
func (m Movement) IdempotencyKey() string {
	return "chain:" + strings.ToLower(strings.TrimSpace(m.Network)) + ":" + strings.TrimSpace(m.TxID)
}

func (m Movement) Draft() (model.Draft, error) {
	if err := m.Envelope.Validate(); err != nil {
		return model.Draft{}, walleterr.Invalid("%v", err)
	}
	if m.EventType != EventTypeMovement {
		return model.Draft{}, walleterr.Invalid("unexpected event_type %q", m.EventType)
	}
	if strings.TrimSpace(m.Network) == "" || strings.TrimSpace(m.TxID) == "" {
		return model.Draft{}, walleterr.Invalid("network and tx_id are required")
	}
	if !m.Amount.IsPositive() {
		return model.Draft{}, walleterr.Invalid("amount must be positive")
	}
	amount := m.Amount
	switch types.EntryKind(strings.ToUpper(string(m.Direction))) {
	case types.EntryKindDeposit:
	case types.EntryKindWithdrawal:
		amount = amount.Neg()
	default:
		return model.Draft{}, walleterr.Invalid("unknown direction %q", m.Direction)
	}
	wt, ok := types.ParseWalletType(m.WalletType)
	if !ok {
		return model.Draft{}, walleterr.Invalid("unknown wallet_type %q", m.WalletType)
	}
	return model.Draft{
		Account:        model.NewAccountKey(m.UserID, m.Currency, wt),
		Amount:         amount,
		Kind:           types.EntryKind(strings.ToUpper(string(m.Direction))),
		IdempotencyKey: m.IdempotencyKey(),
		Reference:      m.EventID,
	}, nil
}

type Applier interface {
	ApplyEntry(ctx context.Context, d model.Draft) (model.Account, error)
}

type MovementHandler struct {
	applier Applier
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ kafka.MessageHandler = (*MovementHandler)(nil)

func NewMovementHandler(applier Applier, m *metrics.Metrics, logger *slog.Logger) *MovementHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MovementHandler{applier: applier, metrics: m, logger: logger}
}

// HandleMessage returns a kafka.DLQError for anything the ledger refused on
// its merits and a plain error when the store could not be reached, which
// the consumer retries.
func (h *MovementHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		h.metrics.MovementHandled("rejected")
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "decode")
	}
	var mv Movement
	if err := json.Unmarshal(msg.Value, &mv); err != nil {
		h.metrics.MovementHandled("rejected")
		return kafka.DLQ(fmt.Errorf("decode movement: %w", err), "decode")
	}
	d, err := mv.Draft()
	if err != nil {
		h.metrics.MovementHandled("rejected")
		return kafka.DLQ(err, walleterr.Reason(err))
	}

	acct, err := h.applier.ApplyEntry(ctx, d)
	switch {
	case err == nil:
		h.metrics.MovementHandled("applied")
		h.logger.Info("movement applied",
			"tx_id", mv.TxID, "network", mv.Network, "account", d.Account.String(),
			"amount", d.Amount.String(), "balance", acct.Balance.String())
		return nil
	case walleterr.Business(err):
		h.metrics.MovementHandled("rejected")
		h.logger.Warn("movement rejected", "tx_id", mv.TxID, "network", mv.Network, "error", err)
		return kafka.DLQ(err, walleterr.Reason(err))
	default:
		h.metrics.MovementHandled("retry")
		return err
	}
}
