// Package reservations moves funds between an account's available balance
// and its in-order amount. Each operation is a pair (or single) of ledger
// drafts applied through the balance engine. Tickets tracking what is left of
// each reservation are cached in memory; every entry carries its ticket id,
// so a ticket that was pruned or lost with a restart is rebuilt from the
// ledger on demand.
package reservations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"lv-walletledger/internal/accounts"
	"lv-walletledger/internal/balance"
	"lv-walletledger/internal/ledger"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/types"
	"lv-walletledger/internal/walleterr"

	"github.com/shopspring/decimal"
)

const (
	balanceSuffix = "/balance"
	inOrderSuffix = "/in_order"
)

type Request struct {
	Account        model.AccountKey `json:"account"`
	Amount         decimal.Decimal  `json:"amount"`
	IdempotencyKey string           `json:"idempotency_key"`
	Kind           types.EntryKind  `json:"kind,omitempty"`
	Reference      string           `json:"reference,omitempty"`
	// TicketID ties a release or settle to the reservation it consumes.
	TicketID string `json:"ticket_id,omitempty"`
}

type Ticket struct {
	ID        string             `json:"id"`
	Account   model.AccountKey   `json:"account"`
	Amount    decimal.Decimal    `json:"amount"`
	Remaining decimal.Decimal    `json:"remaining"`
	Status    types.TicketStatus `json:"status"`
	Reference string             `json:"reference,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`

	// keys holds the request keys already charged against Remaining.
	keys map[string]struct{}
}

func (t *Ticket) snapshot() Ticket {
	out := *t
	out.keys = nil
	return out
}

type Manager struct {
	engine   *balance.Engine
	accounts *accounts.Service
	ledger   *ledger.Service
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	tickets map[string]*Ticket
}

func NewManager(engine *balance.Engine, accts *accounts.Service, led *ledger.Service, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		engine:   engine,
		accounts: accts,
		ledger:   led,
		log:      logger,
		now:     func() time.Time { return time.Now().UTC() },
		tickets: make(map[string]*Ticket),
	}
}

// Reserve debits the available balance and credits in_order by the same
// amount. The ticket id is the request's idempotency key, so a retried
// reserve returns the same ticket in whatever state it has reached.
func (m *Manager) Reserve(ctx context.Context, req Request) (Ticket, model.Account, error) {
	req, err := normalize(req)
	if err != nil {
		return Ticket{}, model.Account{}, err
	}
	req.TicketID = req.IdempotencyKey
	res, err := m.engine.ApplyBatchResult(ctx,
		draft(req, req.Amount.Neg(), false, balanceSuffix),
		draft(req, req.Amount, true, inOrderSuffix),
	)
	if err != nil {
		return Ticket{}, model.Account{}, err
	}
	acct := res.Accounts[0]

	if res.Replayed {
		t, err := m.load(ctx, acct.ID, req.Account, req.TicketID)
		if err != nil {
			return Ticket{}, model.Account{}, err
		}
		return t, acct, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[req.TicketID]
	if !ok {
		reserved := res.Entries[1]
		t = &Ticket{
			ID:        req.TicketID,
			Account:   req.Account,
			Amount:    req.Amount,
			Remaining: req.Amount,
			Status:    types.TicketStatusOpen,
			Reference: req.Reference,
			CreatedAt: reserved.CreatedAt,
			UpdatedAt: reserved.CreatedAt,
			keys:      make(map[string]struct{}),
		}
		m.tickets[t.ID] = t
	}
	return t.snapshot(), acct, nil
}

// Release returns reserved funds to the available balance.
func (m *Manager) Release(ctx context.Context, req Request) (model.Account, error) {
	req, err := normalize(req)
	if err != nil {
		return model.Account{}, err
	}
	return m.consume(ctx, req, types.TicketStatusReleased,
		draft(req, req.Amount, false, balanceSuffix),
		draft(req, req.Amount.Neg(), true, inOrderSuffix),
	)
}

// Settle spends reserved funds; nothing is credited back to the account.
func (m *Manager) Settle(ctx context.Context, req Request) (model.Account, error) {
	req, err := normalize(req)
	if err != nil {
		return model.Account{}, err
	}
	return m.consume(ctx, req, types.TicketStatusSettled,
		draft(req, req.Amount.Neg(), true, inOrderSuffix),
	)
}

// consume charges req against its ticket, if any, before applying drafts and
// refunds the ticket when the engine rejects them.
func (m *Manager) consume(ctx context.Context, req Request, closeAs types.TicketStatus, drafts ...model.Draft) (model.Account, error) {
	charged, err := m.charge(ctx, req)
	if err != nil {
		return model.Account{}, err
	}
	accts, err := m.engine.ApplyBatch(ctx, drafts...)
	if err != nil {
		if charged {
			m.refund(req)
		}
		return model.Account{}, err
	}
	if charged {
		m.close(req, closeAs)
	}
	return accts[0], nil
}

func (m *Manager) charge(ctx context.Context, req Request) (bool, error) {
	if req.TicketID == "" {
		return false, nil
	}
	if !m.cached(req.TicketID) {
		acct, err := m.accounts.Get(ctx, req.Account)
		switch {
		case errors.Is(err, walleterr.ErrNotFound):
			return false, walleterr.Invalid("unknown reservation ticket %q", req.TicketID)
		case err != nil:
			return false, err
		}
		if _, err := m.load(ctx, acct.ID, req.Account, req.TicketID); err != nil {
			return false, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[req.TicketID]
	if !ok {
		return false, walleterr.Invalid("unknown reservation ticket %q", req.TicketID)
	}
	if t.Account != req.Account {
		return false, walleterr.Invalid("ticket %q belongs to %s", t.ID, t.Account)
	}
	if _, seen := t.keys[req.IdempotencyKey]; seen {
		return false, nil
	}
	if t.Remaining.LessThan(req.Amount) {
		return false, fmt.Errorf("%w: ticket %s has %s left, requested %s", walleterr.ErrInsufficientReservation, t.ID, t.Remaining, req.Amount)
	}
	t.Remaining = t.Remaining.Sub(req.Amount)
	t.keys[req.IdempotencyKey] = struct{}{}
	return true, nil
}

func (m *Manager) cached(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tickets[id]
	return ok
}

// load returns ticket id, rebuilding it from the account's ledger when it is
// not cached. A ticket cached meanwhile by another caller wins over the
// rebuilt copy.
func (m *Manager) load(ctx context.Context, accountID string, key model.AccountKey, id string) (Ticket, error) {
	m.mu.Lock()
	t, ok := m.tickets[id]
	m.mu.Unlock()
	if ok {
		return t.snapshot(), nil
	}

	rebuilt, err := m.rebuild(ctx, accountID, key, id)
	if err != nil {
		return Ticket{}, err
	}
	if rebuilt == nil {
		return Ticket{}, walleterr.Invalid("unknown reservation ticket %q", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tickets[id]; ok {
		return t.snapshot(), nil
	}
	m.tickets[id] = rebuilt
	m.log.Debug("reservation ticket rebuilt", "ticket_id", id, "remaining", rebuilt.Remaining.String(), "status", string(rebuilt.Status))
	return rebuilt.snapshot(), nil
}

// rebuild replays the entries charged to ticket id. It returns nil when the
// account holds no reservation under that id.
func (m *Manager) rebuild(ctx context.Context, accountID string, key model.AccountKey, id string) (*Ticket, error) {
	var t *Ticket
	credited := make(map[string]bool)
	for e, err := range m.ledger.EntriesFor(ctx, accountID) {
		if err != nil {
			return nil, err
		}
		if e.TicketID != id {
			continue
		}
		if e.IdempotencyKey == id+inOrderSuffix {
			t = &Ticket{
				ID:        id,
				Account:   key,
				Amount:    e.Amount,
				Remaining: e.Amount,
				Status:    types.TicketStatusOpen,
				Reference: e.Reference,
				CreatedAt: e.CreatedAt,
				UpdatedAt: e.CreatedAt,
				keys:      make(map[string]struct{}),
			}
			continue
		}
		if t == nil {
			continue
		}
		switch {
		case !e.Reservation && e.Amount.IsPositive():
			// A release credits the balance just before it debits in_order.
			credited[strings.TrimSuffix(e.IdempotencyKey, balanceSuffix)] = true
		case e.Reservation && e.Amount.IsNegative():
			base := strings.TrimSuffix(e.IdempotencyKey, inOrderSuffix)
			t.Remaining = t.Remaining.Add(e.Amount)
			t.keys[base] = struct{}{}
			t.UpdatedAt = e.CreatedAt
			if t.Remaining.IsZero() {
				t.Status = types.TicketStatusSettled
				if credited[base] {
					t.Status = types.TicketStatusReleased
				}
			}
		}
	}
	return t, nil
}

func (m *Manager) refund(req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tickets[req.TicketID]; ok {
		t.Remaining = t.Remaining.Add(req.Amount)
		delete(t.keys, req.IdempotencyKey)
	}
}

func (m *Manager) close(req Request, status types.TicketStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[req.TicketID]
	if !ok {
		return
	}
	t.UpdatedAt = m.now()
	if t.Remaining.IsZero() {
		t.Status = status
		m.log.Debug("reservation closed", "ticket_id", t.ID, "status", string(status))
	}
}

func (m *Manager) Ticket(id string) (Ticket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return Ticket{}, false
	}
	return t.snapshot(), true
}

// Tickets lists the tickets of one account, oldest first.
func (m *Manager) Tickets(key model.AccountKey) []Ticket {
	key = key.Normalize()
	m.mu.Lock()
	var out []Ticket
	for _, t := range m.tickets {
		if t.Account == key {
			out = append(out, t.snapshot())
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Prune drops closed tickets last touched before cutoff and returns how many
// it removed.
func (m *Manager) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.tickets {
		if t.Status != types.TicketStatusOpen && t.UpdatedAt.Before(cutoff) {
			delete(m.tickets, id)
			n++
		}
	}
	return n
}

// Run prunes closed tickets older than retention every interval until ctx
// is done.
func (m *Manager) Run(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(m.now().Add(-retention)); n > 0 {
				m.log.Debug("pruned reservation tickets", "count", n)
			}
		}
	}
}

func normalize(req Request) (Request, error) {
	req.Account = req.Account.Normalize()
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Reference = strings.TrimSpace(req.Reference)
	req.TicketID = strings.TrimSpace(req.TicketID)
	req.Kind = types.EntryKind(strings.ToUpper(strings.TrimSpace(string(req.Kind))))
	if req.Kind == "" {
		req.Kind = types.EntryKindTrade
	}
	if err := req.Account.Validate(); err != nil {
		return req, err
	}
	if req.IdempotencyKey == "" {
		return req, walleterr.Invalid("idempotency_key is required")
	}
	if !req.Amount.IsPositive() {
		return req, walleterr.Invalid("amount must be positive")
	}
	if !req.Kind.Valid() {
		return req, walleterr.Invalid("unknown entry kind %q", req.Kind)
	}
	return req, nil
}

func draft(req Request, amount decimal.Decimal, reservation bool, suffix string) model.Draft {
	return model.Draft{
		Account:        req.Account,
		Amount:         amount,
		Kind:           req.Kind,
		IdempotencyKey: req.IdempotencyKey + suffix,
		Reservation:    reservation,
		Reference:      req.Reference,
		TicketID:       req.TicketID,
	}
}
