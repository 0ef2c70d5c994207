// Package events carries committed balance changes to in-process subscribers
// such as the websocket feed and the Kafka sink.
package events

import (
	"sync"

	"lv-walletledger/internal/model"
)

const (
	TypeEntryApplied  = "entry.applied"
	TypeAccountUpdate = "account.updated"
)

type Event struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Data   any    `json:"data"`
}

// EntryApplied is the payload of TypeEntryApplied: the committed entry and
// the account state right after it.
type EntryApplied struct {
	Entry   model.LedgerEntry `json:"entry"`
	Account model.Account     `json:"account"`
}

type Publisher interface {
	Publish(evt Event)
}

type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}

// Fanout forwards each event to every publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(evt Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(evt)
		}
	}
}
