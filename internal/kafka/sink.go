package kafka

import (
	"context"
	"log/slog"

	"lv-walletledger/internal/events"
	"lv-walletledger/internal/metrics"
	"lv-walletledger/internal/model"
)

const (
	EventTypeLedgerEntry = "ledger.entry"
	sinkBuffer           = 1024
)

// LedgerEntryEvent is the value written to the entries topic, keyed by
// account id so one account's entries stay ordered within a partition.
type LedgerEntryEvent struct {
	Envelope
	Entry   model.LedgerEntry `json:"entry"`
	Account model.Account     `json:"account"`
}

// EntrySink forwards committed entries to Kafka. Publish only enqueues; Run
// does the sending. The entry id doubles as the event id so consumers can
// drop duplicates.
type EntrySink struct {
	producer Publisher
	topic    string
	queue    chan events.EntryApplied
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

var _ events.Publisher = (*EntrySink)(nil)

func NewEntrySink(producer Publisher, topic string, m *metrics.Metrics, logger *slog.Logger) *EntrySink {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntrySink{
		producer: producer,
		topic:    topic,
		queue:    make(chan events.EntryApplied, sinkBuffer),
		metrics:  m,
		logger:   logger,
	}
}

func (s *EntrySink) Publish(evt events.Event) {
	if evt.Type != events.TypeEntryApplied {
		return
	}
	applied, ok := evt.Data.(events.EntryApplied)
	if !ok {
		return
	}
	select {
	case s.queue <- applied:
	default:
		s.metrics.EventPublished("dropped")
		s.logger.Warn("entry sink full, event dropped", "entry_id", applied.Entry.ID, "account_id", applied.Entry.AccountID)
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (s *EntrySink) Run(ctx context.Context) {
	for {
		select {
		case applied := <-s.queue:
			s.send(ctx, applied)
		case <-ctx.Done():
			for {
				select {
				case applied := <-s.queue:
					s.send(context.Background(), applied)
				default:
					return
				}
			}
		}
	}
}

func (s *EntrySink) send(ctx context.Context, applied events.EntryApplied) {
	env, err := NewEnvelopeWithID(applied.Entry.ID, EventTypeLedgerEntry, 1, applied.Entry.Reference)
	if err != nil {
		s.metrics.EventPublished("error")
		s.logger.Error("build entry envelope", "entry_id", applied.Entry.ID, "error", err)
		return
	}
	msg := LedgerEntryEvent{Envelope: env, Entry: applied.Entry, Account: applied.Account}
	if _, _, err := s.producer.PublishJSON(ctx, s.topic, applied.Entry.AccountID, msg); err != nil {
		s.metrics.EventPublished("error")
		return
	}
	s.metrics.EventPublished("ok")
}
