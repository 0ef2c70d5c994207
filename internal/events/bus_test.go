package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	b := NewBus()
	a := b.Subscribe()
	c := b.Subscribe()
	b.Publish(Event{Type: TypeEntryApplied, UserID: "u1"})

	require.Len(t, a, 1)
	require.Len(t, c, 1)
	assert.Equal(t, "u1", (<-a).UserID)

	b.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)
	b.Unsubscribe(a)
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	for i := 0; i < cap(ch)+10; i++ {
		b.Publish(Event{Type: TypeEntryApplied})
	}
	assert.Len(t, ch, cap(ch))
}

type recorder struct{ got []Event }

func (r *recorder) Publish(evt Event) { r.got = append(r.got, evt) }

func TestFanout(t *testing.T) {
	r1, r2 := &recorder{}, &recorder{}
	Fanout{r1, nil, r2}.Publish(Event{Type: TypeAccountUpdate})
	assert.Len(t, r1.got, 1)
	assert.Len(t, r2.got, 1)
}
