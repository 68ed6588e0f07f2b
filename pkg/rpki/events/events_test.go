package events

import (
	"testing"
	"time"

	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	subA := b.Subscribe()
	subB := b.Subscribe()
	defer b.Unsubscribe(subA)
	defer b.Unsubscribe(subB)

	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{
		Host:    "rpki.example.net",
		URI:     "rsync://rpki.example.net/ca.roa",
		Outcome: counters.CurrentROAAccepted,
	})

	for _, sub := range []Subscriber{subA, subB} {
		select {
		case ev := <-sub:
			require.NotNil(t, ev)
			assert.Equal(t, counters.CurrentROAAccepted, ev.Outcome)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(&Event{URI: "rsync://rpki.example.net/ca.cer", Outcome: counters.ValidationOK})

	_, ok := <-sub
	assert.False(t, ok, "channel should be closed after unsubscribe")
}
