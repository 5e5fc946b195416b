package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidecar/channel"
)

func TestBrokerPublishToMatchingTopic(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch := b.Subscribe("sub", 1, "notification")

	err := b.Publish(context.Background(), channel.Message{
		Topic:   "notification",
		Payload: "hello",
		Source:  "test",
	})
	require.NoError(t, err)

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", msg.Payload)
		assert.Equal(t, "test", msg.Source)
	case <-time.After(time.Second):
		t.Fatal("expected message was not delivered")
	}
}

func TestBrokerTopicFiltering(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	notif := b.Subscribe("notif", 1, "notification")
	all := b.Subscribe("all", 1)

	require.NoError(t, b.Publish(context.Background(), channel.Message{Topic: "response", Payload: "x"}))

	// Empty topic list means subscribe to everything
	select {
	case msg := <-all:
		assert.Equal(t, "x", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("wildcard subscriber missed message")
	}

	select {
	case <-notif:
		t.Fatal("notification subscriber received unrelated topic")
	default:
	}
}

func TestBrokerWildcardTopic(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch := b.Subscribe("star", 1, "*")

	require.NoError(t, b.Publish(context.Background(), channel.Message{Topic: "anything"}))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("wildcard subscription missed message")
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	first := b.Subscribe("first", 1, "notification")
	second := b.Subscribe("second", 1, "notification")

	require.NoError(t, b.Publish(context.Background(), channel.Message{Topic: "notification", Payload: "both"}))

	for _, ch := range []<-chan channel.Message{first, second} {
		select {
		case msg := <-ch:
			assert.Equal(t, "both", msg.Payload)
		case <-time.After(time.Second):
			t.Fatal("fan-out missed a subscriber")
		}
	}
}

func TestBrokerPublishNoSubscribers(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	// Not an error, just a dropped message
	assert.NoError(t, b.Publish(context.Background(), channel.Message{Topic: "nobody"}))
}

func TestBrokerSlowConsumerTimesOut(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	b.SetPublishTimeout(50 * time.Millisecond)

	// Unbuffered subscription that nobody reads
	b.Subscribe("slow", 0, "notification")

	err := b.Publish(context.Background(), channel.Message{Topic: "notification"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow consumer")
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch := b.Subscribe("gone", 1, "notification")
	b.Unsubscribe("gone")

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerResubscribeReplacesChannel(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	old := b.Subscribe("dup", 1, "notification")
	fresh := b.Subscribe("dup", 1, "notification")

	_, open := <-old
	assert.False(t, open, "old channel should be closed on resubscribe")

	require.NoError(t, b.Publish(context.Background(), channel.Message{Topic: "notification"}))
	select {
	case <-fresh:
	case <-time.After(time.Second):
		t.Fatal("replacement subscription missed message")
	}
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker()

	ch := b.Subscribe("sub", 1, "notification")
	b.Close()

	_, open := <-ch
	assert.False(t, open)

	assert.Error(t, b.Publish(context.Background(), channel.Message{Topic: "notification"}))

	// Subscribing after close yields a closed channel
	late := b.Subscribe("late", 1)
	_, open = <-late
	assert.False(t, open)

	// Closing twice is safe
	b.Close()
}
