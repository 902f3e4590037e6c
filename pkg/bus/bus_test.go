package bus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T, topics ...string) *Bus {
	t.Helper()
	return New(zerolog.Nop(), topics...)
}

func TestBus_PublishDeliversInOrder(t *testing.T) {
	b := newTestBus(t, "messageAdded")

	var got []int
	_, err := b.Subscribe("messageAdded", func(p interface{}) {
		got = append(got, p.(int))
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		b.Publish("messageAdded", i)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestBus_SubscribeInvalidTopic(t *testing.T) {
	b := newTestBus(t, "messageAdded")

	_, err := b.Subscribe("bogus", func(interface{}) {})
	require.Error(t, err)
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "INVALID_TOPIC", berr.Code)
}

func TestBus_PublishUndeclaredTopicIsNoop(t *testing.T) {
	b := newTestBus(t, "messageAdded")
	// must not panic or fail
	b.Publish("bogus", 1)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t, "messageAdded")

	calls := 0
	tok, err := b.Subscribe("messageAdded", func(interface{}) { calls++ })
	require.NoError(t, err)

	b.Publish("messageAdded", 1)
	b.Unsubscribe(tok)
	b.Publish("messageAdded", 2)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.HandlerCount("messageAdded"))
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	b := newTestBus(t, "messageAdded")

	tok, err := b.Subscribe("messageAdded", func(interface{}) {})
	require.NoError(t, err)
	b.Unsubscribe(tok)
	b.Unsubscribe(tok)
	assert.Equal(t, 0, b.HandlerCount("messageAdded"))
}

func TestBus_HandlerRegisteredDuringPublishMissesIt(t *testing.T) {
	b := newTestBus(t, "messageAdded")

	lateCalls := 0
	_, err := b.Subscribe("messageAdded", func(interface{}) {
		_, err := b.Subscribe("messageAdded", func(interface{}) { lateCalls++ })
		require.NoError(t, err)
	})
	require.NoError(t, err)

	b.Publish("messageAdded", 1)
	assert.Equal(t, 0, lateCalls, "snapshot semantics: a handler added mid-publish must not see that publication")

	b.Publish("messageAdded", 2)
	assert.Equal(t, 1, lateCalls)
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	b := newTestBus(t, "messageAdded")

	_, err := b.Subscribe("messageAdded", func(interface{}) { panic("boom") })
	require.NoError(t, err)
	survived := 0
	_, err = b.Subscribe("messageAdded", func(interface{}) { survived++ })
	require.NoError(t, err)

	require.NotPanics(t, func() { b.Publish("messageAdded", 1) })
	assert.Equal(t, 1, survived, "a failing handler must not prevent the others")
}

func TestBus_FanOutToAllHandlers(t *testing.T) {
	b := newTestBus(t, "groupAdded")

	counts := make([]int, 3)
	for i := 0; i < 3; i++ {
		i := i
		_, err := b.Subscribe("groupAdded", func(interface{}) { counts[i]++ })
		require.NoError(t, err)
	}
	b.Publish("groupAdded", "payload")
	assert.Equal(t, []int{1, 1, 1}, counts)
}
