package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishFanOut(t *testing.T) {
	h := NewHub()
	a, b := h.Subscribe(), h.Subscribe()

	h.Publish(Event{Type: TypeTyping, Enabled: BoolPtr(true)})

	for _, ch := range []chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, TypeTyping, ev.Type)
		require.NotNil(t, ev.Enabled)
		assert.True(t, *ev.Enabled)
	}

	h.Unsubscribe(b)
	h.Publish(Event{Type: TypeLanguage, Text: "hi"})
	assert.Equal(t, "hi", (<-a).Text)
	assert.Empty(t, b)
}

func TestHubPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	for range subscriberBuffer + 10 {
		h.Publish(Event{Type: TypeTyping})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestHubAdvisoryBoard(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()

	h.Raise(Advisory{Kind: KindCaptureTimeout, Title: "Voice Timeout"})
	ev := <-ch
	assert.Equal(t, TypeAdvisory, ev.Type)
	assert.False(t, ev.Advisory.RaisedAt.IsZero())
	assert.Empty(t, h.Advisories(), "brief advisories are not kept")

	h.Raise(Advisory{Kind: KindOffline, Persistent: true})
	<-ch
	require.Len(t, h.Advisories(), 1)
	assert.Equal(t, KindOffline, h.Advisories()[0].Kind)

	h.Clear(KindOffline)
	ev = <-ch
	assert.Equal(t, TypeAdvisoryCleared, ev.Type)
	assert.Equal(t, KindOffline, ev.Kind)
	assert.Empty(t, h.Advisories())

	h.Clear(KindOffline)
	assert.Empty(t, ch)
}
