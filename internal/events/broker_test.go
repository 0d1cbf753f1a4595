package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseBroker(t *testing.T, b Broker) {
	t.Helper()
	ch := b.Subscribe("job1")
	other := b.Subscribe("job2")

	evt := Event{Type: "job.progress", Data: map[string]any{"progress": "20"}}
	b.Publish("job1", evt)

	select {
	case got := <-ch:
		assert.Equal(t, evt.Type, got.Type)
		assert.Equal(t, "20", got.Data["progress"])
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-other:
		t.Fatalf("unexpected event on other topic: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	b.Unsubscribe("job1", ch)
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
	b.Unsubscribe("job2", other)
}

func TestMemoryBroker(t *testing.T) {
	b := NewMemory()
	exerciseBroker(t, b)
	assert.Equal(t, 0, b.Subscribers("job1"))
}

func TestMemoryBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe("j")
	for i := 0; i < 100; i++ {
		b.Publish("j", Event{Type: "tick"})
	}
	assert.Len(t, ch, cap(ch))
	require.NoError(t, b.Close())
	_, ok := <-ch
	assert.True(t, ok)
}

func TestMemoryBrokerDoubleUnsubscribe(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe("j")
	b.Unsubscribe("j", ch)
	assert.NotPanics(t, func() { b.Unsubscribe("j", ch) })
}

func TestRedisBroker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	b, err := NewRedis(context.Background(), url, nil)
	require.NoError(t, err)
	defer b.Close()
	exerciseBroker(t, b)
}

func TestNewRedisBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "://nope", nil)
	assert.Error(t, err)
}
