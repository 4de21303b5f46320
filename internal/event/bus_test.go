package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(4)
	a, cancelA := bus.Subscribe()
	defer cancelA()
	b, cancelB := bus.Subscribe()
	defer cancelB()

	bus.Publish(Event{Type: ServiceStarted, ServiceID: "svc-1"})

	ea := <-a
	eb := <-b
	assert.Equal(t, ServiceStarted, ea.Type)
	assert.Equal(t, "svc-1", eb.ServiceID)
	assert.False(t, ea.Time.IsZero())
}

func TestBus_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus(1)
	ch, cancel := bus.Subscribe()
	defer cancel()

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: LogLine, Line: "x"})
	}

	require.Len(t, ch, 1)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(1)
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	bus.Publish(Event{Type: LogLine})
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(1)
	ch, cancel := bus.Subscribe()
	bus.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}
