package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus("test")
	var got []Kind
	bus.Subscribe(func(e Event) { got = append(got, e.Kind) })

	bus.Publish(New(KindTaskStarted, "a", nil))
	bus.Publish(New(KindTaskProgress, "a", nil))
	bus.Publish(New(KindTaskCompleted, "a", nil))

	assert.Equal(t, []Kind{KindTaskStarted, KindTaskProgress, KindTaskCompleted}, got)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus("test")
	count := 0
	unsubscribe := bus.Subscribe(func(Event) { count++ })
	other := 0
	bus.Subscribe(func(Event) { other++ })

	bus.Publish(New(KindMessage, "", nil))
	unsubscribe()
	unsubscribe()
	bus.Publish(New(KindMessage, "", nil))

	assert.Equal(t, 1, count)
	assert.Equal(t, 2, other)
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestNestedPublishIsQueuedNotReentrant(t *testing.T) {
	bus := NewBus("test")
	var order []string
	depth := 0

	bus.Subscribe(func(e Event) {
		depth++
		defer func() { depth-- }()
		require.Equal(t, 1, depth, "delivery must not recurse")
		order = append(order, "first:"+string(e.Kind))
		if e.Kind == KindTaskStarted {
			bus.Publish(New(KindTaskCompleted, "", nil))
		}
	})
	bus.Subscribe(func(e Event) {
		order = append(order, "second:"+string(e.Kind))
	})

	bus.Publish(New(KindTaskStarted, "", nil))

	assert.Equal(t, []string{
		"first:task_started",
		"second:task_started",
		"first:task_completed",
		"second:task_completed",
	}, order)
}

func TestUnsubscribeDuringDelivery(t *testing.T) {
	bus := NewBus("test")
	calledSecond := false
	var unsubscribeSecond func()
	bus.Subscribe(func(Event) { unsubscribeSecond() })
	unsubscribeSecond = bus.Subscribe(func(Event) { calledSecond = true })

	bus.Publish(New(KindMessage, "", nil))
	assert.False(t, calledSecond)
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	bus := NewBus("test")
	delivered := false
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(Event) { delivered = true })

	bus.Publish(New(KindDecision, "", nil))
	assert.True(t, delivered)
}

func TestForward(t *testing.T) {
	src := NewBus("agent")
	dst := NewBus("orchestrator")
	var got []Event
	dst.Subscribe(func(e Event) { got = append(got, e) })

	stop := dst.Forward(src)
	src.Publish(New(KindStatusChange, "scout", StatusChange{From: "idle", To: "working"}))
	stop()
	src.Publish(New(KindStatusChange, "scout", nil))

	require.Len(t, got, 1)
	assert.Equal(t, "scout", got[0].AgentID)
}

func TestConcurrentPublishersAllDelivered(t *testing.T) {
	bus := NewBus("test")
	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(New(KindTaskProgress, "", nil))
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1000, count)
}
