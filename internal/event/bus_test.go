package event

import (
	"sync"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe(TypeTaskSubmitted, func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.Subscribe(TypeProposalOpened, func(e Event) {
		received = e
	})

	bus.Publish(NewProposalOpenedEvent("p-1", "t-1", "w-1", time.Now().Add(time.Second)))

	if received == nil {
		t.Fatal("Handler should have received the event")
	}
	opened, ok := received.(ProposalOpenedEvent)
	if !ok {
		t.Fatalf("received %T, want ProposalOpenedEvent", received)
	}
	if opened.ProposalID != "p-1" || opened.CandidateWorker != "w-1" {
		t.Errorf("unexpected payload: %+v", opened)
	}
	if bus.Published() != 1 {
		t.Errorf("Published() = %d, want 1", bus.Published())
	}
}

func TestBus_SpecificBeforeWildcard(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(e Event) { order = append(order, "all") })
	bus.Subscribe(TypeTaskRequeued, func(e Event) { order = append(order, "specific") })

	bus.Publish(NewTaskRequeuedEvent("t", 1, "insufficient resources"))

	if len(order) != 2 || order[0] != "specific" || order[1] != "all" {
		t.Errorf("dispatch order = %v, want [specific all]", order)
	}
}

func TestBus_OtherTypesNotDelivered(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.Subscribe(TypeTaskSubmitted, func(e Event) { count++ })
	bus.Publish(NewWorkerHealthChangedEvent("w", "healthy", "unhealthy"))

	if count != 0 {
		t.Errorf("handler called %d times for unrelated event", count)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.Subscribe(TypeTaskSubmitted, func(e Event) { count++ })
	bus.Subscribe(TypeTaskSubmitted, func(e Event) { count += 10 })

	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for a live subscription")
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe returned true twice")
	}

	bus.Publish(NewTaskSubmittedEvent("t", 5))
	if count != 10 {
		t.Errorf("count = %d, want 10", count)
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	var panicked string
	bus := NewBus(WithPanicHandler(func(eventType string, r any, stack []byte) {
		panicked = eventType
	}))

	reached := false
	bus.Subscribe(TypeTaskDeadLettered, func(e Event) { panic("boom") })
	bus.Subscribe(TypeTaskDeadLettered, func(e Event) { reached = true })

	bus.Publish(NewTaskDeadLetteredEvent("t", "max_retries_exceeded", "exhausted"))

	if panicked != TypeTaskDeadLettered {
		t.Errorf("panic handler got %q", panicked)
	}
	if !reached {
		t.Error("handler after the panicking one was not called")
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a.b", func(Event) {})
	bus.SubscribeAll(func(Event) {})
	bus.Clear()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Clear", bus.SubscriptionCount())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(NewVoteCastEvent("p", "v", true))
			}
		}()
	}
	// Subscribing while publishing must not race.
	for i := 0; i < 10; i++ {
		id := bus.Subscribe(TypeVoteCast, func(Event) {})
		bus.Unsubscribe(id)
	}
	wg.Wait()

	if count != 1000 {
		t.Errorf("count = %d, want 1000", count)
	}
}
