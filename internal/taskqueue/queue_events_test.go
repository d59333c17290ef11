package taskqueue

import (
	"sync"
	"testing"

	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/task"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) handle(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(eventType string) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestEventQueue(opts ...Option) (*EventQueue, *recorder) {
	bus := event.NewBus()
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)
	return NewEventQueue(New(opts...), bus), rec
}

func TestEventQueue_Submit(t *testing.T) {
	eq, rec := newTestEventQueue()

	id, err := eq.Submit(task.Task{Priority: task.PriorityHigh})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	submitted := rec.ofType(event.TypeTaskSubmitted)
	if len(submitted) != 1 {
		t.Fatalf("expected 1 submitted event, got %d", len(submitted))
	}
	ev := submitted[0].(event.TaskSubmittedEvent)
	if ev.TaskID != id || ev.Priority != int(task.PriorityHigh) {
		t.Errorf("unexpected event %+v", ev)
	}

	depth := rec.ofType(event.TypeQueueDepthChanged)
	if len(depth) != 1 {
		t.Fatalf("expected 1 depth event, got %d", len(depth))
	}
	d := depth[0].(event.QueueDepthChangedEvent)
	if d.Depth != 1 || d.Bands["high"] != 1 {
		t.Errorf("depth event = %+v", d)
	}
}

func TestEventQueue_SubmitFullPublishesNothing(t *testing.T) {
	eq, rec := newTestEventQueue(WithCapacity(1))
	_, _ = eq.Submit(task.Task{})
	_, err := eq.Submit(task.Task{})
	if err == nil {
		t.Fatal("expected ErrQueueFull")
	}
	if n := len(rec.ofType(event.TypeTaskSubmitted)); n != 1 {
		t.Errorf("submitted events = %d, want 1", n)
	}
}

func TestEventQueue_Requeue(t *testing.T) {
	eq, rec := newTestEventQueue(WithMaxRetries(2))
	_, _ = eq.Submit(task.Task{ID: "t"})
	tk, _ := eq.Next()

	if err := eq.Requeue(&tk, "insufficient resources"); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	requeued := rec.ofType(event.TypeTaskRequeued)
	if len(requeued) != 1 {
		t.Fatalf("expected 1 requeued event, got %d", len(requeued))
	}
	ev := requeued[0].(event.TaskRequeuedEvent)
	if ev.RetryCount != 1 || ev.Reason != "insufficient resources" {
		t.Errorf("unexpected event %+v", ev)
	}

	tk, _ = eq.Next()
	if err := eq.Requeue(&tk, "again"); err == nil {
		t.Fatal("expected ErrMaxRetriesExceeded")
	}
	if n := len(rec.ofType(event.TypeTaskRequeued)); n != 1 {
		t.Errorf("exhausted requeue published an event, total %d", n)
	}
}

func TestEventQueue_Remove(t *testing.T) {
	eq, rec := newTestEventQueue()
	_, _ = eq.Submit(task.Task{ID: "t"})
	before := len(rec.ofType(event.TypeQueueDepthChanged))

	if !eq.Remove("t") {
		t.Fatal("Remove() = false")
	}
	if eq.Remove("t") {
		t.Fatal("Remove() twice = true")
	}
	if got := len(rec.ofType(event.TypeQueueDepthChanged)); got != before+1 {
		t.Errorf("depth events = %d, want %d", got, before+1)
	}
}

func TestEventQueue_HandlerMayReenter(t *testing.T) {
	bus := event.NewBus()
	eq := NewEventQueue(New(), bus)

	depthSeen := -1
	bus.Subscribe(event.TypeTaskSubmitted, func(e event.Event) {
		depthSeen = eq.Len()
	})
	_, _ = eq.Submit(task.Task{})
	if depthSeen != 1 {
		t.Errorf("handler saw Len() = %d, want 1", depthSeen)
	}
}
