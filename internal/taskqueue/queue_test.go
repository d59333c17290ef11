package taskqueue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/task"
)

func mustSubmit(t *testing.T, q *Queue, tk task.Task) string {
	t.Helper()
	id, err := q.Submit(tk)
	if err != nil {
		t.Fatalf("Submit(%q) error = %v", tk.ID, err)
	}
	return id
}

func drain(q *Queue) []string {
	var ids []string
	for {
		tk, ok := q.Next()
		if !ok {
			return ids
		}
		ids = append(ids, tk.ID)
	}
}

func TestSubmit_AssignsIDAndDefaults(t *testing.T) {
	q := New()
	id := mustSubmit(t, q, task.Task{})

	if id == "" {
		t.Fatal("expected generated ID")
	}
	got, ok := q.Next()
	if !ok {
		t.Fatal("Next() returned nothing")
	}
	if got.ID != id {
		t.Errorf("ID = %q, want %q", got.ID, id)
	}
	if got.Priority != task.PriorityNormal {
		t.Errorf("Priority = %v, want normal", got.Priority)
	}
	if got.Status != task.StatusPending {
		t.Errorf("Status = %v, want pending", got.Status)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestSubmit_RejectsUnknownPriority(t *testing.T) {
	q := New()
	_, err := q.Submit(task.Task{Priority: 3})
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Submit() error = %v, want invalid input", err)
	}
}

func TestSubmit_DuplicateID(t *testing.T) {
	q := New()
	mustSubmit(t, q, task.Task{ID: "a"})
	_, err := q.Submit(task.Task{ID: "a"})
	var ae *errors.AlreadyExistsError
	if !errors.As(err, &ae) {
		t.Errorf("Submit() error = %v, want AlreadyExistsError", err)
	}
}

func TestNext_PriorityThenFIFO(t *testing.T) {
	q := New()
	mustSubmit(t, q, task.Task{ID: "high-1", Priority: task.PriorityHigh})
	mustSubmit(t, q, task.Task{ID: "critical", Priority: task.PriorityCritical})
	mustSubmit(t, q, task.Task{ID: "high-2", Priority: task.PriorityHigh})

	got := drain(q)
	want := []string{"critical", "high-1", "high-2"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestNext_AllBands(t *testing.T) {
	q := New()
	mustSubmit(t, q, task.Task{ID: "low", Priority: task.PriorityLow})
	mustSubmit(t, q, task.Task{ID: "normal", Priority: task.PriorityNormal})
	mustSubmit(t, q, task.Task{ID: "critical", Priority: task.PriorityCritical})
	mustSubmit(t, q, task.Task{ID: "high", Priority: task.PriorityHigh})

	got := drain(q)
	want := []string{"critical", "high", "normal", "low"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestNext_Empty(t *testing.T) {
	q := New()
	if _, ok := q.Next(); ok {
		t.Error("Next() on empty queue returned ok")
	}
}

func TestSubmit_QueueFull(t *testing.T) {
	q := New(WithCapacity(2))
	mustSubmit(t, q, task.Task{ID: "a"})
	mustSubmit(t, q, task.Task{ID: "b"})

	_, err := q.Submit(task.Task{ID: "c"})
	if !errors.Is(err, errors.ErrQueueFull) {
		t.Fatalf("Submit() error = %v, want ErrQueueFull", err)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}

	q.Next()
	if _, err := q.Submit(task.Task{ID: "c"}); err != nil {
		t.Errorf("Submit() after Next error = %v", err)
	}
}

func TestRequeue_GoesToFrontOfBand(t *testing.T) {
	q := New()
	mustSubmit(t, q, task.Task{ID: "first", Priority: task.PriorityNormal})
	mustSubmit(t, q, task.Task{ID: "second", Priority: task.PriorityNormal})

	first, _ := q.Next()
	if err := q.Requeue(&first); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if first.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", first.RetryCount)
	}

	got := drain(q)
	want := []string{"first", "second"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestRequeue_StaysBehindHigherBands(t *testing.T) {
	q := New()
	mustSubmit(t, q, task.Task{ID: "low", Priority: task.PriorityLow})
	low, _ := q.Next()
	mustSubmit(t, q, task.Task{ID: "high", Priority: task.PriorityHigh})

	if err := q.Requeue(&low); err != nil {
		t.Fatal(err)
	}
	got := drain(q)
	if fmt.Sprint(got) != fmt.Sprint([]string{"high", "low"}) {
		t.Errorf("order = %v", got)
	}
}

func TestRequeue_MaxRetries(t *testing.T) {
	q := New(WithMaxRetries(3))
	mustSubmit(t, q, task.Task{ID: "t"})

	var attempts int
	for {
		tk, ok := q.Next()
		if !ok {
			t.Fatal("task vanished from queue")
		}
		attempts++
		if err := q.Requeue(&tk); err != nil {
			if !errors.Is(err, errors.ErrMaxRetriesExceeded) {
				t.Fatalf("Requeue() error = %v, want ErrMaxRetriesExceeded", err)
			}
			if tk.RetryCount != 2 {
				t.Errorf("RetryCount = %d at exhaustion, want 2", tk.RetryCount)
			}
			break
		}
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if q.Len() != 0 {
		t.Errorf("exhausted task was reinserted, Len() = %d", q.Len())
	}
}

func TestRequeue_TaskBudgetOverridesDefault(t *testing.T) {
	q := New(WithMaxRetries(10))
	tk := task.Task{ID: "t", MaxRetries: 1}
	if err := q.Requeue(&tk); !errors.Is(err, errors.ErrMaxRetriesExceeded) {
		t.Errorf("Requeue() error = %v, want ErrMaxRetriesExceeded", err)
	}
}

func TestCheckRetry(t *testing.T) {
	q := New(WithMaxRetries(3))
	tests := []struct {
		name    string
		task    task.Task
		wantErr bool
	}{
		{name: "first retry", task: task.Task{ID: "a"}},
		{name: "last retry", task: task.Task{ID: "b", RetryCount: 1}},
		{name: "budget spent", task: task.Task{ID: "c", RetryCount: 2}, wantErr: true},
		{name: "task budget", task: task.Task{ID: "d", MaxRetries: 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := q.CheckRetry(tt.task)
			if tt.wantErr != errors.Is(err, errors.ErrMaxRetriesExceeded) {
				t.Errorf("CheckRetry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if q.Len() != 0 {
		t.Errorf("CheckRetry changed the queue, Len() = %d", q.Len())
	}
}

func TestRequeue_IgnoresCapacity(t *testing.T) {
	q := New(WithCapacity(1))
	mustSubmit(t, q, task.Task{ID: "a"})
	a, _ := q.Next()
	mustSubmit(t, q, task.Task{ID: "b"})

	if err := q.Requeue(&a); err != nil {
		t.Errorf("Requeue() on full queue error = %v", err)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestRemove(t *testing.T) {
	q := New()
	mustSubmit(t, q, task.Task{ID: "a"})
	mustSubmit(t, q, task.Task{ID: "b"})

	if !q.Remove("a") {
		t.Fatal("Remove(a) = false")
	}
	if q.Remove("a") {
		t.Error("Remove(a) twice = true")
	}
	if q.Contains("a") {
		t.Error("Contains(a) after Remove")
	}
	if got := drain(q); fmt.Sprint(got) != "[b]" {
		t.Errorf("remaining = %v", got)
	}
}

func TestDepths(t *testing.T) {
	q := New()
	mustSubmit(t, q, task.Task{Priority: task.PriorityHigh})
	mustSubmit(t, q, task.Task{Priority: task.PriorityHigh})
	mustSubmit(t, q, task.Task{Priority: task.PriorityLow})

	d := q.Depths()
	if d[task.PriorityHigh] != 2 || d[task.PriorityLow] != 1 || d[task.PriorityCritical] != 0 {
		t.Errorf("Depths() = %v", d)
	}
}

func TestReadySignal(t *testing.T) {
	q := New()
	select {
	case <-q.Ready():
		t.Fatal("Ready fired on empty queue")
	default:
	}
	mustSubmit(t, q, task.Task{})
	select {
	case <-q.Ready():
	default:
		t.Error("Ready did not fire after Submit")
	}
}

func TestSubmitReturnsCopies(t *testing.T) {
	q := New()
	caps := []string{"gpu"}
	mustSubmit(t, q, task.Task{ID: "a", Requirements: task.Requirements{Capabilities: caps}})
	caps[0] = "mutated"

	got, _ := q.Next()
	if got.Requirements.Capabilities[0] != "gpu" {
		t.Errorf("queue shares caller slice: %v", got.Requirements.Capabilities)
	}
}

func TestConcurrentSubmitAndNext(t *testing.T) {
	q := New(WithCapacity(100000))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				_, _ = q.Submit(task.Task{ID: fmt.Sprintf("%d-%d", n, j)})
			}
		}(i)
	}
	wg.Wait()

	var mu sync.Mutex
	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tk, ok := q.Next()
				if !ok {
					return
				}
				mu.Lock()
				if seen[tk.ID] {
					t.Errorf("task %s dequeued twice", tk.ID)
				}
				seen[tk.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 2000 {
		t.Errorf("dequeued %d tasks, want 2000", len(seen))
	}
}
