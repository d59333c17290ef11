package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/task"
	"github.com/Iron-Ham/quorum/internal/testutil"
)

func gpuWorker(id string, gpus uint64, load float64, caps ...string) Worker {
	return Worker{
		ID:           id,
		Capabilities: caps,
		Capacity:     map[task.ResourceType]uint64{task.ResourceGPU: gpus},
		Load:         load,
	}
}

func register(t *testing.T, r *Registry, workers ...Worker) {
	t.Helper()
	for _, w := range workers {
		if err := r.Register(w); err != nil {
			t.Fatalf("Register(%s) error = %v", w.ID, err)
		}
		if err := r.Heartbeat(w.ID); err != nil {
			t.Fatalf("Heartbeat(%s) error = %v", w.ID, err)
		}
	}
}

func TestRegister(t *testing.T) {
	r := New()
	if err := r.Register(Worker{}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Register(empty) error = %v", err)
	}
	if err := r.Register(Worker{ID: "w", Capacity: map[task.ResourceType]uint64{"tpu": 1}}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Register(bad capacity) error = %v", err)
	}
	if err := r.Register(Worker{ID: "w", Load: 2}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Register(bad load) error = %v", err)
	}

	if err := r.Register(gpuWorker("w1", 2, 0)); err != nil {
		t.Fatal(err)
	}
	err := r.Register(gpuWorker("w1", 2, 0))
	var ae *errors.AlreadyExistsError
	if !errors.As(err, &ae) {
		t.Errorf("duplicate Register() error = %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d", r.Len())
	}
}

func TestHealthDerivation(t *testing.T) {
	clock := testutil.NewClock(time.Time{})
	r := New(WithClock(clock.Now), WithHeartbeatTimeout(30*time.Second))
	if err := r.Register(gpuWorker("w1", 1, 0)); err != nil {
		t.Fatal(err)
	}

	if h, _ := r.Health("w1"); h != HealthUnknown {
		t.Errorf("before heartbeat health = %v, want unknown", h)
	}
	_ = r.Heartbeat("w1")
	if h, _ := r.Health("w1"); h != HealthHealthy {
		t.Errorf("after heartbeat health = %v, want healthy", h)
	}
	clock.Advance(30 * time.Second)
	if h, _ := r.Health("w1"); h != HealthHealthy {
		t.Errorf("at timeout health = %v, want healthy", h)
	}
	clock.Advance(time.Second)
	if h, _ := r.Health("w1"); h != HealthUnhealthy {
		t.Errorf("after 31s health = %v, want unhealthy", h)
	}
	_ = r.Heartbeat("w1")
	if h, _ := r.Health("w1"); h != HealthHealthy {
		t.Errorf("after recovery health = %v, want healthy", h)
	}
}

func TestHealthSourceDowngrades(t *testing.T) {
	external := map[string]Health{
		"degraded": HealthDegraded,
		"down":     HealthUnhealthy,
		"unsure":   HealthUnknown,
	}
	src := HealthSourceFunc(func(id string) Health { return external[id] })
	r := New(WithHealthSource(src))
	register(t, r,
		gpuWorker("degraded", 1, 0),
		gpuWorker("down", 1, 0),
		gpuWorker("unsure", 1, 0),
		gpuWorker("fine", 1, 0),
	)

	tests := map[string]Health{
		"degraded": HealthDegraded,
		"down":     HealthUnhealthy,
		"unsure":   HealthHealthy,
		"fine":     HealthHealthy,
	}
	for id, want := range tests {
		if got, _ := r.Health(id); got != want {
			t.Errorf("Health(%s) = %v, want %v", id, got, want)
		}
	}
}

func TestHeartbeatUnknownWorker(t *testing.T) {
	r := New()
	var nf *errors.NotFoundError
	if err := r.Heartbeat("ghost"); !errors.As(err, &nf) {
		t.Errorf("Heartbeat() error = %v, want NotFoundError", err)
	}
	if err := r.Report("ghost", 0.5); !errors.As(err, &nf) {
		t.Errorf("Report() error = %v, want NotFoundError", err)
	}
	if err := r.Deregister("ghost"); !errors.As(err, &nf) {
		t.Errorf("Deregister() error = %v, want NotFoundError", err)
	}
}

func TestReport(t *testing.T) {
	r := New()
	register(t, r, gpuWorker("w1", 1, 0))

	if err := r.Report("w1", 1.5); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Report(1.5) error = %v", err)
	}
	if err := r.Report("w1", 0.4); err != nil {
		t.Fatal(err)
	}
	w, _ := r.Get("w1")
	if w.Load != 0.4 {
		t.Errorf("Load = %v", w.Load)
	}
}

func TestSelectCandidate_LeastLoaded(t *testing.T) {
	r := New()
	register(t, r,
		gpuWorker("b", 4, 0.2),
		gpuWorker("a", 4, 0.2),
		gpuWorker("c", 4, 0.1),
		gpuWorker("busy", 4, 0.9),
	)

	id, ok := r.SelectCandidate(Need{Type: task.ResourceGPU, Amount: 2}, nil)
	if !ok || id != "c" {
		t.Fatalf("SelectCandidate() = %q, %v; want c", id, ok)
	}
	id, _ = r.SelectCandidate(Need{Type: task.ResourceGPU, Amount: 2}, map[string]bool{"c": true})
	if id != "a" {
		t.Errorf("tie should break by id, got %q", id)
	}
}

func TestSelectCandidate_Strategies(t *testing.T) {
	workers := []Worker{
		gpuWorker("a", 2, 0.5),
		gpuWorker("b", 8, 0.5),
		gpuWorker("c", 4, 0.0),
	}
	tests := []struct {
		strategy Strategy
		want     string
	}{
		{StrategyLeastLoaded, "c"},
		{StrategyMostHeadroom, "b"}, // b and c tie on headroom 4
		{StrategyFirstFit, "a"},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			r := New(WithStrategy(tt.strategy))
			register(t, r, workers...)
			id, ok := r.SelectCandidate(Need{Type: task.ResourceGPU, Amount: 1}, nil)
			if !ok || id != tt.want {
				t.Errorf("SelectCandidate() = %q, %v; want %q", id, ok, tt.want)
			}
		})
	}

	r := New(WithStrategy(StrategyMostHeadroom))
	register(t, r, gpuWorker("small", 2, 0), gpuWorker("large", 8, 0.5))
	if id, _ := r.SelectCandidate(Need{Type: task.ResourceGPU, Amount: 1}, nil); id != "large" {
		t.Errorf("most-headroom picked %q, want large", id)
	}
}

func TestSelectCandidate_Filters(t *testing.T) {
	clock := testutil.NewClock(time.Time{})
	r := New(WithClock(clock.Now), WithHeartbeatTimeout(30*time.Second))
	register(t, r,
		gpuWorker("silent", 8, 0, "cuda"),
		gpuWorker("small", 1, 0, "cuda"),
	)
	clock.Advance(31 * time.Second)
	register(t, r,
		gpuWorker("nocaps", 8, 0),
		gpuWorker("good", 8, 0.5, "cuda", "fp16"),
	)
	if err := r.Register(gpuWorker("never-beat", 8, 0, "cuda")); err != nil {
		t.Fatal(err)
	}
	_ = r.Heartbeat("small")

	id, ok := r.SelectCandidate(Need{Type: task.ResourceGPU, Amount: 4, Capabilities: []string{"cuda"}}, nil)
	if !ok || id != "good" {
		t.Fatalf("SelectCandidate() = %q, %v; want good", id, ok)
	}

	_, ok = r.SelectCandidate(Need{Type: task.ResourceGPU, Amount: 4, Capabilities: []string{"cuda"}}, map[string]bool{"good": true})
	if ok {
		t.Error("expected no candidate once good is excluded")
	}
}

func TestSelectCandidate_GlobCapabilities(t *testing.T) {
	r := New()
	register(t, r,
		gpuWorker("w1", 1, 0, "gpu.a100"),
		gpuWorker("w2", 1, 0, "cpu.x86"),
	)

	tests := []struct {
		caps []string
		want string
		ok   bool
	}{
		{[]string{"gpu.*"}, "w1", true},
		{[]string{"{gpu,cpu}.x86"}, "w2", true},
		{[]string{"gpu.a100"}, "w1", true},
		{[]string{"gpu.h*", "gpu.*"}, "", false},
		{[]string{"[unclosed"}, "", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.caps), func(t *testing.T) {
			id, ok := r.SelectCandidate(Need{Capabilities: tt.caps}, nil)
			if ok != tt.ok || id != tt.want {
				t.Errorf("SelectCandidate(%v) = %q, %v; want %q, %v", tt.caps, id, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSweep(t *testing.T) {
	clock := testutil.NewClock(time.Time{})
	bus := event.NewBus()
	var changes []event.WorkerHealthChangedEvent
	bus.Subscribe(event.TypeWorkerHealthChanged, func(e event.Event) {
		changes = append(changes, e.(event.WorkerHealthChangedEvent))
	})
	r := New(WithClock(clock.Now), WithHeartbeatTimeout(10*time.Second), WithBus(bus))
	register(t, r, gpuWorker("w1", 1, 0))

	if n := r.Sweep(clock.Now()); n != 1 {
		t.Fatalf("first Sweep() = %d, want 1 (unknown -> healthy)", n)
	}
	if n := r.Sweep(clock.Now()); n != 0 {
		t.Errorf("repeat Sweep() = %d, want 0", n)
	}
	if n := r.Sweep(clock.Advance(11 * time.Second)); n != 1 {
		t.Errorf("Sweep() after silence = %d, want 1", n)
	}

	if len(changes) != 2 {
		t.Fatalf("got %d events, want 2", len(changes))
	}
	last := changes[1]
	if last.WorkerID != "w1" || last.From != string(HealthHealthy) || last.To != string(HealthUnhealthy) {
		t.Errorf("last event = %+v", last)
	}
}

func TestRun(t *testing.T) {
	bus := event.NewBus()
	var (
		mu sync.Mutex
		n  int
	)
	bus.Subscribe(event.TypeWorkerHealthChanged, func(event.Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	r := New(WithSweepInterval(5*time.Millisecond), WithBus(bus))
	register(t, r, gpuWorker("w1", 1, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	testutil.Eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n > 0
	}, "no health change published")
	cancel()
	<-done
}

func TestRecordOutcome(t *testing.T) {
	r := New()
	register(t, r, gpuWorker("w1", 1, 0))
	r.RecordOutcome("w1", true)
	r.RecordOutcome("w1", true)
	r.RecordOutcome("w1", false)
	r.RecordOutcome("ghost", true)

	w, _ := r.Get("w1")
	if w.Completed != 2 || w.Failed != 1 {
		t.Errorf("outcomes = %d/%d, want 2/1", w.Completed, w.Failed)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()
	register(t, r, gpuWorker("w1", 1, 0, "cuda"))
	w, _ := r.Get("w1")
	w.Capabilities[0] = "mutated"
	w.Capacity[task.ResourceGPU] = 99

	again, _ := r.Get("w1")
	if again.Capabilities[0] != "cuda" || again.Capacity[task.ResourceGPU] != 1 {
		t.Errorf("registry state mutated through snapshot: %+v", again)
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range Strategies() {
		got, err := ParseStrategy(string(s))
		if err != nil || got != s {
			t.Errorf("ParseStrategy(%q) = %q, %v", s, got, err)
		}
	}
	if got, _ := ParseStrategy(""); got != StrategyLeastLoaded {
		t.Errorf("ParseStrategy(\"\") = %q", got)
	}
	if _, err := ParseStrategy("random"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestConcurrentHeartbeats(t *testing.T) {
	r := New()
	for i := 0; i < 64; i++ {
		register(t, r, gpuWorker(fmt.Sprintf("w%02d", i), 2, 0))
	}

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("w%02d", n)
			for j := 0; j < 100; j++ {
				_ = r.Heartbeat(id)
				_ = r.Report(id, float64(j%10)/10)
				r.SelectCandidate(Need{Type: task.ResourceGPU, Amount: 1}, nil)
			}
		}(i)
	}
	wg.Wait()

	if got := len(r.List()); got != 64 {
		t.Errorf("List() has %d workers", got)
	}
}
