package registry

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/task"
)

// Defaults applied by New when no option overrides them.
const (
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultSweepInterval    = 5 * time.Second
)

const shardCount = 16

type shard struct {
	mu      sync.RWMutex
	workers map[string]*Worker
}

// Registry tracks workers, their heartbeats and load. Workers are spread
// over fixed shards by ID so heartbeats from different workers rarely
// contend.
type Registry struct {
	shards [shardCount]*shard

	heartbeatTimeout time.Duration
	sweepInterval    time.Duration
	strategy         Strategy
	source           HealthSource
	now              func() time.Time
	bus              *event.Bus
	logger           *logging.Logger

	patterns sync.Map // capability pattern -> glob.Glob
}

// Option configures a Registry.
type Option func(*Registry)

// WithHeartbeatTimeout sets how long a silent worker stays healthy.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.heartbeatTimeout = d
		}
	}
}

// WithSweepInterval sets how often Run recomputes health.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithStrategy sets the candidate ranking strategy.
func WithStrategy(s Strategy) Option {
	return func(r *Registry) {
		if s != "" {
			r.strategy = s
		}
	}
}

// WithHealthSource adds an external health signal.
func WithHealthSource(src HealthSource) Option {
	return func(r *Registry) { r.source = src }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithBus publishes worker.health_changed events on bus.
func WithBus(bus *event.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		heartbeatTimeout: DefaultHeartbeatTimeout,
		sweepInterval:    DefaultSweepInterval,
		strategy:         StrategyLeastLoaded,
		now:              time.Now,
		logger:           logging.NopLogger(),
	}
	for i := range r.shards {
		r.shards[i] = &shard{workers: make(map[string]*Worker)}
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("registry")
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

// Strategy returns the ranking strategy chosen at construction.
func (r *Registry) Strategy() Strategy { return r.strategy }

// Register adds a worker. Its health is Unknown until the first heartbeat.
func (r *Registry) Register(w Worker) error {
	if w.ID == "" {
		return errors.NewValidationError("worker id is required").WithField("id")
	}
	for rt := range w.Capacity {
		if !rt.Valid() {
			return errors.NewValidationError("unknown resource type").WithField("capacity").WithValue(string(rt))
		}
	}
	if w.Load < 0 || w.Load > 1 {
		return errors.NewValidationError("load must be between 0 and 1").WithField("load").WithValue(w.Load)
	}

	w = w.clone()
	w.Health = HealthUnknown
	w.LastHeartbeat = time.Time{}
	w.RegisteredAt = r.now()
	w.Completed, w.Failed = 0, 0

	s := r.shardFor(w.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[w.ID]; ok {
		return errors.NewAlreadyExistsError("worker", w.ID)
	}
	s.workers[w.ID] = &w
	r.logger.Info("worker registered", "worker_id", w.ID, "capabilities", strings.Join(w.Capabilities, ","))
	return nil
}

// Deregister removes a worker.
func (r *Registry) Deregister(id string) error {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[id]; !ok {
		return errors.NewNotFoundError("worker", id)
	}
	delete(s.workers, id)
	r.logger.Info("worker deregistered", "worker_id", id)
	return nil
}

// Heartbeat records that the worker is alive.
func (r *Registry) Heartbeat(id string) error {
	return r.update(id, func(w *Worker) {
		w.LastHeartbeat = r.now()
	})
}

// Report records the worker's current load in [0, 1]. A report also
// counts as a heartbeat.
func (r *Registry) Report(id string, load float64) error {
	if load < 0 || load > 1 {
		return errors.NewValidationError("load must be between 0 and 1").WithField("load").WithValue(load)
	}
	return r.update(id, func(w *Worker) {
		w.Load = load
		w.LastHeartbeat = r.now()
	})
}

// RecordOutcome counts a finished execution against the worker. Unknown
// workers are ignored since they may have been deregistered mid-task.
func (r *Registry) RecordOutcome(id string, success bool) {
	_ = r.update(id, func(w *Worker) {
		if success {
			w.Completed++
		} else {
			w.Failed++
		}
	})
}

func (r *Registry) update(id string, fn func(*Worker)) error {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return errors.NewNotFoundError("worker", id)
	}
	fn(w)
	return nil
}

// Get returns a snapshot of the worker with freshly derived health.
func (r *Registry) Get(id string) (Worker, error) {
	s := r.shardFor(id)
	s.mu.RLock()
	w, ok := s.workers[id]
	var cp Worker
	if ok {
		cp = w.clone()
	}
	s.mu.RUnlock()

	if !ok {
		return Worker{}, errors.NewNotFoundError("worker", id)
	}
	cp.Health = r.derive(cp, r.now())
	return cp, nil
}

// Health returns the worker's current health.
func (r *Registry) Health(id string) (Health, error) {
	w, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return w.Health, nil
}

// List returns snapshots of every worker ordered by ID.
func (r *Registry) List() []Worker {
	now := r.now()
	out := r.snapshot()
	for i := range out {
		out[i].Health = r.derive(out[i], now)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.workers)
		s.mu.RUnlock()
	}
	return n
}

func (r *Registry) snapshot() []Worker {
	var out []Worker
	for _, s := range r.shards {
		s.mu.RLock()
		for _, w := range s.workers {
			out = append(out, w.clone())
		}
		s.mu.RUnlock()
	}
	return out
}

// derive computes health from the heartbeat age, then lets the external
// source downgrade it.
func (r *Registry) derive(w Worker, now time.Time) Health {
	if w.LastHeartbeat.IsZero() {
		return HealthUnknown
	}
	if now.Sub(w.LastHeartbeat) > r.heartbeatTimeout {
		return HealthUnhealthy
	}
	h := HealthHealthy
	if r.source != nil {
		if ext := r.source.IsHealthy(w.ID); ext.severity() > h.severity() {
			h = ext
		}
	}
	return h
}

// SelectCandidate returns the best healthy worker that has every required
// capability and enough capacity of the needed type, skipping IDs in
// exclude. ok is false when no worker qualifies.
func (r *Registry) SelectCandidate(need Need, exclude map[string]bool) (id string, ok bool) {
	now := r.now()
	var eligible []Worker
	for _, w := range r.snapshot() {
		if exclude[w.ID] {
			continue
		}
		if r.derive(w, now) != HealthHealthy {
			continue
		}
		if need.Type != "" && need.Amount > 0 && w.Capacity[need.Type] < need.Amount {
			continue
		}
		if !r.hasCapabilities(w.Capabilities, need.Capabilities) {
			continue
		}
		eligible = append(eligible, w)
	}
	if len(eligible) == 0 {
		return "", false
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		switch r.strategy {
		case StrategyMostHeadroom:
			ha, hb := headroom(a, need.Type), headroom(b, need.Type)
			if ha != hb {
				return ha > hb
			}
		case StrategyFirstFit:
		default:
			if a.Load != b.Load {
				return a.Load < b.Load
			}
		}
		return a.ID < b.ID
	})
	return eligible[0].ID, true
}

// headroom is the capacity of rt left unused at the worker's current load.
func headroom(w Worker, rt task.ResourceType) float64 {
	if rt == "" {
		var total uint64
		for _, c := range w.Capacity {
			total += c
		}
		return float64(total) * (1 - w.Load)
	}
	return float64(w.Capacity[rt]) * (1 - w.Load)
}

func (r *Registry) hasCapabilities(have, want []string) bool {
	for _, req := range want {
		if !r.matchCapability(have, req) {
			return false
		}
	}
	return true
}

// matchCapability matches req exactly or, when it contains glob syntax,
// as a pattern. Malformed patterns only match literally.
func (r *Registry) matchCapability(have []string, req string) bool {
	for _, c := range have {
		if c == req {
			return true
		}
	}
	if !strings.ContainsAny(req, "*?[{") {
		return false
	}
	g := r.compile(req)
	if g == nil {
		return false
	}
	for _, c := range have {
		if g.Match(c) {
			return true
		}
	}
	return false
}

func (r *Registry) compile(pattern string) glob.Glob {
	if v, ok := r.patterns.Load(pattern); ok {
		g, _ := v.(glob.Glob)
		return g
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		r.patterns.Store(pattern, nil)
		return nil
	}
	r.patterns.Store(pattern, g)
	return g
}

// Sweep recomputes every worker's health as of now and publishes
// worker.health_changed for each worker whose health moved. It returns
// the number of changes.
func (r *Registry) Sweep(now time.Time) int {
	type change struct {
		id       string
		from, to Health
	}
	var changes []change

	for _, s := range r.shards {
		s.mu.Lock()
		for _, w := range s.workers {
			h := r.derive(*w, now)
			if h != w.Health {
				changes = append(changes, change{id: w.ID, from: w.Health, to: h})
				w.Health = h
			}
		}
		s.mu.Unlock()
	}

	for _, c := range changes {
		log := r.logger.WithWorker(c.id)
		if c.to == HealthUnhealthy {
			log.Warn("worker unhealthy", "from", string(c.from))
		} else {
			log.Info("worker health changed", "from", string(c.from), "to", string(c.to))
		}
		if r.bus != nil {
			r.bus.Publish(event.NewWorkerHealthChangedEvent(c.id, string(c.from), string(c.to)))
		}
	}
	return len(changes)
}

// Run sweeps health every sweep interval until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}
