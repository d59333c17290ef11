package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/task"
)

// Defaults applied by New when no option overrides them.
const (
	DefaultLeaseTTL      = 60 * time.Second
	DefaultSweepInterval = 5 * time.Second
)

// Resource is a pool of interchangeable units that tasks reserve.
type Resource struct {
	ID        string            `json:"id"`
	Type      task.ResourceType `json:"type"`
	Capacity  uint64            `json:"capacity"`
	Available uint64            `json:"available"`
}

// Reservation holds units of a resource on behalf of one task.
// Uncommitted reservations lapse at LeaseExpiry.
type Reservation struct {
	Token       string    `json:"token"`
	ResourceID  string    `json:"resource_id"`
	TaskID      string    `json:"task_id"`
	Amount      uint64    `json:"amount"`
	LeaseExpiry time.Time `json:"lease_expiry,omitempty"`
	Committed   bool      `json:"committed"`
	CreatedAt   time.Time `json:"created_at"`
}

// entry is a resource plus its live reservations, guarded by its own mutex.
type entry struct {
	mu           sync.Mutex
	res          Resource
	reservations map[string]*Reservation

	// released is closed and replaced every time units return to the
	// pool, waking ReserveWait callers.
	released chan struct{}
}

// returnUnits must be called with e.mu held.
func (e *entry) returnUnits(r *Reservation) {
	delete(e.reservations, r.Token)
	e.res.Available += r.Amount
	close(e.released)
	e.released = make(chan struct{})
}

// Ledger tracks resource capacity and the reservations held against it.
// Each resource has its own lock, so reservations against different
// resources never contend. The entries map is only written by Register.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry

	// tokens maps reservation token -> *entry.
	tokens sync.Map

	leaseTTL      time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	bus           *event.Bus
	logger        *logging.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLeaseTTL sets how long an uncommitted reservation is held.
func WithLeaseTTL(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.leaseTTL = d
		}
	}
}

// WithSweepInterval sets how often Run expires lapsed leases.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.sweepInterval = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithBus publishes reservation.expired events on bus.
func WithBus(bus *event.Bus) Option {
	return func(l *Ledger) { l.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates an empty Ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		entries:       make(map[string]*entry),
		leaseTTL:      DefaultLeaseTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithComponent("ledger")
	return l
}

// Register adds a resource with all of its capacity available.
func (l *Ledger) Register(r Resource) error {
	if r.ID == "" {
		return errors.NewValidationError("resource id is required").WithField("id")
	}
	if !r.Type.Valid() {
		return errors.NewValidationError("unknown resource type").WithField("type").WithValue(string(r.Type))
	}
	if r.Capacity == 0 {
		return errors.NewValidationError("capacity must be positive").WithField("capacity").WithValue(r.Capacity)
	}
	r.Available = r.Capacity

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[r.ID]; ok {
		return errors.NewAlreadyExistsError("resource", r.ID)
	}
	l.entries[r.ID] = &entry{
		res:          r,
		reservations: make(map[string]*Reservation),
		released:     make(chan struct{}),
	}
	l.logger.Info("resource registered", "resource_id", r.ID, "type", string(r.Type), "capacity", r.Capacity)
	return nil
}

func (l *Ledger) entry(resourceID string) (*entry, error) {
	l.mu.RLock()
	e, ok := l.entries[resourceID]
	l.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("resource", resourceID)
	}
	return e, nil
}

// Reserve takes amount units of the resource for taskID and returns the
// reservation token. It fails immediately with ErrInsufficientResources
// when too few units are available.
func (l *Ledger) Reserve(resourceID string, amount uint64, taskID string) (string, error) {
	e, err := l.entry(resourceID)
	if err != nil {
		return "", err
	}
	token, _, err := l.tryReserve(e, amount, taskID)
	return token, err
}

// ReserveWait is Reserve with a bounded wait: while the resource is short
// it blocks until units are released, wait elapses, or ctx is done. A
// request larger than the resource's capacity fails without waiting.
func (l *Ledger) ReserveWait(ctx context.Context, resourceID string, amount uint64, taskID string, wait time.Duration) (string, error) {
	e, err := l.entry(resourceID)
	if err != nil {
		return "", err
	}

	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		token, released, err := l.tryReserve(e, amount, taskID)
		if err == nil || released == nil || deadline == nil {
			return token, err
		}
		select {
		case <-released:
		case <-deadline:
			return "", err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// tryReserve returns the release channel to wait on when the reservation
// could succeed later, captured under the same lock as the failed check.
func (l *Ledger) tryReserve(e *entry, amount uint64, taskID string) (string, <-chan struct{}, error) {
	if amount == 0 {
		return "", nil, errors.NewValidationError("amount must be positive").WithField("amount").WithValue(amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.res.Available < amount {
		err := fmt.Errorf("%w: resource %s has %d of %d available, need %d",
			errors.ErrInsufficientResources, e.res.ID, e.res.Available, e.res.Capacity, amount)
		if amount > e.res.Capacity {
			return "", nil, err
		}
		return "", e.released, err
	}

	now := l.now()
	r := &Reservation{
		Token:       uuid.NewString(),
		ResourceID:  e.res.ID,
		TaskID:      taskID,
		Amount:      amount,
		LeaseExpiry: now.Add(l.leaseTTL),
		CreatedAt:   now,
	}
	e.res.Available -= amount
	e.reservations[r.Token] = r
	l.tokens.Store(r.Token, e)

	l.logger.Debug("reserved", "resource_id", e.res.ID, "task_id", taskID, "amount", amount, "available", e.res.Available)
	return r.Token, nil, nil
}

// Commit marks a reservation as held for the life of its task. Committed
// reservations never expire and must be released explicitly.
func (l *Ledger) Commit(token string) error {
	v, ok := l.tokens.Load(token)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrReservationNotFound, token)
	}
	e := v.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.reservations[token]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrReservationNotFound, token)
	}
	r.Committed = true
	r.LeaseExpiry = time.Time{}
	return nil
}

// Release returns a reservation's units to its resource. Unknown or
// already-released tokens are a no-op.
func (l *Ledger) Release(token string) error {
	v, ok := l.tokens.LoadAndDelete(token)
	if !ok {
		return nil
	}
	e := v.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.reservations[token]
	if !ok {
		return nil
	}
	e.returnUnits(r)
	l.logger.Debug("released", "resource_id", e.res.ID, "task_id", r.TaskID, "amount", r.Amount, "available", e.res.Available)
	return nil
}

// ExpireLeases releases every uncommitted reservation whose lease ended
// before now and returns how many were released.
func (l *Ledger) ExpireLeases(now time.Time) int {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	var expired []Reservation
	for _, e := range entries {
		e.mu.Lock()
		for token, r := range e.reservations {
			if r.Committed || !now.After(r.LeaseExpiry) {
				continue
			}
			l.tokens.Delete(token)
			e.returnUnits(r)
			expired = append(expired, *r)
		}
		e.mu.Unlock()
	}

	for _, r := range expired {
		l.logger.Warn("reservation lease expired",
			"resource_id", r.ResourceID, "task_id", r.TaskID, "amount", r.Amount)
		if l.bus != nil {
			l.bus.Publish(event.NewReservationExpiredEvent(r.Token, r.ResourceID, r.TaskID, r.Amount))
		}
	}
	return len(expired)
}

// Run expires lapsed leases every sweep interval until ctx is done.
func (l *Ledger) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.ExpireLeases(l.now())
		}
	}
}

// Get returns a snapshot of the resource.
func (l *Ledger) Get(resourceID string) (Resource, error) {
	e, err := l.entry(resourceID)
	if err != nil {
		return Resource{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.res, nil
}

// List returns snapshots of all resources ordered by ID.
func (l *Ledger) List() []Resource {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]Resource, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.res)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reservation returns a snapshot of the reservation behind token.
func (l *Ledger) Reservation(token string) (Reservation, bool) {
	v, ok := l.tokens.Load(token)
	if !ok {
		return Reservation{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.reservations[token]
	if !ok {
		return Reservation{}, false
	}
	return *r, true
}

// Reservations returns the live reservations against a resource, oldest first.
func (l *Ledger) Reservations(resourceID string) ([]Reservation, error) {
	e, err := l.entry(resourceID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	out := make([]Reservation, 0, len(e.reservations))
	for _, r := range e.reservations {
		out = append(out, *r)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Token < out[j].Token
	})
	return out, nil
}

// Outstanding returns the total units held by live reservations.
func (l *Ledger) Outstanding(resourceID string) (uint64, error) {
	e, err := l.entry(resourceID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var sum uint64
	for _, r := range e.reservations {
		sum += r.Amount
	}
	return sum, nil
}
