package quorum

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/logging"
)

// Defaults used by Config.withDefaults.
const (
	DefaultThreshold = 0.67
	DefaultTimeout   = 10 * time.Second
)

// Resolution reasons recorded on terminal proposals.
const (
	ReasonApproved  = "approved by validators"
	ReasonRejected  = "rejected by validators"
	ReasonTimedOut  = "vote deadline passed"
	ReasonWithdrawn = "withdrawn"
)

// thresholdEpsilon keeps float products such as 0.7*10 from rounding up
// to the next integer.
const thresholdEpsilon = 1e-9

// Config configures a Quorum.
type Config struct {
	// Validators is the fixed validator set. Votes from anyone else are refused.
	Validators []string
	// Threshold is the fraction of validators whose approval commits a proposal.
	Threshold float64
	// Timeout bounds how long a proposal may stay open.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Validators) == 0 {
		return errors.NewValidationError("at least one validator is required").WithField("validators")
	}
	seen := make(map[string]bool, len(c.Validators))
	for _, v := range c.Validators {
		if v == "" {
			return errors.NewValidationError("validator id must not be empty").WithField("validators")
		}
		if seen[v] {
			return errors.NewValidationError("duplicate validator").WithField("validators").WithValue(v)
		}
		seen[v] = true
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return errors.NewValidationError("threshold must be in (0, 1]").WithField("threshold").WithValue(c.Threshold)
	}
	if c.Timeout < 0 {
		return errors.NewValidationError("timeout must not be negative").WithField("timeout").WithValue(c.Timeout.String())
	}
	return nil
}

// RequiredVotes returns ceil(threshold * validators), at least 1.
func RequiredVotes(threshold float64, validators int) int {
	n := int(math.Ceil(threshold*float64(validators) - thresholdEpsilon))
	if n < 1 {
		n = 1
	}
	return n
}

// proposal is the owned, mutable form of a Proposal.
type proposal struct {
	mu    sync.Mutex
	p     Proposal
	done  chan struct{}
	timer *time.Timer
}

func (pp *proposal) snapshot() Proposal {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.p.clone()
}

// Quorum runs threshold votes over task assignment proposals. At most one
// non-terminal proposal exists per task, and every proposal reaches
// exactly one terminal state.
type Quorum struct {
	cfg      Config
	members  map[string]struct{}
	required int

	proposals sync.Map // proposal ID -> *proposal
	active    sync.Map // task ID -> *proposal while non-terminal

	now    func() time.Time
	bus    *event.Bus
	logger *logging.Logger
}

// Option configures a Quorum.
type Option func(*Quorum)

// WithBus publishes proposal events on bus.
func WithBus(bus *event.Bus) Option {
	return func(q *Quorum) { q.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(q *Quorum) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithClock overrides time.Now for proposal timestamps. Deadlines are
// still enforced with real timers.
func WithClock(now func() time.Time) Option {
	return func(q *Quorum) { q.now = now }
}

// New creates a Quorum. Zero Threshold and Timeout take the defaults.
func New(cfg Config, opts ...Option) (*Quorum, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Validators = append([]string(nil), cfg.Validators...)

	q := &Quorum{
		cfg:      cfg,
		members:  make(map[string]struct{}, len(cfg.Validators)),
		required: RequiredVotes(cfg.Threshold, len(cfg.Validators)),
		now:      time.Now,
		logger:   logging.NopLogger(),
	}
	for _, v := range cfg.Validators {
		q.members[v] = struct{}{}
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.WithComponent("quorum")
	return q, nil
}

// RequiredVotes returns the number of approvals that commit a proposal.
func (q *Quorum) RequiredVotes() int { return q.required }

// Validators returns the validator set in sorted order.
func (q *Quorum) Validators() []string {
	out := append([]string(nil), q.cfg.Validators...)
	sort.Strings(out)
	return out
}

// Timeout returns the voting window.
func (q *Quorum) Timeout() time.Duration { return q.cfg.Timeout }

// Propose opens a vote on assigning taskID to worker under the given
// reservation. It fails with ErrProposalInFlight while the task has
// another non-terminal proposal.
func (q *Quorum) Propose(taskID, worker, reservationToken string) (Proposal, error) {
	if taskID == "" || worker == "" {
		return Proposal{}, errors.NewValidationError("task and worker are required")
	}

	now := q.now()
	pp := &proposal{
		p: Proposal{
			ID:               uuid.NewString(),
			TaskID:           taskID,
			CandidateWorker:  worker,
			ReservationToken: reservationToken,
			Votes:            make(map[string]bool),
			State:            StateProposed,
			CreatedAt:        now,
			Deadline:         now.Add(q.cfg.Timeout),
		},
		done: make(chan struct{}),
	}

	for {
		existing, loaded := q.active.LoadOrStore(taskID, pp)
		if !loaded {
			break
		}
		other := existing.(*proposal)
		if !other.snapshot().State.IsTerminal() {
			return Proposal{}, fmt.Errorf("%w: task %s", errors.ErrProposalInFlight, taskID)
		}
		q.active.CompareAndDelete(taskID, other)
	}
	q.proposals.Store(pp.p.ID, pp)

	pp.mu.Lock()
	pp.p.State = StateVoting
	pp.timer = time.AfterFunc(q.cfg.Timeout, func() {
		q.resolve(pp, StateTimedOut, ReasonTimedOut)
	})
	snap := pp.p.clone()
	pp.mu.Unlock()

	q.logger.WithProposal(snap.ID).Debug("proposal opened",
		"task_id", taskID, "worker_id", worker, "required", q.required)
	if q.bus != nil {
		q.bus.Publish(event.NewProposalOpenedEvent(snap.ID, taskID, worker, snap.Deadline))
	}
	return snap, nil
}

// CastVote records a validator's vote and returns the proposal's state
// afterwards. A second vote by the same validator fails with
// ErrDuplicateVote and changes nothing. Votes arriving after the proposal
// resolved are ignored.
func (q *Quorum) CastVote(v Vote) (State, error) {
	pp, err := q.lookup(v.ProposalID)
	if err != nil {
		return "", err
	}
	if _, ok := q.members[v.ValidatorID]; !ok {
		return "", fmt.Errorf("%w: %s", errors.ErrUnknownValidator, v.ValidatorID)
	}

	pp.mu.Lock()
	if _, voted := pp.p.Votes[v.ValidatorID]; voted {
		pp.mu.Unlock()
		return "", fmt.Errorf("%w: validator %s on proposal %s", errors.ErrDuplicateVote, v.ValidatorID, v.ProposalID)
	}
	if pp.p.State.IsTerminal() {
		state := pp.p.State
		pp.mu.Unlock()
		return state, nil
	}

	pp.p.Votes[v.ValidatorID] = v.Approve
	votesFor, votesAgainst := pp.p.Tally()

	resolved := false
	switch {
	case votesFor >= q.required:
		resolved = q.finishLocked(pp, StateCommitted, ReasonApproved)
	case votesAgainst > len(q.cfg.Validators)-q.required:
		resolved = q.finishLocked(pp, StateRejected, ReasonRejected)
	}
	state := pp.p.State
	pp.mu.Unlock()

	if q.bus != nil {
		q.bus.Publish(event.NewVoteCastEvent(v.ProposalID, v.ValidatorID, v.Approve))
	}
	if resolved {
		q.afterResolve(pp)
	}
	return state, nil
}

// Await blocks until the proposal resolves or ctx is done.
func (q *Quorum) Await(ctx context.Context, proposalID string) (Outcome, error) {
	pp, err := q.lookup(proposalID)
	if err != nil {
		return Outcome{}, err
	}
	select {
	case <-pp.done:
		return pp.snapshot().Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Withdraw resolves a still-open proposal as rejected with reason. It is
// a no-op for proposals that already resolved.
func (q *Quorum) Withdraw(proposalID, reason string) error {
	pp, err := q.lookup(proposalID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = ReasonWithdrawn
	}
	q.resolve(pp, StateRejected, reason)
	return nil
}

// Get returns a snapshot of the proposal.
func (q *Quorum) Get(proposalID string) (Proposal, error) {
	pp, err := q.lookup(proposalID)
	if err != nil {
		return Proposal{}, err
	}
	return pp.snapshot(), nil
}

// Active returns the task's non-terminal proposal, if any.
func (q *Quorum) Active(taskID string) (Proposal, bool) {
	v, ok := q.active.Load(taskID)
	if !ok {
		return Proposal{}, false
	}
	p := v.(*proposal).snapshot()
	if p.State.IsTerminal() {
		return Proposal{}, false
	}
	return p, true
}

// Prune forgets terminal proposals resolved before cutoff and returns how
// many were dropped.
func (q *Quorum) Prune(cutoff time.Time) int {
	var n int
	q.proposals.Range(func(key, value any) bool {
		p := value.(*proposal).snapshot()
		if p.State.IsTerminal() && p.ResolvedAt.Before(cutoff) {
			q.proposals.Delete(key)
			n++
		}
		return true
	})
	return n
}

func (q *Quorum) lookup(proposalID string) (*proposal, error) {
	v, ok := q.proposals.Load(proposalID)
	if !ok {
		return nil, errors.NewNotFoundError("proposal", proposalID)
	}
	return v.(*proposal), nil
}

// resolve moves pp to a terminal state unless it already has one.
func (q *Quorum) resolve(pp *proposal, state State, reason string) bool {
	pp.mu.Lock()
	ok := q.finishLocked(pp, state, reason)
	pp.mu.Unlock()
	if ok {
		q.afterResolve(pp)
	}
	return ok
}

// finishLocked must be called with pp.mu held.
func (q *Quorum) finishLocked(pp *proposal, state State, reason string) bool {
	if pp.p.State.IsTerminal() {
		return false
	}
	pp.p.State = state
	pp.p.Reason = reason
	pp.p.ResolvedAt = q.now()
	if pp.timer != nil {
		pp.timer.Stop()
	}
	close(pp.done)
	return true
}

// afterResolve runs outside pp.mu.
func (q *Quorum) afterResolve(pp *proposal) {
	p := pp.snapshot()
	q.active.CompareAndDelete(p.TaskID, pp)

	votesFor, votesAgainst := p.Tally()
	q.logger.WithProposal(p.ID).Info("proposal resolved",
		"task_id", p.TaskID, "worker_id", p.CandidateWorker, "state", string(p.State),
		"for", votesFor, "against", votesAgainst, "reason", p.Reason)
	if q.bus != nil {
		q.bus.Publish(event.NewProposalResolvedEvent(p.ID, p.TaskID, string(p.State), p.Reason, votesFor, votesAgainst))
	}
}
