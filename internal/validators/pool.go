package validators

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/quorum"
	"github.com/Iron-Ham/quorum/internal/registry"
)

// Voter accepts votes.
type Voter interface {
	CastVote(v quorum.Vote) (quorum.State, error)
}

// HealthChecker reports a worker's health.
type HealthChecker interface {
	Health(workerID string) (registry.Health, error)
}

// Policy is an extra condition a candidate must meet before validators
// approve it. Returning false rejects.
type Policy func(p event.ProposalOpenedEvent) bool

// Pool votes on every opened proposal on behalf of a set of validators.
// Each validator approves iff the candidate worker is healthy and the
// policy, if any, accepts the proposal.
type Pool struct {
	mu      sync.Mutex
	stopped bool
	bus     *event.Bus
	voter   Voter
	health  HealthChecker
	ids     []string
	policy  Policy
	delay   time.Duration
	subID   string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *logging.Logger

	approvals  atomic.Uint64
	rejections atomic.Uint64
}

// Option configures a Pool.
type Option func(*Pool)

// WithPolicy adds a condition on top of the health check.
func WithPolicy(p Policy) Option {
	return func(pl *Pool) { pl.policy = p }
}

// WithVoteDelay makes each validator wait d before voting.
func WithVoteDelay(d time.Duration) Option {
	return func(pl *Pool) { pl.delay = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(pl *Pool) {
		if l != nil {
			pl.logger = l
		}
	}
}

// NewPool creates a Pool voting as ids.
func NewPool(bus *event.Bus, voter Voter, health HealthChecker, ids []string, opts ...Option) *Pool {
	p := &Pool{
		bus:    bus,
		voter:  voter,
		health: health,
		ids:    append([]string(nil), ids...),
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start subscribes to proposal openings and votes on each one.
// It blocks until the context is cancelled or Stop is called. A stopped
// pool cannot be started again.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	subID := p.bus.Subscribe(event.TypeProposalOpened, func(e event.Event) {
		opened, ok := e.(event.ProposalOpenedEvent)
		if !ok || ctx.Err() != nil {
			return
		}
		p.vote(ctx, opened)
	})

	p.mu.Lock()
	p.subID = subID
	p.mu.Unlock()

	<-ctx.Done()

	// No vote goroutine is added once stopped is set, so Wait is safe.
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.bus.Unsubscribe(subID)
	p.wg.Wait()
}

// Stop unsubscribes from events and cancels the pool. It may be called
// before Start, in which case Start returns immediately.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancel
	subID := p.subID
	p.mu.Unlock()

	if subID != "" {
		p.bus.Unsubscribe(subID)
	}
	if cancel != nil {
		cancel()
	}
}

// Decide returns how the pool's validators vote on a proposal.
func (p *Pool) Decide(opened event.ProposalOpenedEvent) bool {
	h, err := p.health.Health(opened.CandidateWorker)
	if err != nil || h != registry.HealthHealthy {
		return false
	}
	return p.policy == nil || p.policy(opened)
}

func (p *Pool) vote(ctx context.Context, opened event.ProposalOpenedEvent) {
	approve := p.Decide(opened)
	log := p.logger.WithProposal(opened.ProposalID)
	log.Debug("voting", "task_id", opened.TaskID, "worker_id", opened.CandidateWorker, "approve", approve)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.wg.Add(len(p.ids))
	p.mu.Unlock()

	for _, id := range p.ids {
		go func() {
			defer p.wg.Done()
			if p.delay > 0 {
				timer := time.NewTimer(p.delay)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-ctx.Done():
					return
				}
			}
			if _, err := p.voter.CastVote(quorum.Vote{ValidatorID: id, ProposalID: opened.ProposalID, Approve: approve}); err != nil {
				log.Debug("vote not counted", "validator", id, "error", err)
				return
			}
			if approve {
				p.approvals.Add(1)
			} else {
				p.rejections.Add(1)
			}
		}()
	}
}

// Counts returns how many approving and rejecting votes were accepted.
func (p *Pool) Counts() (approvals, rejections uint64) {
	return p.approvals.Load(), p.rejections.Load()
}
