package quorum

import "time"

// State is the lifecycle state of a proposal.
type State string

const (
	StateProposed  State = "proposed"
	StateVoting    State = "voting"
	StateCommitted State = "committed"
	StateRejected  State = "rejected"
	StateTimedOut  State = "timed_out"
)

// IsTerminal returns true once the proposal can no longer change.
func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StateRejected || s == StateTimedOut
}

// Proposal asks the validators to approve assigning a task to a worker.
type Proposal struct {
	ID               string          `json:"id"`
	TaskID           string          `json:"task_id"`
	CandidateWorker  string          `json:"candidate_worker"`
	ReservationToken string          `json:"reservation_token"`
	Votes            map[string]bool `json:"votes"` // validator -> approve
	State            State           `json:"state"`
	Reason           string          `json:"reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	Deadline         time.Time       `json:"deadline"`
	ResolvedAt       time.Time       `json:"resolved_at,omitempty"`
}

// Tally counts approvals and rejections.
func (p Proposal) Tally() (votesFor, votesAgainst int) {
	for _, approve := range p.Votes {
		if approve {
			votesFor++
		} else {
			votesAgainst++
		}
	}
	return votesFor, votesAgainst
}

// Outcome summarizes a proposal once it resolves.
func (p Proposal) Outcome() Outcome {
	votesFor, votesAgainst := p.Tally()
	return Outcome{
		ProposalID: p.ID,
		State:      p.State,
		Reason:     p.Reason,
		For:        votesFor,
		Against:    votesAgainst,
	}
}

func (p Proposal) clone() Proposal {
	cp := p
	cp.Votes = make(map[string]bool, len(p.Votes))
	for k, v := range p.Votes {
		cp.Votes[k] = v
	}
	return cp
}

// Vote is one validator's decision on a proposal.
type Vote struct {
	ValidatorID string `json:"validator_id"`
	ProposalID  string `json:"proposal_id"`
	Approve     bool   `json:"approve"`
}

// Outcome is the result returned by Await.
type Outcome struct {
	ProposalID string `json:"proposal_id"`
	State      State  `json:"state"`
	Reason     string `json:"reason,omitempty"`
	For        int    `json:"for"`
	Against    int    `json:"against"`
}
