package task

import (
	"encoding/json"
	"testing"
)

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusReservePending, false},
		{StatusProposalPending, false},
		{StatusCommitted, false},
		{StatusAssigned, false},
		{StatusRunning, false},
		{StatusCancelRequested, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusReservePending, true},
		{StatusPending, StatusCommitted, false},
		{StatusReservePending, StatusProposalPending, true},
		{StatusProposalPending, StatusCommitted, true},
		{StatusCommitted, StatusAssigned, true},
		{StatusAssigned, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusPending, true},
		{StatusCancelRequested, StatusCancelled, true},
		{StatusCancelRequested, StatusCompleted, false},
		{StatusPending, StatusCancelled, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusFailed, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"critical", PriorityCritical, false},
		{"HIGH", PriorityHigh, false},
		{"", PriorityNormal, false},
		{" low ", PriorityLow, false},
		{"urgent", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePriority(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPriorityOrdering(t *testing.T) {
	bands := Priorities()
	for i := 1; i < len(bands); i++ {
		if bands[i-1] <= bands[i] {
			t.Errorf("band %v should outrank %v", bands[i-1], bands[i])
		}
	}
}

func TestCloneDoesNotShare(t *testing.T) {
	orig := Task{
		ID:           "t1",
		Payload:      json.RawMessage(`{"a":1}`),
		Requirements: Requirements{Capabilities: []string{"gpu"}},
		Proof:        &Proof{Type: ProofWork, Data: "abc"},
	}
	cp := orig.Clone()
	cp.Payload[0] = '['
	cp.Requirements.Capabilities[0] = "cpu"
	cp.Proof.Data = "changed"

	if string(orig.Payload) != `{"a":1}` {
		t.Errorf("payload shared: %s", orig.Payload)
	}
	if orig.Requirements.Capabilities[0] != "gpu" {
		t.Errorf("capabilities shared: %v", orig.Requirements.Capabilities)
	}
	if orig.Proof.Data != "abc" {
		t.Errorf("proof shared: %s", orig.Proof.Data)
	}
}
