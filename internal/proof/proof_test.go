package proof

import (
	"strings"
	"testing"

	"github.com/Iron-Ham/quorum/internal/task"
)

func TestAcceptAll(t *testing.T) {
	if v := (AcceptAll{}).Validate(task.Proof{}); !v.Valid {
		t.Errorf("AcceptAll rejected: %+v", v)
	}
}

func TestStructural(t *testing.T) {
	tests := []struct {
		name  string
		proof task.Proof
		valid bool
	}{
		{"work ok", task.Proof{Type: task.ProofWork, Data: strings.Repeat("a", 32)}, true},
		{"work short", task.Proof{Type: task.ProofWork, Data: "abc"}, false},
		{"storage ok", task.Proof{Type: task.ProofStorage, Data: strings.Repeat("a", 64)}, true},
		{"storage short", task.Proof{Type: task.ProofStorage, Data: strings.Repeat("a", 63)}, false},
		{"computation ok", task.Proof{Type: task.ProofComputation, Data: "x"}, true},
		{"computation empty", task.Proof{Type: task.ProofComputation}, false},
		{"stake", task.Proof{Type: task.ProofStake}, true},
		{"unknown type", task.Proof{Type: "vibes", Data: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := (Structural{}).Validate(tt.proof)
			if v.Valid != tt.valid {
				t.Errorf("Validate() = %+v, want valid=%v", v, tt.valid)
			}
			if !v.Valid && v.Reason == "" {
				t.Error("rejection without reason")
			}
		})
	}
}

func TestDigest(t *testing.T) {
	payload := []byte(`{"op":"render","frame":42}`)
	sum := Sum(payload)

	tests := []struct {
		name  string
		data  string
		valid bool
	}{
		{"plain", sum, true},
		{"prefixed", DigestPrefix + sum, true},
		{"uppercase", strings.ToUpper(sum), true},
		{"wrong payload", Sum([]byte("other")), false},
		{"not hex", strings.Repeat("z", 64), false},
		{"too short", sum[:10], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Check(Digest{}, task.Proof{Type: task.ProofComputation, Data: tt.data}, payload)
			if v.Valid != tt.valid {
				t.Errorf("Check() = %+v, want valid=%v", v, tt.valid)
			}
		})
	}
}

func TestDigest_WithoutPayloadChecksFormOnly(t *testing.T) {
	v := (Digest{}).Validate(task.Proof{Data: Sum([]byte("anything"))})
	if !v.Valid {
		t.Errorf("Validate() = %+v", v)
	}
}

func TestChain(t *testing.T) {
	payload := []byte("data")
	chain := Chain{Structural{}, Digest{}}

	ok := task.Proof{Type: task.ProofComputation, Data: Sum(payload)}
	if v := Check(chain, ok, payload); !v.Valid {
		t.Errorf("chain rejected valid proof: %+v", v)
	}

	bad := task.Proof{Type: task.ProofComputation, Data: Sum([]byte("tampered"))}
	v := Check(chain, bad, payload)
	if v.Valid || !strings.Contains(v.Reason, "payload") {
		t.Errorf("chain verdict = %+v", v)
	}

	var rejectAll Validator = Func(func(task.Proof) Verdict { return Reject("no") })
	if v := (Chain{AcceptAll{}, rejectAll}).Validate(ok); v.Valid || v.Reason != "no" {
		t.Errorf("chain verdict = %+v", v)
	}
}

func TestByName(t *testing.T) {
	for _, name := range Names() {
		if _, err := ByName(name); err != nil {
			t.Errorf("ByName(%q) error = %v", name, err)
		}
	}
	if v, _ := ByName(""); v != (AcceptAll{}) {
		t.Errorf("ByName(\"\") = %T", v)
	}
	if _, err := ByName("zk-snark"); err == nil {
		t.Error("expected error for unknown validator")
	}
}
