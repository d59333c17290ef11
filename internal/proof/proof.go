// Package proof provides the proof checks applied to proof-gated tasks.
//
// The engine treats a validator as an opaque, side-effect-free predicate
// over a task's proof. Validators that also need the task payload, such
// as [Digest], implement [PayloadValidator] and are handed the payload.
package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Iron-Ham/quorum/internal/task"
)

// Verdict is the outcome of validating a proof.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Accept returns a passing verdict.
func Accept() Verdict { return Verdict{Valid: true} }

// Reject returns a failing verdict with the given reason.
func Reject(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// Validator checks a proof.
type Validator interface {
	Validate(p task.Proof) Verdict
}

// PayloadValidator checks a proof against the payload it attests to.
type PayloadValidator interface {
	Validator
	ValidatePayload(p task.Proof, payload []byte) Verdict
}

// Check runs v against p, passing payload when v wants it.
func Check(v Validator, p task.Proof, payload []byte) Verdict {
	if pv, ok := v.(PayloadValidator); ok {
		return pv.ValidatePayload(p, payload)
	}
	return v.Validate(p)
}

// Func adapts a function to Validator.
type Func func(task.Proof) Verdict

// Validate calls f.
func (f Func) Validate(p task.Proof) Verdict { return f(p) }

// AcceptAll accepts every proof.
type AcceptAll struct{}

// Validate always passes.
func (AcceptAll) Validate(task.Proof) Verdict { return Accept() }

// Structural checks the minimum size each proof type must have.
type Structural struct{}

// Minimum proof data sizes by type, in bytes.
const (
	MinWorkProofSize    = 32
	MinStorageProofSize = 64
)

// Validate checks p.Data against the size rule for p.Type.
func (Structural) Validate(p task.Proof) Verdict {
	switch p.Type {
	case task.ProofWork:
		if len(p.Data) < MinWorkProofSize {
			return Reject("work proof shorter than %d bytes", MinWorkProofSize)
		}
	case task.ProofStorage:
		if len(p.Data) < MinStorageProofSize {
			return Reject("storage proof shorter than %d bytes", MinStorageProofSize)
		}
	case task.ProofComputation:
		if p.Data == "" {
			return Reject("empty computation proof")
		}
	case task.ProofStake:
	default:
		return Reject("unknown proof type %q", p.Type)
	}
	return Accept()
}

// DigestPrefix optionally precedes the hex digest in proof data.
const DigestPrefix = "sha256:"

// Digest accepts a proof whose data is the hex SHA-256 of the task
// payload, optionally prefixed with "sha256:".
type Digest struct{}

// Validate checks that p.Data is a well-formed digest.
func (Digest) Validate(p task.Proof) Verdict {
	sum := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p.Data)), DigestPrefix)
	if len(sum) != sha256.Size*2 {
		return Reject("digest must be %d hex characters", sha256.Size*2)
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return Reject("digest is not hex: %v", err)
	}
	return Accept()
}

// ValidatePayload checks that p.Data is the digest of payload.
func (d Digest) ValidatePayload(p task.Proof, payload []byte) Verdict {
	if v := d.Validate(p); !v.Valid {
		return v
	}
	sum := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p.Data)), DigestPrefix)
	if sum != Sum(payload) {
		return Reject("digest does not match payload")
	}
	return Accept()
}

// Sum returns the hex SHA-256 of payload.
func Sum(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

// Chain passes only if every validator passes, reporting the first failure.
type Chain []Validator

// Validate runs every validator without a payload.
func (c Chain) Validate(p task.Proof) Verdict {
	return c.ValidatePayload(p, nil)
}

// ValidatePayload runs every validator, handing payload to those that want it.
func (c Chain) ValidatePayload(p task.Proof, payload []byte) Verdict {
	for _, v := range c {
		if verdict := Check(v, p, payload); !verdict.Valid {
			return verdict
		}
	}
	return Accept()
}

// ByName returns the validator configured under name.
func ByName(name string) (Validator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "accept-all":
		return AcceptAll{}, nil
	case "structural":
		return Structural{}, nil
	case "digest":
		return Digest{}, nil
	}
	return nil, fmt.Errorf("unknown proof validator %q", name)
}

// Names lists the validators accepted by ByName.
func Names() []string {
	return []string{"accept-all", "structural", "digest"}
}
