// Package history records verification outcomes and reviewer decisions. The
// engine only emits events; storing them is this collaborator's job.
package history

import (
	"context"
	"time"
)

// Decision is a reviewer's explicit trust call on a commit.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// VerificationEvent is emitted after every legitimacy check.
type VerificationEvent struct {
	Repository string    `json:"repository"`
	SHA        string    `json:"sha"`
	Verdict    bool      `json:"verdict"`
	CheckedAt  time.Time `json:"checked_at"`
}

// DecisionEvent is emitted after a reviewer approves or rejects a commit.
type DecisionEvent struct {
	Repository string    `json:"repository"`
	SHA        string    `json:"sha"`
	Decision   Decision  `json:"decision"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Stats aggregates recorded activity for one repository.
type Stats struct {
	Verifications int64 `json:"verifications"`
	Passed        int64 `json:"passed"`
	Approved      int64 `json:"approved"`
	Rejected      int64 `json:"rejected"`
}

// Recorder consumes the event tuples the engine emits.
type Recorder interface {
	RecordVerification(ctx context.Context, event VerificationEvent) error
	RecordDecision(ctx context.Context, event DecisionEvent) error
}

// Noop discards every event. Used when no history backend is configured.
type Noop struct{}

func (Noop) RecordVerification(context.Context, VerificationEvent) error { return nil }
func (Noop) RecordDecision(context.Context, DecisionEvent) error         { return nil }
