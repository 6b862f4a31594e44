// Package remote defines the contract between the dispatcher and a central
// store, plus the MySQL implementation of it. The dispatcher never talks SQL
// to the central side directly; it only sees push outcomes.
package remote

import (
	"context"
	"time"
)

type Outcome string

const (
	// OutcomeAccepted means the central store durably holds the pushed state.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeConflict means the central store holds a diverged version;
	// RemotePayload/RemoteLastModified carry it back for resolution.
	OutcomeConflict Outcome = "conflict"
	// OutcomeTransient means the push may succeed if retried (network,
	// timeout, contention).
	OutcomeTransient Outcome = "transient_error"
	// OutcomePermanent means retrying the same payload cannot succeed
	// (structural rejection).
	OutcomePermanent Outcome = "permanent_error"
)

// PushRequest is one record bound for the central store. TableName is the
// remote-side name; the dispatcher applies the local→remote mapping before
// building the request. Force bypasses the timestamp guard and is only set
// by the LocalWins resolution path.
type PushRequest struct {
	TenantID        string
	TableName       string
	RecordID        string
	PrimaryKey      string
	TimestampColumn string
	Payload         map[string]interface{}
	LastModified    time.Time
	Force           bool
}

type PushResult struct {
	Outcome            Outcome
	RemotePayload      map[string]interface{}
	RemoteLastModified time.Time
	Message            string
}

// Pusher ships one record to the central store. Implementations must scope
// every operation to req.TenantID and must never report OutcomeAccepted
// without the write being durable.
type Pusher interface {
	Push(ctx context.Context, req PushRequest) (*PushResult, error)
}
