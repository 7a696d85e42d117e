// ABOUTME: Backend interface for the hosted assistant and run status values
// ABOUTME: Defines the session/message/run operations the run driver depends on

package assistant

import "context"

// RunStatus is the status a backend reports for a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// Pending reports whether the run is still being worked on.
func (s RunStatus) Pending() bool {
	switch s {
	case RunStatusQueued, RunStatusInProgress, RunStatusRequiresAction, RunStatusCancelling:
		return true
	}
	return false
}

// Failed reports whether the run ended without a reply.
func (s RunStatus) Failed() bool {
	switch s {
	case RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return true
	}
	return false
}

// RoleAssistant is the author role of assistant replies.
const RoleAssistant = "assistant"

// Message is one message read back from a session.
type Message struct {
	ID   string
	Role string
	Text string
}

// Run is the transient state of one run within a turn.
type Run struct {
	SessionID string
	RunID     string
	Status    RunStatus
}

// Backend is the hosted assistant API, keyed by session and run ids.
type Backend interface {
	// CreateSession opens a new conversation session and returns its raw id.
	CreateSession(ctx context.Context) (string, error)
	// AddMessage appends a user message to the session.
	AddMessage(ctx context.Context, sessionID, text string) error
	// StartRun asks the assistant to respond to the session and returns the run id.
	StartRun(ctx context.Context, sessionID string) (string, error)
	// RunStatus fetches the current status of a run.
	RunStatus(ctx context.Context, sessionID, runID string) (RunStatus, error)
	// LatestMessage returns the newest message in the session, or nil if there is none.
	LatestMessage(ctx context.Context, sessionID string) (*Message, error)
}
