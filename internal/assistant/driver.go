// ABOUTME: Run driver that turns one user message into one assistant reply
// ABOUTME: Adds the message, starts a run, polls it to a terminal state and fetches the reply

package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-relay/internal/session"
)

var (
	// ErrEmptyReply is returned when a completed run left no usable assistant message.
	ErrEmptyReply = errors.New("assistant returned an empty reply")

	// ErrRunTimeout is returned when a run is still pending after MaxAttempts polls.
	ErrRunTimeout = errors.New("assistant run timed out")
)

// RunFailedError reports a run that ended in failed, cancelled, expired or
// incomplete.
type RunFailedError struct {
	Status RunStatus
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("assistant run ended with status %q", e.Status)
}

// State is a step of one turn's state machine.
type State string

const (
	StateCreated      State = "created"
	StateMessageAdded State = "message_added"
	StateRunStarted   State = "run_started"
	StatePolling      State = "polling"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Transition describes one state change, reported to the Observer.
type Transition struct {
	SessionID string
	RunID     string
	From      State
	To        State
	Status    RunStatus // last run status seen, if any
	Attempt   int       // poll attempts made so far
	Err       error     // set when To is StateFailed
}

const (
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 30
)

// Options configures a Driver.
type Options struct {
	// PollInterval is the wait between status polls. Defaults to 1s.
	PollInterval time.Duration
	// MaxAttempts is the number of status polls allowed before ErrRunTimeout. Defaults to 30.
	MaxAttempts int
	// Observer, if set, receives every state transition.
	Observer func(Transition)
	Logger   *slog.Logger
}

// Driver executes turns against a Backend. It holds no per-turn state and is
// safe for concurrent use by many users.
type Driver struct {
	backend      Backend
	pollInterval time.Duration
	maxAttempts  int
	observer     func(Transition)
	logger       *slog.Logger
}

// NewDriver creates a Driver for backend.
func NewDriver(backend Backend, opts Options) *Driver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Driver{
		backend:      backend,
		pollInterval: opts.PollInterval,
		maxAttempts:  opts.MaxAttempts,
		observer:     opts.Observer,
		logger:       opts.Logger.With("component", "assistant"),
	}
}

// turn tracks the state machine for one Execute call.
type turn struct {
	d       *Driver
	run     Run
	state   State
	attempt int
}

func (t *turn) to(next State, err error) {
	tr := Transition{
		SessionID: t.run.SessionID,
		RunID:     t.run.RunID,
		From:      t.state,
		To:        next,
		Status:    t.run.Status,
		Attempt:   t.attempt,
		Err:       err,
	}
	t.state = next

	if err != nil {
		t.d.logger.Warn("run transition",
			"session_id", tr.SessionID, "run_id", tr.RunID,
			"from", tr.From, "to", tr.To, "status", tr.Status, "attempt", tr.Attempt, "error", err)
	} else {
		t.d.logger.Debug("run transition",
			"session_id", tr.SessionID, "run_id", tr.RunID,
			"from", tr.From, "to", tr.To, "status", tr.Status, "attempt", tr.Attempt)
	}
	if t.d.observer != nil {
		t.d.observer(tr)
	}
}

func (t *turn) fail(err error) error {
	t.to(StateFailed, err)
	return err
}

// Execute submits text to the session, drives a run to completion and returns
// the assistant's reply text. It fails with session.ErrInvalidSessionID
// (without calling the backend), *RunFailedError, ErrRunTimeout,
// ErrEmptyReply, a wrapped backend error or the context's error.
func (d *Driver) Execute(ctx context.Context, sessionID, text string) (string, error) {
	t := &turn{d: d, run: Run{SessionID: sessionID}, state: StateCreated}

	if _, err := session.ParseID(sessionID); err != nil {
		return "", t.fail(err)
	}

	if err := d.backend.AddMessage(ctx, sessionID, text); err != nil {
		return "", t.fail(fmt.Errorf("adding message: %w", err))
	}
	t.to(StateMessageAdded, nil)

	runID, err := d.backend.StartRun(ctx, sessionID)
	if err != nil {
		return "", t.fail(fmt.Errorf("starting run: %w", err))
	}
	t.run.RunID = runID
	t.run.Status = RunStatusQueued
	t.to(StateRunStarted, nil)

	t.to(StatePolling, nil)
	for {
		status, err := d.backend.RunStatus(ctx, sessionID, runID)
		if err != nil {
			return "", t.fail(fmt.Errorf("polling run: %w", err))
		}
		t.run.Status = status

		switch {
		case status == RunStatusCompleted:
			return t.collect(ctx)
		case status.Failed():
			return "", t.fail(&RunFailedError{Status: status})
		case !status.Pending():
			d.logger.Warn("unknown run status, still waiting", "run_id", runID, "status", status)
		}

		t.attempt++
		if t.attempt >= d.maxAttempts {
			return "", t.fail(ErrRunTimeout)
		}
		if err := d.wait(ctx); err != nil {
			return "", t.fail(err)
		}
	}
}

// collect reads the reply after the run completed.
func (t *turn) collect(ctx context.Context) (string, error) {
	msg, err := t.d.backend.LatestMessage(ctx, t.run.SessionID)
	if err != nil {
		return "", t.fail(fmt.Errorf("fetching reply: %w", err))
	}
	if msg == nil || msg.Role != RoleAssistant || strings.TrimSpace(msg.Text) == "" {
		return "", t.fail(ErrEmptyReply)
	}
	t.to(StateCompleted, nil)
	return msg.Text, nil
}

// wait suspends for one poll interval or until ctx is done.
func (d *Driver) wait(ctx context.Context) error {
	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
