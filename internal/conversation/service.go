// ABOUTME: Service turns one logical user message into one reply text
// ABOUTME: Resolves the user's session, frames the text, drives the assistant and sanitizes the result

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2389/coven-relay/internal/media"
	"github.com/2389/coven-relay/internal/sanitize"
	"github.com/2389/coven-relay/internal/session"
	"github.com/2389/coven-relay/internal/store"
)

// errBlankReply is returned when sanitizing left nothing to send.
var errBlankReply = errors.New("reply is empty after sanitizing")

// SessionStore defines what the service needs from the session registry
type SessionStore interface {
	Get(userID string) (session.ID, bool)
	Set(userID, raw string) (session.ID, error)
	Remove(userID string)
	IsFirstInteraction(userID string) bool
	Touch(userID string)
}

// SessionCreator opens new sessions on the assistant backend
type SessionCreator interface {
	CreateSession(ctx context.Context) (string, error)
}

// Runner executes one turn on an existing session
type Runner interface {
	Execute(ctx context.Context, sessionID, text string) (string, error)
}

// TurnLog records handled turns
type TurnLog interface {
	SaveTurn(ctx context.Context, turn *store.TurnRecord) error
}

// Turn is one logical user message.
type Turn struct {
	UserID string
	Text   string
	// MediaType tags turns that came from an image or audio attachment.
	MediaType string
}

// Options wires a Service. Sessions, Creator and Runner are required.
type Options struct {
	Sessions SessionStore
	Creator  SessionCreator
	Runner   Runner

	Pipeline    media.Pipeline   // nil disables media turns
	Turns       TurnLog          // nil disables the conversation log
	Broadcaster *TurnBroadcaster // nil disables live turn events

	Framing *Framing // nil uses DefaultFraming
	Apology string   // empty uses DefaultApology
	// Sanitize post-processes raw replies. Defaults to sanitize.Reply.
	Sanitize func(string) string

	Logger *slog.Logger
}

// Service is the single place where turn failures become the apology.
type Service struct {
	sessions    SessionStore
	creator     SessionCreator
	runner      Runner
	pipeline    media.Pipeline
	turns       TurnLog
	broadcaster *TurnBroadcaster
	framing     *Framing
	apology     string
	sanitize    func(string) string
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Sessions == nil || opts.Creator == nil || opts.Runner == nil {
		return nil, errors.New("conversation: sessions, creator and runner are required")
	}
	if opts.Framing == nil {
		opts.Framing = DefaultFraming()
	}
	if opts.Apology == "" {
		opts.Apology = DefaultApology
	}
	if opts.Sanitize == nil {
		opts.Sanitize = sanitize.Reply
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		sessions:    opts.Sessions,
		creator:     opts.Creator,
		runner:      opts.Runner,
		pipeline:    opts.Pipeline,
		turns:       opts.Turns,
		broadcaster: opts.Broadcaster,
		framing:     opts.Framing,
		apology:     opts.Apology,
		sanitize:    opts.Sanitize,
		logger:      opts.Logger.With("component", "conversation"),
		now:         time.Now,
	}, nil
}

// Apology returns the fixed text sent when a turn fails.
func (s *Service) Apology() string {
	return s.apology
}

// HandleTurn processes one message and returns the text to send back. It
// never fails: any error resets the user's session and yields the apology.
func (s *Service) HandleTurn(ctx context.Context, turn Turn) string {
	start := s.now()
	reply, sessionID, err := s.safeRun(ctx, turn)
	elapsed := s.now().Sub(start)

	rec := &store.TurnRecord{
		UserID:    turn.UserID,
		SessionID: sessionID,
		MediaType: turn.MediaType,
		Input:     turn.Text,
		Latency:   elapsed,
		CreatedAt: start,
	}

	if err != nil {
		s.logger.Error("turn failed",
			"user_id", turn.UserID,
			"input", truncate(turn.Text, 80),
			"elapsed", elapsed,
			"error", err)
		s.sessions.Remove(turn.UserID)

		rec.Status = store.TurnStatusError
		rec.Error = err.Error()
		rec.Reply = s.apology
		s.record(rec)
		return s.apology
	}

	s.sessions.Touch(turn.UserID)
	rec.Status = store.TurnStatusOK
	rec.Reply = reply
	s.record(rec)

	s.logger.Info("turn completed",
		"user_id", turn.UserID,
		"session_id", sessionID,
		"media_type", turn.MediaType,
		"elapsed", elapsed)
	return reply
}

// HandleMedia converts an attachment to text and handles it as a turn. A
// pipeline failure yields the apology without touching the user's session.
func (s *Service) HandleMedia(ctx context.Context, userID string, m media.Media) string {
	start := s.now()

	text, err := s.describe(ctx, m)
	if err != nil {
		elapsed := s.now().Sub(start)
		s.logger.Error("media turn failed",
			"user_id", userID,
			"kind", m.Kind,
			"bytes", len(m.Data),
			"elapsed", elapsed,
			"error", err)
		s.record(&store.TurnRecord{
			UserID:    userID,
			MediaType: string(m.Kind),
			Input:     truncate(m.Caption, 200),
			Reply:     s.apology,
			Status:    store.TurnStatusError,
			Error:     err.Error(),
			Latency:   elapsed,
			CreatedAt: start,
		})
		return s.apology
	}

	return s.HandleTurn(ctx, Turn{UserID: userID, Text: text, MediaType: string(m.Kind)})
}

func (s *Service) describe(ctx context.Context, m media.Media) (string, error) {
	if s.pipeline == nil {
		return "", fmt.Errorf("%w: no media pipeline configured", media.ErrUnsupported)
	}
	text, err := s.pipeline.Describe(ctx, m)
	if err != nil {
		return "", fmt.Errorf("describing media: %w", err)
	}
	framed, err := s.framing.FrameMedia(string(m.Kind), text, m.Caption)
	if err != nil {
		return "", err
	}
	return framed, nil
}

// safeRun converts a panic anywhere in the turn into an error.
func (s *Service) safeRun(ctx context.Context, turn Turn) (reply, sessionID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during turn: %v", r)
		}
	}()
	return s.run(ctx, turn)
}

func (s *Service) run(ctx context.Context, turn Turn) (string, string, error) {
	first := s.sessions.IsFirstInteraction(turn.UserID)

	id, ok := s.sessions.Get(turn.UserID)
	if !ok {
		raw, err := s.creator.CreateSession(ctx)
		if err != nil {
			return "", "", fmt.Errorf("creating session: %w", err)
		}
		id, err = s.sessions.Set(turn.UserID, raw)
		if err != nil {
			return "", raw, fmt.Errorf("storing session: %w", err)
		}
		s.logger.Info("session created", "user_id", turn.UserID, "session_id", id)
	}

	framed, err := s.framing.Frame(first, turn.UserID, turn.Text)
	if err != nil {
		return "", id.String(), err
	}

	raw, err := s.runner.Execute(ctx, id.String(), framed)
	if err != nil {
		return "", id.String(), err
	}

	reply := s.sanitize(raw)
	if strings.TrimSpace(reply) == "" {
		return "", id.String(), errBlankReply
	}
	return reply, id.String(), nil
}

// record saves the turn with a fresh timeout so logging survives a
// cancelled request context.
func (s *Service) record(rec *store.TurnRecord) {
	if s.turns != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.turns.SaveTurn(saveCtx, rec); err != nil {
			s.logger.Warn("failed to record turn", "user_id", rec.UserID, "error", err)
		}
	}
	if s.broadcaster != nil {
		c := *rec
		s.broadcaster.Publish(&c)
	}
}

// truncate shortens s to at most n runes for logging.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
