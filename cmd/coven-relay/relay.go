// ABOUTME: Glue between the inbound queue, the conversation service and the transport
// ABOUTME: Each drained payload becomes one turn and one reply in the same room

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/inbound"
	"github.com/2389/coven-relay/internal/media"
)

// transport is what the relay needs from the chat side.
type transport interface {
	Send(ctx context.Context, userID, text string) error
	Typing(userID string, typing bool)
	Fetch(ctx context.Context, m *media.Media) error
}

// turnHandler is what the relay needs from the conversation service.
type turnHandler interface {
	HandleTurn(ctx context.Context, turn conversation.Turn) string
	HandleMedia(ctx context.Context, userID string, m media.Media) string
	Apology() string
}

type relay struct {
	transport    transport
	turns        turnHandler
	mediaEnabled bool
	logger       *slog.Logger
}

// handle is the inbound.Handler: one payload in, one reply out.
func (r *relay) handle(ctx context.Context, userID string, p inbound.Payload) error {
	r.transport.Typing(userID, true)
	defer r.transport.Typing(userID, false)

	var reply string
	switch p.Kind {
	case inbound.KindText:
		reply = r.turns.HandleTurn(ctx, conversation.Turn{UserID: userID, Text: p.Text})

	case inbound.KindMedia:
		if p.Media == nil {
			return fmt.Errorf("media payload %s has no attachment", p.EventID)
		}
		m := *p.Media
		if r.mediaEnabled {
			if err := r.transport.Fetch(ctx, &m); err != nil {
				r.logger.Warn("failed to fetch attachment",
					"user_id", userID, "event_id", p.EventID, "source", m.Source, "error", err)
				reply = r.turns.Apology()
				break
			}
		}
		reply = r.turns.HandleMedia(ctx, userID, m)

	default:
		return fmt.Errorf("unknown payload kind %q", p.Kind)
	}

	if reply == "" {
		return nil
	}
	return r.transport.Send(ctx, userID, reply)
}
