// ABOUTME: Rate limiting middleware for assistant backends
// ABOUTME: Blocks each remote call on a shared token bucket before delegating

package assistant

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type limitedBackend struct {
	next    Backend
	limiter *rate.Limiter
}

// RateLimit wraps next so every remote call first takes a token from limiter.
// Polls share the limiter with message and run creation.
// A nil limiter returns next unchanged.
func RateLimit(next Backend, limiter *rate.Limiter) Backend {
	if next == nil || limiter == nil {
		return next
	}
	return &limitedBackend{next: next, limiter: limiter}
}

func (l *limitedBackend) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

func (l *limitedBackend) CreateSession(ctx context.Context) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.next.CreateSession(ctx)
}

func (l *limitedBackend) AddMessage(ctx context.Context, sessionID, text string) error {
	if err := l.wait(ctx); err != nil {
		return err
	}
	return l.next.AddMessage(ctx, sessionID, text)
}

func (l *limitedBackend) StartRun(ctx context.Context, sessionID string) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.next.StartRun(ctx, sessionID)
}

func (l *limitedBackend) RunStatus(ctx context.Context, sessionID, runID string) (RunStatus, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.next.RunStatus(ctx, sessionID, runID)
}

func (l *limitedBackend) LatestMessage(ctx context.Context, sessionID string) (*Message, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.next.LatestMessage(ctx, sessionID)
}
