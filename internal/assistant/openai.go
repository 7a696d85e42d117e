// ABOUTME: Backend implementation on the OpenAI Assistants API (threads, messages, runs)
// ABOUTME: Uses a narrow client interface over go-openai so tests can substitute fakes

package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// AssistantsClient captures the subset of the go-openai client used by OpenAIBackend.
type AssistantsClient interface {
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error)
}

// OpenAIOptions configures the OpenAI backend.
type OpenAIOptions struct {
	Client      AssistantsClient
	AssistantID string
	// Model overrides the assistant's configured model when set.
	Model string
	// Instructions are appended to the assistant's own instructions on every run.
	Instructions string
}

// OpenAIBackend implements Backend with OpenAI threads as sessions.
type OpenAIBackend struct {
	client       AssistantsClient
	assistantID  string
	model        string
	instructions string
}

// NewOpenAIBackend builds a backend from opts.
func NewOpenAIBackend(opts OpenAIOptions) (*OpenAIBackend, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.AssistantID == "" {
		return nil, errors.New("assistant id is required")
	}
	return &OpenAIBackend{
		client:       opts.Client,
		assistantID:  opts.AssistantID,
		model:        opts.Model,
		instructions: opts.Instructions,
	}, nil
}

// NewOpenAIBackendFromAPIKey constructs a backend using the default go-openai HTTP client.
func NewOpenAIBackendFromAPIKey(apiKey, baseURL, assistantID string) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewOpenAIBackend(OpenAIOptions{
		Client:      openai.NewClientWithConfig(cfg),
		AssistantID: assistantID,
	})
}

// CreateSession creates a new thread.
func (b *OpenAIBackend) CreateSession(ctx context.Context) (string, error) {
	thread, err := b.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("openai: creating thread: %w", err)
	}
	return thread.ID, nil
}

// AddMessage appends a user message to the thread.
func (b *OpenAIBackend) AddMessage(ctx context.Context, sessionID, text string) error {
	_, err := b.client.CreateMessage(ctx, sessionID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return fmt.Errorf("openai: creating message: %w", err)
	}
	return nil
}

// StartRun starts the configured assistant on the thread.
func (b *OpenAIBackend) StartRun(ctx context.Context, sessionID string) (string, error) {
	run, err := b.client.CreateRun(ctx, sessionID, openai.RunRequest{
		AssistantID:            b.assistantID,
		Model:                  b.model,
		AdditionalInstructions: b.instructions,
	})
	if err != nil {
		return "", fmt.Errorf("openai: creating run: %w", err)
	}
	return run.ID, nil
}

// RunStatus retrieves the run and maps its status.
func (b *OpenAIBackend) RunStatus(ctx context.Context, sessionID, runID string) (RunStatus, error) {
	run, err := b.client.RetrieveRun(ctx, sessionID, runID)
	if err != nil {
		return "", fmt.Errorf("openai: retrieving run: %w", err)
	}
	return RunStatus(run.Status), nil
}

// LatestMessage lists the newest message on the thread and joins its text parts.
func (b *OpenAIBackend) LatestMessage(ctx context.Context, sessionID string) (*Message, error) {
	limit := 1
	order := "desc"
	list, err := b.client.ListMessage(ctx, sessionID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("openai: listing messages: %w", err)
	}
	if len(list.Messages) == 0 {
		return nil, nil
	}

	m := list.Messages[0]
	var parts []string
	for _, c := range m.Content {
		if c.Text != nil && c.Text.Value != "" {
			parts = append(parts, c.Text.Value)
		}
	}
	return &Message{
		ID:   m.ID,
		Role: m.Role,
		Text: strings.Join(parts, "\n"),
	}, nil
}
