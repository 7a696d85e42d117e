// ABOUTME: Tests for the OpenAI Assistants backend adapter
// ABOUTME: Substitutes a fake AssistantsClient to check request shapes and status mapping

package assistant

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeAssistantsClient struct {
	threadID string
	runID    string
	status   openai.RunStatus
	messages []openai.Message
	err      error

	gotMessage openai.MessageRequest
	gotRun     openai.RunRequest
	gotLimit   int
	gotOrder   string
}

func (f *fakeAssistantsClient) CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error) {
	return openai.Thread{ID: f.threadID}, f.err
}

func (f *fakeAssistantsClient) CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error) {
	f.gotMessage = request
	return openai.Message{}, f.err
}

func (f *fakeAssistantsClient) CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error) {
	f.gotRun = request
	return openai.Run{ID: f.runID}, f.err
}

func (f *fakeAssistantsClient) RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error) {
	return openai.Run{ID: runID, Status: f.status}, f.err
}

func (f *fakeAssistantsClient) ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error) {
	if limit != nil {
		f.gotLimit = *limit
	}
	if order != nil {
		f.gotOrder = *order
	}
	return openai.MessagesList{Messages: f.messages}, f.err
}

func textContent(s string) openai.MessageContent {
	return openai.MessageContent{Type: "text", Text: &openai.MessageText{Value: s}}
}

func TestNewOpenAIBackend_Validation(t *testing.T) {
	_, err := NewOpenAIBackend(OpenAIOptions{AssistantID: "asst_1"})
	assert.Error(t, err)

	_, err = NewOpenAIBackend(OpenAIOptions{Client: &fakeAssistantsClient{}})
	assert.Error(t, err)

	_, err = NewOpenAIBackendFromAPIKey("", "", "asst_1")
	assert.Error(t, err)
}

func TestOpenAIBackend_Calls(t *testing.T) {
	client := &fakeAssistantsClient{
		threadID: "thread_abc123def456",
		runID:    "run_1",
		status:   openai.RunStatusInProgress,
	}
	b, err := NewOpenAIBackend(OpenAIOptions{
		Client:       client,
		AssistantID:  "asst_1",
		Instructions: "Be brief.",
	})
	require.NoError(t, err)
	ctx := context.Background()

	id, err := b.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thread_abc123def456", id)

	require.NoError(t, b.AddMessage(ctx, id, "Hello"))
	assert.Equal(t, openai.ChatMessageRoleUser, client.gotMessage.Role)
	assert.Equal(t, "Hello", client.gotMessage.Content)

	runID, err := b.StartRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "run_1", runID)
	assert.Equal(t, "asst_1", client.gotRun.AssistantID)
	assert.Equal(t, "Be brief.", client.gotRun.AdditionalInstructions)

	status, err := b.RunStatus(ctx, id, runID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusInProgress, status)
	assert.True(t, status.Pending())
}

func TestOpenAIBackend_LatestMessage(t *testing.T) {
	client := &fakeAssistantsClient{
		messages: []openai.Message{{
			ID:      "msg_1",
			Role:    "assistant",
			Content: []openai.MessageContent{textContent("first"), {Type: "image_file"}, textContent("second")},
		}},
	}
	b, err := NewOpenAIBackend(OpenAIOptions{Client: client, AssistantID: "asst_1"})
	require.NoError(t, err)

	msg, err := b.LatestMessage(context.Background(), "thread_abc123def456")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "msg_1", msg.ID)
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, "first\nsecond", msg.Text)
	assert.Equal(t, 1, client.gotLimit)
	assert.Equal(t, "desc", client.gotOrder)
}

func TestOpenAIBackend_LatestMessageEmptyThread(t *testing.T) {
	b, err := NewOpenAIBackend(OpenAIOptions{Client: &fakeAssistantsClient{}, AssistantID: "asst_1"})
	require.NoError(t, err)

	msg, err := b.LatestMessage(context.Background(), "thread_abc123def456")
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestOpenAIBackend_WrapsErrors(t *testing.T) {
	boom := errors.New("503")
	b, err := NewOpenAIBackend(OpenAIOptions{Client: &fakeAssistantsClient{err: boom}, AssistantID: "asst_1"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.CreateSession(ctx)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, b.AddMessage(ctx, "thread_abc123def456", "hi"), boom)
	_, err = b.StartRun(ctx, "thread_abc123def456")
	assert.ErrorIs(t, err, boom)
	_, err = b.RunStatus(ctx, "thread_abc123def456", "run_1")
	assert.ErrorIs(t, err, boom)
	_, err = b.LatestMessage(ctx, "thread_abc123def456")
	assert.ErrorIs(t, err, boom)
}

func TestRateLimit(t *testing.T) {
	inner := &fakeBackend{statuses: []RunStatus{RunStatusCompleted}}
	assert.Same(t, Backend(inner), RateLimit(inner, nil))

	limited := RateLimit(inner, rate.NewLimiter(rate.Inf, 1))
	_, err := limited.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"create_session"}, inner.callLog())

	// A cancelled context fails before reaching the backend when no token is free.
	starved := RateLimit(inner, rate.NewLimiter(rate.Every(1<<62), 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = starved.AddMessage(ctx, "thread_abc123def456", "hi")
	assert.Error(t, err)
	assert.Equal(t, []string{"create_session"}, inner.callLog())
}
