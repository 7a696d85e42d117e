// ABOUTME: OpenAI media pipeline: chat-completion vision for images, Whisper for audio
// ABOUTME: Talks to go-openai through a narrow client interface so tests can fake it

package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient is the subset of the go-openai client the pipeline uses.
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

const (
	DefaultVisionModel        = openai.GPT4oMini
	DefaultTranscriptionModel = openai.Whisper1
	DefaultImagePrompt        = "Describe this image in detail, including any visible text."
)

// OpenAIPipelineOptions configures OpenAIPipeline.
type OpenAIPipelineOptions struct {
	Client             OpenAIClient
	VisionModel        string
	TranscriptionModel string
	ImagePrompt        string
	// Language is an ISO-639-1 hint for transcription. Empty lets Whisper detect it.
	Language string
	Logger   *slog.Logger
}

// OpenAIPipeline implements Pipeline on the OpenAI API.
type OpenAIPipeline struct {
	client             OpenAIClient
	visionModel        string
	transcriptionModel string
	imagePrompt        string
	language           string
	logger             *slog.Logger
}

// NewOpenAIPipeline creates a pipeline, filling defaults for unset options.
func NewOpenAIPipeline(opts OpenAIPipelineOptions) (*OpenAIPipeline, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.VisionModel == "" {
		opts.VisionModel = DefaultVisionModel
	}
	if opts.TranscriptionModel == "" {
		opts.TranscriptionModel = DefaultTranscriptionModel
	}
	if opts.ImagePrompt == "" {
		opts.ImagePrompt = DefaultImagePrompt
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &OpenAIPipeline{
		client:             opts.Client,
		visionModel:        opts.VisionModel,
		transcriptionModel: opts.TranscriptionModel,
		imagePrompt:        opts.ImagePrompt,
		language:           opts.Language,
		logger:             opts.Logger.With("component", "media"),
	}, nil
}

// Describe returns an image description or an audio transcript.
func (p *OpenAIPipeline) Describe(ctx context.Context, m Media) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch m.Kind {
	case KindImage:
		text, err = p.describeImage(ctx, m)
	case KindAudio:
		text, err = p.transcribe(ctx, m)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("media: empty %s result", m.Kind)
	}
	p.logger.Debug("media described", "kind", m.Kind, "bytes", len(m.Data), "chars", len(text))
	return text, nil
}

func (p *OpenAIPipeline) describeImage(ctx context.Context, m Media) (string, error) {
	mime := m.MIMEType
	if mime == "" {
		mime = http.DetectContentType(m.Data)
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(m.Data)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.visionModel,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: p.imagePrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("media: describing image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("media: describing image: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIPipeline) transcribe(ctx context.Context, m Media) (string, error) {
	name := m.FileName
	if name == "" {
		name = "audio" + audioExtension(m.MIMEType)
	}
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.transcriptionModel,
		FilePath: name,
		Reader:   bytes.NewReader(m.Data),
		Language: p.language,
	})
	if err != nil {
		return "", fmt.Errorf("media: transcribing audio: %w", err)
	}
	return resp.Text, nil
}

// audioExtension picks a file extension Whisper accepts for the mime type.
func audioExtension(mime string) string {
	switch strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	default:
		return ".ogg"
	}
}
