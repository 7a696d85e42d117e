// ABOUTME: The serve command: wires config, stores, assistant, media and Matrix together
// ABOUTME: Runs until SIGINT/SIGTERM, then drains the inbound queue with a deadline

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/2389/coven-relay/internal/assistant"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/inbound"
	"github.com/2389/coven-relay/internal/matrix"
	"github.com/2389/coven-relay/internal/media"
	"github.com/2389/coven-relay/internal/session"
	"github.com/2389/coven-relay/internal/store"
)

// shutdownTimeout bounds how long in-flight turns may finish after a signal.
const shutdownTimeout = 30 * time.Second

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Assistant:  %s\n", cfg.Assistant.AssistantID)
	green.Print("    ▶ ")
	fmt.Printf("Sessions:   %s\n", cfg.Sessions.Path)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Print("Media:      ")
	if cfg.Media.Enabled {
		fmt.Println("enabled")
	} else {
		yellow.Println("disabled")
	}
	fmt.Println()

	turnStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := turnStore.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	sessions := session.Open(session.NewJSONFile(cfg.Sessions.Path), logger)
	logger.Info("session registry loaded", "path", cfg.Sessions.Path, "sessions", sessions.Len())

	oaCfg := openai.DefaultConfig(cfg.Assistant.APIKey)
	if cfg.Assistant.BaseURL != "" {
		oaCfg.BaseURL = cfg.Assistant.BaseURL
	}
	oaClient := openai.NewClientWithConfig(oaCfg)

	openaiBackend, err := assistant.NewOpenAIBackend(assistant.OpenAIOptions{
		Client:       oaClient,
		AssistantID:  cfg.Assistant.AssistantID,
		Model:        cfg.Assistant.Model,
		Instructions: cfg.Assistant.Instructions,
	})
	if err != nil {
		return fmt.Errorf("creating assistant backend: %w", err)
	}

	var backend assistant.Backend = openaiBackend
	if cfg.Assistant.RateLimit > 0 {
		backend = assistant.RateLimit(backend, rate.NewLimiter(rate.Limit(cfg.Assistant.RateLimit), cfg.Assistant.RateBurst))
	}

	driver := assistant.NewDriver(backend, assistant.Options{
		PollInterval: cfg.Assistant.PollInterval,
		MaxAttempts:  cfg.Assistant.MaxAttempts,
		Logger:       logger,
	})

	var pipeline media.Pipeline
	if cfg.Media.Enabled {
		p, err := media.NewOpenAIPipeline(media.OpenAIPipelineOptions{
			Client:             oaClient,
			VisionModel:        cfg.Media.VisionModel,
			TranscriptionModel: cfg.Media.TranscriptionModel,
			ImagePrompt:        cfg.Media.ImagePrompt,
			Language:           cfg.Media.Language,
			Logger:             logger,
		})
		if err != nil {
			return fmt.Errorf("creating media pipeline: %w", err)
		}
		pipeline = p
	}

	framing := conversation.DefaultFraming()
	conv := cfg.Conversation
	if conv.FirstTemplate != "" || conv.ContinuingTemplate != "" || conv.MediaTemplate != "" {
		framing, err = conversation.ParseFraming(conv.FirstTemplate, conv.ContinuingTemplate, conv.MediaTemplate)
		if err != nil {
			return fmt.Errorf("parsing conversation templates: %w", err)
		}
	}

	broadcaster := conversation.NewTurnBroadcaster(logger)
	defer broadcaster.Close()

	svc, err := conversation.New(conversation.Options{
		Sessions:    sessions,
		Creator:     backend,
		Runner:      driver,
		Pipeline:    pipeline,
		Turns:       turnStore,
		Broadcaster: broadcaster,
		Framing:     framing,
		Apology:     conv.Apology,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating conversation service: %w", err)
	}

	mx, err := matrix.New(matrix.Options{
		Homeserver:      cfg.Matrix.Homeserver,
		Username:        cfg.Matrix.Username,
		Password:        cfg.Matrix.Password,
		UserID:          cfg.Matrix.UserID,
		AccessToken:     cfg.Matrix.AccessToken,
		AllowedRooms:    cfg.Matrix.AllowedRooms,
		AllowedUsers:    cfg.Matrix.AllowedUsers,
		TypingIndicator: cfg.Matrix.TypingIndicator,
		AutoJoin:        cfg.Matrix.AutoJoin,
		MaxMediaBytes:   cfg.Media.MaxBytes,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("creating matrix transport: %w", err)
	}
	if err := mx.Login(ctx); err != nil {
		return err
	}

	r := &relay{
		transport:    mx,
		turns:        svc,
		mediaEnabled: pipeline != nil,
		logger:       logger.With("component", "relay"),
	}
	queue := inbound.New(r.handle, inbound.Options{
		Window:   cfg.Queue.Window,
		MediaGap: cfg.Queue.MediaGap,
		SeenTTL:  cfg.Queue.SeenTTL,
		SeenSize: cfg.Queue.SeenSize,
		Logger:   logger,
	})

	if cfg.Logging.Format != "json" {
		go printTurns(ctx, broadcaster)
	}

	logger.Info("starting coven-relay", "user_id", mx.UserID())
	runErr := mx.Run(ctx, queue)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := queue.Close(closeCtx); err != nil {
		logger.Warn("in-flight turns did not finish before shutdown", "error", err)
	}

	return runErr
}

// printTurns prints a one-line summary of every recorded turn until ctx ends.
func printTurns(ctx context.Context, b *conversation.TurnBroadcaster) {
	ch, _ := b.Subscribe(ctx, conversation.AllUsers)
	for turn := range ch {
		fmt.Fprintln(os.Stdout, formatTurn(turn))
	}
}
