// ABOUTME: Entry point for coven-relay
// ABOUTME: Relays Matrix rooms to an OpenAI assistant with per-room persistent threads

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/coven-relay/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
   ┏━╸┏━┓╻ ╻┏━╸┏┓╻   ┏━┓┏━╸╻  ┏━┓╻ ╻
   ┃  ┃ ┃┃┏┛┣╸ ┃┗┫   ┣┳┛┣╸ ┃  ┣━┫┗┳┛
   ┗━╸┗━┛┗┛ ┗━╸╹ ╹   ╹┗╸┗━╸┗━╸╹ ╹ ╹
`

// getConfigPath returns the path to the relay config file.
// Priority: COVEN_RELAY_CONFIG env var > XDG_CONFIG_HOME/coven-relay/relay.yaml > ~/.config/coven-relay/relay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven-relay", "relay.yaml")
}

func usage() {
	fmt.Println("Usage: coven-relay <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the relay (default)")
	fmt.Println("  init                   Write a starter config file")
	fmt.Println("  stats                  Show conversation log totals")
	fmt.Println("  turns [ROOM] [-n N]    Show recent turns, newest first")
	fmt.Println("  version                Print the version")
}

func main() {
	// A missing .env is normal; real environment variables still apply.
	_ = godotenv.Load()

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "stats":
		err = runStats(ctx)
	case "turns":
		err = runTurns(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit() error {
	configPath := getConfigPath()
	if err := config.WriteStarter(configPath); err != nil {
		if errors.Is(err, config.ErrExists) {
			return fmt.Errorf("%w (remove it or set COVEN_RELAY_CONFIG)", err)
		}
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("    ✓ ")
	fmt.Printf("Wrote %s\n", configPath)
	fmt.Println("      Set OPENAI_API_KEY, COVEN_RELAY_ASSISTANT_ID and COVEN_RELAY_MATRIX_PASSWORD")
	fmt.Println("      in the environment or a .env file, then run `coven-relay serve`.")
	return nil
}
