// ABOUTME: The stats and turns commands, reading the conversation log offline
// ABOUTME: Also formats turns for the live feed printed by serve

package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/store"
)

func openLog() (*store.SQLiteStore, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func runStats(ctx context.Context) error {
	s, err := openLog()
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Stats(ctx)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	fmt.Printf("Turns:       %d\n", stats.Total)
	fmt.Print("Failed:      ")
	if stats.Failed > 0 {
		red.Printf("%d", stats.Failed)
	} else {
		green.Print("0")
	}
	if stats.Total > 0 {
		fmt.Printf(" (%.1f%%)", 100*float64(stats.Failed)/float64(stats.Total))
	}
	fmt.Println()
	fmt.Printf("Rooms:       %d\n", stats.Users)
	fmt.Printf("Avg latency: %s\n", stats.AvgLatency.Round(time.Millisecond))
	return nil
}

func runTurns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("turns", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of turns to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	userID := fs.Arg(0)

	s, err := openLog()
	if err != nil {
		return err
	}
	defer s.Close()

	turns, err := s.ListTurns(ctx, userID, *limit)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		fmt.Println("No turns recorded")
		return nil
	}
	for _, t := range turns {
		fmt.Println(formatTurn(t))
	}
	return nil
}

// formatTurn renders one turn as a single colorized line.
func formatTurn(t *store.TurnRecord) string {
	var b strings.Builder

	b.WriteString(color.HiBlackString(t.CreatedAt.Local().Format("2006-01-02 15:04:05") + " "))
	if t.Status == store.TurnStatusOK {
		b.WriteString(color.GreenString("ok  "))
	} else {
		b.WriteString(color.RedString("err "))
	}
	b.WriteString(color.CyanString(t.UserID))
	if t.MediaType != "" {
		b.WriteString(color.MagentaString(" [" + t.MediaType + "]"))
	}
	b.WriteString(color.HiBlackString(fmt.Sprintf(" %s ", t.Latency.Round(time.Millisecond))))
	b.WriteString(oneLine(t.Input, 60))
	b.WriteString(color.HiBlackString(" → "))
	if t.Error != "" {
		b.WriteString(color.RedString(oneLine(t.Error, 80)))
	} else {
		b.WriteString(oneLine(t.Reply, 80))
	}
	return b.String()
}

// oneLine flattens whitespace and cuts s to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
