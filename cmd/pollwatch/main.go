// Command pollwatch follows polls live from a terminal and can cast a vote.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rpggio/pollit/internal/client"
)

func main() {
	baseURL := flag.String("url", envOr("POLLIT_URL", "http://localhost:8080"), "server base URL")
	token := flag.String("token", os.Getenv("POLLIT_TOKEN"), "voter bearer token")
	vote := flag.String("vote", "", "comma-separated option ids to vote for on the first poll")
	revote := flag.Bool("revote", false, "allow changing an earlier vote (server uses the replace policy)")
	verbose := flag.Bool("v", false, "log stream activity")
	flag.Parse()

	pollIDs := flag.Args()
	if len(pollIDs) == 0 {
		fmt.Fprintln(os.Stderr, "usage: pollwatch [flags] <poll-id>...")
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Config{
		BaseURL:     *baseURL,
		StreamURL:   streamURL(*baseURL),
		Token:       *token,
		AllowRevote: *revote,
	}, logger)

	if err := watch(ctx, os.Stdout, c, pollIDs, *vote); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "pollwatch: %v\n", err)
		os.Exit(1)
	}
}

func watch(ctx context.Context, out io.Writer, c *client.Client, pollIDs []string, vote string) error {
	for _, id := range pollIDs {
		v, err := c.Open(ctx, id)
		if err != nil {
			return err
		}
		printView(out, v, c.Viewers(id))
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	if vote != "" {
		v, err := c.Vote(ctx, pollIDs[0], strings.Split(vote, ","))
		if err != nil {
			fmt.Fprintf(out, "vote failed: %v\n", err)
		} else {
			printView(out, v, c.Viewers(pollIDs[0]))
		}
	}

	for {
		select {
		case err := <-runErr:
			return err
		case id := <-c.Changed():
			if v, ok := c.View(id); ok {
				printView(out, v, c.Viewers(id))
			}
		case <-c.Notifications().Ready():
			for _, n := range c.Notifications().Drain() {
				fmt.Fprintf(out, "* %s\n", n)
			}
		}
	}
}

func printView(out io.Writer, v client.View, viewers int) {
	if v.Poll == nil {
		return
	}
	p := v.Poll
	status := "open"
	if !p.IsActive {
		status = "closed"
	}
	fmt.Fprintf(out, "\n%s [%s, %d votes, %d watching, %s]\n", p.Title, status, p.TotalVotes, viewers, v.State)

	selected := make(map[string]bool)
	for _, id := range v.Selection() {
		selected[id] = true
	}
	for _, opt := range p.Options {
		mark := " "
		if selected[opt.ID] {
			mark = "x"
		}
		fmt.Fprintf(out, "  [%s] %-30s %5d  %5.1f%%  %s\n", mark, opt.Text, opt.Votes, opt.Percentage, opt.ID)
	}
}

func streamURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
	return base + "/ws"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
