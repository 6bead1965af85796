package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/rpggio/pollit/internal/auth"
	"github.com/rpggio/pollit/internal/config"
	"github.com/rpggio/pollit/internal/domain/guard"
	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/domain/tally"
	"github.com/rpggio/pollit/internal/domain/vote"
	"github.com/rpggio/pollit/internal/mcp"
	"github.com/rpggio/pollit/internal/realtime"
	"github.com/rpggio/pollit/internal/storage"
	"github.com/rpggio/pollit/internal/telemetry"
	"github.com/rpggio/pollit/internal/transport"
)

func main() {
	issueFor := flag.String("issue-token", "", "print a voter token for this id and exit")
	issueTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of an issued token")
	flag.Parse()

	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if *issueFor != "" {
		if err := printToken(os.Stdout, cfg.Auth, *issueFor, *issueTTL); err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := newLogger(os.Stdout, cfg.Log)
	if err := run(logger, cfg); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	if err := ensureDBDir(cfg.DB); err != nil {
		return fmt.Errorf("prepare database path: %w", err)
	}
	db, err := storage.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	policy, err := guard.ParsePolicy(cfg.Voting.Resubmission)
	if err != nil {
		return err
	}

	// Without a secret nobody can vote; reads stay open if configured.
	var resolver transport.VoterResolver
	if cfg.Auth.Secret != "" {
		verifier, err := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		resolver = verifier
	} else {
		logger.Warn("auth.secret is empty, voting is disabled")
	}

	pollRepo := storage.NewPollRepository(db)
	voteRepo := storage.NewVoteRepository(db)

	broadcaster := realtime.NewBroadcaster(realtime.NewRegistry(), logger)
	voteGuard := guard.New(voteRepo, policy, logger)
	store := tally.NewStore(voteRepo, voteGuard, logger)
	voteSvc := vote.NewService(store, broadcaster, vote.RetryConfig{
		MaxAttempts: cfg.Voting.MaxAttempts,
		Initial:     cfg.Voting.RetryInitial,
		Max:         cfg.Voting.RetryMax,
	}, logger)
	pollSvc := poll.NewService(pollRepo, voteRepo, broadcaster, logger)

	ws := realtime.NewServer(broadcaster, pollSvc, resolver, realtime.Options{
		SendBuffer:     cfg.Realtime.SendBuffer,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		PingInterval:   cfg.Realtime.PingInterval,
		AllowAnonymous: cfg.Auth.AllowAnonymousRead,
	}, logger)

	opts := transport.Options{
		AllowAnonymousRead: cfg.Auth.AllowAnonymousRead,
		Realtime:           ws,
	}
	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer(mcp.Config{
			Services:    mcp.Services{Polls: pollSvc, Votes: voteSvc},
			Resolver:    resolver,
			AuthEnabled: resolver != nil,
			Logger:      logger,
		})
		opts.MCP = mcp.NewHTTPHandler(mcpServer)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           transport.NewServer(pollSvc, voteSvc, resolver, opts, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", httpServer.Addr, "db", cfg.DB.Driver, "resubmission", policy, "mcp", cfg.MCP.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func printToken(w io.Writer, cfg config.AuthConfig, voterID string, ttl time.Duration) error {
	verifier, err := auth.NewVerifier(cfg.Secret, cfg.Issuer)
	if err != nil {
		return err
	}
	token, err := verifier.Issue(voterID, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func ensureDBDir(cfg config.DBConfig) error {
	if cfg.Driver != "sqlite" || cfg.DSN == ":memory:" || strings.HasPrefix(cfg.DSN, "file:") {
		return nil
	}
	dir := filepath.Dir(cfg.DSN)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
