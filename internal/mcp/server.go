package mcp

import (
	"context"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/domain/vote"
)

// PollService defines poll reads needed by MCP.
type PollService interface {
	Get(ctx context.Context, id, viewerID string) (*poll.Poll, error)
	List(ctx context.Context, opts poll.ListOptions) ([]poll.Summary, error)
}

// VoteService defines vote submission needed by MCP.
type VoteService interface {
	Submit(ctx context.Context, pollID, voterID string, optionIDs []string) (*vote.Result, error)
}

// Services contains all domain services needed by MCP.
type Services struct {
	Polls PollService
	Votes VoteService
}

// Config contains server configuration.
type Config struct {
	Services    Services
	Resolver    VoterResolver
	AuthEnabled bool
	// DefaultVoter is the identity used when auth is disabled. Empty means
	// tools run anonymously and cast_vote is refused.
	DefaultVoter string
	Logger       *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "pollit",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       logger,
	})

	registerDocResources(server)

	if cfg.AuthEnabled && cfg.Resolver != nil {
		server.AddReceivingMiddleware(authMiddleware(cfg.Resolver))
	} else {
		server.AddReceivingMiddleware(noAuthMiddleware(cfg.DefaultVoter))
	}
	server.AddReceivingMiddleware(trafficLoggingMiddleware(logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(logger, "outbound"))

	registerTools(server, cfg.Services)

	return server
}
