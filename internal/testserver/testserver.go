// Package testserver runs the full pollit stack in-process on httptest for
// end-to-end tests.
package testserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rpggio/pollit/internal/auth"
	"github.com/rpggio/pollit/internal/domain/guard"
	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/domain/tally"
	"github.com/rpggio/pollit/internal/domain/vote"
	"github.com/rpggio/pollit/internal/mcp"
	"github.com/rpggio/pollit/internal/realtime"
	"github.com/rpggio/pollit/internal/storage"
	"github.com/rpggio/pollit/internal/transport"
)

const testSecret = "testserver-secret-0123456789"

// Options tunes the stack under test.
type Options struct {
	Policy       guard.Policy
	DenyAnonRead bool
}

type TestServer struct {
	Server      *httptest.Server
	DB          *storage.DB
	Verifier    *auth.Verifier
	Broadcaster *realtime.Broadcaster
	Polls       *poll.Service
	Votes       *vote.Service
}

// New starts a server backed by a fresh in-memory database.
func New(t *testing.T, opts Options) *TestServer {
	t.Helper()

	db, err := storage.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(context.Background()))

	verifier, err := auth.NewVerifier(testSecret, "pollit-test")
	require.NoError(t, err)

	pollRepo := storage.NewPollRepository(db)
	voteRepo := storage.NewVoteRepository(db)

	broadcaster := realtime.NewBroadcaster(realtime.NewRegistry(), nil)
	voteGuard := guard.New(voteRepo, opts.Policy, nil)
	store := tally.NewStore(voteRepo, voteGuard, nil)
	voteSvc := vote.NewService(store, broadcaster, vote.RetryConfig{MaxAttempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond}, nil)
	pollSvc := poll.NewService(pollRepo, voteRepo, broadcaster, nil)

	rtOpts := realtime.DefaultOptions()
	rtOpts.AllowAnonymous = !opts.DenyAnonRead
	ws := realtime.NewServer(broadcaster, pollSvc, verifier, rtOpts, nil)

	mcpServer := mcp.NewServer(mcp.Config{
		Services:    mcp.Services{Polls: pollSvc, Votes: voteSvc},
		Resolver:    verifier,
		AuthEnabled: true,
	})

	router := transport.NewServer(pollSvc, voteSvc, verifier, transport.Options{
		AllowAnonymousRead: !opts.DenyAnonRead,
		Realtime:           ws,
		MCP:                mcp.NewHTTPHandler(mcpServer),
	}, nil)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		_ = db.Close()
	})

	return &TestServer{
		Server:      server,
		DB:          db,
		Verifier:    verifier,
		Broadcaster: broadcaster,
		Polls:       pollSvc,
		Votes:       voteSvc,
	}
}

// Token issues a bearer token for voterID.
func (ts *TestServer) Token(t *testing.T, voterID string) string {
	t.Helper()
	token, err := ts.Verifier.Issue(voterID, time.Hour)
	require.NoError(t, err)
	return token
}

// URL is the REST root.
func (ts *TestServer) URL() string {
	return ts.Server.URL
}

// WSURL is the websocket endpoint.
func (ts *TestServer) WSURL() string {
	return "ws" + strings.TrimPrefix(ts.Server.URL, "http") + "/ws"
}
