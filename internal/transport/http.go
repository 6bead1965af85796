package transport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/domain/vote"
)

// PollService is the poll administration and read surface.
type PollService interface {
	Create(ctx context.Context, req poll.CreateRequest) (*poll.Poll, error)
	Get(ctx context.Context, id, viewerID string) (*poll.Poll, error)
	List(ctx context.Context, opts poll.ListOptions) ([]poll.Summary, error)
	Deactivate(ctx context.Context, id, actorID string) (*poll.Poll, error)
	Delete(ctx context.Context, id, actorID string) error
}

// VoteService submits votes.
type VoteService interface {
	Submit(ctx context.Context, pollID, voterID string, optionIDs []string) (*vote.Result, error)
}

// Options configures the router.
type Options struct {
	// AllowAnonymousRead lets unauthenticated callers list and fetch polls.
	AllowAnonymousRead bool
	// Realtime is mounted at /ws when set.
	Realtime http.Handler
	// MCP is mounted at /mcp when set.
	MCP http.Handler
}

// Server wires HTTP handlers.
type Server struct {
	polls  PollService
	votes  VoteService
	logger *slog.Logger
}

// CreatePollRequest is the body of POST /polls.
type CreatePollRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Options       []string `json:"options"`
	AllowMultiple bool     `json:"allowMultiple"`
}

// VoteRequest is the body of POST /polls/{id}/vote.
type VoteRequest struct {
	OptionIDs []string `json:"optionIds"`
}

// ListResponse is the body of GET /polls.
type ListResponse struct {
	Polls []poll.Summary `json:"polls"`
}

// NewServer creates an HTTP server router with middleware.
func NewServer(polls PollService, votes VoteService, resolver VoterResolver, opts Options, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	srv := &Server{polls: polls, votes: votes, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(WithLogging(logger))

	r.Get("/health", srv.handleHealth)

	if opts.Realtime != nil {
		r.Handle("/ws", opts.Realtime)
	}
	if opts.MCP != nil {
		r.Handle("/mcp", opts.MCP)
	}

	r.Route("/polls", func(r chi.Router) {
		r.Use(AuthMiddleware(resolver))

		r.Group(func(r chi.Router) {
			if !opts.AllowAnonymousRead {
				r.Use(RequireVoter)
			}
			r.Get("/", srv.handleList)
			r.Get("/{id}", srv.handleGet)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireVoter)
			r.Post("/", srv.handleCreate)
			r.Post("/{id}/vote", srv.handleVote)
			r.Post("/{id}/deactivate", srv.handleDeactivate)
			r.Delete("/{id}", srv.handleDelete)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := poll.ListOptions{ActiveOnly: q.Get("active") == "true"}
	if q.Get("mine") == "true" {
		voterID, ok := VoterFromContext(r.Context())
		if !ok {
			WriteError(w, poll.ErrNotEligible)
			return
		}
		opts.CreatedBy = voterID
	}
	var err error
	if opts.Limit, err = intParam(q.Get("limit")); err != nil {
		BadRequest(w, "limit must be an integer")
		return
	}
	if opts.Offset, err = intParam(q.Get("offset")); err != nil {
		BadRequest(w, "offset must be an integer")
		return
	}

	list, err := s.polls.List(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []poll.Summary{}
	}
	JSONResponse(w, http.StatusOK, ListResponse{Polls: list})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := VoterFromContext(r.Context())
	p, err := s.polls.Get(r.Context(), chi.URLParam(r, "id"), viewerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSONResponse(w, http.StatusOK, p)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreatePollRequest
	if err := ParseJSONBody(w, r, &req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	voterID, _ := VoterFromContext(r.Context())
	p, err := s.polls.Create(r.Context(), poll.CreateRequest{
		Title:         req.Title,
		Description:   req.Description,
		Options:       req.Options,
		AllowMultiple: req.AllowMultiple,
		CreatedBy:     voterID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSONResponse(w, http.StatusCreated, p)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := ParseJSONBody(w, r, &req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	voterID, _ := VoterFromContext(r.Context())
	res, err := s.votes.Submit(r.Context(), chi.URLParam(r, "id"), voterID, req.OptionIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// The voter's own response carries their selection; broadcasts never do.
	p := res.Poll.Clone()
	p.UserVote = append([]string(nil), res.Outcome.Record.OptionIDs...)
	JSONResponse(w, http.StatusOK, p)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	voterID, _ := VoterFromContext(r.Context())
	p, err := s.polls.Deactivate(r.Context(), chi.URLParam(r, "id"), voterID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSONResponse(w, http.StatusOK, p)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	voterID, _ := VoterFromContext(r.Context())
	if err := s.polls.Delete(r.Context(), chi.URLParam(r, "id"), voterID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	JSONResponse(w, status, body)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
