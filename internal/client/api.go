package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/transport"
)

// RemoteError is an error response from the server.
type RemoteError struct {
	Status int
	Body   transport.ErrorBody
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Body.Error, e.Status, e.Body.Message)
}

// Unwrap maps the server's error code back to the domain sentinel, so
// callers can use errors.Is(err, poll.ErrDuplicateVote).
func (e *RemoteError) Unwrap() error {
	return codeErrors[e.Body.Error]
}

var codeErrors = map[string]error{
	"POLL_NOT_FOUND":          poll.ErrPollNotFound,
	"POLL_INACTIVE":           poll.ErrPollInactive,
	"DUPLICATE_VOTE":          poll.ErrDuplicateVote,
	"INVALID_OPTION":          poll.ErrInvalidOption,
	"INVALID_SELECTION_COUNT": poll.ErrInvalidSelectionCount,
	"INVALID_ARGUMENT":        poll.ErrInvalidInput,
	"NOT_ELIGIBLE":            poll.ErrNotEligible,
	"FORBIDDEN":               poll.ErrForbidden,
	"TRANSIENT_STORAGE":       poll.ErrTransientStorage,
}

// API calls the REST endpoints.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPI creates a REST client. token may be empty for anonymous reads.
func NewAPI(baseURL, token string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// GetPoll fetches the snapshot of a poll, including the caller's vote.
func (a *API) GetPoll(ctx context.Context, pollID string) (*poll.Poll, error) {
	var p poll.Poll
	if err := a.do(ctx, http.MethodGet, "/polls/"+url.PathEscape(pollID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPolls lists poll summaries.
func (a *API) ListPolls(ctx context.Context, activeOnly bool) ([]poll.Summary, error) {
	path := "/polls"
	if activeOnly {
		path += "?active=true"
	}
	var out transport.ListResponse
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Polls, nil
}

// CreatePoll creates a poll owned by the caller.
func (a *API) CreatePoll(ctx context.Context, req transport.CreatePollRequest) (*poll.Poll, error) {
	var p poll.Poll
	if err := a.do(ctx, http.MethodPost, "/polls", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Vote submits a vote and returns the updated poll with the caller's selection.
func (a *API) Vote(ctx context.Context, pollID string, optionIDs []string) (*poll.Poll, error) {
	var p poll.Poll
	body := transport.VoteRequest{OptionIDs: optionIDs}
	if err := a.do(ctx, http.MethodPost, "/polls/"+url.PathEscape(pollID)+"/vote", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		remote := &RemoteError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&remote.Body); err != nil || remote.Body.Error == "" {
			remote.Body = transport.ErrorBody{Error: http.StatusText(resp.StatusCode), Message: "unexpected error response"}
		}
		return remote
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}
