package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/domain/tally"
	"github.com/rpggio/pollit/internal/domain/vote"
)

type fakePolls struct {
	mock.Mock
}

func (f *fakePolls) Create(ctx context.Context, req poll.CreateRequest) (*poll.Poll, error) {
	args := f.Called(req)
	p, _ := args.Get(0).(*poll.Poll)
	return p, args.Error(1)
}

func (f *fakePolls) Get(ctx context.Context, id, viewerID string) (*poll.Poll, error) {
	args := f.Called(id, viewerID)
	p, _ := args.Get(0).(*poll.Poll)
	return p, args.Error(1)
}

func (f *fakePolls) List(ctx context.Context, opts poll.ListOptions) ([]poll.Summary, error) {
	args := f.Called(opts)
	list, _ := args.Get(0).([]poll.Summary)
	return list, args.Error(1)
}

func (f *fakePolls) Deactivate(ctx context.Context, id, actorID string) (*poll.Poll, error) {
	args := f.Called(id, actorID)
	p, _ := args.Get(0).(*poll.Poll)
	return p, args.Error(1)
}

func (f *fakePolls) Delete(ctx context.Context, id, actorID string) error {
	return f.Called(id, actorID).Error(0)
}

type fakeVotes struct {
	mock.Mock
}

func (f *fakeVotes) Submit(ctx context.Context, pollID, voterID string, optionIDs []string) (*vote.Result, error) {
	args := f.Called(pollID, voterID, optionIDs)
	res, _ := args.Get(0).(*vote.Result)
	return res, args.Error(1)
}

func testPoll() *poll.Poll {
	p := &poll.Poll{
		ID:        "p1",
		Title:     "Lunch?",
		CreatedBy: "alice",
		IsActive:  true,
		Version:   2,
		Options:   []poll.Option{{ID: "a", Text: "Pizza", Votes: 1}, {ID: "b", Text: "Tacos"}},
	}
	p.Recount()
	return p
}

func newTestServer(t *testing.T, polls *fakePolls, votes *fakeVotes, opts Options) *httptest.Server {
	t.Helper()
	resolver := &testResolver{tokenToVoter: map[string]string{"alice-token": "alice", "bob-token": "bob"}}
	server := httptest.NewServer(NewServer(polls, votes, resolver, opts, nil))
	t.Cleanup(server.Close)
	return server
}

func do(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func decodeError(t *testing.T, raw []byte) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestHTTPServer_Health(t *testing.T) {
	server := newTestServer(t, &fakePolls{}, &fakeVotes{}, Options{})

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPServer_VoteReturnsPollWithSelection(t *testing.T) {
	polls, votes := &fakePolls{}, &fakeVotes{}
	updated := testPoll()
	updated.Options[1].Votes = 1
	updated.Version = 3
	updated.Recount()
	votes.On("Submit", "p1", "bob", []string{"b"}).Return(&vote.Result{
		Poll:    updated,
		Outcome: tally.Outcome{Record: poll.VoteRecord{PollID: "p1", VoterID: "bob", OptionIDs: []string{"b"}}},
	}, nil)
	server := newTestServer(t, polls, votes, Options{AllowAnonymousRead: true})

	resp, raw := do(t, http.MethodPost, server.URL+"/polls/p1/vote", "bob-token", VoteRequest{OptionIDs: []string{"b"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got poll.Poll
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, int64(2), got.TotalVotes)
	require.Equal(t, int64(3), got.Version)
	require.Equal(t, []string{"b"}, got.UserVote)
	require.Nil(t, updated.UserVote)
}

func TestHTTPServer_VoteErrorMapping(t *testing.T) {
	cases := []struct {
		err       error
		status    int
		code      string
		retryable bool
	}{
		{poll.ErrPollNotFound, http.StatusNotFound, "POLL_NOT_FOUND", false},
		{poll.ErrPollInactive, http.StatusConflict, "POLL_INACTIVE", false},
		{poll.ErrDuplicateVote, http.StatusConflict, "DUPLICATE_VOTE", false},
		{poll.ErrInvalidOption, http.StatusBadRequest, "INVALID_OPTION", false},
		{poll.ErrInvalidSelectionCount, http.StatusBadRequest, "INVALID_SELECTION_COUNT", false},
		{fmt.Errorf("loading poll: %w: disk on fire", poll.ErrTransientStorage), http.StatusServiceUnavailable, "TRANSIENT_STORAGE", true},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL", false},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			votes := &fakeVotes{}
			votes.On("Submit", "p1", "bob", []string{"a"}).Return(nil, tc.err)
			server := newTestServer(t, &fakePolls{}, votes, Options{})

			resp, raw := do(t, http.MethodPost, server.URL+"/polls/p1/vote", "bob-token", VoteRequest{OptionIDs: []string{"a"}})
			require.Equal(t, tc.status, resp.StatusCode)
			body := decodeError(t, raw)
			require.Equal(t, tc.code, body.Error)
			require.Equal(t, tc.retryable, body.Retryable)
			require.NotEmpty(t, body.Message)
		})
	}
}

func TestHTTPServer_VoteRequiresVoter(t *testing.T) {
	votes := &fakeVotes{}
	server := newTestServer(t, &fakePolls{}, votes, Options{AllowAnonymousRead: true})

	resp, raw := do(t, http.MethodPost, server.URL+"/polls/p1/vote", "", VoteRequest{OptionIDs: []string{"a"}})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "NOT_ELIGIBLE", decodeError(t, raw).Error)

	resp, _ = do(t, http.MethodPost, server.URL+"/polls/p1/vote", "forged", VoteRequest{OptionIDs: []string{"a"}})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	votes.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
}

func TestHTTPServer_VoteRejectsBadBody(t *testing.T) {
	server := newTestServer(t, &fakePolls{}, &fakeVotes{}, Options{})

	resp, raw := do(t, http.MethodPost, server.URL+"/polls/p1/vote", "bob-token", map[string]any{"options": "a"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "INVALID_ARGUMENT", decodeError(t, raw).Error)
}

func TestHTTPServer_GetPoll(t *testing.T) {
	polls := &fakePolls{}
	withVote := testPoll()
	withVote.UserVote = []string{"a"}
	polls.On("Get", "p1", "alice").Return(withVote, nil)
	polls.On("Get", "p1", "").Return(testPoll(), nil)
	polls.On("Get", "nope", "").Return(nil, poll.ErrPollNotFound)
	server := newTestServer(t, polls, &fakeVotes{}, Options{AllowAnonymousRead: true})

	resp, raw := do(t, http.MethodGet, server.URL+"/polls/p1", "alice-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got poll.Poll
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, []string{"a"}, got.UserVote)

	resp, raw = do(t, http.MethodGet, server.URL+"/polls/p1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotContains(t, string(raw), "userVote")

	resp, _ = do(t, http.MethodGet, server.URL+"/polls/nope", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPServer_ReadsRequireVoterWhenConfigured(t *testing.T) {
	server := newTestServer(t, &fakePolls{}, &fakeVotes{}, Options{AllowAnonymousRead: false})

	resp, _ := do(t, http.MethodGet, server.URL+"/polls/p1", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTPServer_ListPolls(t *testing.T) {
	polls := &fakePolls{}
	polls.On("List", poll.ListOptions{ActiveOnly: true, CreatedBy: "alice", Limit: 10, Offset: 5}).
		Return([]poll.Summary{testPoll().Summary()}, nil)
	polls.On("List", poll.ListOptions{}).Return(nil, nil)
	server := newTestServer(t, polls, &fakeVotes{}, Options{AllowAnonymousRead: true})

	resp, raw := do(t, http.MethodGet, server.URL+"/polls?active=true&mine=true&limit=10&offset=5", "alice-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list ListResponse
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list.Polls, 1)
	require.Equal(t, "p1", list.Polls[0].ID)

	resp, raw = do(t, http.MethodGet, server.URL+"/polls", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"polls":[]}`, string(raw))

	resp, _ = do(t, http.MethodGet, server.URL+"/polls?mine=true", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, server.URL+"/polls?limit=ten", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPServer_Lifecycle(t *testing.T) {
	polls := &fakePolls{}
	created := testPoll()
	polls.On("Create", poll.CreateRequest{Title: "Lunch?", Options: []string{"Pizza", "Tacos"}, CreatedBy: "alice"}).Return(created, nil)
	closed := testPoll()
	closed.IsActive = false
	polls.On("Deactivate", "p1", "alice").Return(closed, nil)
	polls.On("Deactivate", "p1", "bob").Return(nil, poll.ErrForbidden)
	polls.On("Delete", "p1", "alice").Return(nil)
	server := newTestServer(t, polls, &fakeVotes{}, Options{})

	resp, _ := do(t, http.MethodPost, server.URL+"/polls", "alice-token", CreatePollRequest{Title: "Lunch?", Options: []string{"Pizza", "Tacos"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, raw := do(t, http.MethodPost, server.URL+"/polls/p1/deactivate", "bob-token", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "FORBIDDEN", decodeError(t, raw).Error)

	resp, raw = do(t, http.MethodPost, server.URL+"/polls/p1/deactivate", "alice-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got poll.Poll
	require.NoError(t, json.Unmarshal(raw, &got))
	require.False(t, got.IsActive)

	resp, _ = do(t, http.MethodDelete, server.URL+"/polls/p1", "alice-token", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	polls.AssertExpectations(t)
}

func TestHTTPServer_MountsRealtimeAndMCP(t *testing.T) {
	mounted := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(name))
		})
	}
	server := newTestServer(t, &fakePolls{}, &fakeVotes{}, Options{Realtime: mounted("ws"), MCP: mounted("mcp")})

	_, raw := do(t, http.MethodGet, server.URL+"/ws", "", nil)
	require.Equal(t, "ws", string(raw))
	_, raw = do(t, http.MethodPost, server.URL+"/mcp", "", nil)
	require.Equal(t, "mcp", string(raw))
}
