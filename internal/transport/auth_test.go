package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type testResolver struct {
	tokenToVoter map[string]string
	err          error
}

func (r *testResolver) Authenticate(_ context.Context, token string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	voter, ok := r.tokenToVoter[token]
	if !ok {
		return "", errors.New("unknown token")
	}
	return voter, nil
}

func TestAuthMiddleware(t *testing.T) {
	resolver := &testResolver{tokenToVoter: map[string]string{"token": "alice"}}

	handler := AuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		voterID, ok := VoterFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, "alice", voterID)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_Invalid(t *testing.T) {
	resolver := &testResolver{err: errors.New("invalid")}

	handler := AuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "NOT_ELIGIBLE")
}

func TestAuthMiddleware_AnonymousPassesThrough(t *testing.T) {
	called := false
	handler := AuthMiddleware(&testResolver{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := VoterFromContext(r.Context())
		require.False(t, ok)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, called)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireVoter(t *testing.T) {
	handler := RequireVoter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithVoter(req.Context(), "bob"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
