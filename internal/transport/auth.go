package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/rpggio/pollit/internal/domain/poll"
)

type voterKey struct{}

// VoterResolver resolves a voter ID from a bearer token.
type VoterResolver interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// VoterFromContext returns the authenticated voter ID, if present.
func VoterFromContext(ctx context.Context) (string, bool) {
	voterID, ok := ctx.Value(voterKey{}).(string)
	return voterID, ok && voterID != ""
}

// WithVoter returns a context carrying voterID.
func WithVoter(ctx context.Context, voterID string) context.Context {
	return context.WithValue(ctx, voterKey{}, voterID)
}

// AuthMiddleware resolves an optional bearer token. Requests without a token
// pass through anonymously; a token that does not resolve is rejected.
func AuthMiddleware(resolver VoterResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" || resolver == nil {
				next.ServeHTTP(w, r)
				return
			}

			voterID, err := resolver.Authenticate(r.Context(), token)
			voterID = strings.TrimSpace(voterID)
			if err != nil || voterID == "" {
				WriteError(w, poll.ErrNotEligible)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithVoter(r.Context(), voterID)))
		})
	}
}

// RequireVoter rejects requests that carry no authenticated voter.
func RequireVoter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := VoterFromContext(r.Context()); !ok {
			WriteError(w, poll.ErrNotEligible)
			return
		}
		next.ServeHTTP(w, r)
	})
}
