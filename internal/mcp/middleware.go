package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type contextKey int

const voterIDKey contextKey = iota

// getVoterID extracts the voter ID from context.
func getVoterID(ctx context.Context) string {
	v, _ := ctx.Value(voterIDKey).(string)
	return v
}

// VoterResolver resolves a voter ID from a bearer token.
type VoterResolver interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// authMiddleware implements bearer token authentication as MCP middleware.
func authMiddleware(resolver VoterResolver) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			// Protocol handshake carries no credentials.
			if method == "initialize" || method == "ping" || strings.HasPrefix(method, "notifications/") {
				return next(ctx, method, req)
			}

			extra := req.GetExtra()
			if extra == nil || extra.Header == nil {
				return nil, fmt.Errorf("unauthorized: missing headers")
			}

			token, ok := strings.CutPrefix(extra.Header.Get("Authorization"), "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" {
				return nil, fmt.Errorf("unauthorized: missing bearer token")
			}

			voterID, err := resolver.Authenticate(ctx, token)
			if err != nil {
				return nil, fmt.Errorf("unauthorized: %w", err)
			}
			if voterID == "" {
				return nil, fmt.Errorf("unauthorized: invalid bearer token")
			}

			ctx = context.WithValue(ctx, voterIDKey, voterID)
			return next(ctx, method, req)
		}
	}
}

// noAuthMiddleware injects a default voter when auth is disabled.
func noAuthMiddleware(defaultVoter string) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if defaultVoter != "" {
				ctx = context.WithValue(ctx, voterIDKey, defaultVoter)
			}
			return next(ctx, method, req)
		}
	}
}
