package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func trafficLoggingMiddleware(logger *slog.Logger, direction string) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if logger == nil || !logger.Enabled(ctx, slog.LevelDebug) {
				return next(ctx, method, req)
			}

			voterID := getVoterID(ctx)
			logger.Debug("mcp traffic", "direction", direction, "stage", "request", "method", method, "voter_id", voterID, "params", formatPayload(safeParams(req)))

			result, err := next(ctx, method, req)
			if strings.HasPrefix(method, "notifications/") {
				return result, err
			}
			if err != nil {
				logger.Debug("mcp traffic", "direction", direction, "stage", "response", "method", method, "voter_id", voterID, "error", err)
			} else {
				logger.Debug("mcp traffic", "direction", direction, "stage", "response", "method", method, "voter_id", voterID, "result", formatPayload(result))
			}
			return result, err
		}
	}
}

// Some notifications carry typed-nil params; GetParams can panic on them.
func safeParams(req sdkmcp.Request) (params any) {
	if req == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			params = nil
		}
	}()
	return req.GetParams()
}

func formatPayload(payload any) string {
	if payload == nil {
		return "<nil>"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%T", payload)
	}
	return string(data)
}
