package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/pollit/internal/domain/poll"
)

func registerTools(server *sdkmcp.Server, svc Services) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_polls",
		Description: "List polls, newest first. Returns summaries with total vote counts.",
	}, listPollsHandler(svc.Polls))

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_poll",
		Description: "Get the current tally of a poll, including option ids and the caller's own vote.",
	}, getPollHandler(svc.Polls))

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "cast_vote",
		Description: "Vote on a poll. Select one option, or several distinct options when allowMultiple is true.",
	}, castVoteHandler(svc.Votes))
}

func listPollsHandler(polls PollService) sdkmcp.ToolHandlerFor[ListPollsInput, any] {
	return func(ctx context.Context, _ *sdkmcp.CallToolRequest, in ListPollsInput) (*sdkmcp.CallToolResult, any, error) {
		opts := poll.ListOptions{ActiveOnly: in.ActiveOnly, Limit: in.Limit, Offset: in.Offset}
		if in.Mine {
			voterID := getVoterID(ctx)
			if voterID == "" {
				return errorResult(poll.ErrNotEligible)
			}
			opts.CreatedBy = voterID
		}
		list, err := polls.List(ctx, opts)
		if err != nil {
			return errorResult(err)
		}
		if list == nil {
			list = []poll.Summary{}
		}
		return jsonResult(map[string]any{"polls": list})
	}
}

func getPollHandler(polls PollService) sdkmcp.ToolHandlerFor[GetPollInput, any] {
	return func(ctx context.Context, _ *sdkmcp.CallToolRequest, in GetPollInput) (*sdkmcp.CallToolResult, any, error) {
		pollID := strings.TrimSpace(in.PollID)
		if pollID == "" {
			return errorResult(fmt.Errorf("%w: poll_id is required", poll.ErrInvalidInput))
		}
		p, err := polls.Get(ctx, pollID, getVoterID(ctx))
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(p)
	}
}

func castVoteHandler(votes VoteService) sdkmcp.ToolHandlerFor[CastVoteInput, any] {
	return func(ctx context.Context, _ *sdkmcp.CallToolRequest, in CastVoteInput) (*sdkmcp.CallToolResult, any, error) {
		pollID := strings.TrimSpace(in.PollID)
		if pollID == "" {
			return errorResult(fmt.Errorf("%w: poll_id is required", poll.ErrInvalidInput))
		}
		voterID := getVoterID(ctx)
		if voterID == "" {
			return errorResult(poll.ErrNotEligible)
		}
		res, err := votes.Submit(ctx, pollID, voterID, in.OptionIDs)
		if err != nil {
			return errorResult(err)
		}
		p := res.Poll.Clone()
		p.UserVote = append([]string(nil), res.Outcome.Record.OptionIDs...)
		return jsonResult(CastVoteResult{
			Verdict:  res.Outcome.Verdict.String(),
			Selected: p.UserVote,
			Poll:     p,
		})
	}
}

// errorResult reports a tool failure to the caller as an error result
// carrying the mapped APIError.
func errorResult(err error) (*sdkmcp.CallToolResult, any, error) {
	apiErr := MapError(err)
	if apiErr == nil {
		apiErr = &APIError{Code: "INTERNAL", Message: "internal error", Retryable: true}
	}
	data, _ := json.Marshal(apiErr)
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func jsonResult(v any) (*sdkmcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding result: %w", err)
	}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(data)}},
	}, nil, nil
}
