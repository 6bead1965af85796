package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `pollit runs live polls. Every vote goes through the same path as the web app:
eligibility check, atomic tally update, then a push to everyone watching the poll.

Workflow:
1) list_polls (active_only=true) to find open polls.
2) get_poll(poll_id) for option ids, current counts and your own vote (userVote).
3) cast_vote(poll_id, option_ids). Single-choice polls take exactly one option id.

Errors come back as JSON {code, message, recovery_hint}:
- DUPLICATE_VOTE: you already voted; your first vote stands. Do not retry.
- POLL_INACTIVE: the poll is closed.
- INVALID_OPTION / INVALID_SELECTION_COUNT: fix the option ids and call again.
- TRANSIENT_STORAGE: nothing was counted; retrying is safe.

Docs: pollit://docs/voting
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "pollit://docs/voting",
		Name:        "docs_voting",
		Title:       "Voting rules",
		Description: "How votes are validated, counted and broadcast.",
		Content: `# Voting rules

## Selection
- Single-choice polls: exactly one option id.
- Multiple-choice polls (allowMultiple): one or more distinct option ids.
- Every id must belong to the poll.

## One vote per voter
A voter has at most one effective vote per poll. A second submission is
rejected with DUPLICATE_VOTE and changes nothing, unless the server runs with
the replace policy, in which case the new selection atomically replaces the old.

## Counting
Counts are updated atomically per poll: totalVotes always equals the number of
counted voters (single-choice) and each option's votes equals the number of
counted selections naming it. percentage is rounded to one decimal.

## Freshness
Each poll carries a version that increases with every change. A snapshot with
a higher version is always newer.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
