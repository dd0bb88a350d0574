package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/operator"
	"github.com/kalambet/replyd/internal/voice"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Operator *operator.Service
	Voice    *voice.Manager
}

// NewMCPServer creates an MCP server exposing the operator controls.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"replyd",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("replyd drafts and posts replies to social media comments. Use these tools to review pending replies, approve or reject them, and switch between autonomous and manual mode."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_comments",
			mcp.WithDescription("List recent comments, newest first, with the latest reply for each."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of comments (default 20)")),
			mcp.WithString("platform", mcp.Description("Only this platform"), mcp.Enum(platformNames()...)),
		),
		mcpListComments(deps),
	)

	s.AddTool(
		mcp.NewTool("list_pending_replies",
			mcp.WithDescription("List replies waiting for the owner's decision, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of replies (default 20)")),
		),
		mcpListPending(deps),
	)

	s.AddTool(
		mcp.NewTool("approve_reply",
			mcp.WithDescription("Approve a pending reply. The next sweep posts it."),
			mcp.WithString("reply_id", mcp.Description("Reply ID"), mcp.Required()),
		),
		mcpDecide(deps.Operator.Approve),
	)

	s.AddTool(
		mcp.NewTool("reject_reply",
			mcp.WithDescription("Reject a pending reply so it is never posted."),
			mcp.WithString("reply_id", mcp.Description("Reply ID"), mcp.Required()),
		),
		mcpDecide(deps.Operator.Reject),
	)

	s.AddTool(
		mcp.NewTool("submit_reply",
			mcp.WithDescription("Write the reply to a comment yourself. It is stored as approved and posted by the next sweep."),
			mcp.WithString("platform", mcp.Description("Platform of the comment"), mcp.Required(), mcp.Enum(platformNames()...)),
			mcp.WithString("comment_id", mcp.Description("Platform comment ID"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Reply text"), mcp.Required()),
		),
		mcpSubmitReply(deps),
	)

	s.AddTool(
		mcp.NewTool("set_owner_activity",
			mcp.WithDescription("Mark the owner as active (every reply waits for approval) or inactive (eligible replies post automatically)."),
			mcp.WithBoolean("active", mcp.Description("Whether the owner is active"), mcp.Required()),
		),
		mcpSetOwnerActivity(deps),
	)

	s.AddTool(
		mcp.NewTool("get_stats",
			mcp.WithDescription("Reply and comment counts by status, escalation queue counts, and per-platform loop state."),
		),
		mcpStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"replyd://voice",
			"Brand Voice",
			mcp.WithResourceDescription("Current brand voice used for replies and content"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceVoice(deps),
	)

	return s
}

func platformNames() []string {
	names := make([]string, len(domain.Platforms))
	for i, p := range domain.Platforms {
		names[i] = string(p)
	}
	return names
}

func mcpListComments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := clampLimit(req.GetInt("limit", 20))

		var p domain.Platform
		if raw := req.GetString("platform", ""); raw != "" {
			var err error
			if p, err = domain.ParsePlatform(raw); err != nil {
				return mcpError(err.Error()), nil
			}
		}

		comments, err := deps.Operator.ListComments(limit, p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list comments: %v", err)), nil
		}
		return mcpJSON(comments)
	}
}

func mcpListPending(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		replies, err := deps.Operator.ListPending(clampLimit(req.GetInt("limit", 20)))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list pending replies: %v", err)), nil
		}
		return mcpJSON(replies)
	}
}

func mcpDecide(decide func(string) (domain.Reply, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("reply_id")
		if err != nil {
			return mcpError("reply_id is required"), nil
		}
		r, err := decide(id)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Reply %s is now %s", r.ID, r.Status)), nil
	}
}

func mcpSubmitReply(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawPlatform, err := req.RequireString("platform")
		if err != nil {
			return mcpError("platform is required"), nil
		}
		p, err := domain.ParsePlatform(rawPlatform)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		commentID, err := req.RequireString("comment_id")
		if err != nil {
			return mcpError("comment_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		r, err := deps.Operator.SubmitReply(p, commentID, text)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Stored reply %s; it will be posted on the next sweep", r.ID)), nil
	}
}

func mcpSetOwnerActivity(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		active, err := req.RequireBool("active")
		if err != nil {
			return mcpError("active is required"), nil
		}
		if err := deps.Operator.SetOwnerActivity(active); err != nil {
			return mcpError(err.Error()), nil
		}
		if active {
			return mcpText("Owner marked active: every reply now waits for approval"), nil
		}
		return mcpText("Owner marked inactive: eligible replies post automatically"), nil
	}
}

func mcpStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Operator.Stats()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to collect stats: %v", err)), nil
		}
		return mcpJSON(st)
	}
}

func mcpResourceVoice(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		v, err := deps.Voice.Get()
		if err != nil {
			return nil, fmt.Errorf("failed to get voice: %w", err)
		}

		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal voice: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
