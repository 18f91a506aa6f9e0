package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerGatherRequest registers the gather_request tool: opens a
// reply-needed request against one or more targets (§4.E gather).
func registerGatherRequest(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("gather_request",
			mcp.WithDescription("Open a reply-needed request asking one or more workers to respond by a deadline."),
			mcp.WithString("actor_full", mcp.Required(), mcp.Description("Full session id of the worker gathering replies")),
			mcp.WithString("topic", mcp.Required(), mcp.Description("Short topic for the request")),
			mcp.WithString("message", mcp.Required(), mcp.Description("The question or instruction needing a reply")),
			mcp.WithString("targets", mcp.Required(), mcp.Description("Comma-separated base names of workers to gather replies from")),
			mcp.WithNumber("deadline_seconds", mcp.Description("Deadline in seconds, clamped to [60, 86400], default 300")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			actorFull, err := requireString(args, "actor_full")
			if err != nil {
				return nil, err
			}
			topic, err := requireString(args, "topic")
			if err != nil {
				return nil, err
			}
			message, err := requireString(args, "message")
			if err != nil {
				return nil, err
			}
			targets := stringList(args, "targets")
			if len(targets) == 0 {
				return nil, fmt.Errorf("targets is required")
			}
			deadlineS := optionalInt(args, "deadline_seconds", 300)

			now := d.Clock.Now()
			reg, err := d.Registry.Load()
			if err != nil {
				return nil, err
			}
			meta, err := d.Requests.Gather(now, reg, d.Policy, actorFull, topic, message, deadlineS, targets)
			if err != nil {
				return nil, err
			}

			d.Logger.Printf("gather_request: opened %s for %d target(s)", meta.ID, len(meta.Targets))
			return mcp.NewToolResultText(fmt.Sprintf("request %s opened, waiting on %d target(s)", meta.ID, len(meta.Targets))), nil
		},
	)
}

// registerRespondRequest registers the respond_request tool: records one
// target's reply or blocked-snooze against an open request (§4.E respond).
func registerRespondRequest(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("respond_request",
			mcp.WithDescription("Respond to an open reply-needed request, either with a reply or a blocked snooze."),
			mcp.WithString("request_id", mcp.Required(), mcp.Description("The request id from gather_request")),
			mcp.WithString("actor_base", mcp.Required(), mcp.Description("Base name of the responding worker")),
			mcp.WithString("body", mcp.Required(), mcp.Description("Reply text, or the reason when blocked")),
			mcp.WithBoolean("blocked", mcp.Description("True to snooze instead of finalizing this target's reply")),
			mcp.WithNumber("snooze_seconds", mcp.Description("Snooze duration when blocked, clamped to [30, 86400]")),
			mcp.WithString("waiting_on", mcp.Description("What this target is blocked waiting on, if blocked")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			requestID, err := requireString(args, "request_id")
			if err != nil {
				return nil, err
			}
			actorBase, err := requireString(args, "actor_base")
			if err != nil {
				return nil, err
			}
			body, err := requireString(args, "body")
			if err != nil {
				return nil, err
			}
			blocked := optionalBool(args, "blocked", false)
			snoozeS := optionalInt(args, "snooze_seconds", 0)
			waitingOn := optionalString(args, "waiting_on", "")

			now := d.Clock.Now()
			meta, err := d.Requests.Respond(now, requestID, actorBase, body, blocked, snoozeS, body, waitingOn)
			if err != nil {
				return nil, err
			}

			status := "recorded"
			if meta.FinalizedAt != nil {
				status = fmt.Sprintf("finalized (%s)", meta.Status)
			}
			return mcp.NewToolResultText(fmt.Sprintf("response to %s %s", requestID, status)), nil
		},
	)
}
