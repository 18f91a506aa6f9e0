package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kunhuang12345/atwf/internal/commgate"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/registry"
)

// registerSendMessage registers the send_message tool: writes a direct
// message to one recipient's inbox and injects it into their live session,
// gated by the comm gate predicate (§4.I).
func registerSendMessage(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a direct message from one worker to another, subject to the team's comm policy."),
			mcp.WithString("from_full", mcp.Required(), mcp.Description("Sender's full session id")),
			mcp.WithString("to_full", mcp.Required(), mcp.Description("Recipient's full session id")),
			mcp.WithString("summary", mcp.Required(), mcp.Description("One-line summary of the message")),
			mcp.WithString("body", mcp.Required(), mcp.Description("Message body")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			fromFull, err := requireString(args, "from_full")
			if err != nil {
				return nil, err
			}
			toFull, err := requireString(args, "to_full")
			if err != nil {
				return nil, err
			}
			summary, err := requireString(args, "summary")
			if err != nil {
				return nil, err
			}
			body, err := requireString(args, "body")
			if err != nil {
				return nil, err
			}

			now := d.Clock.Now()
			reg, err := d.Registry.Load()
			if err != nil {
				return nil, err
			}
			if ok, reason := commgate.Allowed(reg, d.Policy, now, fromFull, toFull); !ok {
				return nil, fmt.Errorf("comm denied: %s", reason)
			}
			from := registry.Resolve(reg, fromFull)
			to := registry.Resolve(reg, toFull)
			if from == nil || to == nil {
				return nil, fmt.Errorf("sender or recipient not found")
			}

			msg, err := d.Inbox.WriteMessage(now, domain.KindDirect, fromFull, from.Base, toFull, to.Base, summary, body, d.Cfg.MaxUnreadPerThread)
			if err != nil {
				return nil, err
			}

			env := inbox.Envelope(msg.MessageHeader, to.Role, body)
			if err := d.Ctl.Send(ctx, toFull, env); err != nil {
				d.Logger.Printf("send_message: injection into %s failed: %v", toFull, err)
			}

			return mcp.NewToolResultText(fmt.Sprintf("message %s delivered to %s", msg.ID, toFull)), nil
		},
	)
}

// registerBroadcastMessage registers the broadcast_message tool: fans a
// message out to every eligible recipient per the broadcast policy (§4.I).
func registerBroadcastMessage(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("broadcast_message",
			mcp.WithDescription("Broadcast a message from one worker to every recipient its role is allowed to broadcast to."),
			mcp.WithString("from_full", mcp.Required(), mcp.Description("Sender's full session id")),
			mcp.WithString("summary", mcp.Required(), mcp.Description("One-line summary of the message")),
			mcp.WithString("body", mcp.Required(), mcp.Description("Message body")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			fromFull, err := requireString(args, "from_full")
			if err != nil {
				return nil, err
			}
			summary, err := requireString(args, "summary")
			if err != nil {
				return nil, err
			}
			body, err := requireString(args, "body")
			if err != nil {
				return nil, err
			}

			reg, err := d.Registry.Load()
			if err != nil {
				return nil, err
			}
			from := registry.Resolve(reg, fromFull)
			if from == nil {
				return nil, fmt.Errorf("sender %s not found", fromFull)
			}
			if !commgate.BroadcastAllowed(d.Policy, from.Role) {
				return nil, fmt.Errorf("role %s may not broadcast", from.Role)
			}

			targets := commgate.BroadcastRecipients(reg, d.Policy, fromFull)
			recipients := make([]inbox.Recipient, 0, len(targets))
			for _, m := range targets {
				recipients = append(recipients, inbox.Recipient{Full: m.Full, Base: m.Base, Role: m.Role, StateFile: m.StateFile})
			}

			now := d.Clock.Now()
			results, err := d.Inbox.Broadcast(ctx, now, domain.KindBroadcast, fromFull, from.Base, recipients, summary, body, d.Cfg.MaxUnreadPerThread, d.Ctl)
			if err != nil {
				return nil, err
			}

			return mcp.NewToolResultText(fmt.Sprintf("broadcast delivered to %d recipient(s)", len(results))), nil
		},
	)
}
