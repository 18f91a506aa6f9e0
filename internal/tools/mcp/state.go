package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/registry"
)

// registerStateSetSelf registers the state_set_self tool: the self-service
// status transition a worker uses to announce draining/idle/working (§4.F).
func registerStateSetSelf(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("state_set_self",
			mcp.WithDescription("Transition your own agent status: working, draining, or idle (idle only from draining with an empty inbox)."),
			mcp.WithString("full", mcp.Required(), mcp.Description("Your full session id")),
			mcp.WithString("status", mcp.Required(), mcp.Description("One of: working, draining, idle")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			full, err := requireString(args, "full")
			if err != nil {
				return nil, err
			}
			statusArg, err := requireString(args, "status")
			if err != nil {
				return nil, err
			}
			target := domain.NormalizeAgentStatus(statusArg)

			reg, err := d.Registry.Load()
			if err != nil {
				return nil, err
			}
			mem := registry.Resolve(reg, full)
			if mem == nil {
				return nil, fmt.Errorf("%s not found", full)
			}

			st, err := d.Agent.SetSelf(full, mem.Base, target, d.Clock.Now())
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(fmt.Sprintf("%s status is now %s", full, st.Status)), nil
		},
	)
}

// registerStateSet registers the state_set tool: an operator-forced status
// override, bypassing the self-transition rules (§4.F "force"). Forcing a
// draining or idle target requires force=true, else it's a StateConflict.
func registerStateSet(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("state_set",
			mcp.WithDescription("Force another worker's agent status, bypassing normal self-transition rules. draining/idle targets require force=true."),
			mcp.WithString("full", mcp.Required(), mcp.Description("Target worker's full session id")),
			mcp.WithString("status", mcp.Required(), mcp.Description("One of: working, draining, idle")),
			mcp.WithBoolean("force", mcp.Description("Required to force a draining or idle target")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			full, err := requireString(args, "full")
			if err != nil {
				return nil, err
			}
			statusArg, err := requireString(args, "status")
			if err != nil {
				return nil, err
			}
			target := domain.NormalizeAgentStatus(statusArg)
			force := optionalBool(args, "force", false)

			if !force && (target == domain.StatusDraining || target == domain.StatusIdle) {
				return nil, domain.StateConflictf("state_set %s requires force=true", target)
			}

			st, err := d.Agent.SetForce(full, target)
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(fmt.Sprintf("%s status forced to %s", full, st.Status)), nil
		},
	)
}

// registerPauseResume registers the pause_drive and resume_drive tools,
// toggling the `.paused` marker file that suppresses every watcher action
// (§4.G).
func registerPauseResume(s *server.MCPServer, d *Deps) {
	pausedPath := filepath.Join(d.Cfg.TeamDir, ".paused")

	s.AddTool(
		mcp.NewTool("pause_drive",
			mcp.WithDescription("Pause the watcher: no drive nudges, wake scheduling, or stale-inbox alerts will fire."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := os.WriteFile(pausedPath, []byte(d.Clock.Now().UTC().Format("2006-01-02T15:04:05Z")), 0o644); err != nil {
				return nil, fmt.Errorf("pause: %w", err)
			}
			return mcp.NewToolResultText("watcher paused"), nil
		},
	)

	s.AddTool(
		mcp.NewTool("resume_drive",
			mcp.WithDescription("Resume the watcher after a pause_drive."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if err := os.Remove(pausedPath); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("resume: %w", err)
			}
			return mcp.NewToolResultText("watcher resumed"), nil
		},
	)
}
