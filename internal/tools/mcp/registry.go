package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/registry"
	"github.com/kunhuang12345/atwf/internal/workerctl"
)

// registerRegisterWorker registers the register_worker tool: starts a fresh
// top-level tmux worker and records it in the registry (§4.B/§4.E).
func registerRegisterWorker(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("register_worker",
			mcp.WithDescription("Start a new top-level worker session and record it in the team registry."),
			mcp.WithString("base", mcp.Required(), mcp.Description("Base worker name, e.g. 'admin-B'")),
			mcp.WithString("role", mcp.Required(), mcp.Description("Role, must be one of the enabled roles")),
			mcp.WithString("scope", mcp.Description("Free-text scope note for this worker")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			base, err := requireString(args, "base")
			if err != nil {
				return nil, err
			}
			role, err := requireString(args, "role")
			if err != nil {
				return nil, err
			}
			if !d.Policy.IsRoleEnabled(role) {
				return nil, fmt.Errorf("role %s is not enabled", role)
			}
			scope := optionalString(args, "scope", "")

			full, stateFile, err := d.Ctl.Start(ctx, base, workerctl.Opts{Role: role, Scope: scope})
			if err != nil {
				return nil, err
			}

			now := d.Clock.Now()
			if err := d.Registry.Mutate(func(reg *domain.Registry) error {
				registry.EnsureMember(reg, now, full, base, role, scope, "", stateFile)
				return nil
			}); err != nil {
				return nil, err
			}

			d.Logger.Printf("registered worker %s (role=%s)", full, role)
			return mcp.NewToolResultText(fmt.Sprintf("registered %s (role=%s)", full, role)), nil
		},
	)
}

// registerHireWorker registers the hire_worker tool: spawns a child worker
// under an existing parent, subject to the can_hire policy (§4.C).
func registerHireWorker(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("hire_worker",
			mcp.WithDescription("Spawn a child worker reporting to an existing parent worker."),
			mcp.WithString("parent_full", mcp.Required(), mcp.Description("Full session id of the hiring parent")),
			mcp.WithString("base", mcp.Required(), mcp.Description("Base name for the new child worker")),
			mcp.WithString("role", mcp.Required(), mcp.Description("Role for the new child worker")),
			mcp.WithString("scope", mcp.Description("Free-text scope note for this worker")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			parentFull, err := requireString(args, "parent_full")
			if err != nil {
				return nil, err
			}
			base, err := requireString(args, "base")
			if err != nil {
				return nil, err
			}
			role, err := requireString(args, "role")
			if err != nil {
				return nil, err
			}
			scope := optionalString(args, "scope", "")

			reg, err := d.Registry.Load()
			if err != nil {
				return nil, err
			}
			parent := registry.Resolve(reg, parentFull)
			if parent == nil {
				return nil, fmt.Errorf("parent %s not found", parentFull)
			}
			if !d.Policy.CanHire(parent.Role, role) {
				return nil, fmt.Errorf("role %s may not hire role %s", parent.Role, role)
			}

			full, stateFile, err := d.Ctl.Spawn(ctx, parentFull, base, workerctl.Opts{Role: role, Scope: scope})
			if err != nil {
				return nil, err
			}

			now := d.Clock.Now()
			if err := d.Registry.Mutate(func(reg *domain.Registry) error {
				registry.EnsureMember(reg, now, full, base, role, scope, parentFull, stateFile)
				registry.AddChild(reg, parentFull, full)
				return nil
			}); err != nil {
				return nil, err
			}

			d.Logger.Printf("hired %s (role=%s) under %s", full, role, parentFull)
			return mcp.NewToolResultText(fmt.Sprintf("hired %s (role=%s) under %s", full, role, parentFull)), nil
		},
	)
}

// registerListWorkers registers the list_workers tool: a read-only dump of
// the registry.
func registerListWorkers(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("list_workers",
			mcp.WithDescription("List every worker currently recorded in the team registry."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			reg, err := d.Registry.Load()
			if err != nil {
				return nil, err
			}
			if len(reg.Members) == 0 {
				return mcp.NewToolResultText("no workers registered"), nil
			}
			var out string
			for _, m := range reg.Members {
				parent := m.Parent
				if parent == "" {
					parent = "(none)"
				}
				out += fmt.Sprintf("%s role=%s parent=%s children=%d\n", m.Full, m.Role, parent, len(m.Children))
			}
			return mcp.NewToolResultText(out), nil
		},
	)
}

// registerCreateHandoff registers the create_handoff tool: grants a
// time-bounded direct-comm permit between two bases (§4.I handoff permits).
func registerCreateHandoff(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("create_handoff",
			mcp.WithDescription("Grant a temporary direct-communication permit between two worker bases."),
			mcp.WithString("created_by_full", mcp.Required(), mcp.Description("Full session id of the worker creating the handoff")),
			mcp.WithString("a", mcp.Required(), mcp.Description("First base name in the permitted pair")),
			mcp.WithString("b", mcp.Required(), mcp.Description("Second base name in the permitted pair")),
			mcp.WithString("reason", mcp.Description("Why this handoff is being created")),
			mcp.WithNumber("ttl_seconds", mcp.Description("How long the permit lasts, default 3600")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			createdByFull, err := requireString(args, "created_by_full")
			if err != nil {
				return nil, err
			}
			a, err := requireString(args, "a")
			if err != nil {
				return nil, err
			}
			b, err := requireString(args, "b")
			if err != nil {
				return nil, err
			}
			reason := optionalString(args, "reason", "")
			ttl := time.Duration(optionalInt(args, "ttl_seconds", 3600)) * time.Second

			reg, err := d.Registry.Load()
			if err != nil {
				return nil, err
			}
			creator := registry.Resolve(reg, createdByFull)
			if creator == nil {
				return nil, fmt.Errorf("creator %s not found", createdByFull)
			}
			if !d.Policy.HandoffCreator(creator.Role) {
				return nil, fmt.Errorf("role %s may not create handoffs", creator.Role)
			}

			now := d.Clock.Now()
			var permitID string
			if err := d.Registry.Mutate(func(reg *domain.Registry) error {
				p := registry.AddPermit(reg, now, a, b, createdByFull, creator.Role, reason, ttl)
				permitID = p.ID
				return nil
			}); err != nil {
				return nil, err
			}

			d.Logger.Printf("handoff %s created between %s and %s by %s", permitID, a, b, createdByFull)
			return mcp.NewToolResultText(fmt.Sprintf("handoff %s granted between %s and %s", permitID, a, b)), nil
		},
	)
}
