// Package mcp exposes the orchestrator's core operations as MCP tools. It is
// a pure adapter: no handler here introduces new state or new invariants —
// every tool is a thin wrapper that calls the same registry/inbox/requests/
// agentstate/commgate/workerctl/search functions the CLI commands call.
package mcp

import (
	"log"

	"github.com/kunhuang12345/atwf/internal/agentstate"
	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/config"
	"github.com/kunhuang12345/atwf/internal/drive"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/policy"
	"github.com/kunhuang12345/atwf/internal/registry"
	"github.com/kunhuang12345/atwf/internal/requests"
	"github.com/kunhuang12345/atwf/internal/search"
	"github.com/kunhuang12345/atwf/internal/workerctl"
)

// Deps bundles the collaborators every tool handler needs. One Deps is built
// once at server startup and shared by every registered tool, the way the
// teacher's collab package shares one *app.CollabService across all of its
// registrations.
type Deps struct {
	Cfg      *config.Config
	Policy   *policy.Policy
	Clock    clock.Clock
	Registry *registry.Store
	Inbox    *inbox.Store
	Agent    *agentstate.Store
	Requests *requests.Store
	Drive    *drive.Store
	Ctl      *workerctl.Ctl
	Search   *search.Store // nil when the search index is disabled
	Logger   *log.Logger
}
