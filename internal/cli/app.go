// Package cli implements the atwf command-line surface: the same
// operations the MCP tool adapter in internal/tools/mcp exposes to worker
// agents, wired here for operators and scripts via github.com/spf13/cobra.
// Every command is a thin wrapper over the core packages; none adds state
// or invariants of its own.
package cli

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kunhuang12345/atwf/internal/agentstate"
	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/config"
	"github.com/kunhuang12345/atwf/internal/drive"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/mux"
	"github.com/kunhuang12345/atwf/internal/policy"
	"github.com/kunhuang12345/atwf/internal/registry"
	"github.com/kunhuang12345/atwf/internal/requests"
	"github.com/kunhuang12345/atwf/internal/search"
	"github.com/kunhuang12345/atwf/internal/workerctl"
)

// App bundles every collaborator a CLI command needs, built once per
// invocation from --config/--team-dir.
type App struct {
	Cfg      *config.Config
	Policy   *policy.Policy
	Clock    clock.Clock
	Registry *registry.Store
	Inbox    *inbox.Store
	Agent    *agentstate.Store
	Requests *requests.Store
	Drive    *drive.Store
	Ctl      *workerctl.Ctl
	Search   *search.Store // nil unless search_db_path is configured
	Logger   *log.Logger
}

func newApp(cmd *cobra.Command) (*App, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	teamDir, _ := cmd.Root().PersistentFlags().GetString("team-dir")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if teamDir != "" {
		cfg.TeamDir = teamDir
	}

	pol, err := policy.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("build policy: %w", err)
	}

	c := clock.Real{}
	timeout := time.Duration(cfg.SubprocessTimeoutSeconds) * time.Second
	m := mux.New(timeout, 10)

	a := &App{
		Cfg:      cfg,
		Policy:   pol,
		Clock:    c,
		Registry: registry.NewStore(cfg.TeamDir, c),
		Inbox:    inbox.NewStore(cfg.TeamDir, c),
		Agent:    agentstate.NewStore(cfg.TeamDir, c),
		Requests: requests.NewStore(cfg.TeamDir, c),
		Drive:    drive.NewStore(cfg.TeamDir, c),
		Ctl:      workerctl.New(cfg.TeamDir, c, timeout, m),
		Logger:   log.New(os.Stderr, "[atwf] ", log.LstdFlags),
	}

	if cfg.SearchDBPath != "" {
		if idx, err := search.Open(cfg.SearchDBPath); err == nil {
			a.Search = idx
		} else {
			a.Logger.Printf("search index unavailable (%v), search command disabled", err)
		}
	}
	return a, nil
}
