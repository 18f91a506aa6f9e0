// Command atwf-mcp runs the orchestrator's MCP tool server over stdio, so a
// worker agent (Claude Code, Codex, Cursor, ...) can call register, hire,
// send, gather/respond, state-set-self, and search directly instead of
// shelling out to the atwf CLI.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

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
	"github.com/kunhuang12345/atwf/internal/tools/mcp"
	"github.com/kunhuang12345/atwf/internal/workerctl"
)

func main() {
	logger := log.New(os.Stderr, "[atwf-mcp] ", log.LstdFlags)

	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	pol, err := policy.New(cfg)
	if err != nil {
		logger.Fatalf("build policy: %v", err)
	}

	c := clock.Real{}
	timeout := time.Duration(cfg.SubprocessTimeoutSeconds) * time.Second
	m := mux.New(timeout, 10)
	d := &mcp.Deps{
		Cfg:      cfg,
		Policy:   pol,
		Clock:    c,
		Registry: registry.NewStore(cfg.TeamDir, c),
		Inbox:    inbox.NewStore(cfg.TeamDir, c),
		Agent:    agentstate.NewStore(cfg.TeamDir, c),
		Requests: requests.NewStore(cfg.TeamDir, c),
		Drive:    drive.NewStore(cfg.TeamDir, c),
		Ctl:      workerctl.New(cfg.TeamDir, c, timeout, m),
		Logger:   logger,
	}

	if cfg.SearchDBPath != "" {
		idx, err := search.Open(cfg.SearchDBPath)
		if err != nil {
			logger.Printf("search index unavailable (%v), search tool disabled", err)
		} else {
			d.Search = idx
			defer idx.Close()
		}
	}

	mcpServer := server.NewMCPServer("atwf", "0.1.0")
	mcp.Register(mcpServer, d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("shutting down")
		cancel()
	}()

	logger.Println("atwf-mcp starting (stdio)")
	stdioSrv := server.NewStdioServer(mcpServer)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Printf("stdio server error: %v", err)
	}
}

func loadConfig(logger *log.Logger) (*config.Config, error) {
	path := os.Getenv("ATWF_CONFIG")
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getwd: %w", err)
		}
		cfg := config.Default()
		cfg.TeamDir = cwd
		return cfg, nil
	}
	return config.Load(path)
}
