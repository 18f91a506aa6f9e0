package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kunhuang12345/atwf/internal/agentstate"
	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/config"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/drive"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/mux"
	"github.com/kunhuang12345/atwf/internal/policy"
	"github.com/kunhuang12345/atwf/internal/registry"
	"github.com/kunhuang12345/atwf/internal/requests"
	"github.com/kunhuang12345/atwf/internal/workerctl"
)

// testServer builds an MCPServer with every tool registered over a fresh
// team directory, seeded with the given registry members.
func testServer(t *testing.T, now time.Time, members ...*domain.Member) (*server.MCPServer, *Deps, *clock.Fake) {
	t.Helper()
	dir := t.TempDir()
	c := clock.NewFake(now)

	cfg := config.Default()
	cfg.TeamDir = dir
	cfg.Team.CommRequireHandoff = false
	cfg.Team.CanHire = map[string][]string{"admin": {"dev"}}
	cfg.Team.BroadcastAllowedRoles = []string{"admin"}
	cfg.Team.CommHandoffCreators = []string{"admin"}

	pol, err := policy.New(cfg)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}

	regStore := registry.NewStore(dir, c)
	if len(members) > 0 {
		if err := regStore.Mutate(func(reg *domain.Registry) error {
			reg.Members = append(reg.Members, members...)
			return nil
		}); err != nil {
			t.Fatalf("seed registry: %v", err)
		}
	}

	fm := mux.NewFake()
	d := &Deps{
		Cfg:      cfg,
		Policy:   pol,
		Clock:    c,
		Registry: regStore,
		Inbox:    inbox.NewStore(dir, c),
		Agent:    agentstate.NewStore(dir, c),
		Requests: requests.NewStore(dir, c),
		Drive:    drive.NewStore(dir, c),
		Ctl:      workerctl.New(dir, c, time.Second, fm),
		Logger:   log.New(io.Discard, "", 0),
	}

	s := server.NewMCPServer("test", "1.0.0")
	Register(s, d)
	return s, d, c
}

func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()

	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	respJSON := s.HandleMessage(context.Background(), reqJSON)

	respBytes, err := json.Marshal(respJSON)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return &result, nil
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}
