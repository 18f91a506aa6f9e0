package search

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/config"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/policy"
	"github.com/kunhuang12345/atwf/internal/requests"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestFullScanIndexesInboxRequestsAndDesign(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)

	ibx := inbox.NewStore(dir, c)
	if _, err := ibx.WriteMessage(now, domain.KindDirect, "admin-B-x", "admin-B", "dev-C-x", "dev-C",
		"kickoff", "Please start the authentication module.", 5); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	cfg := config.Default()
	cfg.TeamDir = dir
	cfg.Team.CommRequireHandoff = false
	pol, err := policy.New(cfg)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	reg := domain.NewRegistry()
	reg.Members = append(reg.Members,
		&domain.Member{Full: "admin-B-x", Base: "admin-B", Role: "admin", CreatedAt: now, UpdatedAt: now},
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)
	reqStore := requests.NewStore(dir, c)
	meta, err := reqStore.Gather(now, reg, pol, "admin-B-x", "rollout plan", "What's the plan?", 600, []string{"dev-C"})
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if _, err := reqStore.Respond(now, meta.ID, "dev-C", "Ship behind a feature flag.", false, 0, "", ""); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "design"), 0o755); err != nil {
		t.Fatalf("mkdir design: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "design", "dev-C-x.md"), []byte("# Auth module design\n\nUses JWT."), 0o644); err != nil {
		t.Fatalf("write design stub: %v", err)
	}

	s := tempStore(t)
	idx := NewIndexer(s, IndexerConfig{TeamDir: dir}, testLogger())
	indexed, removed := idx.RunOnce()
	if indexed == 0 {
		t.Fatalf("expected at least one document indexed")
	}
	if removed != 0 {
		t.Fatalf("expected nothing removed on first scan, got %d", removed)
	}

	cases := []struct {
		query    string
		category string
	}{
		{"authentication module", "message"},
		{"rollout plan", "request_topic"},
		{"feature flag", "response"},
		{"JWT", "design"},
	}
	for _, tc := range cases {
		results, err := s.Query(tc.query, tc.category, 10)
		if err != nil {
			t.Fatalf("Query(%q, %q): %v", tc.query, tc.category, err)
		}
		if len(results) == 0 {
			t.Fatalf("expected a %s hit for query %q", tc.category, tc.query)
		}
	}
}

func TestFullScanRemovesDeletedDesignStub(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "design"), 0o755); err != nil {
		t.Fatalf("mkdir design: %v", err)
	}
	stubPath := filepath.Join(dir, "design", "dev-C-x.md")
	if err := os.WriteFile(stubPath, []byte("stale design notes"), 0o644); err != nil {
		t.Fatalf("write design stub: %v", err)
	}

	s := tempStore(t)
	idx := NewIndexer(s, IndexerConfig{TeamDir: dir}, testLogger())
	if indexed, _ := idx.RunOnce(); indexed == 0 {
		t.Fatalf("expected the design stub to be indexed")
	}

	if err := os.Remove(stubPath); err != nil {
		t.Fatalf("remove design stub: %v", err)
	}
	_, removed := idx.RunOnce()
	if removed != 1 {
		t.Fatalf("expected the deleted design stub to be pruned, got removed=%d", removed)
	}
}
