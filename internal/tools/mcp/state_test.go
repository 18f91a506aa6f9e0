package mcp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kunhuang12345/atwf/internal/domain"
)

func TestStateSetSelfDrainingThenIdleWithEmptyInbox(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := testServer(t, now,
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)

	result, err := callTool(t, s, "state_set_self", map[string]any{"full": "dev-C-x", "status": "draining"})
	if err != nil {
		t.Fatalf("draining: %v", err)
	}
	if !strings.Contains(resultText(t, result), "draining") {
		t.Fatalf("unexpected result: %q", resultText(t, result))
	}

	result, err = callTool(t, s, "state_set_self", map[string]any{"full": "dev-C-x", "status": "idle"})
	if err != nil {
		t.Fatalf("idle: %v", err)
	}
	if !strings.Contains(resultText(t, result), "idle") {
		t.Fatalf("unexpected result: %q", resultText(t, result))
	}
}

func TestStateSetSelfIdleWithoutDrainingRejected(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := testServer(t, now,
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)

	_, err := callTool(t, s, "state_set_self", map[string]any{"full": "dev-C-x", "status": "idle"})
	if err == nil {
		t.Fatal("expected error transitioning straight to idle")
	}
}

func TestStateSetForceOverridesFromAnyStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := testServer(t, now,
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)

	result, err := callTool(t, s, "state_set", map[string]any{"full": "dev-C-x", "status": "idle", "force": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resultText(t, result), "forced to idle") {
		t.Fatalf("unexpected result: %q", resultText(t, result))
	}
}

func TestStateSetWithoutForceRejectsDrainingOrIdle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := testServer(t, now,
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)

	if _, err := callTool(t, s, "state_set", map[string]any{"full": "dev-C-x", "status": "idle"}); err == nil {
		t.Fatal("expected error forcing idle without force=true")
	}
	if _, err := callTool(t, s, "state_set", map[string]any{"full": "dev-C-x", "status": "draining"}); err == nil {
		t.Fatal("expected error forcing draining without force=true")
	}

	result, err := callTool(t, s, "state_set", map[string]any{"full": "dev-C-x", "status": "working"})
	if err != nil {
		t.Fatalf("working should not require force: %v", err)
	}
	if !strings.Contains(resultText(t, result), "forced to working") {
		t.Fatalf("unexpected result: %q", resultText(t, result))
	}
}

func TestPauseResumeRoundTripsMarkerFile(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, d, _ := testServer(t, now)
	pausedPath := filepath.Join(d.Cfg.TeamDir, ".paused")

	if _, err := os.Stat(pausedPath); !os.IsNotExist(err) {
		t.Fatalf("expected no marker file before pausing, stat err: %v", err)
	}

	result, err := callTool(t, s, "pause_drive", map[string]any{})
	if err != nil {
		t.Fatalf("pause_drive: %v", err)
	}
	if resultText(t, result) != "watcher paused" {
		t.Fatalf("unexpected result: %q", resultText(t, result))
	}
	if _, err := os.Stat(pausedPath); err != nil {
		t.Fatalf("expected marker file after pausing: %v", err)
	}

	result, err = callTool(t, s, "resume_drive", map[string]any{})
	if err != nil {
		t.Fatalf("resume_drive: %v", err)
	}
	if resultText(t, result) != "watcher resumed" {
		t.Fatalf("unexpected result: %q", resultText(t, result))
	}
	if _, err := os.Stat(pausedPath); !os.IsNotExist(err) {
		t.Fatalf("expected marker file removed after resuming, stat err: %v", err)
	}
}
