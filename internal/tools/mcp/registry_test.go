package mcp

import (
	"strings"
	"testing"
	"time"

	"github.com/kunhuang12345/atwf/internal/domain"
)

func TestListWorkers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := testServer(t, now,
		&domain.Member{Full: "admin-B-x", Base: "admin-B", Role: "admin", CreatedAt: now, UpdatedAt: now},
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", Parent: "admin-B-x", CreatedAt: now, UpdatedAt: now},
	)

	result, err := callTool(t, s, "list_workers", map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "admin-B-x") || !strings.Contains(text, "dev-C-x") {
		t.Fatalf("expected both workers listed, got %q", text)
	}
}

func TestListWorkersEmpty(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := testServer(t, now)

	result, err := callTool(t, s, "list_workers", map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultText(t, result) != "no workers registered" {
		t.Fatalf("unexpected result: %q", resultText(t, result))
	}
}

func TestCreateHandoffGrantsPermit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, d, _ := testServer(t, now,
		&domain.Member{Full: "admin-B-x", Base: "admin-B", Role: "admin", CreatedAt: now, UpdatedAt: now},
	)

	result, err := callTool(t, s, "create_handoff", map[string]any{
		"created_by_full": "admin-B-x", "a": "dev-C", "b": "dev-D", "reason": "pairing",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resultText(t, result), "handoff") {
		t.Fatalf("unexpected result: %q", resultText(t, result))
	}

	reg, err := d.Registry.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reg.Permits) != 1 {
		t.Fatalf("expected 1 permit, got %d", len(reg.Permits))
	}
}

func TestCreateHandoffRejectsNonCreatorRole(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := testServer(t, now,
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)

	_, err := callTool(t, s, "create_handoff", map[string]any{
		"created_by_full": "dev-C-x", "a": "dev-C", "b": "dev-D",
	})
	if err == nil {
		t.Fatal("expected error for non-creator role")
	}
}
