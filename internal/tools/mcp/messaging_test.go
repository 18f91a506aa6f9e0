package mcp

import (
	"strings"
	"testing"
	"time"

	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/inbox"
)

func TestSendMessageDelivers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, d, _ := testServer(t, now,
		&domain.Member{Full: "admin-B-x", Base: "admin-B", Role: "admin", CreatedAt: now, UpdatedAt: now},
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)

	result, err := callTool(t, s, "send_message", map[string]any{
		"from_full": "admin-B-x", "to_full": "dev-C-x", "summary": "kickoff", "body": "start now",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resultText(t, result), "delivered to dev-C-x") {
		t.Fatalf("unexpected result: %q", resultText(t, result))
	}

	unread, _, _, err := inbox.ListUnread(d.Cfg.TeamDir, "dev-C")
	if err != nil {
		t.Fatalf("ListUnread: %v", err)
	}
	if unread != 1 {
		t.Fatalf("expected 1 unread message, got %d", unread)
	}
}

func TestSendMessageDeniedByCommGate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := testServer(t, now)

	_, err := callTool(t, s, "send_message", map[string]any{
		"from_full": "ghost-1", "to_full": "ghost-2", "summary": "x", "body": "y",
	})
	if err == nil {
		t.Fatal("expected error for unknown senders")
	}
}

func TestBroadcastMessageFansOutToAllowedRole(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, d, _ := testServer(t, now,
		&domain.Member{Full: "admin-B-x", Base: "admin-B", Role: "admin", CreatedAt: now, UpdatedAt: now},
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
		&domain.Member{Full: "dev-D-x", Base: "dev-D", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)

	result, err := callTool(t, s, "broadcast_message", map[string]any{
		"from_full": "admin-B-x", "summary": "all-hands", "body": "status check",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resultText(t, result), "2 recipient") {
		t.Fatalf("unexpected result: %q", resultText(t, result))
	}

	for _, base := range []string{"dev-C", "dev-D"} {
		unread, _, _, err := inbox.ListUnread(d.Cfg.TeamDir, base)
		if err != nil {
			t.Fatalf("ListUnread(%s): %v", base, err)
		}
		if unread != 1 {
			t.Fatalf("expected 1 unread for %s, got %d", base, unread)
		}
	}
}

func TestBroadcastMessageRejectsNonBroadcastRole(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := testServer(t, now,
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)

	_, err := callTool(t, s, "broadcast_message", map[string]any{
		"from_full": "dev-C-x", "summary": "x", "body": "y",
	})
	if err == nil {
		t.Fatal("expected error for non-broadcast role")
	}
}

