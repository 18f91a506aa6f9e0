package requests

import (
	"testing"
	"time"

	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/config"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/policy"
)

func testPolicy(t *testing.T, teamDir string) *policy.Policy {
	t.Helper()
	cfg := config.Default()
	cfg.TeamDir = teamDir
	cfg.Team.RootRole = "coord"
	cfg.Team.EnabledRoles = []config.RoleTemplate{
		{Role: "coord", Template: "coord.md"},
		{Role: "admin", Template: "admin.md"},
		{Role: "dev", Template: "dev.md"},
	}
	cfg.Team.CommRequireHandoff = false
	pol, err := policy.New(cfg)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	return pol
}

func seedRegistry(now time.Time) *domain.Registry {
	reg := domain.NewRegistry()
	reg.Members = append(reg.Members,
		&domain.Member{Full: "admin-B-20260101-000000-1", Base: "admin-B", Role: "admin", CreatedAt: now, UpdatedAt: now},
		&domain.Member{Full: "dev-C-20260101-000000-1", Base: "dev-C", Role: "dev", Parent: "admin-B-20260101-000000-1", CreatedAt: now, UpdatedAt: now},
		&domain.Member{Full: "dev-D-20260101-000000-1", Base: "dev-D", Role: "dev", Parent: "admin-B-20260101-000000-1", CreatedAt: now, UpdatedAt: now},
	)
	return reg
}

func TestGatherThenRespondFinalizesDone(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	pol := testPolicy(t, dir)
	reg := seedRegistry(now)

	s := NewStore(dir, c)
	meta, err := s.Gather(now, reg, pol, "admin-B-20260101-000000-1", "T", "M", 600, []string{"dev-C", "dev-D"})
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(meta.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(meta.Targets))
	}
	if meta.Status != domain.RequestOpen {
		t.Fatalf("expected open status, got %s", meta.Status)
	}

	if _, err := s.Respond(now, meta.ID, "dev-C", "ok-c", false, 0, "", ""); err != nil {
		t.Fatalf("Respond dev-C: %v", err)
	}
	final, err := s.Respond(now, meta.ID, "dev-D", "ok-d", false, 0, "", "")
	if err != nil {
		t.Fatalf("Respond dev-D: %v", err)
	}
	if final.Status != domain.RequestDone {
		t.Fatalf("expected done status after both replied, got %s", final.Status)
	}
	if final.FinalMsgID == "" {
		t.Fatalf("expected a final_msg_id to be set")
	}

	unread, _, _, err := inbox.ListUnread(dir, "admin-B")
	if err != nil {
		t.Fatalf("ListUnread: %v", err)
	}
	if unread != 1 {
		t.Fatalf("expected one reply-needed-result message delivered to the requester, got %d unread", unread)
	}
}

func TestRespondAfterFinalizationIsRejected(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	pol := testPolicy(t, dir)
	reg := seedRegistry(now)

	s := NewStore(dir, c)
	meta, err := s.Gather(now, reg, pol, "admin-B-20260101-000000-1", "T", "M", 600, []string{"dev-C"})
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if _, err := s.Respond(now, meta.ID, "dev-C", "ok", false, 0, "", ""); err != nil {
		t.Fatalf("first Respond: %v", err)
	}
	if _, err := s.Respond(now, meta.ID, "dev-C", "again", false, 0, "", ""); err == nil {
		t.Fatalf("expected AlreadyFinalized error on second respond")
	}
}

func TestSweepFinalizesTimedOut(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	pol := testPolicy(t, dir)
	reg := seedRegistry(now)

	s := NewStore(dir, c)
	meta, err := s.Gather(now, reg, pol, "admin-B-20260101-000000-1", "T", "M", 60, []string{"dev-C"})
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	past := now.Add(2 * time.Hour)
	finalized, err := s.Sweep(past)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(finalized) != 1 || finalized[0].ID != meta.ID {
		t.Fatalf("expected request %s to be swept to timed_out, got %+v", meta.ID, finalized)
	}
	if finalized[0].Status != domain.RequestTimedOut {
		t.Fatalf("expected timed_out status, got %s", finalized[0].Status)
	}
}
