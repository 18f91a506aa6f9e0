package watcher

import (
	"context"
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
	"github.com/kunhuang12345/atwf/internal/mux"
	"github.com/kunhuang12345/atwf/internal/policy"
	"github.com/kunhuang12345/atwf/internal/registry"
	"github.com/kunhuang12345/atwf/internal/requests"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testPolicy(t *testing.T, dir string) *policy.Policy {
	t.Helper()
	cfg := config.Default()
	cfg.TeamDir = dir
	cfg.Team.CommRequireHandoff = false
	pol, err := policy.New(cfg)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	return pol
}

func seedRegistry(t *testing.T, dir string, c clock.Clock, now time.Time) {
	t.Helper()
	store := registry.NewStore(dir, c)
	err := store.Mutate(func(reg *domain.Registry) error {
		reg.Members = append(reg.Members,
			&domain.Member{Full: "admin-B-20260101-000000-1", Base: "admin-B", Role: "admin", CreatedAt: now, UpdatedAt: now},
			&domain.Member{Full: "dev-C-20260101-000000-1", Base: "dev-C", Role: "dev", Parent: "admin-B-20260101-000000-1", CreatedAt: now, UpdatedAt: now},
			&domain.Member{Full: "dev-D-20260101-000000-1", Base: "dev-D", Role: "dev", Parent: "admin-B-20260101-000000-1", CreatedAt: now, UpdatedAt: now},
		)
		return nil
	})
	if err != nil {
		t.Fatalf("seed registry: %v", err)
	}
}

func baseConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.TeamDir = dir
	cfg.Team.RootRole = "admin"
	cfg.Team.Drive.Mode = "running"
	cfg.Team.Drive.CooldownSeconds = 300
	cfg.Team.Drive.ReplyCooldownSec = 60
	return cfg
}

func TestTickPausedShortCircuits(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	seedRegistry(t, dir, c, now)

	if err := os.WriteFile(filepath.Join(dir, ".paused"), nil, 0o644); err != nil {
		t.Fatalf("write .paused: %v", err)
	}

	fm := mux.NewFake()
	fm.AliveSessions["admin-B-20260101-000000-1"] = true
	w := New(baseConfig(dir), "", c, fm, testLogger())

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(fm.Sent) != 0 {
		t.Fatalf("expected no injections while paused, got %v", fm.Sent)
	}
}

func TestTickSweptFinalizationSuppressesDrive(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	seedRegistry(t, dir, c, now)

	fm := mux.NewFake()
	fm.AliveSessions["admin-B-20260101-000000-1"] = true
	fm.AliveSessions["dev-C-20260101-000000-1"] = true
	fm.AliveSessions["dev-D-20260101-000000-1"] = true

	pol := testPolicy(t, dir)
	reg, err := registry.NewStore(dir, c).Load()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	reqStore := requests.NewStore(dir, c)
	if _, err := reqStore.Gather(now, reg, pol, "admin-B-20260101-000000-1", "T", "M", 60, []string{"dev-C"}); err != nil {
		t.Fatalf("Gather: %v", err)
	}

	cfg := baseConfig(dir)
	later := now.Add(2 * time.Minute)
	c.Set(later)

	w := New(cfg, "", c, fm, testLogger())
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	unread, _, _, err := inbox.ListUnread(dir, "admin-B")
	if err != nil {
		t.Fatalf("ListUnread: %v", err)
	}
	if unread == 0 {
		t.Fatalf("expected the reply-needed timeout result to land in admin-B's inbox")
	}
	if len(fm.Sent["admin-B-20260101-000000-1"]) != 0 {
		t.Fatalf("expected drive to be suppressed on the tick that swept a finalization, got %v", fm.Sent)
	}
}

func TestTickLegacyDriveFiresWhenTeamIdleAndUnitRoleUnset(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	seedRegistry(t, dir, c, now)

	fm := mux.NewFake()
	fm.AliveSessions["admin-B-20260101-000000-1"] = true
	fm.AliveSessions["dev-C-20260101-000000-1"] = true
	fm.AliveSessions["dev-D-20260101-000000-1"] = true

	cfg := baseConfig(dir)
	cfg.Team.Drive.UnitRole = ""
	cfg.Team.Drive.DriverRole = "admin"

	w := New(cfg, "", c, fm, testLogger())
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick #1: %v", err)
	}
	// First tick's fresh capture counts as an output change (status -> working);
	// advance past the activity window so the second tick derives idle.
	c.Advance(2 * time.Minute)
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick #2: %v", err)
	}
	if len(fm.Sent["admin-B-20260101-000000-1"]) == 0 {
		t.Fatalf("expected legacy drive to nudge the driver once the whole team is idle")
	}
}

func TestTickStandbyModeSuppressesDrive(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	seedRegistry(t, dir, c, now)

	fm := mux.NewFake()
	fm.AliveSessions["admin-B-20260101-000000-1"] = true
	fm.AliveSessions["dev-C-20260101-000000-1"] = true
	fm.AliveSessions["dev-D-20260101-000000-1"] = true

	cfg := baseConfig(dir)
	cfg.Team.Drive.UnitRole = ""
	cfg.Team.Drive.Mode = "standby"

	w := New(cfg, "", c, fm, testLogger())
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick #1: %v", err)
	}
	c.Advance(2 * time.Minute)
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick #2: %v", err)
	}
	if len(fm.Sent) != 0 {
		t.Fatalf("expected no drive nudges in standby mode, got %v", fm.Sent)
	}
}
