package drive

import (
	"context"
	"testing"
	"time"

	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/config"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/mux"
	"github.com/kunhuang12345/atwf/internal/policy"
	"github.com/kunhuang12345/atwf/internal/requests"
	"github.com/kunhuang12345/atwf/internal/workerctl"
)

func testPolicy(t *testing.T, teamDir string) *policy.Policy {
	t.Helper()
	cfg := config.Default()
	cfg.TeamDir = teamDir
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

func TestLegacyDriveFiresOnceThenRespectsCooldown(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	s := NewStore(dir, c)
	reg := seedRegistry(now)
	fm := mux.NewFake()
	ctl := workerctl.New(dir, c, time.Second, fm)
	ibx := inbox.NewStore(dir, c)

	snaps := []Snapshot{
		{Full: "admin-B-20260101-000000-1", Base: "admin-B", Role: "admin", Alive: true, Idle: true},
		{Full: "dev-C-20260101-000000-1", Base: "dev-C", Role: "dev", Alive: true, Idle: true},
	}

	acted, err := s.RunLegacyDrive(context.Background(), now, reg, snaps, "admin", 300, ctl, ibx, 5)
	if err != nil {
		t.Fatalf("RunLegacyDrive #1: %v", err)
	}
	if !acted {
		t.Fatalf("expected legacy drive to fire when the whole team is idle")
	}
	if len(fm.Sent["admin-B-20260101-000000-1"]) == 0 {
		t.Fatalf("expected a drive nudge injected into the driver's session")
	}
	unread, _, _, err := inbox.ListUnread(dir, "admin-B")
	if err != nil {
		t.Fatalf("ListUnread: %v", err)
	}
	if unread != 1 {
		t.Fatalf("expected one drive inbox message delivered to the driver, got %d", unread)
	}

	acted, err = s.RunLegacyDrive(context.Background(), now.Add(time.Second), reg, snaps, "admin", 300, ctl, ibx, 5)
	if err != nil {
		t.Fatalf("RunLegacyDrive #2: %v", err)
	}
	if acted {
		t.Fatalf("expected the cooldown to suppress a second drive nudge")
	}
}

func TestLegacyDriveIgnoresDeadMemberStalePersistedStatus(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	s := NewStore(dir, c)
	reg := seedRegistry(now)
	fm := mux.NewFake()
	ctl := workerctl.New(dir, c, time.Second, fm)
	ibx := inbox.NewStore(dir, c)

	// dev-C's mux session died while its last-persisted status was
	// "working"; agentstate.Observe reports that stale status with
	// Alive=false rather than a live Idle=true/false observation.
	snaps := []Snapshot{
		{Full: "admin-B-20260101-000000-1", Base: "admin-B", Role: "admin", Alive: true, Idle: true},
		{Full: "dev-C-20260101-000000-1", Base: "dev-C", Role: "dev", Alive: false, Idle: false},
	}

	acted, err := s.RunLegacyDrive(context.Background(), now, reg, snaps, "admin", 300, ctl, ibx, 5)
	if err != nil {
		t.Fatalf("RunLegacyDrive: %v", err)
	}
	if !acted {
		t.Fatalf("expected a drive nudge: the only alive member is idle, a dead member's stale status must not block it")
	}
}

func TestLegacyDriveSkipsWhenEveryoneIsDead(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	s := NewStore(dir, c)
	reg := seedRegistry(now)
	fm := mux.NewFake()
	ctl := workerctl.New(dir, c, time.Second, fm)
	ibx := inbox.NewStore(dir, c)

	snaps := []Snapshot{
		{Full: "admin-B-20260101-000000-1", Base: "admin-B", Role: "admin", Alive: false, Idle: true},
		{Full: "dev-C-20260101-000000-1", Base: "dev-C", Role: "dev", Alive: false, Idle: true},
	}

	acted, err := s.RunLegacyDrive(context.Background(), now, reg, snaps, "admin", 300, ctl, ibx, 5)
	if err != nil {
		t.Fatalf("RunLegacyDrive: %v", err)
	}
	if acted {
		t.Fatalf("expected no drive nudge when every member is dead (vacuous all_idle must not fire)")
	}
}

func TestSubtreeDriveSkipsWhenEntireSubtreeIsDead(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	s := NewStore(dir, c)
	reg := seedRegistry(now)
	fm := mux.NewFake()
	ctl := workerctl.New(dir, c, time.Second, fm)
	ibx := inbox.NewStore(dir, c)

	snaps := []Snapshot{
		{Full: "admin-B-20260101-000000-1", Base: "admin-B", Role: "admin", Alive: false, Idle: true},
		{Full: "dev-C-20260101-000000-1", Base: "dev-C", Role: "dev", Alive: false, Idle: true},
		{Full: "dev-D-20260101-000000-1", Base: "dev-D", Role: "dev", Alive: false, Idle: true},
	}

	acted, err := s.RunSubtreeDrive(context.Background(), now, reg, snaps, "admin", "admin", "coord", 300, ctl, fm, ibx, 5)
	if err != nil {
		t.Fatalf("RunSubtreeDrive: %v", err)
	}
	if acted {
		t.Fatalf("expected no nudge for a fully-dead subtree (vacuous all_idle must not mark it stalled)")
	}
}

func TestLegacyDriveSkipsWhenAnyoneIsBusy(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	s := NewStore(dir, c)
	reg := seedRegistry(now)
	fm := mux.NewFake()
	ctl := workerctl.New(dir, c, time.Second, fm)
	ibx := inbox.NewStore(dir, c)

	snaps := []Snapshot{
		{Full: "admin-B-20260101-000000-1", Base: "admin-B", Role: "admin", Alive: true, Idle: true},
		{Full: "dev-C-20260101-000000-1", Base: "dev-C", Role: "dev", Alive: true, Idle: false},
	}

	acted, err := s.RunLegacyDrive(context.Background(), now, reg, snaps, "admin", 300, ctl, ibx, 5)
	if err != nil {
		t.Fatalf("RunLegacyDrive: %v", err)
	}
	if acted {
		t.Fatalf("expected no drive nudge while a member is still working")
	}
}

func TestSubtreeDriveNudgesDriverForStalledUnit(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	s := NewStore(dir, c)
	reg := seedRegistry(now)
	fm := mux.NewFake()
	fm.AliveSessions["admin-B-20260101-000000-1"] = true
	ctl := workerctl.New(dir, c, time.Second, fm)
	ibx := inbox.NewStore(dir, c)

	snaps := []Snapshot{
		{Full: "admin-B-20260101-000000-1", Base: "admin-B", Role: "admin", Alive: true, Idle: true},
		{Full: "dev-C-20260101-000000-1", Base: "dev-C", Role: "dev", Alive: true, Idle: true},
		{Full: "dev-D-20260101-000000-1", Base: "dev-D", Role: "dev", Alive: true, Idle: true},
	}

	acted, err := s.RunSubtreeDrive(context.Background(), now, reg, snaps, "admin", "admin", "coord", 300, ctl, fm, ibx, 5)
	if err != nil {
		t.Fatalf("RunSubtreeDrive: %v", err)
	}
	if !acted {
		t.Fatalf("expected the stalled admin-B subtree to trigger a drive nudge")
	}
	if len(fm.Sent["admin-B-20260101-000000-1"]) == 0 {
		t.Fatalf("expected the drive nudge to reach the unit's own driver")
	}
	unread, _, _, err := inbox.ListUnread(dir, "admin-B")
	if err != nil {
		t.Fatalf("ListUnread: %v", err)
	}
	if unread != 1 {
		t.Fatalf("expected one drive inbox message delivered to the unit driver, got %d", unread)
	}
}

func TestSubtreeDriveFallsBackToBackupWhenDriverDead(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	s := NewStore(dir, c)
	reg := seedRegistry(now)
	reg.Members = append(reg.Members,
		&domain.Member{Full: "coord-A-20260101-000000-1", Base: "coord-A", Role: "coord", CreatedAt: now, UpdatedAt: now})
	fm := mux.NewFake()
	fm.AliveSessions["coord-A-20260101-000000-1"] = true
	ctl := workerctl.New(dir, c, time.Second, fm)
	ibx := inbox.NewStore(dir, c)

	snaps := []Snapshot{
		{Full: "admin-B-20260101-000000-1", Base: "admin-B", Role: "admin", Alive: false, Idle: true},
		{Full: "dev-C-20260101-000000-1", Base: "dev-C", Role: "dev", Alive: true, Idle: true},
		{Full: "dev-D-20260101-000000-1", Base: "dev-D", Role: "dev", Alive: true, Idle: true},
	}

	acted, err := s.RunSubtreeDrive(context.Background(), now, reg, snaps, "admin", "admin", "coord", 300, ctl, fm, ibx, 5)
	if err != nil {
		t.Fatalf("RunSubtreeDrive: %v", err)
	}
	if !acted {
		t.Fatalf("expected a drive nudge via the backup driver")
	}
	if len(fm.Sent["coord-A-20260101-000000-1"]) == 0 {
		t.Fatalf("expected the fallback nudge to reach the backup role's member")
	}
}

func TestReplyDrivePrefersHigherWaitingOnCount(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	pol := testPolicy(t, dir)
	reg := seedRegistry(now)

	reqStore := requests.NewStore(dir, c)
	meta, err := reqStore.Gather(now, reg, pol, "admin-B-20260101-000000-1", "T", "M", 600, []string{"dev-C", "dev-D"})
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if _, err := reqStore.Respond(now, meta.ID, "dev-C", "", true, 60, "blocked", "dev-D"); err != nil {
		t.Fatalf("Respond blocked: %v", err)
	}

	s := NewStore(dir, c)
	fm := mux.NewFake()
	fm.AliveSessions["dev-C-20260101-000000-1"] = true
	fm.AliveSessions["dev-D-20260101-000000-1"] = true
	ctl := workerctl.New(dir, c, time.Second, fm)

	snaps := []Snapshot{
		{Full: "admin-B-20260101-000000-1", Base: "admin-B", Role: "admin", Alive: true, Idle: true},
		{Full: "dev-C-20260101-000000-1", Base: "dev-C", Role: "dev", Alive: true, Idle: true},
		{Full: "dev-D-20260101-000000-1", Base: "dev-D", Role: "dev", Alive: true, Idle: true},
	}

	acted, suppressed, err := s.RunReplyDrive(context.Background(), now.Add(70*time.Second), snaps, reqStore, domain.DriveRunning, 60, "please reply", ctl, fm)
	if err != nil {
		t.Fatalf("RunReplyDrive: %v", err)
	}
	if suppressed {
		t.Fatalf("did not expect reply-drive to be suppressed")
	}
	if !acted {
		t.Fatalf("expected reply-drive to nudge the target with the higher waiting_on count")
	}
	if len(fm.Sent["dev-D-20260101-000000-1"]) == 0 {
		t.Fatalf("expected dev-D (named as waiting_on by dev-C) to receive the nudge")
	}
}

func TestReplyDriveSuppressedWhenEveryoneSnoozed(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	pol := testPolicy(t, dir)
	reg := seedRegistry(now)

	reqStore := requests.NewStore(dir, c)
	meta, err := reqStore.Gather(now, reg, pol, "admin-B-20260101-000000-1", "T", "M", 600, []string{"dev-C"})
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if _, err := reqStore.Respond(now, meta.ID, "dev-C", "", true, 3600, "working on it", ""); err != nil {
		t.Fatalf("Respond blocked: %v", err)
	}

	s := NewStore(dir, c)
	fm := mux.NewFake()
	ctl := workerctl.New(dir, c, time.Second, fm)

	snaps := []Snapshot{
		{Full: "admin-B-20260101-000000-1", Base: "admin-B", Role: "admin", Alive: true, Idle: true},
		{Full: "dev-C-20260101-000000-1", Base: "dev-C", Role: "dev", Alive: true, Idle: true},
	}

	acted, suppressed, err := s.RunReplyDrive(context.Background(), now, snaps, reqStore, domain.DriveRunning, 60, "please reply", ctl, fm)
	if err != nil {
		t.Fatalf("RunReplyDrive: %v", err)
	}
	if acted {
		t.Fatalf("did not expect any nudge while the only open target is snoozed")
	}
	if !suppressed {
		t.Fatalf("expected reply-drive to report suppressed")
	}
}
