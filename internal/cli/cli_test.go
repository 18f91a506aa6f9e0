package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/config"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/registry"
	"gopkg.in/yaml.v3"
)

// testTeamDir writes a minimal config file (comm_require_handoff disabled so
// direct sends between unrelated bases don't need a handoff permit) and
// seeds the registry with the given members, returning the config path.
func testTeamDir(t *testing.T, members ...*domain.Member) (configPath, teamDir string) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.TeamDir = dir
	cfg.Team.CommRequireHandoff = false

	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	cfgPath := filepath.Join(dir, "atwf.yaml")
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if len(members) > 0 {
		regStore := registry.NewStore(dir, clock.Real{})
		if err := regStore.Mutate(func(reg *domain.Registry) error {
			reg.Members = append(reg.Members, members...)
			return nil
		}); err != nil {
			t.Fatalf("seed registry: %v", err)
		}
	}
	return cfgPath, dir
}

// runCLI executes the given args against rootCmd. Command output goes to
// os.Stdout via fmt.Print* (cobra's own Out is only used for usage/error
// text), so callers wrap this in captureStdout to observe it.
func runCLI(t *testing.T, args ...string) {
	t.Helper()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("atwf %v: %v", args, err)
	}
}

// runCLIExpectErr executes the given args against rootCmd and returns the
// error instead of failing the test, for exercising rejection paths.
func runCLIExpectErr(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

// captureStdout redirects os.Stdout for the duration of fn and returns what
// was written to it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	if err := w.Close(); err != nil {
		t.Fatalf("close pipe writer: %v", err)
	}
	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("read pipe: %v", err)
	}
	return buf.String()
}

func TestHandoffRecordsPermit(t *testing.T) {
	now := time.Now()
	cfgPath, dir := testTeamDir(t,
		&domain.Member{Full: "admin-B-x", Base: "admin-B", Role: "admin", CreatedAt: now, UpdatedAt: now},
	)

	out := captureStdout(t, func() {
		runCLI(t, "--config", cfgPath, "handoff", "admin-B-x", "dev-C", "dev-D", "--reason", "pairing")
	})
	if !strings.Contains(out, "handoff") || !strings.Contains(out, "granted") {
		t.Fatalf("unexpected output: %q", out)
	}

	regStore := registry.NewStore(dir, clock.Real{})
	reg, err := regStore.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reg.Permits) != 1 {
		t.Fatalf("expected 1 permit, got %d", len(reg.Permits))
	}
}

func TestSendThenListShowsUnread(t *testing.T) {
	now := time.Now()
	cfgPath, _ := testTeamDir(t,
		&domain.Member{Full: "admin-B-x", Base: "admin-B", Role: "admin", CreatedAt: now, UpdatedAt: now},
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)

	out := captureStdout(t, func() {
		runCLI(t, "--config", cfgPath, "send", "admin-B-x", "dev-C-x", "kickoff", "start now")
	})
	if !strings.Contains(out, "delivered to dev-C-x") {
		t.Fatalf("unexpected send output: %q", out)
	}

	out = captureStdout(t, func() {
		runCLI(t, "--config", cfgPath, "list")
	})
	if !strings.Contains(out, "unread=1") {
		t.Fatalf("expected unread=1 in list output: %q", out)
	}
}

func TestGatherThenRespondFinalizes(t *testing.T) {
	now := time.Now()
	cfgPath, _ := testTeamDir(t,
		&domain.Member{Full: "admin-B-x", Base: "admin-B", Role: "admin", CreatedAt: now, UpdatedAt: now},
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)

	out := captureStdout(t, func() {
		runCLI(t, "--config", cfgPath, "gather", "admin-B-x", "rollout", "ready?", "dev-C")
	})
	if !strings.Contains(out, "opened, waiting on 1 target(s)") {
		t.Fatalf("unexpected gather output: %q", out)
	}
	requestID := strings.Fields(out)[1]

	out = captureStdout(t, func() {
		runCLI(t, "--config", cfgPath, "respond", requestID, "dev-C", "ship behind a flag")
	})
	if !strings.Contains(out, "finalized") {
		t.Fatalf("unexpected respond output: %q", out)
	}
}

func TestPauseThenResumeRoundTrips(t *testing.T) {
	cfgPath, dir := testTeamDir(t)

	out := captureStdout(t, func() { runCLI(t, "--config", cfgPath, "pause") })
	if !strings.Contains(out, "paused") {
		t.Fatalf("unexpected pause output: %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, ".paused")); err != nil {
		t.Fatalf("expected marker file: %v", err)
	}

	out = captureStdout(t, func() { runCLI(t, "--config", cfgPath, "resume") })
	if !strings.Contains(out, "resumed") {
		t.Fatalf("unexpected resume output: %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, ".paused")); !os.IsNotExist(err) {
		t.Fatalf("expected marker file removed, stat err: %v", err)
	}
}

func TestStateSetSelfDrainingThenIdle(t *testing.T) {
	now := time.Now()
	cfgPath, _ := testTeamDir(t,
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)

	out := captureStdout(t, func() { runCLI(t, "--config", cfgPath, "state-set-self", "dev-C-x", "draining") })
	if !strings.Contains(out, "draining") {
		t.Fatalf("unexpected output: %q", out)
	}

	out = captureStdout(t, func() { runCLI(t, "--config", cfgPath, "state-set-self", "dev-C-x", "idle") })
	if !strings.Contains(out, "idle") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestStateSetWithoutForceRejectsDrainingOrIdle(t *testing.T) {
	now := time.Now()
	cfgPath, _ := testTeamDir(t,
		&domain.Member{Full: "dev-C-x", Base: "dev-C", Role: "dev", CreatedAt: now, UpdatedAt: now},
	)

	if err := runCLIExpectErr(t, "--config", cfgPath, "state-set", "dev-C-x", "idle"); err == nil {
		t.Fatal("expected error forcing idle without --force")
	}
	if err := runCLIExpectErr(t, "--config", cfgPath, "state-set", "dev-C-x", "draining"); err == nil {
		t.Fatal("expected error forcing draining without --force")
	}

	out := captureStdout(t, func() {
		runCLI(t, "--config", cfgPath, "state-set", "dev-C-x", "idle", "--force")
	})
	if !strings.Contains(out, "forced to idle") {
		t.Fatalf("unexpected output: %q", out)
	}
}
