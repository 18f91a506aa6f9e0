// Package workerctl is the narrow child-process lifecycle collaborator from
// §6 (WorkerCtl): start, spawn, stop, resume and send against a worker's
// tmux session. It deliberately does not reimplement the teacher's full
// worker_manager.go richness (retry/backoff/MCP registration) — the
// orchestrator treats the spawn tool itself as an external concern and only
// needs these five primitives.
package workerctl

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/mux"
)

// Opts carries the optional knobs for starting or spawning one worker.
type Opts struct {
	Role    string
	Scope   string
	Command []string // defaults to a plain shell if empty
}

// Ctl is the production WorkerCtl. It creates one tmux session per worker,
// named after the worker's full session id, and reports a per-worker state
// file path under <team_dir>/workerctl/<full>.json; Ctl itself does not
// create or write that file.
type Ctl struct {
	teamDir string
	clock   clock.Clock
	timeout time.Duration
	mux     mux.Mux
	seq     int
}

func New(teamDir string, c clock.Clock, timeout time.Duration, m mux.Mux) *Ctl {
	return &Ctl{teamDir: teamDir, clock: c, timeout: timeout, mux: m}
}

func (c *Ctl) stateFile(full string) string {
	return filepath.Join(c.teamDir, "workerctl", full+".json")
}

// newFull mints a full session name matching registry.FullPattern:
// base-YYYYMMDD-HHMMSS-N.
func (c *Ctl) newFull(base string) string {
	now := c.clock.Now()
	c.seq++
	return fmt.Sprintf("%s-%s-%d", base, now.UTC().Format("20060102-150405"), c.seq)
}

func (c *Ctl) run(ctx context.Context, args ...string) error {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, "tmux", args...)
	out, err := cmd.CombinedOutput()
	if cctx.Err() != nil {
		return domain.ExternalTimeoutf("workerctl tmux %v timed out", args)
	}
	if err != nil {
		return domain.IOErrorf(err, "tmux %v: %s", args, string(out))
	}
	return nil
}

// Start creates a fresh top-level worker session for base and returns its
// full session id and state file path.
func (c *Ctl) Start(ctx context.Context, base string, opts Opts) (full, stateFile string, err error) {
	full = c.newFull(base)
	cmdArgs := opts.Command
	if len(cmdArgs) == 0 {
		cmdArgs = []string{"bash"}
	}
	tmuxArgs := append([]string{"new-session", "-d", "-s", full}, cmdArgs...)
	if err := c.run(ctx, tmuxArgs...); err != nil {
		return "", "", err
	}
	return full, c.stateFile(full), nil
}

// Spawn creates a child worker session reporting to parentFull. Session
// creation is identical to Start; the parent/child relationship itself is
// recorded by the caller in the registry, not here.
func (c *Ctl) Spawn(ctx context.Context, parentFull, childBase string, opts Opts) (full, stateFile string, err error) {
	return c.Start(ctx, childBase, opts)
}

// Stop kills the worker's tmux session.
func (c *Ctl) Stop(ctx context.Context, full string) error {
	return c.run(ctx, "kill-session", "-t", full)
}

// Resume is a no-op for a live tmux session and recreates it (bare shell)
// if it no longer exists.
func (c *Ctl) Resume(ctx context.Context, full string) error {
	if c.mux.Alive(ctx, full) {
		return nil
	}
	return c.run(ctx, "new-session", "-d", "-s", full, "bash")
}

// Send injects text into full's pane and presses Enter, matching the
// envelope delivery contract in §4.D/§6.
func (c *Ctl) Send(ctx context.Context, full, text string) error {
	if err := c.mux.SendText(ctx, full, text); err != nil {
		return err
	}
	return c.mux.PressEnter(ctx, full)
}
