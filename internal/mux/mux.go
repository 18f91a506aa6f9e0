// Package mux abstracts the terminal multiplexer that hosts each worker's
// interactive session (§6 External interfaces: Mux). The real implementation
// shells out to tmux; tests substitute a fake.
package mux

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kunhuang12345/atwf/internal/domain"
)

// Mux is the collaborator contract the watcher and drive loop use to sample
// and nudge worker panes.
type Mux interface {
	Alive(ctx context.Context, session string) bool
	CaptureTail(ctx context.Context, session string, lines int) (string, bool)
	SendText(ctx context.Context, session, text string) error
	PressEnter(ctx context.Context, session string) error
}

// Tmux is the production Mux backed by the tmux CLI. Subprocess calls are
// rate-limited so a burst of broadcast or drive activity cannot starve the
// shared terminal multiplexer process table.
type Tmux struct {
	timeout time.Duration
	limiter *rate.Limiter
}

// New returns a Tmux-backed Mux. timeout bounds every subprocess call;
// ratePerSecond bounds how many tmux invocations are issued per second
// (burst of 1).
func New(timeout time.Duration, ratePerSecond float64) *Tmux {
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	return &Tmux{
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
	}
}

func (t *Tmux) run(ctx context.Context, args ...string) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, domain.ExternalTimeoutf("tmux rate limiter: %v", err)
	}
	cctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, "tmux", args...)
	out, err := cmd.CombinedOutput()
	if cctx.Err() != nil {
		return out, domain.ExternalTimeoutf("tmux %s timed out", strings.Join(args, " "))
	}
	return out, err
}

// Alive reports whether the named tmux session exists.
func (t *Tmux) Alive(ctx context.Context, session string) bool {
	_, err := t.run(ctx, "has-session", "-t", session)
	return err == nil
}

// CaptureTail runs capture-pane and returns the last `lines` lines, or
// (_, false) if the session does not report as alive.
func (t *Tmux) CaptureTail(ctx context.Context, session string, lines int) (string, bool) {
	if !t.Alive(ctx, session) {
		return "", false
	}
	if lines <= 0 {
		lines = 600
	}
	out, err := t.run(ctx, "capture-pane", "-t", session, "-p", "-S", "-"+strconv.Itoa(lines))
	if err != nil {
		return "", false
	}
	return string(out), true
}

// SendText types text into the session's pane without pressing enter.
func (t *Tmux) SendText(ctx context.Context, session, text string) error {
	_, err := t.run(ctx, "send-keys", "-t", session, "-l", text)
	if err != nil {
		return domain.ExternalTimeoutf("tmux send-keys to %s: %v", session, err)
	}
	return nil
}

// PressEnter sends a single Enter keystroke, used both for message delivery
// and auto-enter recovery (§4.F point 3).
func (t *Tmux) PressEnter(ctx context.Context, session string) error {
	_, err := t.run(ctx, "send-keys", "-t", session, "Enter")
	if err != nil {
		return domain.ExternalTimeoutf("tmux send Enter to %s: %v", session, err)
	}
	return nil
}
