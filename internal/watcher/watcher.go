// Package watcher runs the single-threaded tick loop from §4.H: sample every
// worker's output, update derived agent state, run the stale-inbox alerter
// and wake scheduler, sweep reply-needed requests to finalization, then run
// reply-drive followed by subtree or legacy drive. Per §5 no operation ever
// holds the team lock and the state lock at once; every per-tick step that
// needs both acquires them sequentially through the packages it delegates to.
package watcher

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kunhuang12345/atwf/internal/agentstate"
	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/config"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/drive"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/mux"
	"github.com/kunhuang12345/atwf/internal/registry"
	"github.com/kunhuang12345/atwf/internal/requests"
	"github.com/kunhuang12345/atwf/internal/workerctl"
)

const (
	defaultPollSlice = 250 * time.Millisecond
	defaultDebounce  = 200 * time.Millisecond
	replyWakeMessage = "You have a reply-needed request waiting on you. Check your requests and respond."
)

// Watcher owns one team directory's tick loop and the collaborator handles
// every step needs.
type Watcher struct {
	teamDir    string
	cfg        *config.Config
	configPath string

	clock clock.Clock
	mux   mux.Mux

	logger *log.Logger

	registry *registry.Store
	inbox    *inbox.Store
	agent    *agentstate.Store
	requests *requests.Store
	drive    *drive.Store
	ctl      *workerctl.Ctl

	watchInterval time.Duration
	pollSlice     time.Duration
	useFsnotify   bool

	stopCh chan struct{}
	doneCh chan struct{}
	kick   chan struct{}
}

// Option configures a Watcher at construction time.
type Option func(*Watcher)

// WithPollSlice overrides the interruptible-sleep granularity (tests only;
// production relies on the default).
func WithPollSlice(d time.Duration) Option {
	return func(w *Watcher) { w.pollSlice = d }
}

// WithFsnotifyDisabled turns off the early-wake file watcher, falling back
// to plain interval sleeping.
func WithFsnotifyDisabled() Option {
	return func(w *Watcher) { w.useFsnotify = false }
}

// New builds a Watcher. cfg.TeamDir is loaded at construction time;
// configPath is re-read every tick for the hot drive-mode reload (§6).
func New(cfg *config.Config, configPath string, c clock.Clock, m mux.Mux, logger *log.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		teamDir:       cfg.TeamDir,
		cfg:           cfg,
		configPath:    configPath,
		clock:         c,
		mux:           m,
		logger:        logger,
		registry:      registry.NewStore(cfg.TeamDir, c),
		inbox:         inbox.NewStore(cfg.TeamDir, c),
		agent:         agentstate.NewStore(cfg.TeamDir, c),
		requests:      requests.NewStore(cfg.TeamDir, c),
		drive:         drive.NewStore(cfg.TeamDir, c),
		ctl:           workerctl.New(cfg.TeamDir, c, time.Duration(cfg.SubprocessTimeoutSeconds)*time.Second, m),
		watchInterval: time.Duration(cfg.WatchIntervalSeconds) * time.Second,
		pollSlice:     defaultPollSlice,
		useFsnotify:   true,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		kick:          make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run executes the tick loop until ctx is cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.doneCh)

	if w.useFsnotify {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			w.logger.Printf("watcher: fsnotify init failed (%v), polling only", err)
		} else {
			if err := watcher.Add(w.teamDir); err != nil {
				w.logger.Printf("watcher: fsnotify watch %s failed (%v), polling only", w.teamDir, err)
				_ = watcher.Close()
			} else {
				_ = watcher.Add(filepath.Join(w.teamDir, "state"))
				defer watcher.Close()
				go w.watchLoop(ctx, watcher)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		if err := w.Tick(ctx); err != nil {
			w.logger.Printf("watcher: tick error: %v", err)
		}
		if !w.sleepInterruptible(ctx, w.watchInterval) {
			return
		}
	}
}

// Stop signals Run to exit and blocks until it has.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) watchLoop(ctx context.Context, fw *fsnotify.Watcher) {
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case _, ok := <-fw.Events:
			if !ok {
				return
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(defaultDebounce, w.sendKick)
		case _, ok := <-fw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) sendKick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// sleepInterruptible sleeps total, using the injected Clock in bounded
// slices so a pending fsnotify kick is noticed quickly instead of only at
// the top of the next interval. Returns false if ctx/stop fired mid-sleep.
func (w *Watcher) sleepInterruptible(ctx context.Context, total time.Duration) bool {
	remaining := total
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-w.stopCh:
			return false
		case <-w.kick:
			return true
		default:
		}
		d := w.pollSlice
		if d <= 0 || d > remaining {
			d = remaining
		}
		w.clock.Sleep(d)
		remaining -= d
	}
	return true
}

// Tick runs one full iteration of §4.H steps 1-6 (sleeping is the caller's
// job, per step 7). Per-member failures are logged and do not abort the
// tick (§7: "the watcher swallows per-member errors and continues").
func (w *Watcher) Tick(ctx context.Context) error {
	if w.drive.Paused() {
		return nil
	}
	now := w.clock.Now()

	mode := domain.DriveMode(config.ReloadDriveMode(w.configPath, string(w.cfg.Team.Drive.Mode)))

	reg, err := w.registry.Load()
	if err != nil {
		return err
	}
	root := registry.ResolveLatestByRole(reg, w.cfg.Team.RootRole)

	snaps := make([]drive.Snapshot, 0, len(reg.Members))
	for _, mem := range reg.Members {
		snaps = append(snaps, w.observeMember(ctx, now, mem, root))
	}

	finalized, err := w.requests.Sweep(now)
	if err != nil {
		w.logger.Printf("watcher: request sweep: %v", err)
	}
	swept := len(finalized) > 0

	replyActed, suppressed, err := w.drive.RunReplyDrive(ctx, now, snaps, w.requests, mode, w.cfg.Team.Drive.ReplyCooldownSec, replyWakeMessage, w.ctl, w.mux)
	if err != nil {
		w.logger.Printf("watcher: reply drive: %v", err)
	}

	if swept || replyActed || suppressed || mode != domain.DriveRunning {
		return nil
	}

	if w.cfg.Team.Drive.UnitRole != "" {
		if _, err := w.drive.RunSubtreeDrive(ctx, now, reg, snaps, w.cfg.Team.Drive.UnitRole, w.cfg.Team.Drive.DriverRole,
			w.cfg.Team.Drive.BackupRole, w.cfg.Team.Drive.CooldownSeconds, w.ctl, w.mux, w.inbox, w.cfg.MaxUnreadPerThread); err != nil {
			w.logger.Printf("watcher: subtree drive: %v", err)
		}
		return nil
	}
	if _, err := w.drive.RunLegacyDrive(ctx, now, reg, snaps, w.cfg.Team.Drive.DriverRole, w.cfg.Team.Drive.CooldownSeconds,
		w.ctl, w.inbox, w.cfg.MaxUnreadPerThread); err != nil {
		w.logger.Printf("watcher: legacy drive: %v", err)
	}
	return nil
}

// observeMember runs §4.F steps 1-5 plus the stale-inbox alerter and wake
// scheduler for one member, and gathers the facts drive needs for this
// tick. A failure at any step is logged; the member is still reported with
// whatever state could be loaded, so one bad member never drops the rest
// of the team from this tick's drive consideration.
func (w *Watcher) observeMember(ctx context.Context, now time.Time, mem *domain.Member, root *domain.Member) drive.Snapshot {
	full, base, role := mem.Full, mem.Base, mem.Role

	st, err := w.agent.Observe(ctx, now, full, base, w.mux, w.cfg.Wake, w.cfg.AutoEnter)
	if err != nil {
		w.logger.Printf("watcher: observe %s: %v", full, err)
	}

	if root != nil && root.Full != full {
		if alerted, err := w.agent.RunStaleInboxAlert(ctx, now, full, base, root.Full, root.Base, w.ctl, w.inbox, w.cfg.Wake, w.cfg.MaxUnreadPerThread); err != nil {
			w.logger.Printf("watcher: stale inbox alert %s: %v", full, err)
		} else if alerted != nil {
			st = alerted
		}
	}

	if woken, err := w.agent.RunWakeScheduler(ctx, now, full, base, w.mux, w.ctl, w.inbox, w.cfg.Wake, w.cfg.MaxUnreadPerThread); err != nil {
		w.logger.Printf("watcher: wake scheduler %s: %v", full, err)
	} else if woken != nil {
		st = woken
	}

	sn := drive.Snapshot{Full: full, Base: base, Role: role, Alive: w.mux.Alive(ctx, full)}
	if st != nil {
		sn.Idle = st.Status == domain.StatusIdle
		sn.Pending = st.LastInboxUnread + st.LastInboxOverflow
	}
	return sn
}
