// Package agentstate tracks each worker's derived working/draining/idle
// status, the idle wake scheduler, and the stale-inbox alerter (§4.F). Every
// write holds the state lock, separate from and always acquired after the
// team lock when both are needed (§4.A rule 2).
package agentstate

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/config"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/fsio"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/mux"
	"github.com/kunhuang12345/atwf/internal/registry"
	"github.com/kunhuang12345/atwf/internal/slugify"
	"github.com/kunhuang12345/atwf/internal/workerctl"
)

// Store loads and saves one member's state/<slug(full)>.json under the
// state lock.
type Store struct {
	teamDir string
	lock    *fsio.Lock
	clock   clock.Clock
}

func NewStore(teamDir string, c clock.Clock) *Store {
	return &Store{teamDir: teamDir, lock: fsio.StateLock(teamDir), clock: c}
}

func (s *Store) path(full string) string {
	return filepath.Join(s.teamDir, "state", slugify.Slug(full)+".json")
}

// Load reads a member's agent state, returning a fresh idle state if none
// exists yet. Aliases (busy/drain/standby) are normalized on read (§3).
func (s *Store) Load(full string) (*domain.AgentState, error) {
	var st domain.AgentState
	ok, err := fsio.ReadJSON(s.path(full), &st)
	if err != nil {
		return nil, domain.IOErrorf(err, "load agent state %s", full)
	}
	if !ok {
		return domain.NewAgentState(full), nil
	}
	st.Status = domain.NormalizeAgentStatus(string(st.Status))
	return &st, nil
}

func (s *Store) save(st *domain.AgentState) error {
	if err := fsio.WriteJSONAtomic(s.path(st.Full), st); err != nil {
		return domain.IOErrorf(err, "save agent state %s", st.Full)
	}
	return nil
}

// Mutate loads, runs fn, and saves under the state lock.
func (s *Store) Mutate(full string, fn func(*domain.AgentState) error) (*domain.AgentState, error) {
	var st *domain.AgentState
	err := s.lock.With(func() error {
		loaded, err := s.Load(full)
		if err != nil {
			return err
		}
		if err := fn(loaded); err != nil {
			return err
		}
		st = loaded
		return s.save(loaded)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func hashTail(tail string) string {
	normalized := strings.ReplaceAll(tail, "\r\n", "\n")
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Observe implements the per-tick derivation from §4.F steps 1-5: capture
// the pane, update the output-change timestamp, run auto-enter recovery,
// derive working/idle, and refresh the cached inbox counts. It returns the
// member's new state; an auto-enter injection is recorded in that state's
// AutoEnter fields.
func (s *Store) Observe(ctx context.Context, now time.Time, full, base string, m mux.Mux, wake config.WakeConfig, autoEnter config.AutoEnterConfig) (*domain.AgentState, error) {
	tail, alive := m.CaptureTail(ctx, full, wake.CaptureLines)
	if !alive {
		return s.Load(full)
	}

	return s.Mutate(full, func(st *domain.AgentState) error {
		if st.Status == domain.StatusDraining {
			// Manually-set draining is respected; the watcher does not
			// overwrite it (§4.F step 4).
		} else {
			hash := hashTail(tail)
			if hash != st.LastOutputHash || st.LastOutputChangeAt.IsZero() {
				st.LastOutputChangeAt = now
			}
			st.LastOutputHash = hash
			st.LastOutputCaptureAt = now

			if autoEnterTriggered(tail, wake.TailWindowLines, autoEnter, st, now) {
				if err := sendEnter(ctx, m, full); err == nil {
					sentAt := now
					st.AutoEnterLastSentAt = &sentAt
					st.AutoEnterLastReason = "pattern match"
					st.AutoEnterCount++
				}
			}

			active := now.Sub(st.LastOutputChangeAt) <= secs(wake.ActivityWindowSeconds) ||
				(st.WakeupSentAt != nil && now.Sub(*st.WakeupSentAt) <= secs(wake.ActiveGracePeriodSeconds))
			if active {
				st.Status = domain.StatusWorking
				st.IdleSince = nil
				st.IdleInboxEmptyAt = nil
			} else {
				if st.IdleSince == nil {
					idleSince := now
					st.IdleSince = &idleSince
				}
				st.Status = domain.StatusIdle
			}
		}

		unread, overflow, _, err := inbox.ListUnread(s.teamDir, base)
		if err != nil {
			return err
		}
		st.LastInboxCheckAt = now
		st.LastInboxUnread = unread
		st.LastInboxOverflow = overflow
		if st.Status == domain.StatusIdle && unread == 0 && overflow == 0 {
			if st.IdleInboxEmptyAt == nil {
				emptyAt := now
				st.IdleInboxEmptyAt = &emptyAt
			}
		} else {
			st.IdleInboxEmptyAt = nil
		}
		return nil
	})
}

func sendEnter(ctx context.Context, m mux.Mux, full string) error {
	return m.PressEnter(ctx, full)
}

func autoEnterTriggered(tail string, tailWindowLines int, cfg config.AutoEnterConfig, st *domain.AgentState, now time.Time) bool {
	if len(cfg.Patterns) == 0 {
		return false
	}
	if st.AutoEnterLastSentAt != nil && now.Sub(*st.AutoEnterLastSentAt) < secs(cfg.CooldownSeconds) {
		return false
	}
	window := tailLines(tail, tailWindowLines)
	for _, p := range cfg.Patterns {
		if p != "" && strings.Contains(window, p) {
			return true
		}
	}
	return false
}

func tailLines(text string, n int) string {
	if n <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// SetSelf implements the state-set-self self-transition rules (§4.F):
// working -> draining is always allowed; draining -> idle requires an empty
// inbox; any -> working clears the wake fields.
func (s *Store) SetSelf(full, base string, target domain.AgentStatus, now time.Time) (*domain.AgentState, error) {
	return s.Mutate(full, func(st *domain.AgentState) error {
		switch {
		case target == domain.StatusDraining:
			st.Status = domain.StatusDraining
		case target == domain.StatusIdle:
			if st.Status != domain.StatusDraining {
				return domain.InvalidInputf("state-set-self idle requires transitioning from draining")
			}
			unread, overflow, ids, err := inbox.ListUnread(s.teamDir, base)
			if err != nil {
				return err
			}
			if unread != 0 || overflow != 0 {
				return domain.StateConflictf("draining -> idle requires an empty inbox; pending: %v", ids)
			}
			st.Status = domain.StatusIdle
		case target == domain.StatusWorking:
			st.Status = domain.StatusWorking
			st.IdleSince = nil
			st.IdleInboxEmptyAt = nil
			st.WakeupScheduledAt = nil
			st.WakeupDueAt = nil
			st.WakeupSentAt = nil
			st.WakeupReason = ""
		default:
			return domain.InvalidInputf("unknown target status %q", target)
		}
		return nil
	})
}

// SetForce implements `state-set` on another worker. It applies the target
// unconditionally; the CLI and MCP adapters are responsible for rejecting
// draining/idle targets that weren't passed --force/force=true.
func (s *Store) SetForce(full string, target domain.AgentStatus) (*domain.AgentState, error) {
	return s.Mutate(full, func(st *domain.AgentState) error {
		st.Status = target
		return nil
	})
}

// recipientRole looks up full's registered role for the envelope header,
// matching the role send/broadcast attach (§6). A lookup failure leaves it
// blank rather than failing the wake injection.
func recipientRole(teamDir, full string) string {
	reg, err := registry.NewStore(teamDir, clock.Real{}).Load()
	if err != nil {
		return ""
	}
	mem := registry.Resolve(reg, full)
	if mem == nil {
		return ""
	}
	return mem.Role
}

const wakeMessageBody = "You have pending inbox messages. Check your inbox and continue."

// RunWakeScheduler implements §4.F's wake scheduler, which only fires while
// a member is idle: it schedules a due time once pending mail appears,
// waits for it to elapse, then re-checks freshness before injecting the
// wake message and optimistically flipping the member back to working to
// suppress duplicate sends during the active grace period.
//
// The inbox write and the injection happen outside the state lock: §4.A
// rule 2 requires the team lock (held internally by ibx.WriteMessage) to
// never nest inside the state lock. The due-time check is read unlocked
// first; the eventual status/field update is committed in its own,
// separate state-lock critical section.
func (s *Store) RunWakeScheduler(ctx context.Context, now time.Time, full, base string, m mux.Mux, ctl *workerctl.Ctl, ibx *inbox.Store, wake config.WakeConfig, maxUnreadPerThread int) (*domain.AgentState, error) {
	pre, err := s.Load(full)
	if err != nil {
		return nil, err
	}
	if pre.Status != domain.StatusIdle {
		return pre, nil
	}

	unread, overflow, _, err := inbox.ListUnread(s.teamDir, base)
	if err != nil {
		return nil, err
	}
	pending := unread + overflow

	if pending == 0 {
		return s.Mutate(full, func(st *domain.AgentState) error {
			st.WakeupScheduledAt = nil
			st.WakeupDueAt = nil
			st.WakeupReason = ""
			return nil
		})
	}
	if pre.WakeupDueAt == nil {
		due := now.Add(secs(wake.IdleWakeDelaySeconds))
		return s.Mutate(full, func(st *domain.AgentState) error {
			if st.Status != domain.StatusIdle || st.WakeupDueAt != nil {
				return nil
			}
			scheduled := now
			st.WakeupScheduledAt = &scheduled
			st.WakeupDueAt = &due
			st.WakeupReason = "inbox_pending"
			return nil
		})
	}
	if now.Before(*pre.WakeupDueAt) {
		return pre, nil
	}
	if !m.Alive(ctx, full) {
		return pre, nil
	}

	msg, err := ibx.WriteMessage(now, domain.KindWake, "atwf-wake", "atwf-wake", full, base,
		"wake up", wakeMessageBody, maxUnreadPerThread)
	if err != nil {
		return nil, err
	}
	env := inbox.Envelope(msg.MessageHeader, recipientRole(s.teamDir, full), wakeMessageBody)
	if err := ctl.Send(ctx, full, env); err != nil {
		return nil, err
	}

	return s.Mutate(full, func(st *domain.AgentState) error {
		sentAt := now
		st.WakeupSentAt = &sentAt
		st.WakeupScheduledAt = nil
		st.WakeupDueAt = nil
		st.Status = domain.StatusWorking
		return nil
	})
}

const staleAlertBodyFmt = "Worker %s has had pending inbox messages since %s with no apparent progress."

// RunStaleInboxAlert implements §4.F's stale-inbox alert, which only fires
// while a member is working: if its oldest pending message has aged past
// the working-stale threshold and the alert cooldown has elapsed, it
// notifies the root-role worker. As in RunWakeScheduler, the inbox write
// happens outside the state lock to preserve lock ordering (§4.A rule 2).
func (s *Store) RunStaleInboxAlert(ctx context.Context, now time.Time, full, base, rootFull, rootBase string, ctl *workerctl.Ctl, ibx *inbox.Store, wake config.WakeConfig, maxUnreadPerThread int) (*domain.AgentState, error) {
	pre, err := s.Load(full)
	if err != nil {
		return nil, err
	}
	if pre.Status != domain.StatusWorking {
		return pre, nil
	}
	if pre.WakeupSentAt != nil && now.Sub(*pre.WakeupSentAt) < secs(wake.ActiveGracePeriodSeconds) {
		return pre, nil
	}
	if pre.StaleAlertSentAt != nil && now.Sub(*pre.StaleAlertSentAt) < secs(wake.StaleAlertCooldownSeconds) {
		return pre, nil
	}

	oldestID, ok, err := inbox.PendingOldest(s.teamDir, base)
	if err != nil {
		return nil, err
	}
	if !ok {
		return pre, nil
	}
	_, _, path, found, err := inbox.FindMessage(s.teamDir, base, oldestID)
	if err != nil {
		return nil, err
	}
	if !found {
		return pre, nil
	}
	oldest, err := inbox.ReadMessage(path)
	if err != nil {
		return nil, err
	}
	age := now.Sub(oldest.CreatedAt)
	if age < secs(wake.WorkingStaleThresholdSec) {
		return pre, nil
	}

	body := fmt.Sprintf(staleAlertBodyFmt, base, oldest.CreatedAt.UTC().Format(time.RFC3339))
	msg, err := ibx.WriteMessage(now, domain.KindAlertStaleInbox, full, base, rootFull, rootBase,
		fmt.Sprintf("stale inbox: %s", base), body, maxUnreadPerThread)
	if err != nil {
		return nil, err
	}
	if ctl != nil {
		env := inbox.Envelope(msg.MessageHeader, "", body)
		_ = ctl.Send(ctx, rootFull, env)
	}

	return s.Mutate(full, func(st *domain.AgentState) error {
		sentAt := now
		st.StaleAlertSentAt = &sentAt
		st.StaleAlertMsgID = msg.ID
		st.StaleAlertReason = "inbox_stale"
		return nil
	})
}
