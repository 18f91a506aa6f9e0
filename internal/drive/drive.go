// Package drive implements the anti-stall nudges from §4.G: a reply-drive
// branch that takes precedence, subtree drive when a unit role is
// configured, and the legacy whole-team drive otherwise. Subtree and legacy
// drive write an inbox message of kind "drive" and inject its summary via
// WorkerCtl before committing drive state; per the team-lock-before-state-
// lock rule the inbox write (team lock, internal to inbox.Store) always
// happens before and never nested inside the drive-state commit (state
// lock). The `.paused` marker suppresses every action here.
package drive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/fsio"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/mux"
	"github.com/kunhuang12345/atwf/internal/registry"
	"github.com/kunhuang12345/atwf/internal/requests"
	"github.com/kunhuang12345/atwf/internal/workerctl"
)

const (
	fromDriveFull = "atwf-drive"
	fromDriveBase = "atwf-drive"
)

// Store loads and saves the three drive state documents.
type Store struct {
	teamDir string
	lock    *fsio.Lock
	clock   clock.Clock
}

func NewStore(teamDir string, c clock.Clock) *Store {
	return &Store{teamDir: teamDir, lock: fsio.StateLock(teamDir), clock: c}
}

func (s *Store) pausedPath() string { return filepath.Join(s.teamDir, ".paused") }

// Paused reports whether the `.paused` marker file is present.
func (s *Store) Paused() bool {
	_, err := os.Stat(s.pausedPath())
	return err == nil
}

func (s *Store) drivePath() string      { return filepath.Join(s.teamDir, "state", "drive.json") }
func (s *Store) subtreePath() string    { return filepath.Join(s.teamDir, "state", "drive_subtree.json") }
func (s *Store) replyDrivePath() string { return filepath.Join(s.teamDir, "state", "reply_drive.json") }

func (s *Store) loadDrive() (*domain.DriveState, error) {
	var d domain.DriveState
	ok, err := fsio.ReadJSON(s.drivePath(), &d)
	if err != nil {
		return nil, domain.IOErrorf(err, "load drive state")
	}
	if !ok {
		d.Mode = domain.DriveRunning
	}
	return &d, nil
}

func (s *Store) loadSubtree() (map[string]*domain.SubtreeDriveEntry, error) {
	m := map[string]*domain.SubtreeDriveEntry{}
	if _, err := fsio.ReadJSON(s.subtreePath(), &m); err != nil {
		return nil, domain.IOErrorf(err, "load subtree drive state")
	}
	return m, nil
}

func (s *Store) loadReplyDrive() (*domain.ReplyDriveState, error) {
	var d domain.ReplyDriveState
	_, err := fsio.ReadJSON(s.replyDrivePath(), &d)
	if err != nil {
		return nil, domain.IOErrorf(err, "load reply drive state")
	}
	return &d, nil
}

// LoadDrive exposes the whole-team drive document for read-only surfaces
// (dashboard, `atwf list --drive`) without requiring a tick to run first.
func (s *Store) LoadDrive() (*domain.DriveState, error) { return s.loadDrive() }

// LoadSubtree exposes the per-unit subtree drive state, keyed by the base
// of the unit-role member at each subtree's root, for read-only surfaces.
func (s *Store) LoadSubtree() (map[string]*domain.SubtreeDriveEntry, error) { return s.loadSubtree() }

// LoadReplyDrive exposes the reply-drive state for read-only surfaces.
func (s *Store) LoadReplyDrive() (*domain.ReplyDriveState, error) { return s.loadReplyDrive() }

// Snapshot is one member's liveness/pending facts for one tick, gathered by
// the caller (the watcher, which already samples mux for agent state) and
// passed in so this package never re-queries mux itself.
type Snapshot struct {
	Full    string
	Base    string
	Role    string
	Alive   bool
	Idle    bool
	Pending int
}

// allIdleNoPending implements §4.G's all_idle aggregate: every alive member
// is idle and none has pending mail. Dead members (mux session gone) are
// excluded from both checks, since agentstate.Observe reports their last-
// persisted status rather than a live observation for them. alive reports
// how many snapshots were live, so callers can guard against the vacuous
// allIdle=true a fully-dead set would otherwise produce.
func allIdleNoPending(snaps []Snapshot) (allIdle, anyPending bool, alive int) {
	allIdle = true
	for _, sn := range snaps {
		if !sn.Alive {
			continue
		}
		alive++
		if !sn.Idle {
			allIdle = false
		}
		if sn.Pending > 0 {
			anyPending = true
		}
	}
	return allIdle, anyPending, alive
}

// RunReplyDrive implements the reply-drive branch (§4.G). It only acts when
// every member is idle and none has pending mail and drive mode is running.
// Returns suppressed=true when drive should be skipped entirely this tick
// (everyone with a pending reply is snoozed).
func (s *Store) RunReplyDrive(ctx context.Context, now time.Time, snaps []Snapshot, reqStore *requests.Store, mode domain.DriveMode, cooldownSec int, replyWakeMsg string, ctl *workerctl.Ctl, m mux.Mux) (acted bool, suppressed bool, err error) {
	allIdle, anyPending, alive := allIdleNoPending(snaps)
	if alive == 0 || !allIdle || anyPending || mode != domain.DriveRunning {
		return false, false, nil
	}

	root := filepath.Join(s.teamDir, "requests")
	entries, rerr := os.ReadDir(root)
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return false, false, nil
		}
		return false, false, domain.IOErrorf(rerr, "scan requests")
	}

	type candidate struct {
		requestID string
		base      string
		full      string
		waitingOn int
	}
	waitingOn := map[string]int{}
	var due []candidate
	anySnoozed := false

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, ok, merr := reqStore.LoadMeta(e.Name())
		if merr != nil {
			return false, false, merr
		}
		if !ok || meta.Status != domain.RequestOpen {
			continue
		}
		for base, t := range meta.Targets {
			if t.Status == domain.TargetReplied {
				continue
			}
			if t.WaitingOn != "" {
				waitingOn[t.WaitingOn]++
			}
			if t.Status == domain.TargetBlocked && t.BlockedUntil != nil && now.Before(*t.BlockedUntil) {
				anySnoozed = true
				continue
			}
			due = append(due, candidate{requestID: meta.ID, base: base, full: t.Full})
		}
	}

	if len(due) == 0 {
		if anySnoozed {
			return false, true, nil
		}
		return false, false, nil
	}

	for i := range due {
		due[i].waitingOn = waitingOn[due[i].base]
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].waitingOn != due[j].waitingOn {
			return due[i].waitingOn > due[j].waitingOn
		}
		if due[i].requestID != due[j].requestID {
			return due[i].requestID < due[j].requestID
		}
		return due[i].base < due[j].base
	})

	var chosen *candidate
	for i := range due {
		if m.Alive(ctx, due[i].full) {
			chosen = &due[i]
			break
		}
	}
	if chosen == nil {
		return false, false, nil
	}

	var acted2 bool
	err = s.lock.With(func() error {
		rd, lerr := s.loadReplyDrive()
		if lerr != nil {
			return lerr
		}
		if rd.LastTriggeredAt != nil && now.Sub(*rd.LastTriggeredAt) < time.Duration(cooldownSec)*time.Second {
			return nil
		}
		if err := ctl.Send(ctx, chosen.full, replyWakeMsg); err != nil {
			return err
		}
		rd.LastTriggeredAt = &now
		rd.LastReason = "reply_due"
		rd.LastRequestID = chosen.requestID
		rd.LastTargetBase = chosen.base
		rd.LastTargetFull = chosen.full
		if err := fsio.WriteJSONAtomic(s.replyDrivePath(), rd); err != nil {
			return domain.IOErrorf(err, "save reply drive state")
		}
		acted2 = true
		return nil
	})
	return acted2, false, err
}

// RunSubtreeDrive implements §4.G's subtree drive: for each unitRole member
// whose subtree isn't stopped, stall detection and a drive nudge to the
// configured driver (falling back to backup if the driver's mux is dead).
func (s *Store) RunSubtreeDrive(ctx context.Context, now time.Time, reg *domain.Registry, snaps []Snapshot, unitRole, driverRole, backupRole string, cooldownSec int, ctl *workerctl.Ctl, m mux.Mux, ibx *inbox.Store, maxUnreadPerThread int) (acted bool, err error) {
	byFull := map[string]Snapshot{}
	for _, sn := range snaps {
		byFull[sn.Full] = sn
	}

	subtrees, err := s.loadSubtree()
	if err != nil {
		return false, err
	}

	var stalled []string
	memberCounts := map[string]int{}
	aliveCounts := map[string]int{}
	missingMux := map[string][]string{}

	for _, mem := range reg.Members {
		if mem.Role != unitRole {
			continue
		}
		entry := subtrees[mem.Base]
		if entry != nil && entry.Status == domain.SubtreeStopped {
			continue
		}
		if entry != nil && entry.LastTriggeredAt != nil && now.Sub(*entry.LastTriggeredAt) < time.Duration(cooldownSec)*time.Second {
			continue
		}

		subtreeFulls := registry.Subtree(reg, mem.Full)
		allIdle, anyPending := true, false
		alive := 0
		var missing []string
		for _, full := range subtreeFulls {
			sn, ok := byFull[full]
			if !ok {
				continue
			}
			if !sn.Alive {
				missing = append(missing, full)
				continue
			}
			alive++
			if !sn.Idle {
				allIdle = false
			}
			if sn.Pending > 0 {
				anyPending = true
			}
		}

		if alive > 0 && allIdle && !anyPending {
			stalled = append(stalled, mem.Base)
			memberCounts[mem.Base] = len(subtreeFulls)
			aliveCounts[mem.Base] = alive
			missingMux[mem.Base] = missing
		}
	}

	if len(stalled) == 0 {
		return false, nil
	}
	sort.Strings(stalled)

	driver := registry.ResolveLatestByRole(reg, driverRole)
	target := driver
	if target == nil || !m.Alive(ctx, target.Full) {
		if backup := registry.ResolveLatestByRole(reg, backupRole); backup != nil {
			target = backup
		}
	}
	if target == nil {
		return false, nil
	}

	body := renderSubtreeDriveBody(stalled, memberCounts, aliveCounts, missingMux)
	msg, err := ibx.WriteMessage(now, domain.KindDrive, fromDriveFull, fromDriveBase, target.Full, target.Base,
		"stalled subtrees", body, maxUnreadPerThread)
	if err != nil {
		return false, err
	}
	summary := fmt.Sprintf("Drive: %d subtree(s) stalled, see inbox message %s.", len(stalled), msg.ID)
	if err := ctl.Send(ctx, target.Full, summary); err != nil {
		return false, err
	}

	err = s.lock.With(func() error {
		committed, lerr := s.loadSubtree()
		if lerr != nil {
			return lerr
		}
		for _, base := range stalled {
			entry := committed[base]
			if entry == nil {
				entry = &domain.SubtreeDriveEntry{Status: domain.SubtreeActive}
				committed[base] = entry
			}
			entry.LastTriggeredAt = &now
			entry.LastMsgID = msg.ID
			entry.LastReason = "subtree_stalled"
		}
		if err := fsio.WriteJSONAtomic(s.subtreePath(), committed); err != nil {
			return domain.IOErrorf(err, "save subtree drive state")
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func renderSubtreeDriveBody(stalled []string, memberCounts, aliveCounts map[string]int, missing map[string][]string) string {
	var b strings.Builder
	b.WriteString("Stalled subtrees:\n")
	for _, base := range stalled {
		fmt.Fprintf(&b, "  - %s: %d members, %d alive, missing mux: %s\n",
			base, memberCounts[base], aliveCounts[base], strings.Join(missing[base], ", "))
	}
	return b.String()
}

// RunLegacyDrive implements §4.G's whole-team drive, active only when
// unitRole is empty: a single drive nudge to driverRole when every member
// is idle, nothing is pending, and the team's cooldown has elapsed.
func (s *Store) RunLegacyDrive(ctx context.Context, now time.Time, reg *domain.Registry, snaps []Snapshot, driverRole string, cooldownSec int, ctl *workerctl.Ctl, ibx *inbox.Store, maxUnreadPerThread int) (acted bool, err error) {
	if len(snaps) == 0 {
		return false, nil
	}
	allIdle, anyPending, alive := allIdleNoPending(snaps)
	if alive == 0 || !allIdle || anyPending {
		return false, nil
	}

	driver := registry.ResolveLatestByRole(reg, driverRole)
	if driver == nil {
		return false, nil
	}

	d, err := s.loadDrive()
	if err != nil {
		return false, err
	}
	if d.LastTriggeredAt != nil && now.Sub(*d.LastTriggeredAt) < time.Duration(cooldownSec)*time.Second {
		return false, nil
	}

	body := fmt.Sprintf("Team is idle with no pending inbox (%d members). Keep driving the task forward.", len(snaps))
	msg, err := ibx.WriteMessage(now, domain.KindDrive, fromDriveFull, fromDriveBase, driver.Full, driver.Base,
		"team idle", body, maxUnreadPerThread)
	if err != nil {
		return false, err
	}
	if err := ctl.Send(ctx, driver.Full, body); err != nil {
		return false, err
	}

	err = s.lock.With(func() error {
		committed, lerr := s.loadDrive()
		if lerr != nil {
			return lerr
		}
		committed.Mode = domain.DriveRunning
		committed.LastTriggeredAt = &now
		committed.LastMsgID = msg.ID
		committed.LastReason = "team_idle"
		committed.LastDriverFull = driver.Full
		if err := fsio.WriteJSONAtomic(s.drivePath(), committed); err != nil {
			return domain.IOErrorf(err, "save drive state")
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

