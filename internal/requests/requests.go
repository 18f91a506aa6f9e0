// Package requests implements the reply-needed aggregator from §4.E: gather
// a set of targets, collect their responses, and finalize exactly once,
// either because everyone replied or because the deadline passed.
package requests

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/commgate"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/fsio"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/policy"
	"github.com/kunhuang12345/atwf/internal/registry"
	"github.com/kunhuang12345/atwf/internal/seq"
	"github.com/kunhuang12345/atwf/internal/slugify"
)

const replyFromBase = "atwf-reply"

// Store is the reply-needed request store for one team directory.
type Store struct {
	teamDir string
	lock    *fsio.Lock
	clock   clock.Clock
	counter *seq.Counter
	inbox   *inbox.Store
}

func NewStore(teamDir string, c clock.Clock) *Store {
	return &Store{
		teamDir: teamDir,
		lock:    fsio.TeamLock(teamDir),
		clock:   c,
		counter: seq.New(teamDir),
		inbox:   inbox.NewStore(teamDir, c),
	}
}

func (s *Store) dir(requestID string) string {
	return filepath.Join(s.teamDir, "requests", requestID)
}

func (s *Store) metaPath(requestID string) string {
	return filepath.Join(s.dir(requestID), "meta.json")
}

// LoadMeta reads one request's meta.json. Readers are optimistic, per §4.A.
func (s *Store) LoadMeta(requestID string) (*domain.RequestMeta, bool, error) {
	var m domain.RequestMeta
	ok, err := fsio.ReadJSON(s.metaPath(requestID), &m)
	if err != nil {
		return nil, false, domain.IOErrorf(err, "load request %s", requestID)
	}
	if !ok {
		return nil, false, nil
	}
	return &m, true, nil
}

func (s *Store) saveMeta(m *domain.RequestMeta) error {
	if err := fsio.WriteJSONAtomic(s.metaPath(m.ID), m); err != nil {
		return domain.IOErrorf(err, "save request %s", m.ID)
	}
	return nil
}

// Gather implements §4.E gather: resolves and comm-gates every target,
// pre-allocates the request id and one msg_id per recipient from a single
// counter bump inside the team lock, writes meta.json, and notifies every
// target with a reply-needed message.
func (s *Store) Gather(now time.Time, reg *domain.Registry, pol *policy.Policy, actorFull, topic, message string, deadlineS int, targetNames []string) (*domain.RequestMeta, error) {
	actor := registry.Resolve(reg, actorFull)
	if actor == nil {
		return nil, domain.NotFoundf("actor %s not found", actorFull)
	}

	type target struct {
		member *domain.Member
	}
	seenBase := map[string]bool{}
	var targets []target
	for _, name := range targetNames {
		m := registry.Resolve(reg, name)
		if m == nil {
			return nil, domain.NotFoundf("gather target %s not found", name)
		}
		if m.Full == actor.Full {
			continue
		}
		if seenBase[m.Base] {
			continue
		}
		if ok, reason := commgate.Allowed(reg, pol, now, actor.Full, m.Full); !ok {
			return nil, domain.PolicyDeniedf("gather to %s denied: %s", m.Full, reason)
		}
		seenBase[m.Base] = true
		targets = append(targets, target{member: m})
	}
	if len(targets) == 0 {
		return nil, domain.InvalidInputf("gather requires at least one valid target")
	}

	deadlineS = clampDeadline(deadlineS)
	deadlineAt := now.Add(time.Duration(deadlineS) * time.Second)

	var meta *domain.RequestMeta
	err := s.lock.With(func() error {
		ids, err := s.counter.NextN(now, len(targets)+1)
		if err != nil {
			return err
		}
		requestID := "req-" + ids[0]
		msgIDs := ids[1:]

		meta = &domain.RequestMeta{
			ID:         requestID,
			CreatedAt:  now,
			UpdatedAt:  now,
			Status:     domain.RequestOpen,
			Topic:      topic,
			Message:    message,
			DeadlineS:  deadlineS,
			DeadlineAt: deadlineAt,
			From: domain.RequestFrom{
				Full: actor.Full,
				Base: actor.Base,
				Role: actor.Role,
			},
			Targets: map[string]*domain.RequestTarget{},
		}

		for i, t := range targets {
			msgID := msgIDs[i]
			meta.Targets[t.member.Base] = &domain.RequestTarget{
				Full:        t.member.Full,
				Base:        t.member.Base,
				Role:        t.member.Role,
				Status:      domain.TargetPending,
				RequestedAt: now,
				NotifyMsgID: msgID,
			}
			body := renderNotifyBody(requestID, topic, message, deadlineAt)
			if _, err := inbox.WriteMessageUnlocked(s.teamDir, now, msgID, domain.KindReplyNeeded,
				actor.Full, actor.Base, t.member.Full, t.member.Base,
				fmt.Sprintf("reply needed: %s", topic), body, pol.MaxUnreadPerThread()); err != nil {
				return err
			}
		}

		if err := os.MkdirAll(filepath.Join(s.dir(requestID), "responses"), 0o755); err != nil {
			return domain.IOErrorf(err, "create request dir")
		}
		return s.saveMeta(meta)
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func renderNotifyBody(requestID, topic, message string, deadlineAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reply needed: %s\n\n", topic)
	b.WriteString(message)
	fmt.Fprintf(&b, "\n\nRequest: %s\nDeadline: %s\n\n", requestID, deadlineAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Respond with:\n  atwf respond %s <your-base> \"...\"\n", requestID)
	fmt.Fprintf(&b, "Or report a blocker:\n  atwf respond %s <your-base> \"<reason>\" --blocked --snooze-seconds 1800 --waiting-on <base>\n", requestID)
	return b.String()
}

// Respond implements §4.E respond: must be an existing target; records a
// blocked snooze or a reply, then attempts finalization inside the same
// team-lock critical section as the mutation, so exactly one process
// finalizes. The original notify message is marked read only after the
// lock is released, using a separate inbox-lock acquisition.
func (s *Store) Respond(now time.Time, requestID, actorBase, body string, blocked bool, snoozeS int, reason, waitingOn string) (*domain.RequestMeta, error) {
	var meta *domain.RequestMeta
	var notifyMsgID string

	err := s.lock.With(func() error {
		m, ok, err := s.LoadMeta(requestID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundf("request %s not found", requestID)
		}
		target, ok := m.Targets[actorBase]
		if !ok {
			return domain.InvalidInputf("%s is not a target of request %s", actorBase, requestID)
		}
		if m.FinalMsgID != "" {
			return domain.AlreadyFinalizedf("request %s already finalized", requestID)
		}

		if blocked {
			snooze := clampSnooze(snoozeS)
			until := now.Add(time.Duration(snooze) * time.Second)
			target.Status = domain.TargetBlocked
			target.BlockedUntil = &until
			target.BlockedReason = reason
			target.WaitingOn = waitingOn
		} else {
			if strings.TrimSpace(body) == "" {
				return domain.InvalidInputf("respond requires a non-empty body")
			}
			respPath := filepath.Join(s.dir(requestID), "responses", slugify.Slug(actorBase)+".md")
			if err := fsio.WriteFileAtomic(respPath, []byte(body), 0o644); err != nil {
				return domain.IOErrorf(err, "write response for %s", actorBase)
			}
			responded := now
			target.Status = domain.TargetReplied
			target.RespondedAt = &responded
			target.ResponseFile = respPath
		}
		m.UpdatedAt = now
		notifyMsgID = target.NotifyMsgID

		if err := s.finalizeLocked(m, now); err != nil {
			return err
		}
		meta = m
		return s.saveMeta(m)
	})
	if err != nil {
		return nil, err
	}

	if notifyMsgID != "" {
		if _, mrErr := s.inbox.MarkRead(actorBase, notifyMsgID); mrErr != nil {
			return meta, mrErr
		}
	}
	return meta, nil
}

// finalizeLocked implements the finalization rule from §4.E. Caller must
// already hold the team lock.
func (s *Store) finalizeLocked(m *domain.RequestMeta, now time.Time) error {
	if m.FinalMsgID != "" {
		return nil
	}
	var status domain.RequestStatus
	switch {
	case m.AllReplied():
		status = domain.RequestDone
	case !m.DeadlineAt.IsZero() && !now.Before(m.DeadlineAt):
		status = domain.RequestTimedOut
	default:
		return nil
	}

	ids, err := s.counter.NextN(now, 1)
	if err != nil {
		return err
	}
	summary := renderResultBody(m, status)
	finalMsg, err := inbox.WriteMessageUnlocked(s.teamDir, now, ids[0], domain.KindReplyNeededResult,
		"atwf-reply", replyFromBase, m.From.Full, m.From.Base,
		fmt.Sprintf("reply-needed result: %s", m.Topic), summary, 100)
	if err != nil {
		return err
	}

	finalizedAt := now
	m.Status = status
	m.FinalizedAt = &finalizedAt
	m.FinalMsgID = finalMsg.ID
	return nil
}

func renderResultBody(m *domain.RequestMeta, status domain.RequestStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[REPLY-NEEDED RESULT]\n\nRequest: %s\nTopic: %s\nStatus: %s\n\n", m.ID, m.Topic, status)

	bases := make([]string, 0, len(m.Targets))
	for base := range m.Targets {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	b.WriteString("Replied:\n")
	for _, base := range bases {
		t := m.Targets[base]
		if t.Status == domain.TargetReplied {
			fmt.Fprintf(&b, "  - %s (%s)\n", base, t.Role)
		}
	}
	b.WriteString("Not replied:\n")
	for _, base := range bases {
		t := m.Targets[base]
		if t.Status != domain.TargetReplied {
			fmt.Fprintf(&b, "  - %s (%s, %s)\n", base, t.Role, t.Status)
		}
	}
	return b.String()
}

// clampDeadline enforces the [60s, 86400s] bound from §8 Boundary behaviors.
func clampDeadline(s int) int {
	if s < 60 {
		return 60
	}
	if s > 86400 {
		return 86400
	}
	return s
}

func clampSnooze(s int) int {
	if s < 30 {
		return 30
	}
	if s > 86400 {
		return 86400
	}
	return s
}

// ListAll returns every request under this team directory, most recently
// created first, for read-only surfaces like the dashboard and `atwf list
// --requests`. It never mutates state.
func (s *Store) ListAll() ([]*domain.RequestMeta, error) {
	root := filepath.Join(s.teamDir, "requests")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.IOErrorf(err, "scan requests dir")
	}

	var all []*domain.RequestMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, ok, err := s.LoadMeta(e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			all = append(all, m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}

// Sweep scans every open request and attempts finalization, covering
// requests whose last transition happened without a concurrent Respond
// (pure timeouts) — run once per watcher tick (§4.E).
func (s *Store) Sweep(now time.Time) ([]*domain.RequestMeta, error) {
	root := filepath.Join(s.teamDir, "requests")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.IOErrorf(err, "scan requests dir")
	}

	var finalized []*domain.RequestMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		requestID := e.Name()
		m, ok, err := s.LoadMeta(requestID)
		if err != nil {
			return finalized, err
		}
		if !ok || m.Status != domain.RequestOpen {
			continue
		}
		var changed *domain.RequestMeta
		lockErr := s.lock.With(func() error {
			fresh, ok, err := s.LoadMeta(requestID)
			if err != nil {
				return err
			}
			if !ok || fresh.FinalMsgID != "" {
				return nil
			}
			before := fresh.FinalMsgID
			if err := s.finalizeLocked(fresh, now); err != nil {
				return err
			}
			if fresh.FinalMsgID != before {
				changed = fresh
				return s.saveMeta(fresh)
			}
			return nil
		})
		if lockErr != nil {
			return finalized, lockErr
		}
		if changed != nil {
			finalized = append(finalized, changed)
		}
	}
	return finalized, nil
}
