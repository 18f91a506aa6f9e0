// Package inbox implements the per-recipient durable message queues from
// §4.D: unread/overflow/read states, per-thread backpressure, and the
// rename-only lifecycle that makes read receipts monotonic.
package inbox

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/fsio"
	"github.com/kunhuang12345/atwf/internal/seq"
	"github.com/kunhuang12345/atwf/internal/slugify"
)

const (
	dirUnread   = "unread"
	dirOverflow = "overflow"
	dirRead     = "read"
)

// Store is the inbox for one team directory. Every method that writes or
// renames takes the team lock itself; Store never holds the lock across a
// call boundary.
type Store struct {
	teamDir string
	lock    *fsio.Lock
	clock   clock.Clock
	counter *seq.Counter
}

func NewStore(teamDir string, c clock.Clock) *Store {
	return &Store{
		teamDir: teamDir,
		lock:    fsio.TeamLock(teamDir),
		clock:   c,
		counter: seq.New(teamDir),
	}
}

func threadBase(teamDir, toBase string) string {
	return filepath.Join(teamDir, "inbox", slugify.Slug(toBase))
}

func threadDir(teamDir, toBase, state, fromBase string) string {
	return filepath.Join(threadBase(teamDir, toBase), state, "from-"+slugify.Slug(fromBase))
}

// WriteMessage allocates an id and writes one message file to the
// recipient's unread thread, applying overflow backpressure, all inside one
// team-lock acquisition.
func (s *Store) WriteMessage(now time.Time, kind domain.MessageKind, fromFull, fromBase, toFull, toBase, summary, body string, maxUnreadPerThread int) (*domain.Message, error) {
	var msg *domain.Message
	err := s.lock.With(func() error {
		id, err := s.counter.Next(now)
		if err != nil {
			return err
		}
		msg, err = WriteMessageUnlocked(s.teamDir, now, id, kind, fromFull, fromBase, toFull, toBase, summary, body, maxUnreadPerThread)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// WriteMessageUnlocked writes one message file using a pre-allocated id. The
// caller must already hold the team lock (used by internal/requests' gather,
// which pre-allocates one id per recipient plus a request id from a single
// counter bump — §4.E step 2 — to avoid re-entrant locking).
func WriteMessageUnlocked(teamDir string, now time.Time, id string, kind domain.MessageKind, fromFull, fromBase, toFull, toBase, summary, body string, maxUnreadPerThread int) (*domain.Message, error) {
	h := domain.MessageHeader{
		ID:        id,
		Kind:      kind,
		CreatedAt: now,
		From:      fromFull,
		To:        toFull,
		Summary:   summary,
	}
	dir := threadDir(teamDir, toBase, dirUnread, fromBase)
	path := filepath.Join(dir, id+".md")
	if err := fsio.WriteFileAtomic(path, []byte(formatFile(h, body)), 0o644); err != nil {
		return nil, domain.IOErrorf(err, "write inbox message %s", id)
	}
	if err := applyOverflow(teamDir, toBase, fromBase, maxUnreadPerThread); err != nil {
		return nil, err
	}
	return &domain.Message{MessageHeader: h, Body: body, State: domain.StateUnread}, nil
}

// applyOverflow renames the oldest surplus unread files in one thread into
// overflow/ once the thread exceeds maxUnreadPerThread (§4.D step 4).
func applyOverflow(teamDir, toBase, fromBase string, maxUnreadPerThread int) error {
	if maxUnreadPerThread <= 0 {
		maxUnreadPerThread = 5
	}
	unreadDir := threadDir(teamDir, toBase, dirUnread, fromBase)
	ids, err := listNumericFiles(unreadDir)
	if err != nil {
		return domain.IOErrorf(err, "list unread thread %s/%s", toBase, fromBase)
	}
	surplus := len(ids) - maxUnreadPerThread
	if surplus <= 0 {
		return nil
	}
	overflowDir := threadDir(teamDir, toBase, dirOverflow, fromBase)
	if err := os.MkdirAll(overflowDir, 0o755); err != nil {
		return domain.IOErrorf(err, "create overflow dir")
	}
	for _, id := range ids[:surplus] {
		name := id + ".md"
		if err := os.Rename(filepath.Join(unreadDir, name), filepath.Join(overflowDir, name)); err != nil {
			return domain.IOErrorf(err, "overflow rename %s", name)
		}
	}
	return nil
}

// MarkRead renames msgID from unread or overflow into read/ under its
// original sender thread. Idempotent: if the message is already in read/,
// its existing path is returned unchanged (§4.D, §8 monotonic receipts).
func (s *Store) MarkRead(toBase, msgID string) (string, error) {
	var result string
	err := s.lock.With(func() error {
		state, fromBase, path, found, err := FindMessage(s.teamDir, toBase, msgID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		if state == domain.StateRead {
			result = path
			return nil
		}
		readDir := threadDir(s.teamDir, toBase, dirRead, fromBase)
		if err := os.MkdirAll(readDir, 0o755); err != nil {
			return domain.IOErrorf(err, "create read dir")
		}
		dst := filepath.Join(readDir, msgID+".md")
		if err := os.Rename(path, dst); err != nil {
			return domain.IOErrorf(err, "mark read %s", msgID)
		}
		result = dst
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// ListUnread scans unread/ and overflow/ across all sender threads for
// toBase and returns counts plus every pending id, ordered numerically
// (§4.D).
func ListUnread(teamDir, toBase string) (unread, overflow int, ids []string, err error) {
	unreadIDs, err := scanState(teamDir, toBase, dirUnread)
	if err != nil {
		return 0, 0, nil, err
	}
	overflowIDs, err := scanState(teamDir, toBase, dirOverflow)
	if err != nil {
		return 0, 0, nil, err
	}
	all := append(append([]string{}, unreadIDs...), overflowIDs...)
	sort.Strings(all)
	return len(unreadIDs), len(overflowIDs), all, nil
}

// PendingOldest returns the minimum numeric id across unread+overflow for
// toBase, used by the stale-inbox alerter (§4.F).
func PendingOldest(teamDir, toBase string) (id string, ok bool, err error) {
	_, _, ids, err := ListUnread(teamDir, toBase)
	if err != nil {
		return "", false, err
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[0], true, nil
}

// FindMessage linear-scans unread, overflow, then read for msgID and
// reports which state it was found in, which sender thread it belongs to,
// and its path (§4.D).
func FindMessage(teamDir, toBase, msgID string) (state domain.InboxMessageState, fromBase string, path string, found bool, err error) {
	for _, st := range []domain.InboxMessageState{domain.StateUnread, domain.StateOverflow, domain.StateRead} {
		dirName := stateDirName(st)
		base := filepath.Join(threadBase(teamDir, toBase), dirName)
		entries, rerr := os.ReadDir(base)
		if rerr != nil {
			if os.IsNotExist(rerr) {
				continue
			}
			return "", "", "", false, domain.IOErrorf(rerr, "scan %s", base)
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasPrefix(e.Name(), "from-") {
				continue
			}
			candidate := filepath.Join(base, e.Name(), msgID+".md")
			if _, statErr := os.Stat(candidate); statErr == nil {
				return st, strings.TrimPrefix(e.Name(), "from-"), candidate, true, nil
			}
		}
	}
	return "", "", "", false, nil
}

// ReadMessage loads and parses a stored message file.
func ReadMessage(path string) (*domain.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.IOErrorf(err, "read message %s", path)
	}
	h, body, err := parseFile(data)
	if err != nil {
		return nil, domain.IOErrorf(err, "parse message %s", path)
	}
	return &domain.Message{MessageHeader: h, Body: body}, nil
}

func stateDirName(s domain.InboxMessageState) string {
	switch s {
	case domain.StateUnread:
		return dirUnread
	case domain.StateOverflow:
		return dirOverflow
	default:
		return dirRead
	}
}

func scanState(teamDir, toBase, state string) ([]string, error) {
	base := filepath.Join(threadBase(teamDir, toBase), state)
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.IOErrorf(err, "scan %s", base)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "from-") {
			continue
		}
		threadIDs, err := listNumericFiles(filepath.Join(base, e.Name()))
		if err != nil {
			return nil, domain.IOErrorf(err, "scan thread %s", e.Name())
		}
		ids = append(ids, threadIDs...)
	}
	return ids, nil
}

// listNumericFiles returns the <id> component of every <id>.md file in dir,
// sorted ascending by numeric value (oldest first).
func listNumericFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".md") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".md"))
	}
	sort.Slice(ids, func(i, j int) bool {
		ni, _ := strconv.Atoi(ids[i])
		nj, _ := strconv.Atoi(ids[j])
		return ni < nj
	})
	return ids, nil
}
