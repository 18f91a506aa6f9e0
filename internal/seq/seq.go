// Package seq implements the single, team-wide monotonic message counter
// (§3 Inbox, §9 "Single global message counter" — an implementer may be
// tempted to shard per recipient; don't). Both inbox writes and request
// gathers allocate ids from this one counter, under the team lock.
package seq

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kunhuang12345/atwf/internal/fsio"
)

type doc struct {
	NextID    int       `json:"next_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Counter reads/advances <team_dir>/msg_seq.json. Callers must already hold
// the team lock (§5: "advances the message counter" requires the team lock).
type Counter struct {
	path string
}

// New returns a Counter rooted at teamDir. It does not take a lock itself;
// the caller is expected to be inside Store.Mutate or an equivalent
// team-lock critical section.
func New(teamDir string) *Counter {
	return &Counter{path: filepath.Join(teamDir, "msg_seq.json")}
}

func (c *Counter) load() (doc, error) {
	var d doc
	ok, err := fsio.ReadJSON(c.path, &d)
	if err != nil {
		return doc{}, err
	}
	if !ok {
		d.NextID = 1
	}
	if d.NextID < 1 {
		d.NextID = 1
	}
	return d, nil
}

// Next allocates and persists a single id, formatted as a 6-digit
// zero-padded string (§3: "msg_id is a 6-digit zero-padded monotonic
// integer").
func (c *Counter) Next(now time.Time) (string, error) {
	ids, err := c.NextN(now, 1)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// NextN allocates n consecutive ids in one critical section — used by
// gather() to pre-allocate one id per recipient plus the request id from a
// single counter bump, avoiding re-entrant locking (§4.E step 2).
func (c *Counter) NextN(now time.Time, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("seq: n must be positive")
	}
	d, err := c.load()
	if err != nil {
		return nil, err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("%06d", d.NextID)
		d.NextID++
	}
	d.UpdatedAt = now
	if err := fsio.WriteJSONAtomic(c.path, d); err != nil {
		return nil, err
	}
	return ids, nil
}
