// Package registry is the source of truth for who exists, the org-chart
// edges between them, and handoff permits (§4.B). Every write goes through
// Store, which takes the team lock for the duration of the mutation (§4.A
// rule 1).
package registry

import (
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kunhuang12345/atwf/internal/clock"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/fsio"
)

// FullPattern is the required shape of a member's "full" session name (§3).
var FullPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*-\d{8}-\d{6}-\d+$`)

// Store loads and saves the single registry.json document under team lock.
type Store struct {
	teamDir string
	lock    *fsio.Lock
	clock   clock.Clock
}

// NewStore returns a Store rooted at teamDir.
func NewStore(teamDir string, c clock.Clock) *Store {
	return &Store{teamDir: teamDir, lock: fsio.TeamLock(teamDir), clock: c}
}

func (s *Store) path() string {
	return filepath.Join(s.teamDir, "registry.json")
}

// Load reads registry.json without locking (§4.A: "readers are optimistic").
// Returns a fresh empty Registry if the file has never been written.
func (s *Store) Load() (*domain.Registry, error) {
	reg := domain.NewRegistry()
	ok, err := fsio.ReadJSON(s.path(), reg)
	if err != nil {
		return nil, domain.IOErrorf(err, "load registry")
	}
	if !ok {
		return domain.NewRegistry(), nil
	}
	return reg, nil
}

func (s *Store) save(reg *domain.Registry) error {
	reg.UpdatedAt = s.clock.Now()
	if err := fsio.WriteJSONAtomic(s.path(), reg); err != nil {
		return domain.IOErrorf(err, "save registry")
	}
	return nil
}

// Mutate loads the registry, runs fn under the team lock, and saves the
// result — the only sanctioned way to write registry.json (§4.A rule 1).
func (s *Store) Mutate(fn func(*domain.Registry) error) error {
	return s.lock.With(func() error {
		reg, err := s.Load()
		if err != nil {
			return err
		}
		if err := fn(reg); err != nil {
			return err
		}
		return s.save(reg)
	})
}

// byFull indexes members by Full for O(1) lookup within one loaded Registry.
func byFull(reg *domain.Registry) map[string]*domain.Member {
	m := make(map[string]*domain.Member, len(reg.Members))
	for _, mem := range reg.Members {
		m[mem.Full] = mem
	}
	return m
}

// EnsureMember upserts a member by Full (§4.B). Does not validate policy —
// that is the caller's job, exercised via internal/commgate and the hire
// flow in the CLI layer.
func EnsureMember(reg *domain.Registry, now time.Time, full, base, role, scope, parent, stateFile string) *domain.Member {
	idx := byFull(reg)
	if existing, ok := idx[full]; ok {
		existing.Base = base
		existing.Role = role
		existing.Scope = scope
		existing.Parent = parent
		existing.StateFile = stateFile
		existing.UpdatedAt = now
		return existing
	}
	m := &domain.Member{
		Full:      full,
		Base:      base,
		Role:      role,
		Scope:     scope,
		Parent:    parent,
		Children:  []string{},
		StateFile: stateFile,
		CreatedAt: now,
		UpdatedAt: now,
	}
	reg.Members = append(reg.Members, m)
	return m
}

// AddChild appends childFull to parentFull's Children if absent (§4.B,
// idempotent).
func AddChild(reg *domain.Registry, parentFull, childFull string) {
	idx := byFull(reg)
	parent, ok := idx[parentFull]
	if !ok {
		return
	}
	for _, c := range parent.Children {
		if c == childFull {
			return
		}
	}
	parent.Children = append(parent.Children, childFull)
}

// Resolve implements §4.B resolve: exact-full match wins, else the
// newest-updated base match, else nil.
func Resolve(reg *domain.Registry, name string) *domain.Member {
	for _, m := range reg.Members {
		if m.Full == name {
			return m
		}
	}
	var best *domain.Member
	for _, m := range reg.Members {
		if m.Base != name {
			continue
		}
		if best == nil || m.UpdatedAt.After(best.UpdatedAt) {
			best = m
		}
	}
	return best
}

// ResolveLatestByRole returns the newest-updated member of the given role.
func ResolveLatestByRole(reg *domain.Registry, role string) *domain.Member {
	var best *domain.Member
	for _, m := range reg.Members {
		if m.Role != role {
			continue
		}
		if best == nil || m.UpdatedAt.After(best.UpdatedAt) {
			best = m
		}
	}
	return best
}

// TreeChildren returns the canonical adjacency map: the union of explicit
// Children lists and parent back-edges, deduped and sorted (§4.B, §9 — the
// spec explicitly treats disagreement between the two as a union, not a
// conflict to silently resolve).
func TreeChildren(reg *domain.Registry) map[string][]string {
	out := map[string]map[string]bool{}
	ensure := func(full string) map[string]bool {
		if out[full] == nil {
			out[full] = map[string]bool{}
		}
		return out[full]
	}
	for _, m := range reg.Members {
		ensure(m.Full)
		if m.Parent != "" {
			ensure(m.Parent)[m.Full] = true
		}
		for _, c := range m.Children {
			ensure(m.Full)[c] = true
		}
	}
	result := make(map[string][]string, len(out))
	for full, set := range out {
		children := make([]string, 0, len(set))
		for c := range set {
			children = append(children, c)
		}
		sort.Strings(children)
		result[full] = children
	}
	return result
}

// TreeRoots returns members with no parent, or whose parent points outside
// the known set, newest-first (§4.B).
func TreeRoots(reg *domain.Registry) []*domain.Member {
	idx := byFull(reg)
	var roots []*domain.Member
	for _, m := range reg.Members {
		if m.Parent == "" {
			roots = append(roots, m)
			continue
		}
		if _, ok := idx[m.Parent]; !ok {
			roots = append(roots, m)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].UpdatedAt.After(roots[j].UpdatedAt) })
	return roots
}

// Subtree runs a DFS from rootFull using the canonical adjacency map,
// tolerating cycles via a visited set (§4.B, §9: the registry is
// operator-repairable, never fail hard on a cycle).
func Subtree(reg *domain.Registry, rootFull string) []string {
	children := TreeChildren(reg)
	visited := map[string]bool{}
	var order []string
	var dfs func(full string)
	dfs = func(full string) {
		if visited[full] {
			return
		}
		visited[full] = true
		order = append(order, full)
		for _, c := range children[full] {
			dfs(c)
		}
	}
	dfs(rootFull)
	return order
}

// PruneBy removes all members matching (role, base) except keepFull. Used by
// operator tooling to clean up duplicate registrations after a crash/restart.
func PruneBy(reg *domain.Registry, role, base, keepFull string) {
	filtered := reg.Members[:0]
	for _, m := range reg.Members {
		if m.Role == role && m.Base == base && m.Full != keepFull {
			continue
		}
		filtered = append(filtered, m)
	}
	reg.Members = filtered
}

// AddPermit appends a new handoff permit authorizing bidirectional comm
// between bases a and b. ttl of 0 means no expiry.
func AddPermit(reg *domain.Registry, now time.Time, a, b, createdBy, createdByRole, reason string, ttl time.Duration) *domain.Permit {
	p := &domain.Permit{
		ID:            uuid.NewString(),
		A:             a,
		B:             b,
		CreatedBy:     createdBy,
		CreatedByRole: createdByRole,
		CreatedAt:     now,
		Reason:        reason,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		p.ExpiresAt = &exp
	}
	reg.Permits = append(reg.Permits, p)
	return p
}

// HasLivePermit reports whether a non-expired permit pairs bases a and b
// (order-independent), per §4.I step 6.
func HasLivePermit(reg *domain.Registry, now time.Time, a, b string) bool {
	for _, p := range reg.Permits {
		if p.Expired(now) {
			continue
		}
		if (p.A == a && p.B == b) || (p.A == b && p.B == a) {
			return true
		}
	}
	return false
}
