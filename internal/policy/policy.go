// Package policy derives the orchestrator's authorization rules from
// config.Config (§4.C). Every exported function here is a pure derivation —
// no I/O, no clock, no mutation — mirroring the shape (if not the content)
// of the teacher's internal/policy.Policy, which wraps a *Config and exposes
// read-only accessors.
package policy

import (
	"fmt"
	"sort"

	"github.com/kunhuang12345/atwf/internal/config"
)

// Policy is the derived rule set for one team configuration.
type Policy struct {
	cfg *config.Config

	rootRole      string
	enabledRoles  map[string]string // role -> template path
	canHire       map[string]map[string]bool
	broadcastAllowed map[string]bool
	broadcastExclude map[string]bool
	handoffCreators  map[string]bool
	directAllow      map[string]map[string]bool
}

// New derives a Policy from cfg. Returns an error if root_role is not among
// enabled_roles, or if any enabled role has no template (§4.C).
func New(cfg *config.Config) (*Policy, error) {
	p := &Policy{
		cfg:              cfg,
		enabledRoles:     map[string]string{},
		canHire:          map[string]map[string]bool{},
		broadcastAllowed: map[string]bool{},
		broadcastExclude: map[string]bool{},
		handoffCreators:  map[string]bool{},
		directAllow:      map[string]map[string]bool{},
	}

	for _, rt := range cfg.Team.EnabledRoles {
		if rt.Role == "" {
			continue
		}
		if rt.Template == "" {
			return nil, fmt.Errorf("policy: role %q has no template file configured", rt.Role)
		}
		p.enabledRoles[rt.Role] = rt.Template
	}

	p.rootRole = cfg.Team.RootRole
	if p.rootRole == "" {
		return nil, fmt.Errorf("policy: root_role is not set")
	}
	if !p.isEnabled(p.rootRole) {
		return nil, fmt.Errorf("policy: root_role %q is not in enabled_roles", p.rootRole)
	}

	for parent, children := range cfg.Team.CanHire {
		if !p.isEnabled(parent) {
			continue
		}
		set := map[string]bool{}
		for _, c := range children {
			if p.isEnabled(c) {
				set[c] = true
			}
		}
		p.canHire[parent] = set
	}

	for _, r := range cfg.Team.BroadcastAllowedRoles {
		if p.isEnabled(r) {
			p.broadcastAllowed[r] = true
		}
	}
	for _, r := range cfg.Team.BroadcastExcludeRoles {
		if p.isEnabled(r) {
			p.broadcastExclude[r] = true
		}
	}
	for _, r := range cfg.Team.CommHandoffCreators {
		if p.isEnabled(r) {
			p.handoffCreators[r] = true
		}
	}

	// comm_direct_allow: symmetric closure of the configured map and the
	// pairs list (§4.C). Every enabled role gets an entry, possibly empty.
	for role := range p.enabledRoles {
		p.directAllow[role] = map[string]bool{}
	}
	addPair := func(a, b string) {
		if !p.isEnabled(a) || !p.isEnabled(b) {
			return
		}
		p.directAllow[a][b] = true
		p.directAllow[b][a] = true
	}
	for a, targets := range cfg.Team.CommDirectAllow {
		for _, b := range targets {
			addPair(a, b)
		}
	}
	for _, pair := range cfg.Team.CommDirectAllowPairs {
		addPair(pair[0], pair[1])
	}

	return p, nil
}

func (p *Policy) isEnabled(role string) bool {
	_, ok := p.enabledRoles[role]
	return ok
}

// RootRole returns the single designated root role.
func (p *Policy) RootRole() string { return p.rootRole }

// IsRoleEnabled reports whether role is an enabled role.
func (p *Policy) IsRoleEnabled(role string) bool { return p.isEnabled(role) }

// EnabledRoles returns the sorted list of enabled role names.
func (p *Policy) EnabledRoles() []string {
	out := make([]string, 0, len(p.enabledRoles))
	for r := range p.enabledRoles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// RoleTemplate returns the template file path for role, or "" if disabled.
func (p *Policy) RoleTemplate(role string) string { return p.enabledRoles[role] }

// CanHire reports whether parentRole may hire childRole.
func (p *Policy) CanHire(parentRole, childRole string) bool {
	children, ok := p.canHire[parentRole]
	if !ok {
		return false
	}
	return children[childRole]
}

// HireableRoles returns the sorted set of roles parentRole may hire.
func (p *Policy) HireableRoles(parentRole string) []string {
	children := p.canHire[parentRole]
	out := make([]string, 0, len(children))
	for c := range children {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// BroadcastAllowed reports whether role may send a broadcast message at all.
func (p *Policy) BroadcastAllowed(role string) bool {
	return p.broadcastAllowed[role]
}

// BroadcastExcluded reports whether role is excluded from receiving broadcasts.
func (p *Policy) BroadcastExcluded(role string) bool {
	return p.broadcastExclude[role]
}

// CommAllowParentChild reports whether direct parent/child comm is allowed
// without a handoff permit (§4.I step 3).
func (p *Policy) CommAllowParentChild() bool { return p.cfg.Team.CommAllowParentChild }

// CommRequireHandoff reports whether comm outside the allowed graph requires
// a handoff permit (§4.I step 5).
func (p *Policy) CommRequireHandoff() bool { return p.cfg.Team.CommRequireHandoff }

// CommDirectAllowed reports whether targetRole is directly reachable from
// actorRole without parent/child or a permit (§4.I step 4).
func (p *Policy) CommDirectAllowed(actorRole, targetRole string) bool {
	targets, ok := p.directAllow[actorRole]
	if !ok {
		return false
	}
	return targets[targetRole]
}

// HandoffCreator reports whether role may create handoff permits.
func (p *Policy) HandoffCreator(role string) bool { return p.handoffCreators[role] }

// MaxUnreadPerThread returns the configured per-thread backpressure
// threshold, clamped to [1, 100] as required by §3/§8.
func (p *Policy) MaxUnreadPerThread() int {
	return clamp(p.cfg.MaxUnreadPerThread, 1, 100, 5)
}

// WatchIntervalSeconds returns the watcher tick interval in seconds, or 5
// when the configured value is unset or non-positive.
func (p *Policy) WatchIntervalSeconds() int {
	if p.cfg.WatchIntervalSeconds <= 0 {
		return 5
	}
	return p.cfg.WatchIntervalSeconds
}

// SubprocessTimeoutSeconds returns the default bound for mux/worker-ctl
// subprocess invocations (§5 Cancellation & timeouts).
func (p *Policy) SubprocessTimeoutSeconds() int {
	if p.cfg.SubprocessTimeoutSeconds <= 0 {
		return 10
	}
	return p.cfg.SubprocessTimeoutSeconds
}

// Wake returns the wake/activity tuning knobs.
func (p *Policy) Wake() config.WakeConfig { return p.cfg.Wake }

// AutoEnter returns the auto-enter recovery configuration.
func (p *Policy) AutoEnter() config.AutoEnterConfig { return p.cfg.AutoEnter }

// Drive returns the static drive configuration (everything except Mode,
// which is hot-reloaded separately — see config.ReloadDriveMode).
func (p *Policy) Drive() config.DriveConfig { return p.cfg.Team.Drive }

// TeamDir returns the root directory for all on-disk state (§6).
func (p *Policy) TeamDir() string { return p.cfg.TeamDir }

// SearchDBPath returns the path for the optional full-text search index.
func (p *Policy) SearchDBPath() string {
	if p.cfg.SearchDBPath != "" {
		return p.cfg.SearchDBPath
	}
	return p.cfg.TeamDir + "/search.db"
}

func clamp(v, lo, hi, def int) int {
	if v <= 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
