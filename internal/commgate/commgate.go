// Package commgate implements the comm gate (§4.I): a pure predicate
// combining the registry, policy, and handoff permits to authorize any
// point-to-point message. It takes no lock and performs no I/O — callers
// pass in an already-loaded *domain.Registry.
package commgate

import (
	"fmt"
	"time"

	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/policy"
	"github.com/kunhuang12345/atwf/internal/registry"
)

// Allowed implements comm_allowed(actor_full, target_full) -> (ok, reason)
// from §4.I, evaluated in the exact order the spec lists.
func Allowed(reg *domain.Registry, pol *policy.Policy, now time.Time, actorFull, targetFull string) (bool, string) {
	// 1. Self -> allowed.
	if actorFull == targetFull {
		return true, ""
	}

	actor := findFull(reg, actorFull)
	targetMember := findFull(reg, targetFull)

	// 2. Both must exist and have enabled roles.
	if actor == nil {
		return false, fmt.Sprintf("actor %s not found", actorFull)
	}
	if targetMember == nil {
		return false, fmt.Sprintf("target %s not found", targetFull)
	}
	if !pol.IsRoleEnabled(actor.Role) {
		return false, fmt.Sprintf("actor role %s is not enabled", actor.Role)
	}
	if !pol.IsRoleEnabled(targetMember.Role) {
		return false, fmt.Sprintf("target role %s is not enabled", targetMember.Role)
	}

	// 3. Direct parent/child, if configured.
	if pol.CommAllowParentChild() {
		if actor.Parent == targetMember.Full || targetMember.Parent == actor.Full {
			return true, ""
		}
	}

	// 4. Configured direct-allow graph.
	if pol.CommDirectAllowed(actor.Role, targetMember.Role) {
		return true, ""
	}

	// 5. Wide-open mode.
	if !pol.CommRequireHandoff() {
		return true, ""
	}

	// 6. Non-expired permit pairing their bases.
	if registry.HasLivePermit(reg, now, actor.Base, targetMember.Base) {
		return true, ""
	}

	// 7. Denied; name the missing permit pathway.
	return false, fmt.Sprintf("handoff required for %s->%s (request a handoff via %s)", actor.Role, targetMember.Role, pol.RootRole())
}

// BroadcastAllowed implements the broadcast authorization rule from §4.I's
// last paragraph: broadcasts don't use Allowed; they gate solely on the
// sender's role.
func BroadcastAllowed(pol *policy.Policy, actorRole string) bool {
	return pol.BroadcastAllowed(actorRole)
}

// BroadcastRecipients filters a candidate member list down to those allowed
// to receive a broadcast from actorFull: every enabled-role member whose
// role is not in broadcast_exclude_roles, excluding the sender itself.
func BroadcastRecipients(reg *domain.Registry, pol *policy.Policy, actorFull string) []*domain.Member {
	var out []*domain.Member
	for _, m := range reg.Members {
		if m.Full == actorFull {
			continue
		}
		if !pol.IsRoleEnabled(m.Role) {
			continue
		}
		if pol.BroadcastExcluded(m.Role) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func findFull(reg *domain.Registry, full string) *domain.Member {
	for _, m := range reg.Members {
		if m.Full == full {
			return m
		}
	}
	return nil
}
