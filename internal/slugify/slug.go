// Package slugify turns bases/fulls into filesystem-safe directory names.
package slugify

import "strings"

// Slug lowercases s and replaces any character outside [a-z0-9_-] with '_',
// collapsing repeats. It is deterministic and reversible enough for the
// orchestrator's purposes: directory names under inbox/ and state/ are
// derived from it but the Base/Full themselves remain the source of truth
// inside each file's own JSON/header fields.
func Slug(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
		if ok {
			b.WriteRune(r)
			lastUnderscore = r == '_'
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := b.String()
	if out == "" {
		return "_"
	}
	return out
}
