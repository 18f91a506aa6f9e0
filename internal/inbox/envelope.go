package inbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/kunhuang12345/atwf/internal/domain"
)

// Envelope renders the short framed injection wrapper used when a message is
// pushed into a worker's pane via WorkerCtl (§4.D). It is a contract with
// recipients' prompt templates and must stay byte-stable: do not reformat
// the bracket syntax or reorder the fields.
func Envelope(h domain.MessageHeader, role, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[ATWF-MSG id=%s kind=%s from=%s to=%s role=%s ts=%s]\n",
		h.ID, h.Kind, h.From, h.To, role, h.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "[ATWF-END id=%s]\n", h.ID)
	return b.String()
}

// formatFile renders a stored message file: YAML-style frontmatter header
// followed by the body, in the same shape the teacher uses for its fuse
// document files (---\nkey: value\n---\n\nbody).
func formatFile(h domain.MessageHeader, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "---\n")
	fmt.Fprintf(&b, "id: %s\n", h.ID)
	fmt.Fprintf(&b, "kind: %s\n", h.Kind)
	fmt.Fprintf(&b, "created_at: %s\n", h.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "from: %s\n", h.From)
	fmt.Fprintf(&b, "to: %s\n", h.To)
	fmt.Fprintf(&b, "summary: %s\n", h.Summary)
	fmt.Fprintf(&b, "---\n\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	return b.String()
}

// parseFile is the inverse of formatFile. It tolerates a missing trailing
// newline on the body and a header with unrecognized extra keys.
func parseFile(data []byte) (domain.MessageHeader, string, error) {
	var h domain.MessageHeader
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return h, "", fmt.Errorf("inbox: message file missing frontmatter")
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return h, "", fmt.Errorf("inbox: message file frontmatter not terminated")
	}
	header := rest[:end]
	body := strings.TrimPrefix(rest[end+len("\n---\n"):], "\n")

	for _, line := range strings.Split(header, "\n") {
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case "id":
			h.ID = val
		case "kind":
			h.Kind = domain.MessageKind(val)
		case "created_at":
			t, err := time.Parse(time.RFC3339, val)
			if err == nil {
				h.CreatedAt = t
			}
		case "from":
			h.From = val
		case "to":
			h.To = val
		case "summary":
			h.Summary = val
		}
	}
	return h, body, nil
}
