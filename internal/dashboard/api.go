// Package dashboard provides a read-only web dashboard and JSON API over
// the orchestrator's on-disk state: the registry tree, each member's
// derived agent status, every reply-needed request (open or closed),
// and drive state. It never mutates anything — every write stays on the
// CLI/MCP surface (§4.A-G remain the only writers of team state).
package dashboard

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/kunhuang12345/atwf/internal/agentstate"
	"github.com/kunhuang12345/atwf/internal/config"
	"github.com/kunhuang12345/atwf/internal/domain"
	"github.com/kunhuang12345/atwf/internal/drive"
	"github.com/kunhuang12345/atwf/internal/inbox"
	"github.com/kunhuang12345/atwf/internal/registry"
	"github.com/kunhuang12345/atwf/internal/requests"
)

// StateSnapshot is the JSON response from /api/state.
type StateSnapshot struct {
	Timestamp string           `json:"timestamp"`
	TeamDir   string           `json:"team_dir"`
	Paused    bool             `json:"paused"`
	Members   []MemberSnapshot `json:"members"`
	Requests  []RequestSnapshot `json:"requests,omitempty"`
	Drive     DriveSnapshot    `json:"drive"`
}

// MemberSnapshot merges one registry member with its derived agent state.
type MemberSnapshot struct {
	Full        string   `json:"full"`
	Base        string   `json:"base"`
	Role        string   `json:"role"`
	Parent      string   `json:"parent,omitempty"`
	Children    []string `json:"children,omitempty"`
	Status      string   `json:"status"`
	Unread      int      `json:"unread"`
	Overflow    int      `json:"overflow"`
	OutputAge   string   `json:"output_age,omitempty"`
	IdleSince   string   `json:"idle_since,omitempty"`
	WakeupDueAt string   `json:"wakeup_due_at,omitempty"`
}

// RequestSnapshot is a per-request summary.
type RequestSnapshot struct {
	ID           string `json:"id"`
	Topic        string `json:"topic"`
	Status       string `json:"status"`
	FromBase     string `json:"from_base"`
	TargetCount  int    `json:"target_count"`
	RepliedCount int    `json:"replied_count"`
	Age          string `json:"age"`
	Deadline     string `json:"deadline"`
}

// DriveSnapshot reports the whole-team, subtree, and reply-drive anti-stall
// state (§4.G).
type DriveSnapshot struct {
	Mode            string                   `json:"mode"`
	LastTriggeredAge string                  `json:"last_triggered_age,omitempty"`
	LastReason      string                   `json:"last_reason,omitempty"`
	Subtrees        map[string]SubtreeSnapshot `json:"subtrees,omitempty"`
	ReplyLastReason string                   `json:"reply_last_reason,omitempty"`
}

// SubtreeSnapshot is one unit's subtree-drive status.
type SubtreeSnapshot struct {
	Status          string `json:"status"`
	StoppedReason   string `json:"stopped_reason,omitempty"`
	LastTriggeredAge string `json:"last_triggered_age,omitempty"`
}

// Handler holds the read-only stores the dashboard renders from.
type Handler struct {
	cfg      *config.Config
	registry *registry.Store
	agent    *agentstate.Store
	requests *requests.Store
	drive    *drive.Store
}

// NewHandler builds a dashboard handler over the orchestrator's stores.
func NewHandler(cfg *config.Config, reg *registry.Store, agent *agentstate.Store, reqs *requests.Store, drv *drive.Store) *Handler {
	return &Handler{cfg: cfg, registry: reg, agent: agent, requests: reqs, drive: drv}
}

// RegisterRoutes adds the dashboard's read-only routes to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", h.handleAPIState)
	mux.HandleFunc("/dashboard", h.handleDashboard)
	mux.HandleFunc("/dashboard/", h.handleDashboard)
}

func (h *Handler) handleAPIState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")

	now := time.Now()
	snap, err := h.snapshot(now)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snap)
}

func (h *Handler) snapshot(now time.Time) (*StateSnapshot, error) {
	reg, err := h.registry.Load()
	if err != nil {
		return nil, err
	}

	snap := &StateSnapshot{
		Timestamp: now.Format(time.RFC3339),
		TeamDir:   h.cfg.TeamDir,
		Paused:    h.drive.Paused(),
	}

	for _, m := range reg.Members {
		ms := MemberSnapshot{
			Full: m.Full, Base: m.Base, Role: m.Role, Parent: m.Parent, Children: m.Children,
		}
		if st, err := h.agent.Load(m.Full); err == nil {
			ms.Status = string(st.Status)
			if !st.LastOutputChangeAt.IsZero() {
				ms.OutputAge = relTime(st.LastOutputChangeAt, now)
			}
			if st.IdleSince != nil {
				ms.IdleSince = relTime(*st.IdleSince, now)
			}
			if st.WakeupDueAt != nil {
				ms.WakeupDueAt = relTime(*st.WakeupDueAt, now)
			}
		}
		if unread, overflow, _, err := inbox.ListUnread(h.cfg.TeamDir, m.Base); err == nil {
			ms.Unread = unread
			ms.Overflow = overflow
		}
		snap.Members = append(snap.Members, ms)
	}
	sort.Slice(snap.Members, func(i, j int) bool { return snap.Members[i].Full < snap.Members[j].Full })

	reqMetas, err := h.requests.ListAll()
	if err != nil {
		return nil, err
	}
	for _, m := range reqMetas {
		replied := 0
		for _, t := range m.Targets {
			if t.Status == domain.TargetReplied {
				replied++
			}
		}
		deadline := "overdue"
		if m.DeadlineAt.After(now) {
			deadline = "in " + m.DeadlineAt.Sub(now).Round(time.Second).String()
		}
		snap.Requests = append(snap.Requests, RequestSnapshot{
			ID: m.ID, Topic: m.Topic, Status: string(m.Status), FromBase: m.From.Base,
			TargetCount: len(m.Targets), RepliedCount: replied,
			Age: relTime(m.CreatedAt, now), Deadline: deadline,
		})
	}

	driveState, err := h.drive.LoadDrive()
	if err != nil {
		return nil, err
	}
	snap.Drive = DriveSnapshot{Mode: string(driveState.Mode), LastReason: driveState.LastReason}
	if driveState.LastTriggeredAt != nil {
		snap.Drive.LastTriggeredAge = relTime(*driveState.LastTriggeredAt, now)
	}

	subtrees, err := h.drive.LoadSubtree()
	if err != nil {
		return nil, err
	}
	if len(subtrees) > 0 {
		snap.Drive.Subtrees = make(map[string]SubtreeSnapshot, len(subtrees))
		for base, entry := range subtrees {
			ss := SubtreeSnapshot{Status: string(entry.Status), StoppedReason: entry.StoppedReason}
			if entry.LastTriggeredAt != nil {
				ss.LastTriggeredAge = relTime(*entry.LastTriggeredAt, now)
			}
			snap.Drive.Subtrees[base] = ss
		}
	}

	replyDrive, err := h.drive.LoadReplyDrive()
	if err != nil {
		return nil, err
	}
	snap.Drive.ReplyLastReason = replyDrive.LastReason

	return snap, nil
}

func relTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return d.Round(time.Second).String() + " ago"
	case d < time.Hour:
		return d.Round(time.Minute).String() + " ago"
	case d < 24*time.Hour:
		return d.Round(time.Hour).String() + " ago"
	default:
		return t.Format("Jan 2 15:04")
	}
}
