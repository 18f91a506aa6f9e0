// Package domain holds the orchestrator's data model: registry, inbox,
// request, agent-state and drive records. It has no dependencies on other
// internal packages.
package domain

import "time"

// Member is one node in the org-chart registry (§3 Registry).
type Member struct {
	Full      string    `json:"full"`
	Base      string    `json:"base"`
	Role      string    `json:"role"`
	Scope     string    `json:"scope,omitempty"`
	Parent    string    `json:"parent,omitempty"`
	Children  []string  `json:"children,omitempty"`
	StateFile string    `json:"state_file,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Permit is a handoff permit authorizing bidirectional comm between two bases.
type Permit struct {
	ID            string     `json:"id"`
	A             string     `json:"a"`
	B             string     `json:"b"`
	CreatedBy     string     `json:"created_by"`
	CreatedByRole string     `json:"created_by_role"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// Expired reports whether the permit is no longer valid as of now.
// Expired permits are never deleted (§9); they are simply ignored.
func (p *Permit) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Registry is the single JSON document of record for members and permits.
type Registry struct {
	Members   []*Member `json:"members"`
	Permits   []*Permit `json:"permits"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRegistry returns an empty, initialized Registry.
func NewRegistry() *Registry {
	return &Registry{
		Members:   []*Member{},
		Permits:   []*Permit{},
		Version:   1,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// MessageKind enumerates the inbox message kinds the orchestrator writes.
type MessageKind string

const (
	KindDirect           MessageKind = "direct"
	KindBroadcast        MessageKind = "broadcast"
	KindReplyNeeded      MessageKind = "reply-needed"
	KindReplyNeededResult MessageKind = "reply-needed-result"
	KindAlertStaleInbox  MessageKind = "alert-stale-inbox"
	KindDrive            MessageKind = "drive"
	KindWake             MessageKind = "wake"
)

// InboxMessageState is the lifecycle state of a durable inbox message.
type InboxMessageState string

const (
	StateUnread   InboxMessageState = "unread"
	StateOverflow InboxMessageState = "overflow"
	StateRead     InboxMessageState = "read"
)

// MessageHeader is the parsed header block of an inbox message file.
type MessageHeader struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Summary   string      `json:"summary"`
}

// Message pairs a header with its full body, plus the state it was found in.
type Message struct {
	MessageHeader
	Body  string            `json:"body"`
	State InboxMessageState `json:"-"`
	From_ string            `json:"-"` // sender base, as derived from the "from-<slug>" directory
}

// RequestTargetStatus is the per-target status within a reply-needed request.
type RequestTargetStatus string

const (
	TargetPending RequestTargetStatus = "pending"
	TargetReplied RequestTargetStatus = "replied"
	TargetBlocked RequestTargetStatus = "blocked"
)

// RequestTarget is one recipient's state within a reply-needed request.
type RequestTarget struct {
	Full          string              `json:"full"`
	Base          string              `json:"base"`
	Role          string              `json:"role"`
	Status        RequestTargetStatus `json:"status"`
	RequestedAt   time.Time           `json:"requested_at"`
	NotifyMsgID   string              `json:"notify_msg_id"`
	BlockedUntil  *time.Time          `json:"blocked_until,omitempty"`
	BlockedReason string              `json:"blocked_reason,omitempty"`
	WaitingOn     string              `json:"waiting_on,omitempty"`
	RespondedAt   *time.Time          `json:"responded_at,omitempty"`
	ResponseFile  string              `json:"response_file,omitempty"`
}

// RequestStatus is the overall status of a reply-needed request.
type RequestStatus string

const (
	RequestOpen      RequestStatus = "open"
	RequestDone      RequestStatus = "done"
	RequestTimedOut  RequestStatus = "timed_out"
)

// RequestFrom identifies the requester.
type RequestFrom struct {
	Full string `json:"full"`
	Base string `json:"base"`
	Role string `json:"role"`
}

// RequestMeta is the meta.json of a reply-needed request (§3 Requests).
type RequestMeta struct {
	ID          string                   `json:"id"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
	FinalizedAt *time.Time               `json:"finalized_at,omitempty"`
	FinalMsgID  string                   `json:"final_msg_id,omitempty"`
	Status      RequestStatus            `json:"status"`
	Topic       string                   `json:"topic"`
	Message     string                   `json:"message"`
	DeadlineS   int                      `json:"deadline_s"`
	DeadlineAt  time.Time                `json:"deadline_at"`
	From        RequestFrom              `json:"from"`
	Targets     map[string]*RequestTarget `json:"targets"`
}

// AllReplied reports whether every target has replied.
func (m *RequestMeta) AllReplied() bool {
	if len(m.Targets) == 0 {
		return false
	}
	for _, t := range m.Targets {
		if t.Status != TargetReplied {
			return false
		}
	}
	return true
}

// AgentStatus is the derived working/draining/idle status of a member.
type AgentStatus string

const (
	StatusWorking  AgentStatus = "working"
	StatusDraining AgentStatus = "draining"
	StatusIdle     AgentStatus = "idle"
)

// NormalizeAgentStatus accepts the legacy aliases from §3 Agent state.
func NormalizeAgentStatus(s string) AgentStatus {
	switch s {
	case "busy":
		return StatusWorking
	case "drain":
		return StatusDraining
	case "standby":
		return StatusIdle
	default:
		return AgentStatus(s)
	}
}

// AgentState is the per-member observation/wake/alert record (§3 Agent state).
type AgentState struct {
	Full   string      `json:"full"`
	Status AgentStatus `json:"status"`

	LastOutputHash      string    `json:"last_output_hash,omitempty"`
	LastOutputCaptureAt time.Time `json:"last_output_capture_at,omitempty"`
	LastOutputChangeAt  time.Time `json:"last_output_change_at,omitempty"`

	LastInboxCheckAt  time.Time `json:"last_inbox_check_at,omitempty"`
	LastInboxUnread   int       `json:"last_inbox_unread"`
	LastInboxOverflow int       `json:"last_inbox_overflow"`

	IdleSince        *time.Time `json:"idle_since,omitempty"`
	IdleInboxEmptyAt *time.Time `json:"idle_inbox_empty_at,omitempty"`
	WakeupScheduledAt *time.Time `json:"wakeup_scheduled_at,omitempty"`
	WakeupDueAt      *time.Time `json:"wakeup_due_at,omitempty"`
	WakeupSentAt     *time.Time `json:"wakeup_sent_at,omitempty"`
	WakeupReason     string     `json:"wakeup_reason,omitempty"`

	StaleAlertSentAt *time.Time `json:"stale_alert_sent_at,omitempty"`
	StaleAlertMsgID  string     `json:"stale_alert_msg_id,omitempty"`
	StaleAlertReason string     `json:"stale_alert_reason,omitempty"`

	AutoEnterLastSentAt *time.Time `json:"auto_enter_last_sent_at,omitempty"`
	AutoEnterLastReason string     `json:"auto_enter_last_reason,omitempty"`
	AutoEnterCount      int        `json:"auto_enter_count"`
}

// NewAgentState returns a fresh idle-equivalent state for a member.
func NewAgentState(full string) *AgentState {
	return &AgentState{Full: full, Status: StatusIdle}
}

// DriveMode enables or disables anti-stall nudges.
type DriveMode string

const (
	DriveRunning DriveMode = "running"
	DriveStandby DriveMode = "standby"
)

// DriveState is state/drive.json — whole-team drive.
type DriveState struct {
	Mode            DriveMode  `json:"mode"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	LastMsgID       string     `json:"last_msg_id,omitempty"`
	LastReason      string     `json:"last_reason,omitempty"`
	LastDriverFull  string     `json:"last_driver_full,omitempty"`
}

// SubtreeStatus is whether a subtree's drive is active or operator-stopped.
type SubtreeStatus string

const (
	SubtreeActive  SubtreeStatus = "active"
	SubtreeStopped SubtreeStatus = "stopped"
)

// SubtreeDriveEntry is one entry of state/drive_subtree.json, keyed by root base.
type SubtreeDriveEntry struct {
	Status          SubtreeStatus `json:"status"`
	StoppedAt       *time.Time    `json:"stopped_at,omitempty"`
	StoppedReason   string        `json:"stopped_reason,omitempty"`
	LastTriggeredAt *time.Time    `json:"last_triggered_at,omitempty"`
	LastMsgID       string        `json:"last_msg_id,omitempty"`
	LastReason      string        `json:"last_reason,omitempty"`
}

// ReplyDriveState is state/reply_drive.json.
type ReplyDriveState struct {
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	LastReason      string     `json:"last_reason,omitempty"`
	LastRequestID   string     `json:"last_request_id,omitempty"`
	LastTargetBase  string     `json:"last_target_base,omitempty"`
	LastTargetFull  string     `json:"last_target_full,omitempty"`
}
