package model

import "time"

// ChangeAction is the kind of edit a correction applies to an event.
type ChangeAction string

// Correction actions.
const (
	ActionVoid     ChangeAction = "VOID"
	ActionAmend    ChangeAction = "AMEND"
	ActionRollback ChangeAction = "ROLLBACK"
)

// ProposedChange describes the edit. For AMEND, empty fields keep the
// original value. RollbackOf names the correction undone by a ROLLBACK.
type ProposedChange struct {
	Action     ChangeAction      `json:"action"`
	EventType  string            `json:"event_type,omitempty"`
	PlayerID   string            `json:"player_id,omitempty"`
	Minute     *int              `json:"minute,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RollbackOf string            `json:"rollback_of,omitempty"`
}

// Role gates correction approval tiers.
type Role string

// Known roles, lowest first.
const (
	RoleCommissioner Role = "commissioner"
	RoleAdmin        Role = "admin"
)

// Rank orders roles; a higher rank may satisfy a lower tier.
func (r Role) Rank() int {
	switch r {
	case RoleCommissioner:
		return 1
	case RoleAdmin:
		return 2
	default:
		return 0
	}
}

// Approval is one signature on a correction.
type Approval struct {
	Actor string    `json:"actor"`
	Role  Role      `json:"role"`
	Tier  Role      `json:"tier"`
	At    time.Time `json:"at"`
}

// CorrectionStatus is the pipeline status of a correction.
type CorrectionStatus string

// Correction statuses.
const (
	CorrectionPending  CorrectionStatus = "PENDING"
	CorrectionApplied  CorrectionStatus = "APPLIED"
	CorrectionRejected CorrectionStatus = "REJECTED"
	CorrectionFailed   CorrectionStatus = "FAILED"
)

// Correction is the audit record of a retroactive edit.
type Correction struct {
	CorrectionID   string           `json:"correction_id"`
	MatchID        string           `json:"match_id"`
	TargetEventID  string           `json:"target_event_id"`
	Reason         string           `json:"reason"`
	ProposedChange ProposedChange   `json:"proposed_change"`
	RequestedBy    string           `json:"requested_by"`
	ApproverChain  []Approval       `json:"approver_chain"`
	Status         CorrectionStatus `json:"status"`
	BeforeState    PlayerTotals     `json:"before_state"`
	AfterState     PlayerTotals     `json:"after_state"`
	Deltas         []PointDelta     `json:"deltas"`
	RejectReason   string           `json:"reject_reason,omitempty"`
	AuditRecordID  string           `json:"audit_record_id,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}
