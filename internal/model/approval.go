package model

// ActionType is the fixed taxonomy of sensitive actions gated behind human
// approval. No type may be added at runtime.
type ActionType string

const (
	ActionSendMessage ActionType = "send-message"
	ActionMakePayment ActionType = "make-payment"
	ActionPostPublic  ActionType = "post-public"
	ActionDeleteData  ActionType = "delete-data"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Decision is the human verdict on an approval request.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalRequest is embedded in a task's header when the detector flags its
// content. It exists only while the task is in or has passed through
// Pending-Approval; the decision field transitions only via human action and
// must agree with the folder the task is subsequently found in.
type ApprovalRequest struct {
	TaskID        string     `yaml:"task_id"`
	ActionType    ActionType `yaml:"action_type"`
	RiskLevel     RiskLevel  `yaml:"risk_level"`
	Justification string     `yaml:"justification"`
	RequestedAt   string     `yaml:"requested_at"`
	ApprovedAt    *string    `yaml:"approved_at,omitempty"`
	Approver      *string    `yaml:"approver,omitempty"`
	Decision      Decision   `yaml:"decision"`
}
