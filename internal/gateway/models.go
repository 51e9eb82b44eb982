package gateway

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/intent"
)

// Mode is the requested execution ladder rung.
type Mode string

const (
	// ModeAdvisory records the intent and recommends; no external effect.
	ModeAdvisory Mode = "advisory"
	// ModeApproval defers execution until an external approval resolves it.
	ModeApproval Mode = "approval"
	// ModeAutonomous executes directly after validation, when entitled.
	ModeAutonomous Mode = "autonomous"
)

// Status is the terminal state of a submission as reported to the caller.
type Status string

const (
	StatusDenied          Status = "denied"
	StatusPendingApproval Status = "pending_approval"
	StatusAdvisoryOnly    Status = "advisory_only"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
)

var (
	// ErrUnknownApproval is returned for approval IDs that do not exist.
	ErrUnknownApproval = errors.New("unknown approval id")

	// ErrApprovalResolved is returned when an approval was already
	// approved, rejected or expired.
	ErrApprovalResolved = errors.New("approval already resolved")
)

// Capabilities is the injected entitlement descriptor. The gateway reads
// gating decisions only from this struct; it is supplied at construction and
// never derived from runtime configuration strings.
type Capabilities struct {
	// AutonomousExecution permits the EXECUTING transition. When false the
	// gateway fails closed: every submission resolves to advisory only.
	AutonomousExecution bool
}

// DeniedError carries the human-readable denial reason. A denial is a normal
// result, not a pipeline failure.
type DeniedError struct {
	Stage  string
	Reason string
}

func (e *DeniedError) Error() string {
	return "denied at " + e.Stage + ": " + e.Reason
}

// ValidationResult is a tool's precondition verdict.
type ValidationResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Success  bool          `json:"success"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Response is the gateway's answer to one submission.
type Response struct {
	IntentID string `json:"intent_id"`
	Status   Status `json:"status"`

	// Reason holds the denial reason when Status is StatusDenied.
	Reason string `json:"reason,omitempty"`

	// ApprovalID identifies a pending approval record.
	ApprovalID string `json:"approval_id,omitempty"`

	// WouldExecute tags advisory results that passed every check.
	WouldExecute bool `json:"would_execute,omitempty"`

	// Duplicate marks a resubmission of an already-handled intent ID.
	Duplicate bool `json:"duplicate,omitempty"`

	Result *ToolResult `json:"result,omitempty"`

	// Intent is attached to approval resolutions so callers can close the
	// learning loop without tracking pending submissions themselves.
	Intent *intent.Intent `json:"-"`
}

// approvalRecord is one deferred execution awaiting external sign-off.
// Records are removed on resolution; only pending approvals are retained.
type approvalRecord struct {
	ID        string
	Intent    *intent.Intent
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Approval is the caller-visible view of a pending approval.
type Approval struct {
	ID        string         `json:"id"`
	Intent    *intent.Intent `json:"intent"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}
