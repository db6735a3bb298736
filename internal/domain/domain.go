package domain

// Case statuses. A status is scoped to the case's current stage.
const (
	StatusNew        = "NEW"
	StatusInProgress = "IN_PROGRESS"
	StatusIncomplete = "INCOMPLETE"
	StatusValidated  = "VALIDATED"
	StatusRejected   = "REJECTED"
)

// History actions.
const (
	ActionCreate           = "create"
	ActionClaim            = "claim"
	ActionRelease          = "release"
	ActionStart            = "start"
	ActionAccept           = "accept"
	ActionReject           = "reject"
	ActionRequestInfo      = "request_info"
	ActionAdvance          = "advance"
	ActionForceReject      = "force_reject"
	ActionForceRequestInfo = "force_request_info"
	ActionReset            = "reset"
	ActionReclaim          = "reclaim"
)

// Statuses lists every valid case status.
var Statuses = []string{StatusNew, StatusInProgress, StatusIncomplete, StatusValidated, StatusRejected}

type Case struct {
	ID              string  `json:"id"`
	Reference       string  `json:"reference,omitempty"`
	Applicant       string  `json:"applicant,omitempty"`
	CurrentStage    string  `json:"current_stage"`
	Status          string  `json:"status" enum:"NEW,IN_PROGRESS,INCOMPLETE,VALIDATED,REJECTED"`
	AssignedAgentID *string `json:"assigned_agent_id,omitempty"`
	AssignedAt      *string `json:"assigned_at,omitempty" format:"date-time"`
	Version         int64   `json:"version"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
}

// AssignedTo reports whether the case is currently held by agentID.
func (c Case) AssignedTo(agentID string) bool {
	return c.AssignedAgentID != nil && *c.AssignedAgentID == agentID
}

// Assignee returns the holder or "" when unassigned.
func (c Case) Assignee() string {
	if c.AssignedAgentID == nil {
		return ""
	}
	return *c.AssignedAgentID
}

func (c Case) Completed() bool {
	return c.CompletedAt != nil
}

type HistoryEntry struct {
	ID      int64  `json:"id"`
	CaseID  string `json:"case_id"`
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Action  string `json:"action"`
	AgentID string `json:"agent_id"`
	Note    string `json:"note,omitempty"`
	TS      string `json:"ts" format:"date-time"`
}

// Agent is the identity supplied by the caller on every operation.
type Agent struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Page is one slice of a case listing.
type Page struct {
	Items []Case `json:"items"`
	Page  int    `json:"page"`
	Size  int    `json:"size"`
	Total int    `json:"total"`
}

type APIKey struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type AgentRecord struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
	LastSeen  string `json:"last_seen" format:"date-time"`
}
