package server

import (
	"caseflow/internal/domain"
	"caseflow/internal/stages"
)

// Request payloads

type CreateCaseRequest struct {
	ID        string `json:"id,omitempty" doc:"Optional client-chosen id; generated when empty"`
	Reference string `json:"reference,omitempty" example:"DOS-2026-0042"`
	Applicant string `json:"applicant,omitempty"`
	Note      string `json:"note,omitempty"`
}

type NoteRequest struct {
	Note string `json:"note,omitempty"`
}

type ForceRequest struct {
	Action        string `json:"action" enum:"reject,request_info"`
	Note          string `json:"note,omitempty"`
	ResetToIntake bool   `json:"reset_to_intake,omitempty"`
}

type DevLoginRequest struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
}

// Response payloads

type CaseResponse struct {
	ID              string  `json:"id"`
	Reference       string  `json:"reference,omitempty"`
	Applicant       string  `json:"applicant,omitempty"`
	CurrentStage    string  `json:"current_stage"`
	Status          string  `json:"status"`
	AssignedAgentID *string `json:"assigned_agent_id"`
	AssignedAt      *string `json:"assigned_at,omitempty"`
	Version         int64   `json:"version"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	CompletedAt     *string `json:"completed_at,omitempty"`
}

type CasePageResponse struct {
	Items []CaseResponse `json:"items"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
	Total int            `json:"total"`
}

type HistoryEntryResponse struct {
	ID      int64  `json:"id"`
	CaseID  string `json:"case_id"`
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Action  string `json:"action"`
	AgentID string `json:"agent_id"`
	Note    string `json:"note,omitempty"`
	TS      string `json:"ts"`
}

type StageResponse struct {
	Code        string   `json:"code"`
	Index       int      `json:"index"`
	Role        string   `json:"role"`
	Description string   `json:"description,omitempty"`
	Actions     []string `json:"actions"`
	Terminal    bool     `json:"terminal"`
}

type StagesResponse struct {
	Stages       []StageResponse `json:"stages"`
	OverrideRole string          `json:"override_role"`
}

type WhoAmIResponse struct {
	AgentID  string `json:"agent_id"`
	Role     string `json:"role"`
	Source   string `json:"source"`
	Stage    string `json:"stage,omitempty" doc:"Stage this role may edit"`
	Override bool   `json:"override"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func caseResponse(c domain.Case) CaseResponse {
	return CaseResponse{
		ID:              c.ID,
		Reference:       c.Reference,
		Applicant:       c.Applicant,
		CurrentStage:    c.CurrentStage,
		Status:          c.Status,
		AssignedAgentID: c.AssignedAgentID,
		AssignedAt:      c.AssignedAt,
		Version:         c.Version,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		CompletedAt:     c.CompletedAt,
	}
}

func pageResponse(p domain.Page) CasePageResponse {
	items := make([]CaseResponse, 0, len(p.Items))
	for _, c := range p.Items {
		items = append(items, caseResponse(c))
	}
	return CasePageResponse{Items: items, Page: p.Page, Size: p.Size, Total: p.Total}
}

func historyResponse(entries []domain.HistoryEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, 0, len(entries))
	for _, h := range entries {
		out = append(out, HistoryEntryResponse(h))
	}
	return out
}

func stagesResponse(reg *stages.Registry) StagesResponse {
	all := reg.Stages()
	out := make([]StageResponse, 0, len(all))
	for _, s := range all {
		out = append(out, StageResponse{
			Code:        s.Code,
			Index:       s.Index,
			Role:        s.Role,
			Description: s.Description,
			Actions:     nonNilSlice(s.Actions),
			Terminal:    s.Terminal,
		})
	}
	return StagesResponse{Stages: out, OverrideRole: reg.OverrideRole()}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
