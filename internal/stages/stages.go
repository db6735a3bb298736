// Package stages holds the ordered stage registry and the role rules that
// decide who may edit a case at a given stage.
package stages

import (
	"errors"
	"fmt"
	"strings"
)

// Stage actions a registry may permit.
const (
	ActionAccept      = "accept"
	ActionReject      = "reject"
	ActionRequestInfo = "request_info"
)

var knownActions = map[string]bool{
	ActionAccept:      true,
	ActionReject:      true,
	ActionRequestInfo: true,
}

// ErrStageNotFound is returned for codes absent from the registry.
var ErrStageNotFound = errors.New("stage not found")

// Definition describes one stage as configured.
type Definition struct {
	Code        string   `yaml:"code" json:"code"`
	Role        string   `yaml:"role" json:"role"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Actions     []string `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Stage is a registered stage with its position in the pipeline.
type Stage struct {
	Code        string   `json:"code"`
	Index       int      `json:"index"`
	Role        string   `json:"role"`
	Description string   `json:"description,omitempty"`
	Actions     []string `json:"actions"`
	Terminal    bool     `json:"terminal"`
}

// Registry is immutable after New and safe for concurrent use.
type Registry struct {
	stages       []Stage
	byCode       map[string]int
	byRole       map[string]int
	overrideRole string
}

// New validates defs and builds a registry in the given order.
func New(defs []Definition, overrideRole string) (*Registry, error) {
	if len(defs) == 0 {
		return nil, errors.New("at least one stage is required")
	}
	overrideRole = strings.TrimSpace(overrideRole)
	if overrideRole == "" {
		return nil, errors.New("override role is required")
	}
	r := &Registry{
		byCode:       make(map[string]int, len(defs)),
		byRole:       make(map[string]int, len(defs)),
		overrideRole: overrideRole,
	}
	for i, d := range defs {
		code := strings.TrimSpace(d.Code)
		role := strings.TrimSpace(d.Role)
		if code == "" {
			return nil, fmt.Errorf("stage %d has empty code", i)
		}
		if role == "" {
			return nil, fmt.Errorf("stage %s has empty role", code)
		}
		if _, dup := r.byCode[code]; dup {
			return nil, fmt.Errorf("duplicate stage code %s", code)
		}
		if prev, dup := r.byRole[role]; dup {
			return nil, fmt.Errorf("role %s already edits stage %s", role, r.stages[prev].Code)
		}
		if role == overrideRole {
			return nil, fmt.Errorf("stage %s uses the override role %s", code, role)
		}
		actions := d.Actions
		if len(actions) == 0 {
			actions = []string{ActionAccept, ActionReject, ActionRequestInfo}
		}
		for _, a := range actions {
			if !knownActions[a] {
				return nil, fmt.Errorf("stage %s has unknown action %s", code, a)
			}
		}
		r.byCode[code] = i
		r.byRole[role] = i
		r.stages = append(r.stages, Stage{
			Code:        code,
			Index:       i,
			Role:        role,
			Description: d.Description,
			Actions:     append([]string(nil), actions...),
		})
	}
	r.stages[len(r.stages)-1].Terminal = true
	return r, nil
}

// DefaultDefinitions is the business-registration pipeline.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Code: "INTAKE", Role: "intake_agent", Description: "Dossier reception and completeness check"},
		{Code: "TREASURY", Role: "treasury_agent", Description: "Fee payment verification"},
		{Code: "REVIEW", Role: "review_agent", Description: "Legal review of statutes"},
		{Code: "TAX", Role: "tax_agent", Description: "Tax identification"},
		{Code: "REGISTRY_1", Role: "registry1_agent", Description: "Trade registry entry"},
		{Code: "REGISTRY_2", Role: "registry2_agent", Description: "Trade registry countersignature"},
		{Code: "NATIONAL_ID", Role: "national_id_agent", Description: "National company identifier"},
		{Code: "RELEASE", Role: "release_agent", Description: "Certificate release to applicant"},
	}
}

// DefaultOverrideRole may force transitions at any stage.
const DefaultOverrideRole = "admin"

// Default returns the eight-stage registry.
func Default() *Registry {
	r, err := New(DefaultDefinitions(), DefaultOverrideRole)
	if err != nil {
		panic(err)
	}
	return r
}

// Stages returns a copy of the ordered stage list.
func (r *Registry) Stages() []Stage {
	out := make([]Stage, len(r.stages))
	copy(out, r.stages)
	return out
}

func (r *Registry) StageFor(code string) (Stage, error) {
	i, ok := r.byCode[code]
	if !ok {
		return Stage{}, fmt.Errorf("%w: %s", ErrStageNotFound, code)
	}
	return r.stages[i], nil
}

// Index returns the position of code or -1.
func (r *Registry) Index(code string) int {
	i, ok := r.byCode[code]
	if !ok {
		return -1
	}
	return i
}

// Next returns the stage following code, false at the terminal stage or for unknown codes.
func (r *Registry) Next(code string) (Stage, bool) {
	i, ok := r.byCode[code]
	if !ok || i+1 >= len(r.stages) {
		return Stage{}, false
	}
	return r.stages[i+1], true
}

func (r *Registry) First() Stage {
	return r.stages[0]
}

func (r *Registry) Terminal() Stage {
	return r.stages[len(r.stages)-1]
}

func (r *Registry) IsTerminal(code string) bool {
	i, ok := r.byCode[code]
	return ok && i == len(r.stages)-1
}

// StageForRole returns the stage a role edits.
func (r *Registry) StageForRole(role string) (Stage, bool) {
	i, ok := r.byRole[role]
	if !ok {
		return Stage{}, false
	}
	return r.stages[i], true
}

func (r *Registry) OverrideRole() string {
	return r.overrideRole
}

// CanEdit reports whether role is the editing role of stage code.
// The override role edits every stage.
func (r *Registry) CanEdit(role, code string) bool {
	if r.CanForceTransition(role) {
		return true
	}
	i, ok := r.byCode[code]
	if !ok {
		return false
	}
	return r.stages[i].Role == role
}

// CanView is true for every role: any agent may read any stage.
func (r *Registry) CanView(role, code string) bool {
	return true
}

func (r *Registry) CanForceTransition(role string) bool {
	return role != "" && role == r.overrideRole
}

// Permits reports whether action is allowed at stage code.
func (r *Registry) Permits(code, action string) bool {
	i, ok := r.byCode[code]
	if !ok {
		return false
	}
	for _, a := range r.stages[i].Actions {
		if a == action {
			return true
		}
	}
	return false
}
