package engine

import (
	"context"
	"math"
	"strings"

	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/repo"
)

func (e Engine) pageBounds(page, size int) (int, int, error) {
	def, limit := config.DefaultPageSize, config.MaxPageSize
	if e.Config != nil {
		def, limit = e.Config.PageSizes()
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = def
	}
	if size > limit {
		size = limit
	}
	if page-1 > math.MaxInt32/size {
		return 0, 0, invalidInput("page %d is out of range", page)
	}
	return page, size, nil
}

func (e Engine) listPage(ctx context.Context, f repo.CaseFilters, page, size int) (domain.Page, error) {
	page, size, err := e.pageBounds(page, size)
	if err != nil {
		return domain.Page{}, err
	}
	f.Limit = size
	f.Offset = (page - 1) * size
	items, total, err := e.Repo.ListCases(ctx, f)
	if err != nil {
		return domain.Page{}, err
	}
	if items == nil {
		items = []domain.Case{}
	}
	return domain.Page{Items: items, Page: page, Size: size, Total: total}, nil
}

// ListUnassigned returns open unassigned cases at stage, most recently created first.
func (e Engine) ListUnassigned(ctx context.Context, stage string, page, size int) (domain.Page, error) {
	if _, err := e.Stages.StageFor(stage); err != nil {
		return domain.Page{}, err
	}
	return e.listPage(ctx, repo.CaseFilters{Stage: stage, Unassigned: true}, page, size)
}

// ListAssignedTo returns open cases currently held by agentID, most recently created first.
func (e Engine) ListAssignedTo(ctx context.Context, agentID string, page, size int) (domain.Page, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return domain.Page{}, invalidInput("agent id is required")
	}
	return e.listPage(ctx, repo.CaseFilters{AssignedTo: agentID}, page, size)
}

// CaseQuery is a broader listing used by operators.
type CaseQuery struct {
	Stage            string
	Status           string
	IncludeCompleted bool
	Page             int
	Size             int
}

// ListCases lists cases at any stage with optional stage and status filters.
func (e Engine) ListCases(ctx context.Context, q CaseQuery) (domain.Page, error) {
	if q.Stage != "" {
		if _, err := e.Stages.StageFor(q.Stage); err != nil {
			return domain.Page{}, err
		}
	}
	if q.Status != "" && !validStatus(q.Status) {
		return domain.Page{}, invalidInput("unknown status %s", q.Status)
	}
	return e.listPage(ctx, repo.CaseFilters{Stage: q.Stage, Status: q.Status, IncludeCompleted: q.IncludeCompleted}, q.Page, q.Size)
}

func validStatus(s string) bool {
	for _, v := range domain.Statuses {
		if v == s {
			return true
		}
	}
	return false
}
