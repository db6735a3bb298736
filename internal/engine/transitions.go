package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"caseflow/internal/domain"
	"caseflow/internal/repo"
	"caseflow/internal/stages"
)

// ensureTransition reports whether action may run from status.
func ensureTransition(status, action string) bool {
	switch action {
	case domain.ActionStart:
		return status == domain.StatusNew || status == domain.StatusIncomplete || status == domain.StatusRejected
	case domain.ActionAccept, domain.ActionReject, domain.ActionRequestInfo:
		return status == domain.StatusInProgress
	}
	return false
}

type plan struct {
	update  repo.CaseUpdate
	entries []domain.HistoryEntry
}

// apply reads the case, lets build validate and describe the change, then
// commits it with a version-guarded write plus its history rows in one transaction.
func (e Engine) apply(ctx context.Context, op, caseID string, agent domain.Agent, build func(cur domain.Case, now string) (plan, error)) (domain.Case, error) {
	if err := validAgent(agent); err != nil {
		return domain.Case{}, err
	}
	cur, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	now := e.stamp()
	p, err := build(cur, now)
	if err != nil {
		return domain.Case{}, err
	}
	p.update.ID = cur.ID
	p.update.ExpectedVersion = cur.Version
	p.update.UpdatedAt = now

	var out domain.Case
	err = e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		ok, err := e.Repo.UpdateCase(ctx, tx, p.update)
		if err != nil {
			return err
		}
		if !ok {
			return &ConflictError{CaseID: caseID}
		}
		for _, h := range p.entries {
			h.CaseID = caseID
			h.AgentID = agent.ID
			h.TS = now
			if _, err := e.Writer.Append(ctx, tx, h); err != nil {
				return fmt.Errorf("append history: %w", err)
			}
		}
		if err := e.Repo.TouchAgent(ctx, tx, agent, now); err != nil {
			return err
		}
		out, err = e.Repo.GetCaseTx(ctx, tx, caseID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAssignmentConflict) {
			e.log().DebugContext(ctx, "stale case version", "op", op, "case_id", caseID, "agent_id", agent.ID, "version", cur.Version)
		}
		return domain.Case{}, err
	}
	e.log().InfoContext(ctx, "case transition",
		"op", op,
		"case_id", caseID,
		"agent_id", agent.ID,
		"from_stage", cur.CurrentStage,
		"from_status", cur.Status,
		"stage", out.CurrentStage,
		"status", out.Status,
	)
	return out, nil
}

// authorizeWork lets the assignee whose role edits the stage act. The override
// role acts without holding the claim.
func (e Engine) authorizeWork(ctx context.Context, op string, c domain.Case, agent domain.Agent) error {
	if !e.Stages.CanEdit(agent.Role, c.CurrentStage) {
		return e.deny(ctx, op, c, agent, "role does not edit stage "+c.CurrentStage)
	}
	if e.Stages.CanForceTransition(agent.Role) {
		return nil
	}
	if !c.AssignedTo(agent.ID) {
		if c.AssignedAgentID == nil {
			return e.deny(ctx, op, c, agent, "case is not claimed")
		}
		return e.deny(ctx, op, c, agent, "case is assigned to another agent")
	}
	return nil
}

func (e Engine) checkAction(c domain.Case, action, stageAction string) error {
	if c.Completed() {
		return &TransitionError{CaseID: c.ID, Action: action, Stage: c.CurrentStage, Status: c.Status, Reason: "case is completed"}
	}
	if stageAction != "" && !e.Stages.Permits(c.CurrentStage, stageAction) {
		return &TransitionError{CaseID: c.ID, Action: action, Stage: c.CurrentStage, Status: c.Status, Reason: "action not permitted at this stage"}
	}
	if !ensureTransition(c.Status, action) {
		return &TransitionError{CaseID: c.ID, Action: action, Stage: c.CurrentStage, Status: c.Status}
	}
	return nil
}

// statusChange keeps stage and assignment and records one history row.
func statusChange(c domain.Case, status, action, note string) plan {
	return plan{
		update: repo.CaseUpdate{Stage: c.CurrentStage, Status: status},
		entries: []domain.HistoryEntry{
			{Stage: c.CurrentStage, Status: status, Action: action, Note: note},
		},
	}
}

// Start moves a NEW, INCOMPLETE or REJECTED case to IN_PROGRESS.
func (e Engine) Start(ctx context.Context, caseID string, agent domain.Agent, note string) (c domain.Case, err error) {
	ctx, done := e.Tel.Start(ctx, "start", attribute.String("caseflow.case", caseID))
	defer func() { done(Kind(err), err) }()
	return e.apply(ctx, domain.ActionStart, caseID, agent, func(cur domain.Case, now string) (plan, error) {
		if err := e.authorizeWork(ctx, domain.ActionStart, cur, agent); err != nil {
			return plan{}, err
		}
		if err := e.checkAction(cur, domain.ActionStart, ""); err != nil {
			return plan{}, err
		}
		return statusChange(cur, domain.StatusInProgress, domain.ActionStart, note), nil
	})
}

// Accept validates the case at its stage. It then advances to the next stage
// as NEW and unassigned, or completes the case at the terminal stage.
func (e Engine) Accept(ctx context.Context, caseID string, agent domain.Agent, note string) (c domain.Case, err error) {
	ctx, done := e.Tel.Start(ctx, "accept", attribute.String("caseflow.case", caseID))
	defer func() { done(Kind(err), err) }()
	return e.apply(ctx, domain.ActionAccept, caseID, agent, func(cur domain.Case, now string) (plan, error) {
		if err := e.authorizeWork(ctx, domain.ActionAccept, cur, agent); err != nil {
			return plan{}, err
		}
		if err := e.checkAction(cur, domain.ActionAccept, stages.ActionAccept); err != nil {
			return plan{}, err
		}
		validated := domain.HistoryEntry{Stage: cur.CurrentStage, Status: domain.StatusValidated, Action: domain.ActionAccept, Note: note}
		next, ok := e.Stages.Next(cur.CurrentStage)
		if !ok {
			completedAt := now
			return plan{
				update: repo.CaseUpdate{
					Stage:           cur.CurrentStage,
					Status:          domain.StatusValidated,
					ClearAssignment: true,
					CompletedAt:     &completedAt,
				},
				entries: []domain.HistoryEntry{validated},
			}, nil
		}
		return plan{
			update: repo.CaseUpdate{
				Stage:           next.Code,
				Status:          domain.StatusNew,
				ClearAssignment: true,
			},
			entries: []domain.HistoryEntry{
				validated,
				{Stage: next.Code, Status: domain.StatusNew, Action: domain.ActionAdvance},
			},
		}, nil
	})
}

// Reject marks the case REJECTED at its current stage. The assignment is kept.
func (e Engine) Reject(ctx context.Context, caseID string, agent domain.Agent, note string) (c domain.Case, err error) {
	ctx, done := e.Tel.Start(ctx, "reject", attribute.String("caseflow.case", caseID))
	defer func() { done(Kind(err), err) }()
	return e.apply(ctx, domain.ActionReject, caseID, agent, func(cur domain.Case, now string) (plan, error) {
		if err := e.authorizeWork(ctx, domain.ActionReject, cur, agent); err != nil {
			return plan{}, err
		}
		if err := e.checkAction(cur, domain.ActionReject, stages.ActionReject); err != nil {
			return plan{}, err
		}
		return statusChange(cur, domain.StatusRejected, domain.ActionReject, note), nil
	})
}

// RequestInfo marks the case INCOMPLETE pending applicant input. The assignment is kept.
func (e Engine) RequestInfo(ctx context.Context, caseID string, agent domain.Agent, note string) (c domain.Case, err error) {
	ctx, done := e.Tel.Start(ctx, "request_info", attribute.String("caseflow.case", caseID))
	defer func() { done(Kind(err), err) }()
	return e.apply(ctx, domain.ActionRequestInfo, caseID, agent, func(cur domain.Case, now string) (plan, error) {
		if err := e.authorizeWork(ctx, domain.ActionRequestInfo, cur, agent); err != nil {
			return plan{}, err
		}
		if err := e.checkAction(cur, domain.ActionRequestInfo, stages.ActionRequestInfo); err != nil {
			return plan{}, err
		}
		return statusChange(cur, domain.StatusIncomplete, domain.ActionRequestInfo, note), nil
	})
}

// ForceOptions parameterize an override transition.
type ForceOptions struct {
	// Action is stages.ActionReject or stages.ActionRequestInfo.
	Action string
	Note   string
	// ResetToIntake moves the case back to the first stage as NEW.
	ResetToIntake bool
}

// Force lets the override role reject or request info from any status, clearing
// the assignment and optionally sending the case back to the first stage.
// It is the only operation that can move a case to an earlier stage.
func (e Engine) Force(ctx context.Context, caseID string, agent domain.Agent, opts ForceOptions) (c domain.Case, err error) {
	ctx, done := e.Tel.Start(ctx, "force", attribute.String("caseflow.case", caseID), attribute.String("caseflow.force_action", opts.Action))
	defer func() { done(Kind(err), err) }()

	var status, action string
	switch strings.TrimSpace(opts.Action) {
	case stages.ActionReject:
		status, action = domain.StatusRejected, domain.ActionForceReject
	case stages.ActionRequestInfo:
		status, action = domain.StatusIncomplete, domain.ActionForceRequestInfo
	default:
		return domain.Case{}, invalidInput("force action must be %s or %s", stages.ActionReject, stages.ActionRequestInfo)
	}
	return e.apply(ctx, action, caseID, agent, func(cur domain.Case, now string) (plan, error) {
		if !e.Stages.CanForceTransition(agent.Role) {
			return plan{}, e.deny(ctx, action, cur, agent, "role may not force transitions")
		}
		if cur.Completed() {
			return plan{}, &TransitionError{CaseID: cur.ID, Action: action, Stage: cur.CurrentStage, Status: cur.Status, Reason: "case is completed"}
		}
		p := plan{
			update: repo.CaseUpdate{Stage: cur.CurrentStage, Status: status, ClearAssignment: true},
			entries: []domain.HistoryEntry{
				{Stage: cur.CurrentStage, Status: status, Action: action, Note: opts.Note},
			},
		}
		if opts.ResetToIntake {
			first := e.Stages.First()
			p.update.Stage = first.Code
			p.update.Status = domain.StatusNew
			p.entries = append(p.entries, domain.HistoryEntry{Stage: first.Code, Status: domain.StatusNew, Action: domain.ActionReset})
		}
		return p, nil
	})
}
