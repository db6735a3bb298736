package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/history"
	"caseflow/internal/logging"
	"caseflow/internal/repo"
	"caseflow/internal/stages"
	"caseflow/internal/telemetry"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Writer  history.Writer
	Stages  *stages.Registry
	Config  *config.Config
	Logger  *slog.Logger
	Now     func() time.Time
	Tel     *telemetry.Instruments
}

// New builds an engine over conn. dialect is db.DriverSQLite or db.DriverMySQL.
func New(conn *sql.DB, dialect string, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	reg, err := cfg.Registry()
	if err != nil {
		return Engine{}, fmt.Errorf("stage registry: %w", err)
	}
	return Engine{
		DB:      conn,
		Repo:    repo.Repo{DB: conn, Dialect: dialect},
		Writer:  history.Writer{},
		Stages:  reg,
		Config:  cfg,
		Logger:  logging.Discard(),
		Now:     time.Now,
		Tel:     telemetry.NewInstruments(),
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return history.Format(e.now())
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Discard()
}

func validAgent(agent domain.Agent) error {
	if strings.TrimSpace(agent.ID) == "" {
		return invalidInput("agent id is required")
	}
	if strings.TrimSpace(agent.Role) == "" {
		return invalidInput("agent role is required")
	}
	return nil
}

// deny logs the refusal as a security event and returns the typed error.
func (e Engine) deny(ctx context.Context, op string, c domain.Case, agent domain.Agent, reason string) error {
	e.log().WarnContext(ctx, "permission denied",
		"event", "security",
		"op", op,
		"case_id", c.ID,
		"stage", c.CurrentStage,
		"agent_id", agent.ID,
		"role", agent.Role,
		"assigned_to", c.Assignee(),
		"reason", reason,
	)
	return &PermissionError{CaseID: c.ID, AgentID: agent.ID, Role: agent.Role, Reason: reason}
}

// CreateCaseOptions are parameters for creating a case at the first stage.
type CreateCaseOptions struct {
	ID        string
	Reference string
	Applicant string
	Note      string
}

// CreateCase registers a new dossier at the first stage with status NEW.
// Only the first stage's role or the override role may create cases.
func (e Engine) CreateCase(ctx context.Context, agent domain.Agent, opts CreateCaseOptions) (c domain.Case, err error) {
	ctx, done := e.Tel.Start(ctx, "create")
	defer func() { done(Kind(err), err) }()

	if err := validAgent(agent); err != nil {
		return domain.Case{}, err
	}
	first := e.Stages.First()
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if !e.Stages.CanEdit(agent.Role, first.Code) {
		return domain.Case{}, e.deny(ctx, "create", domain.Case{ID: id, CurrentStage: first.Code}, agent, "only "+first.Role+" may open cases")
	}
	now := e.stamp()
	c = domain.Case{
		ID:           id,
		Reference:    strings.TrimSpace(opts.Reference),
		Applicant:    strings.TrimSpace(opts.Applicant),
		CurrentStage: first.Code,
		Status:       domain.StatusNew,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetCaseTx(ctx, tx, id); err == nil {
			return invalidInput("case %s already exists", id)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
			return fmt.Errorf("insert case: %w", err)
		}
		if _, err := e.Writer.Append(ctx, tx, domain.HistoryEntry{
			CaseID: id, Stage: c.CurrentStage, Status: c.Status, Action: domain.ActionCreate, AgentID: agent.ID, Note: opts.Note, TS: now,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		return e.Repo.TouchAgent(ctx, tx, agent, now)
	})
	if err != nil {
		return domain.Case{}, err
	}
	e.log().InfoContext(ctx, "case created", "case_id", id, "agent_id", agent.ID, "stage", c.CurrentStage)
	return c, nil
}

// Claim assigns an unassigned case to agent with a single conditional write.
// Re-claiming a case the agent already holds succeeds without a new history entry.
func (e Engine) Claim(ctx context.Context, caseID string, agent domain.Agent) (c domain.Case, err error) {
	ctx, done := e.Tel.Start(ctx, "claim", attribute.String("caseflow.case", caseID))
	defer func() { done(Kind(err), err) }()

	if err := validAgent(agent); err != nil {
		return domain.Case{}, err
	}
	cur, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if !e.Stages.CanEdit(agent.Role, cur.CurrentStage) {
		return domain.Case{}, e.deny(ctx, "claim", cur, agent, "role does not edit stage "+cur.CurrentStage)
	}
	if cur.Completed() {
		return domain.Case{}, &TransitionError{CaseID: caseID, Action: domain.ActionClaim, Stage: cur.CurrentStage, Status: cur.Status, Reason: "case is completed"}
	}
	if cur.AssignedTo(agent.ID) {
		return cur, nil
	}
	if cur.AssignedAgentID != nil {
		e.log().DebugContext(ctx, "claim refused", "case_id", caseID, "agent_id", agent.ID, "held_by", cur.Assignee())
		return domain.Case{}, &ConflictError{CaseID: caseID, HeldBy: cur.Assignee()}
	}

	now := e.stamp()
	claimed := false
	err = e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		claimed = false
		ok, err := e.Repo.ClaimCase(ctx, tx, caseID, cur.CurrentStage, agent.ID, now)
		if err != nil || !ok {
			return err
		}
		c, err = e.Repo.GetCaseTx(ctx, tx, caseID)
		if err != nil {
			return err
		}
		if _, err := e.Writer.Append(ctx, tx, domain.HistoryEntry{
			CaseID: caseID, Stage: c.CurrentStage, Status: c.Status, Action: domain.ActionClaim, AgentID: agent.ID, TS: now,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		if err := e.Repo.TouchAgent(ctx, tx, agent, now); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return domain.Case{}, err
	}
	if !claimed {
		latest, err := e.Repo.GetCase(ctx, caseID)
		if err != nil {
			return domain.Case{}, err
		}
		if latest.AssignedTo(agent.ID) && latest.CurrentStage == cur.CurrentStage {
			return latest, nil
		}
		e.log().DebugContext(ctx, "claim lost", "case_id", caseID, "agent_id", agent.ID, "held_by", latest.Assignee())
		conflict := &ConflictError{CaseID: caseID, HeldBy: latest.Assignee()}
		if latest.CurrentStage != cur.CurrentStage {
			conflict.Reason = "case moved to stage " + latest.CurrentStage
		}
		return domain.Case{}, conflict
	}
	e.log().InfoContext(ctx, "case claimed", "case_id", caseID, "agent_id", agent.ID, "stage", c.CurrentStage)
	return c, nil
}

// Release clears the agent's claim. Releasing an unassigned case is a no-op success.
// The override role may release any claim.
func (e Engine) Release(ctx context.Context, caseID string, agent domain.Agent) (c domain.Case, err error) {
	ctx, done := e.Tel.Start(ctx, "release", attribute.String("caseflow.case", caseID))
	defer func() { done(Kind(err), err) }()

	if err := validAgent(agent); err != nil {
		return domain.Case{}, err
	}
	cur, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if cur.AssignedAgentID == nil {
		return cur, nil
	}
	holder := cur.Assignee()
	if holder != agent.ID && !e.Stages.CanForceTransition(agent.Role) {
		return domain.Case{}, e.deny(ctx, "release", cur, agent, "case is assigned to another agent")
	}
	note := ""
	if holder != agent.ID {
		note = "released claim held by " + holder
	}

	now := e.stamp()
	released := false
	err = e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		released = false
		ok, err := e.Repo.ReleaseCase(ctx, tx, caseID, holder, now)
		if err != nil || !ok {
			return err
		}
		c, err = e.Repo.GetCaseTx(ctx, tx, caseID)
		if err != nil {
			return err
		}
		if _, err := e.Writer.Append(ctx, tx, domain.HistoryEntry{
			CaseID: caseID, Stage: c.CurrentStage, Status: c.Status, Action: domain.ActionRelease, AgentID: agent.ID, Note: note, TS: now,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		if err := e.Repo.TouchAgent(ctx, tx, agent, now); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		return domain.Case{}, err
	}
	if !released {
		latest, err := e.Repo.GetCase(ctx, caseID)
		if err != nil {
			return domain.Case{}, err
		}
		return e.lostRelease(ctx, latest, agent)
	}
	e.log().InfoContext(ctx, "case released", "case_id", caseID, "agent_id", agent.ID, "holder", holder)
	return c, nil
}

// lostRelease settles a release whose guarded write matched nothing: the case
// was released meanwhile, or someone else holds it now.
func (e Engine) lostRelease(ctx context.Context, latest domain.Case, agent domain.Agent) (domain.Case, error) {
	if latest.AssignedAgentID == nil {
		return latest, nil
	}
	return domain.Case{}, e.deny(ctx, "release", latest, agent, "case was claimed by "+latest.Assignee())
}

// GetCase returns a case by id. Any authenticated agent may view any case.
func (e Engine) GetCase(ctx context.Context, caseID string) (domain.Case, error) {
	return e.Repo.GetCase(ctx, caseID)
}

// History returns the case's history in append order.
func (e Engine) History(ctx context.Context, caseID string) ([]domain.HistoryEntry, error) {
	if _, err := e.Repo.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	entries, err := e.Repo.ListHistory(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}
