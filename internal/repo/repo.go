package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"caseflow/internal/db"
	"caseflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
	// Dialect is db.DriverSQLite (default) or db.DriverMySQL.
	Dialect string
	// RetryTimeout bounds how long transient store errors are retried. Zero uses defaultRetryTimeout.
	RetryTimeout time.Duration
}

var ErrNotFound = errors.New("not found")

const caseColumns = `id,COALESCE(reference,''),COALESCE(applicant,''),current_stage,status,assigned_agent_id,assigned_at,version,created_at,updated_at,completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (domain.Case, error) {
	var c domain.Case
	var assignee, assignedAt, completedAt sql.NullString
	err := row.Scan(&c.ID, &c.Reference, &c.Applicant, &c.CurrentStage, &c.Status, &assignee, &assignedAt, &c.Version, &c.CreatedAt, &c.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.AssignedAgentID = nullableStringPtr(assignee)
	c.AssignedAt = nullableStringPtr(assignedAt)
	c.CompletedAt = nullableStringPtr(completedAt)
	return c, nil
}

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cases(id,reference,applicant,current_stage,status,assigned_agent_id,assigned_at,version,created_at,updated_at,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, nullable(c.Reference), nullable(c.Applicant), c.CurrentStage, c.Status, c.AssignedAgentID, c.AssignedAt, c.Version, c.CreatedAt, c.UpdatedAt, c.CompletedAt)
	return err
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	var c domain.Case
	err := r.WithRetry(ctx, func() error {
		var err error
		c, err = scanCase(r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
		return err
	})
	return c, err
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	return scanCase(tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

// ClaimCase assigns agentID only if the case is unassigned, open and still at stage.
// It reports false when the conditional write matched no row.
func (r Repo) ClaimCase(ctx context.Context, tx *sql.Tx, id, stage, agentID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE cases SET assigned_agent_id=?, assigned_at=?, updated_at=?, version=version+1
WHERE id=? AND assigned_agent_id IS NULL AND current_stage=? AND completed_at IS NULL`,
		agentID, now, now, id, stage)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// ReleaseCase clears the assignment only if holder still holds the case.
func (r Repo) ReleaseCase(ctx context.Context, tx *sql.Tx, id, holder, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE cases SET assigned_agent_id=NULL, assigned_at=NULL, updated_at=?, version=version+1
WHERE id=? AND assigned_agent_id=?`, now, id, holder)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// CaseUpdate is a version-guarded state change.
type CaseUpdate struct {
	ID              string
	ExpectedVersion int64
	Stage           string
	Status          string
	ClearAssignment bool
	CompletedAt     *string
	UpdatedAt       string
}

// UpdateCase applies u only if the stored version still equals u.ExpectedVersion.
func (r Repo) UpdateCase(ctx context.Context, tx *sql.Tx, u CaseUpdate) (bool, error) {
	fields := []string{"current_stage=?", "status=?", "updated_at=?", "version=version+1"}
	args := []any{u.Stage, u.Status, u.UpdatedAt}
	if u.ClearAssignment {
		fields = append(fields, "assigned_agent_id=NULL", "assigned_at=NULL")
	}
	if u.CompletedAt != nil {
		fields = append(fields, "completed_at=?")
		args = append(args, *u.CompletedAt)
	}
	args = append(args, u.ID, u.ExpectedVersion)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE cases SET %s WHERE id=? AND version=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// CaseFilters selects cases for listing. Filtering happens in SQL.
type CaseFilters struct {
	Stage            string
	Status           string
	AssignedTo       string
	Unassigned       bool
	IncludeCompleted bool
	Limit            int
	Offset           int
}

func (f CaseFilters) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Stage != "" {
		clauses = append(clauses, "current_stage=?")
		args = append(args, f.Stage)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Unassigned {
		clauses = append(clauses, "assigned_agent_id IS NULL")
	} else if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_agent_id=?")
		args = append(args, f.AssignedTo)
	}
	if !f.IncludeCompleted {
		clauses = append(clauses, "completed_at IS NULL")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListCases returns one page of matching cases, most recently created first, and the total match count.
func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, int, error) {
	where, args := f.where()
	var (
		res   []domain.Case
		total int
	)
	err := r.WithRetry(ctx, func() error {
		res = nil
		if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`+where, args...).Scan(&total); err != nil {
			return err
		}
		query := `SELECT ` + caseColumns + ` FROM cases` + where + ` ORDER BY created_at DESC, id DESC`
		pageArgs := append([]any{}, args...)
		if f.Limit > 0 {
			query += ` LIMIT ? OFFSET ?`
			pageArgs = append(pageArgs, f.Limit, f.Offset)
		}
		rows, err := r.DB.QueryContext(ctx, query, pageArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanCase(rows)
			if err != nil {
				return err
			}
			res = append(res, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

// StaleClaims returns assigned open cases with no activity since cutoff, oldest first.
func (r Repo) StaleClaims(ctx context.Context, cutoff string, limit int) ([]domain.Case, error) {
	if limit <= 0 {
		limit = 100
	}
	var res []domain.Case
	err := r.WithRetry(ctx, func() error {
		res = nil
		rows, err := r.DB.QueryContext(ctx, `SELECT `+caseColumns+` FROM cases
WHERE assigned_agent_id IS NOT NULL AND completed_at IS NULL AND updated_at < ?
ORDER BY updated_at ASC, id ASC LIMIT ?`, cutoff, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanCase(rows)
			if err != nil {
				return err
			}
			res = append(res, c)
		}
		return rows.Err()
	})
	return res, err
}

// ReleaseStale clears a stale claim only if nothing touched the case since it was read.
func (r Repo) ReleaseStale(ctx context.Context, tx *sql.Tx, c domain.Case, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE cases SET assigned_agent_id=NULL, assigned_at=NULL, updated_at=?, version=version+1
WHERE id=? AND version=? AND assigned_agent_id IS NOT NULL`, now, c.ID, c.Version)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (r Repo) mysql() bool {
	return r.Dialect == db.DriverMySQL
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(ns sql.NullString) *string {
	if ns.Valid {
		s := ns.String
		return &s
	}
	return nil
}
