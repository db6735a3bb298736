package repo

import (
	"context"
	"database/sql"

	"caseflow/internal/domain"
)

const historyColumns = `id,case_id,stage,status,action,agent_id,COALESCE(note,''),ts`

func scanHistory(rows *sql.Rows) ([]domain.HistoryEntry, error) {
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.ID, &h.CaseID, &h.Stage, &h.Status, &h.Action, &h.AgentID, &h.Note, &h.TS); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// ListHistory returns a case's history in append order.
func (r Repo) ListHistory(ctx context.Context, caseID string) ([]domain.HistoryEntry, error) {
	var res []domain.HistoryEntry
	err := r.WithRetry(ctx, func() error {
		rows, err := r.DB.QueryContext(ctx, `SELECT `+historyColumns+` FROM case_history WHERE case_id=? ORDER BY id ASC`, caseID)
		if err != nil {
			return err
		}
		res, err = scanHistory(rows)
		return err
	})
	return res, err
}

// HistoryAfter returns up to limit entries across all cases with id greater than afterID.
func (r Repo) HistoryAfter(ctx context.Context, afterID int64, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var res []domain.HistoryEntry
	err := r.WithRetry(ctx, func() error {
		rows, err := r.DB.QueryContext(ctx, `SELECT `+historyColumns+` FROM case_history WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
		if err != nil {
			return err
		}
		res, err = scanHistory(rows)
		return err
	})
	return res, err
}

// LatestHistoryID returns the highest history id, 0 when empty.
func (r Repo) LatestHistoryID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.WithRetry(ctx, func() error {
		return r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM case_history`).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	if !id.Valid {
		return 0, nil
	}
	return id.Int64, nil
}
