package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"caseflow/internal/domain"
)

// TimeFormat keeps timestamps lexically sortable.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Format renders t in UTC using TimeFormat.
func Format(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Writer appends case history rows inside the caller's transaction.
// Rows are never updated or deleted afterwards.
type Writer struct {
	Now func() time.Time
}

// Append inserts e and returns its id. An empty TS is stamped with Now.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.HistoryEntry) (int64, error) {
	if tx == nil {
		return 0, errors.New("history append requires a transaction")
	}
	if e.CaseID == "" || e.Action == "" || e.AgentID == "" {
		return 0, errors.New("history entry needs case_id, action and agent_id")
	}
	if e.TS == "" {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		e.TS = Format(now())
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO case_history(case_id,stage,status,action,agent_id,note,ts) VALUES (?,?,?,?,?,?,?)`,
		e.CaseID, e.Stage, e.Status, e.Action, e.AgentID, nullable(e.Note), e.TS)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
