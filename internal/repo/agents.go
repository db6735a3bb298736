package repo

import (
	"context"
	"database/sql"

	"caseflow/internal/domain"
)

// TouchAgent records the agent and the role it last acted with.
func (r Repo) TouchAgent(ctx context.Context, tx *sql.Tx, agent domain.Agent, now string) error {
	query := `INSERT INTO agents(id, role, created_at, last_seen) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET role=excluded.role, last_seen=excluded.last_seen`
	if r.mysql() {
		query = `INSERT INTO agents(id, role, created_at, last_seen) VALUES (?,?,?,?)
ON DUPLICATE KEY UPDATE role=VALUES(role), last_seen=VALUES(last_seen)`
	}
	_, err := tx.ExecContext(ctx, query, agent.ID, agent.Role, now, now)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.AgentRecord, error) {
	var a domain.AgentRecord
	err := r.WithRetry(ctx, func() error {
		err := r.DB.QueryRowContext(ctx, `SELECT id, role, created_at, last_seen FROM agents WHERE id=?`, id).
			Scan(&a.ID, &a.Role, &a.CreatedAt, &a.LastSeen)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	})
	return a, err
}

func (r Repo) ListAgents(ctx context.Context) ([]domain.AgentRecord, error) {
	var res []domain.AgentRecord
	err := r.WithRetry(ctx, func() error {
		res = nil
		rows, err := r.DB.QueryContext(ctx, `SELECT id, role, created_at, last_seen FROM agents ORDER BY last_seen DESC, id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a domain.AgentRecord
			if err := rows.Scan(&a.ID, &a.Role, &a.CreatedAt, &a.LastSeen); err != nil {
				return err
			}
			res = append(res, a)
		}
		return rows.Err()
	})
	return res, err
}
