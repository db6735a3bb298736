package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"caseflow/internal/domain"
)

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.AgentID == "" {
		return errors.New("agent_id required")
	}
	if key.Role == "" {
		return errors.New("role required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return r.WithRetry(ctx, func() error {
		_, err := r.DB.ExecContext(ctx, `INSERT INTO api_keys(id, agent_id, role, name, key_hash, created_at) VALUES (?,?,?,?,?,?)`,
			key.ID, key.AgentID, key.Role, nullable(key.Name), key.KeyHash, key.CreatedAt)
		return err
	})
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var key domain.APIKey
	err := r.WithRetry(ctx, func() error {
		row := r.DB.QueryRowContext(ctx, `SELECT id, agent_id, role, COALESCE(name,''), key_hash, created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash)
		err := row.Scan(&key.ID, &key.AgentID, &key.Role, &key.Name, &key.KeyHash, &key.CreatedAt)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	})
	return key, err
}

// ListAPIKeys returns API keys, optionally filtered by agent ID.
func (r Repo) ListAPIKeys(ctx context.Context, agentID string) ([]domain.APIKey, error) {
	query := `SELECT id, agent_id, role, COALESCE(name,''), key_hash, created_at FROM api_keys`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id=?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	var keys []domain.APIKey
	err := r.WithRetry(ctx, func() error {
		keys = nil
		rows, err := r.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key domain.APIKey
			if err := rows.Scan(&key.ID, &key.AgentID, &key.Role, &key.Name, &key.KeyHash, &key.CreatedAt); err != nil {
				return err
			}
			keys = append(keys, key)
		}
		return rows.Err()
	})
	return keys, err
}

// DeleteAPIKey deletes an API key by ID.
func (r Repo) DeleteAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	return r.WithRetry(ctx, func() error {
		res, err := r.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
