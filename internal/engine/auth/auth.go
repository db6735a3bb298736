package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/repo"
	"caseflow/internal/stages"
)

// ErrUnauthenticated means the presented credential matched nothing.
var ErrUnauthenticated = errors.New("unauthenticated")

// UnknownRoleError rejects roles the stage registry does not define.
type UnknownRoleError struct {
	Role string
}

func (e UnknownRoleError) Error() string {
	return fmt.Sprintf("role %s is not defined by any stage", e.Role)
}

// Service issues and resolves API keys bound to an agent and role.
type Service struct {
	Repo   repo.Repo
	Stages *stages.Registry
	Now    func() time.Time
}

// KnownRole reports whether role edits a stage or is the override role.
func (s Service) KnownRole(role string) bool {
	if s.Stages == nil {
		return role != ""
	}
	if s.Stages.CanForceTransition(role) {
		return true
	}
	_, ok := s.Stages.StageForRole(role)
	return ok
}

// CreateAPIKey stores a new key for agent and returns the plaintext once.
func (s Service) CreateAPIKey(ctx context.Context, agent domain.Agent, name string) (string, domain.APIKey, error) {
	agent.ID = strings.TrimSpace(agent.ID)
	agent.Role = strings.TrimSpace(agent.Role)
	if agent.ID == "" {
		return "", domain.APIKey{}, errors.New("agent id required")
	}
	if !s.KnownRole(agent.Role) {
		return "", domain.APIKey{}, UnknownRoleError{Role: agent.Role}
	}
	raw, err := generateKey()
	if err != nil {
		return "", domain.APIKey{}, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	key := domain.APIKey{
		ID:        uuid.NewString(),
		AgentID:   agent.ID,
		Role:      agent.Role,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: now().UTC().Format(time.RFC3339),
	}
	if err := s.Repo.InsertAPIKey(ctx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return raw, key, nil
}

// Authenticate resolves a plaintext key to its agent identity.
func (s Service) Authenticate(ctx context.Context, raw string) (domain.Agent, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Agent{}, ErrUnauthenticated
	}
	key, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Agent{}, ErrUnauthenticated
		}
		return domain.Agent{}, err
	}
	return domain.Agent{ID: key.AgentID, Role: key.Role}, nil
}

func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "cf_" + hex.EncodeToString(buf), nil
}
