package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"caseflow/internal/domain"
	"caseflow/internal/engine/auth"
)

// AuthConfig controls how callers are identified.
type AuthConfig struct {
	JWTSecret string
	// AllowLegacyHeaders trusts X-Agent-Id and X-Agent-Role without credentials. Dev and tests only.
	AllowLegacyHeaders bool
	// DevLogin exposes POST /auth/dev/login.
	DevLogin bool
	Logger   *slog.Logger
}

// Principal is the resolved caller identity.
type Principal struct {
	AgentID string
	Role    string
	Source  string
}

func (p Principal) Agent() domain.Agent {
	return domain.Agent{ID: p.AgentID, Role: p.Role}
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok && p.AgentID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func authenticateJWT(token, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" || claims.Role == "" {
		return Principal{}, errors.New("sub and role claims required")
	}
	return Principal{AgentID: claims.Subject, Role: claims.Role, Source: "jwt"}, nil
}

// SignToken mints an HS256 token for agent valid for ttl.
func SignToken(secret string, agent domain.Agent, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if agent.ID == "" || agent.Role == "" {
		return "", errors.New("agent id and role required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agent.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "caseflow",
		},
		Role: agent.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, keys auth.Service) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "openapi.json"):   true,
		path.Join(basePath, "docs"):           true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			unauthorized := func(reason string) {
				cfg.logger().WarnContext(req.Context(), "authentication failed",
					"event", "security", "path", req.URL.Path, "remote", req.RemoteAddr, "reason", reason)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKey := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			legacyAgent := strings.TrimSpace(req.Header.Get("X-Agent-Id"))

			var (
				p   Principal
				err error
			)
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					unauthorized("malformed authorization header")
					return
				}
				if p, err = authenticateJWT(token, cfg.JWTSecret); err != nil {
					unauthorized(err.Error())
					return
				}
			case apiKey != "":
				agent, err := keys.Authenticate(req.Context(), apiKey)
				if err != nil {
					unauthorized(err.Error())
					return
				}
				p = Principal{AgentID: agent.ID, Role: agent.Role, Source: "api_key"}
			case legacyAgent != "" && cfg.AllowLegacyHeaders:
				p = Principal{
					AgentID: legacyAgent,
					Role:    strings.TrimSpace(req.Header.Get("X-Agent-Role")),
					Source:  "legacy_header",
				}
				cfg.logger().DebugContext(req.Context(), "legacy identity headers", "agent_id", p.AgentID, "role", p.Role)
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), p)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
