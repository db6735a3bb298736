package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/engine/auth"
	"caseflow/internal/stages"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"assignment_conflict"`
	Message string         `json:"message" example:"case 42 already assigned to agent-7"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the case API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine.Stages == nil {
		return nil, errors.New("engine has no stage registry")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, errorDetails(errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// request schema validation
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg, errorDetails(errs))
	}

	keys := auth.Service{Repo: cfg.Engine.Repo, Stages: cfg.Engine.Stages, Now: cfg.Engine.Now}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, keys))

	hcfg := huma.DefaultConfig("Caseflow API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStages(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerQueues(group, cfg.Engine)
	registerActions(group, cfg.Engine)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func errorDetails(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return map[string]any{"errors": msgs}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto the envelope. Unknown errors become 500
// without leaking their text.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()
	switch engine.Kind(err) {
	case engine.KindNotFound:
		return newAPIError(http.StatusNotFound, engine.KindNotFound, msg, nil)
	case engine.KindAssignmentConflict:
		var ce *engine.ConflictError
		details := map[string]any{}
		if errors.As(err, &ce) {
			details["case_id"] = ce.CaseID
			if ce.HeldBy != "" {
				details["held_by"] = ce.HeldBy
			}
		}
		return newAPIError(http.StatusConflict, engine.KindAssignmentConflict, msg, details)
	case engine.KindPermissionDenied:
		var pe *engine.PermissionError
		var details map[string]any
		if errors.As(err, &pe) {
			details = map[string]any{"case_id": pe.CaseID, "role": pe.Role, "reason": pe.Reason}
		}
		return newAPIError(http.StatusForbidden, engine.KindPermissionDenied, msg, details)
	case engine.KindInvalidTransition:
		var te *engine.TransitionError
		var details map[string]any
		if errors.As(err, &te) {
			details = map[string]any{"case_id": te.CaseID, "action": te.Action, "stage": te.Stage, "status": te.Status}
		}
		return newAPIError(http.StatusUnprocessableEntity, engine.KindInvalidTransition, msg, details)
	case engine.KindStoreUnavailable:
		return newAPIError(http.StatusServiceUnavailable, engine.KindStoreUnavailable, "store unavailable, retry later", nil)
	case engine.KindInvalidInput:
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	security := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Caseflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/stages",
		Summary:     "Ordered stage registry",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StagesResponse `json:"body"`
	}, error) {
		return &struct {
			Body StagesResponse `json:"body"`
		}{Body: stagesResponse(e.Stages)}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current agent",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		who := WhoAmIResponse{
			AgentID:  p.AgentID,
			Role:     p.Role,
			Source:   p.Source,
			Override: e.Stages.CanForceTransition(p.Role),
		}
		if st, ok := e.Stages.StageForRole(p.Role); ok {
			who.Stage = st.Code
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: who}, nil
	})
}

type caseOutput struct {
	Body CaseResponse `json:"body"`
}

type casePath struct {
	CaseID string `path:"case_id"`
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Open a case at the first stage",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*caseOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCase(ctx, p.Agent(), engine.CreateCaseOptions{
			ID:        input.Body.ID,
			Reference: input.Body.Reference,
			Applicant: input.Body.Applicant,
			Note:      input.Body.Note,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*caseOutput, error) {
		if _, authErr := principalFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-history",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/history",
		Summary:     "Case history in append order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body []HistoryEntryResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		entries, err := e.History(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []HistoryEntryResponse `json:"body"`
		}{Body: historyResponse(entries)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases across stages",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Stage            string `query:"stage"`
		Status           string `query:"status"`
		IncludeCompleted bool   `query:"include_completed"`
		Page             int    `query:"page"`
		Size             int    `query:"size"`
	}) (*struct {
		Body CasePageResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		page, err := e.ListCases(ctx, engine.CaseQuery{
			Stage:            input.Stage,
			Status:           input.Status,
			IncludeCompleted: input.IncludeCompleted,
			Page:             input.Page,
			Size:             input.Size,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CasePageResponse `json:"body"`
		}{Body: pageResponse(page)}, nil
	})
}

func registerQueues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "unassigned-cases",
		Method:      http.MethodGet,
		Path:        "/unassigned-cases",
		Summary:     "Open unassigned cases at a stage",
		Description: "stage defaults to the stage the caller's role edits.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Stage string `query:"stage"`
		Page  int    `query:"page"`
		Size  int    `query:"size"`
	}) (*struct {
		Body CasePageResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stage := strings.TrimSpace(input.Stage)
		if stage == "" {
			st, ok := e.Stages.StageForRole(p.Role)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "stage is required", nil)
			}
			stage = st.Code
		}
		page, err := e.ListUnassigned(ctx, stage, input.Page, input.Size)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CasePageResponse `json:"body"`
		}{Body: pageResponse(page)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assigned-cases",
		Method:      http.MethodGet,
		Path:        "/assigned-cases",
		Summary:     "Open cases held by an agent",
		Description: "agent defaults to the caller.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Agent string `query:"agent"`
		Page  int    `query:"page"`
		Size  int    `query:"size"`
	}) (*struct {
		Body CasePageResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		agent := strings.TrimSpace(input.Agent)
		if agent == "" {
			agent = p.AgentID
		}
		page, err := e.ListAssignedTo(ctx, agent, input.Page, input.Size)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CasePageResponse `json:"body"`
		}{Body: pageResponse(page)}, nil
	})
}

type noteInput struct {
	CaseID string       `path:"case_id"`
	Body   *NoteRequest `json:"body,omitempty" required:"false"`
}

func (in *noteInput) note() string {
	if in.Body == nil {
		return ""
	}
	return in.Body.Note
}

func registerActions(api huma.API, e engine.Engine) {
	conflictErrors := []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusServiceUnavailable}

	huma.Register(api, huma.Operation{
		OperationID: "claim-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/claim",
		Summary:     "Claim an unassigned case",
		Description: "409 assignment_conflict means another agent holds the case; re-list and pick another.",
		Errors:      conflictErrors,
	}, func(ctx context.Context, input *casePath) (*caseOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Claim(ctx, input.CaseID, p.Agent())
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/release",
		Summary:     "Release a claim",
		Errors:      conflictErrors,
	}, func(ctx context.Context, input *casePath) (*caseOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Release(ctx, input.CaseID, p.Agent())
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: caseResponse(c)}, nil
	})

	transitions := []struct {
		id, path, summary string
		run               func(context.Context, string, domain.Agent, string) (domain.Case, error)
	}{
		{"start-case", "start", "Start work on a claimed case", e.Start},
		{"accept-case", "accept", "Accept the case at its stage", e.Accept},
		{"reject-case", "reject", "Reject the case at its stage", e.Reject},
		{"request-info", "request-info", "Ask the applicant for more information", e.RequestInfo},
	}
	for _, tr := range transitions {
		huma.Register(api, huma.Operation{
			OperationID: tr.id,
			Method:      http.MethodPost,
			Path:        "/cases/{case_id}/" + tr.path,
			Summary:     tr.summary,
			Errors:      conflictErrors,
		}, func(ctx context.Context, input *noteInput) (*caseOutput, error) {
			p, authErr := principalFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			c, err := tr.run(ctx, input.CaseID, p.Agent(), input.note())
			if err != nil {
				return nil, handleError(err)
			}
			return &caseOutput{Body: caseResponse(c)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "force-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/force",
		Summary:     "Override: force reject or request info",
		Errors:      conflictErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string       `path:"case_id"`
		Body   ForceRequest `json:"body"`
	}) (*caseOutput, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Force(ctx, input.CaseID, p.Agent(), engine.ForceOptions{
			Action:        input.Body.Action,
			Note:          input.Body.Note,
			ResetToIntake: input.Body.ResetToIntake,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{Body: caseResponse(c)}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		agent := domain.Agent{ID: strings.TrimSpace(input.Body.AgentID), Role: strings.TrimSpace(input.Body.Role)}
		if agent.ID == "" || agent.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "agent_id and role are required", nil)
		}
		if !knownRole(e.Stages, agent.Role) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown role "+agent.Role, nil)
		}
		token, err := SignToken(authCfg.JWTSecret, agent, 0)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func knownRole(reg *stages.Registry, role string) bool {
	return auth.Service{Stages: reg}.KnownRole(role)
}
