package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"groupsync/internal/domain"
	"groupsync/internal/engine"
	"groupsync/internal/ledger"
	"groupsync/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	// Repo enables the journal endpoints. It may be nil.
	Repo     *repo.Repo
	BasePath string
	Auth     AuthConfig
	Logger   logrus.FieldLogger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state_transition"`
	Message string         `json:"message" example:"invalid state transition: set_team not allowed in phase EMPTY"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"phase\":\"EMPTY\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the GroupSync API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("GroupSync API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProject(group, cfg.Engine)
	registerCheckIns(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerRunLogs(group, cfg.Engine)
	if cfg.Repo != nil {
		registerEvents(group, *cfg.Repo)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	status, body := classify(err)
	return &apiError{status: status, Body: body}
}

// classify maps an engine error to a status and envelope body. Check-in
// batch results reuse it for per-item errors.
func classify(err error) (int, apiErrorBody) {
	msg := err.Error()
	var details map[string]any
	var ge domain.TaskGraphError
	if errors.As(err, &ge) {
		details = map[string]any{"task_id": ge.TaskID}
		if ge.Dependency != "" {
			details["dependency"] = ge.Dependency
		}
		if len(ge.Path) > 0 {
			details["cycle"] = ge.Path
		}
	}
	var te domain.TransitionError
	if errors.As(err, &te) {
		details = map[string]any{"action": te.Action, "phase": te.From}
	}
	var ce domain.CheckInError
	if errors.As(err, &ce) {
		details = map[string]any{"week_index": ce.Week, "member_id": ce.MemberID, "task_id": ce.TaskID}
	}
	body := func(code string) apiErrorBody {
		return apiErrorBody{Code: code, Message: msg, Details: details}
	}
	switch {
	case errors.Is(err, domain.ErrInvalidTaskGraph):
		return http.StatusUnprocessableEntity, body("invalid_task_graph")
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict, body("invalid_state_transition")
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, body("conflict")
	case errors.Is(err, domain.ErrDuplicateCheckIn):
		return http.StatusConflict, body("duplicate_checkin")
	case errors.Is(err, domain.ErrUnknownAssignment):
		return http.StatusUnprocessableEntity, body("unknown_assignment")
	case errors.Is(err, domain.ErrSnapshotGap):
		return http.StatusConflict, body("snapshot_gap")
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, body("unsupported_format")
	case errors.Is(err, domain.ErrCorruptDocument):
		return http.StatusBadRequest, body("corrupt_document")
	case errors.Is(err, domain.ErrExtractionFailed):
		return http.StatusBadGateway, body("extraction_failed")
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, body("bad_request")
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound, body("not_found")
	default:
		return http.StatusInternalServerError, apiErrorBody{Code: "internal_error", Message: "internal error", Details: map[string]any{"error": msg}}
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
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				entry := logger.WithFields(logrus.Fields{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"duration":   time.Since(start).String(),
					"request_id": middleware.GetReqID(r.Context()),
				})
				if ww.Status() >= http.StatusInternalServerError {
					entry.Warn("request failed")
					return
				}
				entry.Debug("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
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
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
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
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>GroupSync API Docs</title>
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
      When the server has a JWT secret, authenticate with Authorization: Bearer &lt;token&gt;.
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

func registerProject(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "init-project",
		Method:        http.MethodPost,
		Path:          "/project/init",
		Summary:       "Scope a project from a brief or document",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Reset bool `query:"reset" doc:"discard the current project first"`
		Body  InitProjectRequest
	}) (*struct {
		Body InitProjectResponse `json:"body"`
	}, error) {
		res, err := e.Init(ctx, engine.InitOptions{
			Title:    input.Body.Title,
			Brief:    input.Body.BriefText,
			Document: input.Body.FileBytes,
			MimeType: input.Body.MimeType,
			Deadline: input.Body.Deadline,
			Reset:    input.Reset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InitProjectResponse `json:"body"`
		}{Body: InitProjectResponse{Project: res.Project, Tasks: nonNilSlice(res.Tasks)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-team",
		Method:      http.MethodPost,
		Path:        "/project/team",
		Summary:     "Set the roster, assign tasks and build the weekly plan",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body SetTeamRequest
	}) (*struct {
		Body TeamResponse `json:"body"`
	}, error) {
		members := make([]domain.TeamMember, 0, len(input.Body.TeamMembers))
		for _, m := range input.Body.TeamMembers {
			members = append(members, m.member())
		}
		res, err := e.SetTeam(ctx, members)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamResponse `json:"body"`
		}{Body: teamResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/project/state",
		Summary:     "Get the full project state",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.State `json:"body"`
	}, error) {
		return &struct {
			Body domain.State `json:"body"`
		}{Body: e.State()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-project",
		Method:      http.MethodPost,
		Path:        "/project/reset",
		Summary:     "Discard the project",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.State `json:"body"`
	}, error) {
		return &struct {
			Body domain.State `json:"body"`
		}{Body: e.Reset(ctx)}, nil
	})
}

func registerCheckIns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-checkins",
		Method:      http.MethodPost,
		Path:        "/checkins/{week_index}",
		Summary:     "Submit a batch of weekly check-ins",
		Description: "Each check-in is accepted or rejected on its own; results are reported in input order.",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Week      int  `path:"week_index"`
		Recompute bool `query:"recompute" doc:"append a new snapshot revision for an analyzed week"`
		Body      CheckInBatchRequest
	}) (*struct {
		Body CheckInBatchResponse `json:"body"`
	}, error) {
		items := make([]ledger.Input, 0, len(input.Body.CheckIns))
		for _, c := range input.Body.CheckIns {
			items = append(items, c.input())
		}
		res, err := e.SubmitCheckIns(ctx, input.Week, items, engine.SubmitOptions{Recompute: input.Recompute})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CheckInBatchResponse `json:"body"`
		}{Body: checkInBatchResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "week-summary",
		Method:      http.MethodGet,
		Path:        "/week/{week_index}/summary",
		Summary:     "Get the latest risk snapshot for a week",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Week int `path:"week_index"`
	}) (*struct {
		Body domain.RiskSnapshot `json:"body"`
	}, error) {
		snap, err := e.Summary(input.Week)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "no snapshot", map[string]any{"week_index": input.Week})
			}
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RiskSnapshot `json:"body"`
		}{Body: snap}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reassign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/assignee",
		Summary:     "Move a task to another member and rebuild the plan",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   ReassignRequest
	}) (*struct {
		Body TeamResponse `json:"body"`
	}, error) {
		res, err := e.ReassignTask(ctx, input.TaskID, input.Body.MemberID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamResponse `json:"body"`
		}{Body: teamResponse(res)}, nil
	})
}

func registerRunLogs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runlogs",
		Method:      http.MethodGet,
		Path:        "/runlogs",
		Summary:     "List run log entries, oldest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" doc:"return only the newest entries; 0 returns all"`
	}) (*struct {
		Body RunLogsResponse `json:"body"`
	}, error) {
		return &struct {
			Body RunLogsResponse `json:"body"`
		}{Body: RunLogsResponse{Items: nonNilSlice(e.RunLogs(input.Limit))}}, nil
	})
}

func registerEvents(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List journaled run log entries, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type    string `query:"type" doc:"action name"`
		Outcome string `query:"outcome" enum:"ok,error"`
		ActorID string `query:"actor_id"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  int64  `query:"cursor" doc:"return entries older than this id"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := r.ListEvents(ctx, repo.EventFilter{
			Type:    input.Type,
			Outcome: input.Outcome,
			ActorID: input.ActorID,
			Before:  input.Cursor,
			Limit:   limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{run_id}",
		Summary:     "Get a journaled entry by run log id",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		evt, err := r.GetEvent(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
