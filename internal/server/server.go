package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hometrack/internal/app"
	"hometrack/internal/detect"
	"hometrack/internal/domain"
	"hometrack/internal/engine"
	"hometrack/internal/graph"
	"hometrack/internal/impact"
	"hometrack/internal/lifecycle"
	"hometrack/internal/logging"
	"hometrack/internal/repo"
	"hometrack/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Session  *app.Session
	BasePath string
	Auth     AuthConfig
	Logger   *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found: paint"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the project document.
func New(cfg Config) (http.Handler, error) {
	if cfg.Session == nil {
		return nil, errors.New("server: session required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
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
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Hometrack API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := cfg.Session
	registerHealth(group)
	registerTasks(group, s)
	registerVendors(group, s)
	registerIssues(group, s)
	registerReview(group, s)
	registerDetection(group, s)
	registerEvents(group, s)
	registerEvent(group, s)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "dur", time.Since(start))
		})
	}
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var invalid *store.InvalidDocumentError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", "document would be invalid", map[string]any{"problems": invalid.Problems})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, engine.ErrTaskNotFound),
		errors.Is(err, engine.ErrIssueNotFound),
		errors.Is(err, impact.ErrIssueNotFound),
		errors.Is(err, repo.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrPossibleDuplicate):
		return newAPIError(http.StatusConflict, "possible_duplicate", msg, nil)
	case errors.Is(err, impact.ErrNotReviewable):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, impact.ErrNoResponse),
		errors.Is(err, impact.ErrNoTarget),
		errors.Is(err, lifecycle.ErrUnknownRule):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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

// actorContext attributes the request's changes to the token subject.
func actorContext(ctx context.Context) context.Context {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return app.WithActor(ctx, p.ActorID)
	}
	return ctx
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			spec, _ = json.Marshal(oas)
		}
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
					"application/json": {Schema: &huma.Schema{Type: "object"}},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI) {
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
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Put, item.Post, item.Delete, item.Patch} {
			if op != nil {
				op.Security = []map[string][]string{{"bearerAuth": {}}}
			}
		}
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*output[HealthResponse], error) {
		return &output[HealthResponse]{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerTasks(api huma.API, s *app.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks and subtasks with inherited fields resolved",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Category string `query:"category"`
		Assignee string `query:"assignee"`
	}) (*output[TaskListResponse], error) {
		doc, err := s.Load()
		if err != nil {
			return nil, handleError(err)
		}
		resp := TaskListResponse{Items: []TaskSummary{}}
		for _, e := range graph.AllTasks(doc) {
			sum := taskSummary(e, doc)
			if input.Status != "" && string(sum.Status) != input.Status {
				continue
			}
			if input.Category != "" && string(sum.Category) != input.Category {
				continue
			}
			if input.Assignee != "" && sum.Assignee != domain.VendorRef(input.Assignee) {
				continue
			}
			resp.Items = append(resp.Items, sum)
		}
		return &output[TaskListResponse]{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[domain.Task], error) {
		doc, err := s.Load()
		if err != nil {
			return nil, handleError(err)
		}
		t, _ := graph.FindTask(doc, input.ID)
		if t == nil {
			return nil, handleError(fmt.Errorf("%w: %s", engine.ErrTaskNotFound, input.ID))
		}
		return &output[domain.Task]{Body: *t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-dependents",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/dependents",
		Summary:     "Tasks that list this task as a dependency",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[DependentsResponse], error) {
		doc, err := s.Load()
		if err != nil {
			return nil, handleError(err)
		}
		if t, _ := graph.FindTask(doc, input.ID); t == nil {
			return nil, handleError(fmt.Errorf("%w: %s", engine.ErrTaskNotFound, input.ID))
		}
		resp := DependentsResponse{TaskID: input.ID, Items: graph.FindDependentTasks(doc, input.ID)}
		if resp.Items == nil {
			resp.Items = []graph.Dependent{}
		}
		return &output[DependentsResponse]{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-validation",
		Method:      http.MethodGet,
		Path:        "/validation",
		Summary:     "Validate the saved document",
	}, func(ctx context.Context, _ *struct{}) (*output[app.ValidationReport], error) {
		report, err := s.Validate()
		if err != nil {
			return nil, handleError(err)
		}
		if report.Errors == nil {
			report.Errors = []string{}
		}
		if report.Warnings == nil {
			report.Warnings = []string{}
		}
		return &output[app.ValidationReport]{Body: report}, nil
	})
}

func registerVendors(api huma.API, s *app.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "list-vendors",
		Method:      http.MethodGet,
		Path:        "/vendors",
		Summary:     "List vendors with their assigned tasks",
	}, func(ctx context.Context, _ *struct{}) (*output[[]VendorResponse], error) {
		doc, err := s.Load()
		if err != nil {
			return nil, handleError(err)
		}
		items := []VendorResponse{}
		for _, v := range doc.Vendors {
			resp := VendorResponse{Vendor: v, Tasks: []string{}}
			for _, t := range graph.FindTasksByVendor(doc, v.ID) {
				resp.Tasks = append(resp.Tasks, t.ID)
			}
			items = append(items, resp)
		}
		return &output[[]VendorResponse]{Body: items}, nil
	})
}

func registerIssues(api huma.API, s *app.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List questions and detected issues",
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"open,answered,resolved,dismissed"`
		Assignee string `query:"assignee"`
		Source   string `query:"source"`
		Task     string `query:"task"`
	}) (*output[IssueListResponse], error) {
		doc, err := s.Load()
		if err != nil {
			return nil, handleError(err)
		}
		resp := IssueListResponse{Items: []domain.Issue{}}
		for _, is := range doc.Issues {
			if input.Status != "" && string(is.Status) != input.Status {
				continue
			}
			if input.Assignee != "" && string(is.Assignee) != input.Assignee {
				continue
			}
			if input.Source != "" && string(is.Source) != input.Source {
				continue
			}
			if input.Task != "" && is.RelatedTask != input.Task {
				continue
			}
			resp.Items = append(resp.Items, is)
		}
		return &output[IssueListResponse]{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{id}",
		Summary:     "Get issue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[domain.Issue], error) {
		doc, err := s.Load()
		if err != nil {
			return nil, handleError(err)
		}
		for _, is := range doc.Issues {
			if is.ID == input.ID {
				return &output[domain.Issue]{Body: is}, nil
			}
		}
		return nil, handleError(fmt.Errorf("%w: %s", engine.ErrIssueNotFound, input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "answer-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/answer",
		Summary:     "Record an answer",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AnswerRequest `json:"body"`
	}) (*output[domain.Issue], error) {
		if input.Body.Response == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "response is required", nil)
		}
		raw, err := json.Marshal(input.Body.Response)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid response", nil)
		}
		resp, err := domain.UnmarshalResponse(raw)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		var answered domain.Issue
		err = s.Mutate(actorContext(ctx), func(eng engine.Engine, doc *domain.Document) error {
			var err error
			answered, err = eng.Answer(doc, input.ID, resp)
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &output[domain.Issue]{Body: answered}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dismiss-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/dismiss",
		Summary:     "Dismiss an issue without applying anything",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[domain.Issue], error) {
		var dismissed domain.Issue
		err := s.Mutate(actorContext(ctx), func(eng engine.Engine, doc *domain.Document) error {
			var err error
			dismissed, err = eng.Dismiss(doc, input.ID)
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &output[domain.Issue]{Body: dismissed}, nil
	})
}

func registerReview(api huma.API, s *app.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "review-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{id}/review",
		Summary:     "Preview the changes and impacts of accepting an answer",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[engine.Review], error) {
		doc, err := s.Load()
		if err != nil {
			return nil, handleError(err)
		}
		review, err := s.Engine(nil).Review(doc, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if review.Changes == nil {
			review.Changes = []impact.Change{}
		}
		if review.Impacts == nil {
			review.Impacts = []impact.Impact{}
		}
		return &output[engine.Review]{Body: review}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/accept",
		Summary:     "Apply an answer to the document",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Force bool   `query:"force"`
	}) (*output[engine.AcceptResult], error) {
		var res engine.AcceptResult
		err := s.Mutate(actorContext(ctx), func(eng engine.Engine, doc *domain.Document) error {
			var err error
			res, err = eng.Accept(doc, input.ID, input.Force)
			return err
		})
		if errors.Is(err, engine.ErrBlocked) {
			return nil, newAPIError(http.StatusConflict, "blocked", err.Error(), map[string]any{"impacts": res.Impacts})
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &output[engine.AcceptResult]{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/reject",
		Summary:     "Send an answer back with a reason",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body RejectRequest `json:"body"`
	}) (*output[impact.RejectResult], error) {
		var res impact.RejectResult
		err := s.Mutate(actorContext(ctx), func(eng engine.Engine, doc *domain.Document) error {
			var err error
			res, err = eng.Reject(doc, input.ID, input.Body.Reason, input.Body.FollowUp)
			return err
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &output[impact.RejectResult]{Body: res}, nil
	})
}

func registerDetection(api huma.API, s *app.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "run-detection",
		Method:      http.MethodPost,
		Path:        "/detect",
		Summary:     "Run the detection rules as of today",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*output[detect.Result], error) {
		res, err := s.Detect(actorContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &output[detect.Result]{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-materials",
		Method:      http.MethodPost,
		Path:        "/materials/check",
		Summary:     "Ask each material's next lifecycle question",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*output[lifecycle.CheckResult], error) {
		var res lifecycle.CheckResult
		err := s.Mutate(actorContext(ctx), func(eng engine.Engine, doc *domain.Document) error {
			res = eng.CheckMaterials(doc)
			return nil
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &output[lifecycle.CheckResult]{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-detection-runs",
		Method:      http.MethodGet,
		Path:        "/detection-runs",
		Summary:     "Recent detection runs",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*output[DetectionRunListResponse], error) {
		runs, err := s.Repo().ListDetectionRuns(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if runs == nil {
			runs = []domain.DetectionRun{}
		}
		return &output[DetectionRunListResponse]{Body: DetectionRunListResponse{Items: runs}}, nil
	})
}

func registerEvents(api huma.API, s *app.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"document,task,material,issue"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*output[EventListResponse], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := s.Repo().LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventListResponse{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &output[EventListResponse]{Body: resp}, nil
	})
}

func registerEvent(api huma.API, s *app.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{id}",
		Summary:     "Get one audit event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*output[domain.Event], error) {
		evt, err := s.Repo().GetEvent(ctx, input.ID)
		if err != nil {
			return nil, handleError(fmt.Errorf("event %d: %w", input.ID, err))
		}
		return &output[domain.Event]{Body: evt}, nil
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
