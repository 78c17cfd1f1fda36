package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"taxline/internal/domain"
	"taxline/internal/engine"
	"taxline/internal/engine/auth"
	"taxline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"locked"`
	Message string         `json:"message" example:"project 7 is locked"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"permission\":\"project.archive\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taxline API. The context
// bounds background work (the webhook dispatcher); cancel it on shutdown.
func New(ctx context.Context, cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Taxline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerWorkflow(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerClients(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerStaff(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(ctx, cfg.Engine)

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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if engine.IsLockedError(err) {
		return newAPIError(http.StatusConflict, "locked", err.Error(), nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// requirePermission checks token-carried permissions first, then the
// role grants stored for the actor's profile.
func requirePermission(ctx context.Context, e engine.Engine, perm string) error {
	principal, authErr := actorFromContext(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	ok, err := e.Repo.ActorHasPermission(ctx, principal.ActorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

func engineActor(ctx context.Context) (engine.Actor, huma.StatusError) {
	principal, authErr := actorFromContext(ctx)
	if authErr != nil {
		return engine.Actor{}, authErr
	}
	return engine.Actor{ID: principal.ActorID, DisplayName: principal.DisplayName}, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
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
    <title>Taxline API Docs</title>
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

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "project.create"); err != nil {
			return nil, handleError(err)
		}
		actor, authErr := engineActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ProjectName:    input.Body.ProjectName,
			ClientID:       input.Body.ClientID,
			ClientName:     input.Body.ClientName,
			EngagementType: input.Body.EngagementType,
			YearEnd:        input.Body.YearEnd,
			Services:       input.Body.Services,
			DateIn:         input.Body.DateIn,
			DueDate:        input.Body.DueDate,
			Preparer:       input.Body.Preparer,
			Reviewer:       input.Body.Reviewer,
			Status:         input.Body.Status,
			Notes:          input.Body.Notes,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		details, err := e.ProjectDetails(ctx, p.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(details)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Archived string `query:"archived" enum:"true,false" doc:"Filter by archived state; omit for all projects"`
		Status   string `query:"status"`
		ClientID int64  `query:"client_id"`
		Preparer string `query:"preparer"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		var archived *bool
		switch input.Archived {
		case "true":
			v := true
			archived = &v
		case "false":
			v := false
			archived = &v
		}
		items, err := e.ListProjectDetails(ctx, repo.ProjectFilter{
			Archived: archived,
			Status:   input.Status,
			ClientID: input.ClientID,
			Preparer: input.Preparer,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		details, err := e.ProjectDetails(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(details)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID int64                `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "project.update"); err != nil {
			return nil, handleError(err)
		}
		actor, authErr := engineActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		_, err := e.UpdateProject(ctx, input.ProjectID, repo.ProjectPatch{
			ProjectName:    input.Body.ProjectName,
			ClientID:       input.Body.ClientID,
			ClientName:     input.Body.ClientName,
			EngagementType: input.Body.EngagementType,
			YearEnd:        input.Body.YearEnd,
			Services:       input.Body.Services,
			DateIn:         input.Body.DateIn,
			DueDate:        input.Body.DueDate,
			Preparer:       input.Body.Preparer,
			Reviewer:       input.Body.Reviewer,
			Notes:          input.Body.Notes,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		details, err := e.ProjectDetails(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(details)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, "project.update"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerWorkflow(api huma.API, e engine.Engine) {
	type projectPath struct {
		ProjectID int64 `path:"project_id"`
	}
	respond := func(p domain.Project, err error) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(e.Describe(p))}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "set-status",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/status",
		Summary:     "Set project status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID int64            `path:"project_id"`
		Body      SetStatusRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "project.status.set"); err != nil {
			return nil, handleError(err)
		}
		actor, authErr := engineActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetStatus(ctx, input.ProjectID, input.Body.Status, input.Body.Note, actor)
		return respond(p, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-substatus",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/substatus/{which}",
		Summary:     "Set a client, preparer, or reviewer sub-status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID int64               `path:"project_id"`
		Which     string              `path:"which" enum:"client,preparer,reviewer"`
		Body      SetSubStatusRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "project.status.set"); err != nil {
			return nil, handleError(err)
		}
		actor, authErr := engineActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetSubStatus(ctx, input.ProjectID, input.Which, input.Body.Value, actor)
		return respond(p, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-lock",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/lock",
		Summary:     "Toggle the project lock",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "project.lock"); err != nil {
			return nil, handleError(err)
		}
		actor, authErr := engineActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ToggleLock(ctx, input.ProjectID, actor)
		return respond(p, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/start",
		Summary:     "Mark work started today",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "project.start"); err != nil {
			return nil, handleError(err)
		}
		actor, authErr := engineActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.StartProject(ctx, input.ProjectID, actor)
		return respond(p, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "finish-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/finish",
		Summary:     "Mark work finished today",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "project.finish"); err != nil {
			return nil, handleError(err)
		}
		actor, authErr := engineActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.FinishProject(ctx, input.ProjectID, actor)
		return respond(p, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/archive",
		Summary:     "Archive and close out the project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "project.archive"); err != nil {
			return nil, handleError(err)
		}
		actor, authErr := engineActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ArchiveProject(ctx, input.ProjectID, actor)
		return respond(p, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-invoice",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/invoice",
		Summary:     "Update billing fields",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID int64                `path:"project_id"`
		Body      UpdateInvoiceRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "invoice.update"); err != nil {
			return nil, handleError(err)
		}
		actor, authErr := engineActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateInvoice(ctx, input.ProjectID, engine.InvoicePatch{
			InvoiceNumber:  input.Body.InvoiceNumber,
			Amount:         input.Body.Amount,
			HSTAmount:      input.Body.HSTAmount,
			AmountReceived: input.Body.AmountReceived,
			Outstanding:    input.Body.Outstanding,
			TimeUsed:       input.Body.TimeUsed,
			DateOfEfile:    input.Body.DateOfEfile,
		}, actor)
		return respond(p, err)
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/comments",
		Summary:       "Add a comment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID int64             `path:"project_id"`
		Body      AddCommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "comment.add"); err != nil {
			return nil, handleError(err)
		}
		actor, authErr := engineActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.ProjectID, input.Body.Body, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/comments",
		Summary:     "List comments oldest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
	}) (*struct {
		Body []domain.Comment `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListComments(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Comment{}
		}
		return &struct {
			Body []domain.Comment `json:"body"`
		}{Body: items}, nil
	})
}

const presignExpiry = 15 * time.Minute

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "upload-document",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/documents",
		Summary:       "Upload a document",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID int64                 `path:"project_id"`
		Body      UploadDocumentRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "document.upload"); err != nil {
			return nil, handleError(err)
		}
		actor, authErr := engineActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.FileName) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "file_name is required", nil)
		}
		if e.Blob == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "storage_unavailable", "object storage is not configured", nil)
		}
		key := fmt.Sprintf("projects/%d/%s/%s", input.ProjectID, uuid.NewString(), input.Body.FileName)
		size := int64(len(input.Body.Content))
		if err := e.Blob.Put(ctx, key, bytes.NewReader(input.Body.Content), size, input.Body.ContentType); err != nil {
			return nil, handleError(err)
		}
		d, err := e.AttachDocument(ctx, input.ProjectID, engine.DocumentMeta{
			FileName:    input.Body.FileName,
			Category:    input.Body.Category,
			SizeBytes:   size,
			ObjectKey:   key,
			ContentType: input.Body.ContentType,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: DocumentResponse{Document: d}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/documents",
		Summary:     "List documents",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
	}) (*struct {
		Body []DocumentResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "document.read"); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDocuments(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]DocumentResponse, 0, len(items))
		for _, d := range items {
			res = append(res, DocumentResponse{Document: d})
		}
		return &struct {
			Body []DocumentResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-document",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/download",
		Summary:     "Get a short-lived download URL",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "document.read"); err != nil {
			return nil, handleError(err)
		}
		d, err := e.Repo.GetDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		if e.Blob == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "storage_unavailable", "object storage is not configured", nil)
		}
		url, err := e.Blob.PresignedGet(ctx, d.ObjectKey, presignExpiry)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: DocumentResponse{Document: d, DownloadURL: url}}, nil
	})
}

func registerClients(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Create client",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body ClientRequest `json:"body"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "client.manage"); err != nil {
			return nil, handleError(err)
		}
		if input.Body.Company == "" && input.Body.FirstName == "" && input.Body.LastName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "a name or company is required", nil)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		c := domain.Client{
			Title:       input.Body.Title,
			FirstName:   input.Body.FirstName,
			MiddleName:  input.Body.MiddleName,
			LastName:    input.Body.LastName,
			Company:     input.Body.Company,
			Phone:       input.Body.Phone,
			Mobile:      input.Body.Mobile,
			Email:       input.Body.Email,
			BillAddress: input.Body.BillAddress,
			ShipAddress: input.Body.ShipAddress,
			Status:      input.Body.Status,
			Notes:       input.Body.Notes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if c.Status == "" {
			c.Status = "Active"
		}
		id, err := e.Repo.InsertClient(ctx, c)
		if err != nil {
			return nil, handleError(err)
		}
		c.ID = id
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
	}, func(ctx context.Context, input *struct {
		Search string `query:"search"`
	}) (*struct {
		Body []domain.Client `json:"body"`
	}, error) {
		items, err := e.Repo.ListClients(ctx, input.Search)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Client{}
		}
		return &struct {
			Body []domain.Client `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}",
		Summary:     "Get client",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64 `path:"client_id"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		c, err := e.Repo.GetClient(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-client",
		Method:      http.MethodPatch,
		Path:        "/clients/{client_id}",
		Summary:     "Update client",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64 `path:"client_id"`
		Body     struct {
			Title       *string `json:"title,omitempty"`
			FirstName   *string `json:"first_name,omitempty"`
			MiddleName  *string `json:"middle_name,omitempty"`
			LastName    *string `json:"last_name,omitempty"`
			Company     *string `json:"company,omitempty"`
			Phone       *string `json:"phone_numbers,omitempty"`
			Mobile      *string `json:"mobile,omitempty"`
			Email       *string `json:"email,omitempty"`
			BillAddress *string `json:"bill_address,omitempty"`
			ShipAddress *string `json:"ship_address,omitempty"`
			Status      *string `json:"status,omitempty"`
			Notes       *string `json:"notes,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "client.manage"); err != nil {
			return nil, handleError(err)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		err := e.Repo.UpdateClient(ctx, input.ClientID, repo.ClientPatch{
			Title:       input.Body.Title,
			FirstName:   input.Body.FirstName,
			MiddleName:  input.Body.MiddleName,
			LastName:    input.Body.LastName,
			Company:     input.Body.Company,
			Phone:       input.Body.Phone,
			Mobile:      input.Body.Mobile,
			Email:       input.Body.Email,
			BillAddress: input.Body.BillAddress,
			ShipAddress: input.Body.ShipAddress,
			Status:      input.Body.Status,
			Notes:       input.Body.Notes,
		}, now)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetClient(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-client",
		Method:        http.MethodDelete,
		Path:          "/clients/{client_id}",
		Summary:       "Delete client",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64 `path:"client_id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, "client.manage"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteClient(ctx, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List the caller's notifications, newest first",
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListNotifications(ctx, principal.ActorID, input.Unread, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Notification{}
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unread-count",
		Method:      http.MethodGet,
		Path:        "/notifications/unread-count",
		Summary:     "Count unread notifications",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.Repo.CountUnreadNotifications(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"unread": n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "mark-notification-read",
		Method:        http.MethodPost,
		Path:          "/notifications/{notification_id}/read",
		Summary:       "Mark one notification read",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID int64 `path:"notification_id"`
	}) (*struct{}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.MarkNotificationRead(ctx, input.NotificationID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "mark-all-notifications-read",
		Method:        http.MethodPost,
		Path:          "/notifications/read-all",
		Summary:       "Mark all notifications read",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.MarkAllNotificationsRead(ctx, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events, newest first",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID int64  `query:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "events.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListEvents(ctx, input.ProjectID, input.Type, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerStaff(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-staff",
		Method:      http.MethodGet,
		Path:        "/staff",
		Summary:     "List staff profiles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Profile `json:"body"`
	}, error) {
		items, err := e.Repo.ListProfiles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Profile{}
		}
		return &struct {
			Body []domain.Profile `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-staff",
		Method:      http.MethodGet,
		Path:        "/staff/{profile_id}",
		Summary:     "Get a staff profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileID string `path:"profile_id"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		p, err := e.Repo.GetProfile(ctx, input.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-staff",
		Method:      http.MethodPut,
		Path:        "/staff",
		Summary:     "Create or update a staff profile",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body UpsertProfileRequest `json:"body"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "staff.manage"); err != nil {
			return nil, handleError(err)
		}
		if strings.TrimSpace(input.Body.ID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if strings.TrimSpace(input.Body.Email) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email is required", nil)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		p := domain.Profile{
			ID:        input.Body.ID,
			FirstName: input.Body.FirstName,
			LastName:  input.Body.LastName,
			Email:     strings.ToLower(strings.TrimSpace(input.Body.Email)),
			Role:      input.Body.Role,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if p.Role == "" {
			p.Role = "Staff"
		}
		if err := e.Repo.UpsertProfile(ctx, p); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetProfile(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: stored}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-staff",
		Method:        http.MethodDelete,
		Path:          "/staff/{profile_id}",
		Summary:       "Delete a staff profile",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileID string `path:"profile_id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, "staff.manage"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteProfile(ctx, input.ProfileID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-apikey",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create an API key",
		Description:   "The clear key is returned once and never stored.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, "apikey.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID := strings.TrimSpace(input.Body.ActorID)
		if actorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, err := e.Repo.GetProfile(ctx, actorID); err != nil {
			return nil, handleError(err)
		}
		clearKey := "tlk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		key := domain.APIKey{
			ID:        uuid.NewString(),
			ActorID:   actorID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(clearKey),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			ActorID:   key.ActorID,
			Name:      key.Name,
			CreatedAt: key.CreatedAt,
			Key:       clearKey,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-apikeys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "apikey.manage"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			res = append(res, APIKeyResponse{
				ID:        k.ID,
				ActorID:   k.ActorID,
				Name:      k.Name,
				CreatedAt: k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-apikey",
		Method:        http.MethodDelete,
		Path:          "/apikeys/{key_id}",
		Summary:       "Delete an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, "apikey.manage"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	svc := auth.Service{DB: e.DB}
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res := MeResponse{
			ActorID:     principal.ActorID,
			Permissions: principal.Permissions,
			Source:      principal.Source,
		}
		if role, err := svc.ActorRole(ctx, principal.ActorID); err == nil {
			res.Role = role
		}
		if perms, err := svc.ActorPermissions(ctx, principal.ActorID); err == nil {
			for _, p := range perms {
				if !hasPermission(res.Permissions, p) {
					res.Permissions = append(res.Permissions, p)
				}
			}
		}
		if res.Permissions == nil {
			res.Permissions = []string{}
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development token",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Name, input.Body.Permissions)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
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
