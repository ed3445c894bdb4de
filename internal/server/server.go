// Package server exposes the claim engine over HTTP. It is a pure client of
// the engine, store and reducer: every handler translates a request into an
// engine call and maps domain errors onto the API error envelope.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"claimline/internal/cache"
	"claimline/internal/engine"
	"claimline/internal/engine/auth"
	"claimline/internal/eventlog"
	"claimline/internal/events"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"version_conflict"`
	Message string         `json:"message" example:"version conflict: expected 3, stored 4"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Claimline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Claimline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerCases(group, cfg.Engine)
	registerIndex(group, cfg.Engine)

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

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "version_conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	}
	return "internal_error"
}

// mapError translates domain errors onto the envelope. Version conflicts are
// normal control flow: the response carries both versions so the client can
// re-fetch and retry.
func mapError(err error) huma.StatusError {
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var conflict *eventlog.ConflictError
	if errors.As(err, &conflict) {
		return newAPIError(http.StatusConflict, "version_conflict", conflict.Error(), map[string]any{
			"expected": conflict.Expected,
			"actual":   conflict.Actual,
		})
	}
	var unknown *events.UnknownKindError
	if errors.As(err, &unknown) {
		return newAPIError(http.StatusBadRequest, "unknown_event_kind", unknown.Error(), nil)
	}
	var invalid *events.ValidationError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusBadRequest, "invalid_event", invalid.Error(), nil)
	}
	var forbidden auth.ForbiddenError
	if errors.As(err, &forbidden) {
		return newAPIError(http.StatusForbidden, "forbidden_role", forbidden.Error(), nil)
	}
	if errors.Is(err, engine.ErrNotFound) || errors.Is(err, cache.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "case not found", nil)
	}
	var storage *eventlog.StorageError
	if errors.As(err, &storage) {
		return newAPIError(http.StatusInternalServerError, "storage_error", storage.Error(), nil)
	}
	return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Create case",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*struct {
		Body AppendEventsResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		st, err := e.CreateCase(ctx, engine.CaseCreateOptions{
			ID:          stringOrEmpty(input.Body.ID),
			Title:       input.Body.Title,
			Category:    events.CaseCategory(input.Body.Category),
			ExternalRef: stringOrEmpty(input.Body.ExternalRef),
			Actor:       p.Actor,
			Role:        p.Role,
		})
		if err != nil {
			return nil, mapError(err)
		}
		return &struct {
			Body AppendEventsResponse `json:"body"`
		}{Body: AppendEventsResponse{Version: st.Version, State: st}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ExternalRef string `query:"external_ref"`
	}) (*struct {
		Body CaseListResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if input.ExternalRef != "" {
			entry, err := e.FindByExternalRef(ctx, input.ExternalRef)
			if err != nil {
				if errors.Is(err, cache.ErrNotFound) {
					return &struct {
						Body CaseListResponse `json:"body"`
					}{}, nil
				}
				return nil, mapError(err)
			}
			return &struct {
				Body CaseListResponse `json:"body"`
			}{Body: CaseListResponse{Cases: []cache.Entry{entry}}}, nil
		}
		items, err := e.ListCases(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		return &struct {
			Body CaseListResponse `json:"body"`
		}{Body: CaseListResponse{Cases: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get computed case state",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body AppendEventsResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		st, _, err := e.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, mapError(err)
		}
		return &struct {
			Body AppendEventsResponse `json:"body"`
		}{Body: AppendEventsResponse{Version: st.Version, State: st}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-events",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/events",
		Summary:     "List case events",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body CaseEventsResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		_, evs, err := e.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, mapError(err)
		}
		var version int64
		for _, ev := range evs {
			if ev.Seq > version {
				version = ev.Seq
			}
		}
		return &struct {
			Body CaseEventsResponse `json:"body"`
		}{Body: CaseEventsResponse{Version: version, Events: evs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "append-case-events",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/events",
		Summary:     "Append events with optimistic concurrency",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string              `path:"case_id"`
		Body   AppendEventsRequest `json:"body"`
	}) (*struct {
		Body AppendEventsResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(input.Body.Events) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "events must not be empty", nil)
		}
		inputs := make([]engine.EventInput, 0, len(input.Body.Events))
		for _, ev := range input.Body.Events {
			inputs = append(inputs, engine.EventInput{
				Kind:      events.Kind(ev.Kind),
				Comment:   stringOrEmpty(ev.Comment),
				InReplyTo: stringOrEmpty(ev.InReplyTo),
				Payload:   ev.Payload,
			})
		}
		st, err := e.AppendEvents(ctx, input.CaseID, p.Actor, p.Role, inputs, input.Body.ExpectedVersion)
		if err != nil {
			return nil, mapError(err)
		}
		return &struct {
			Body AppendEventsResponse `json:"body"`
		}{Body: AppendEventsResponse{Version: st.Version, State: st}}, nil
	})
}

func registerIndex(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "rebuild-index",
		Method:      http.MethodPost,
		Path:        "/index/rebuild",
		Summary:     "Rebuild the metadata cache from the event log",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CaseListResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.RebuildIndex(ctx); err != nil {
			return nil, mapError(err)
		}
		items, err := e.ListCases(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		return &struct {
			Body CaseListResponse `json:"body"`
		}{Body: CaseListResponse{Cases: items}}, nil
	})
}
