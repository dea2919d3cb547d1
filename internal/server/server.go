package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tandem/internal/domain"
	"tandem/internal/engine"
	"tandem/internal/repo"
	"tandem/internal/signal"
)

// Config for the HTTP API handler. Engine returns an engine bound to the
// current config snapshot, so tunable reloads take effect per request.
type Config struct {
	Engine   func() engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"invalid cursor"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message, Details: details}}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if err == repo.ErrNotFound {
		return newAPIError(http.StatusNotFound, "", "not found", nil)
	}
	return newAPIError(http.StatusInternalServerError, "", err.Error(), nil)
}

// New returns an HTTP handler exposing the tandem API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	hcfg := huma.DefaultConfig("Tandem API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerEvents(group, cfg.Engine)
	registerLoad(group, cfg.Engine)
	registerPass(group, cfg.Engine)
	registerActivity(group, cfg.Engine)
	registerSubscriptions(group, cfg.Engine)

	return router, nil
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

type paginatedEvents struct {
	Items      []domain.ProactiveEvent `json:"items"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

func registerEvents(api huma.API, eng func() engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-user-events",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/events",
		Summary:     "Recent proactive events for a user",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		e := eng()
		if _, err := e.Repo.GetUser(ctx, input.UserID); err != nil {
			return nil, handleError(err)
		}
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		items, last, err := e.Repo.LatestProactiveEvents(ctx, input.UserID, limit, cursor)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: items}
		if len(items) == limit {
			resp.NextCursor = fmt.Sprintf("%d", last)
		}
		if resp.Items == nil {
			resp.Items = []domain.ProactiveEvent{}
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerLoad(api huma.API, eng func() engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "user-load",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/load",
		Summary:     "Current load index for a user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body signal.LoadIndex `json:"body"`
	}, error) {
		e := eng()
		if _, err := e.Repo.GetUser(ctx, input.UserID); err != nil {
			return nil, handleError(err)
		}
		calc := e.LoadCalc(ctx)
		idx, err := calc.Compute(ctx, input.UserID, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body signal.LoadIndex `json:"body"`
		}{Body: idx}, nil
	})
}

func registerPass(api huma.API, eng func() engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-pass",
		Method:      http.MethodPost,
		Path:        "/pass",
		Summary:     "Run one engine pass",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Notify bool   `json:"notify"`
			At     string `json:"at,omitempty" doc:"RFC3339 instant; defaults to now"`
		}
	}) (*struct {
		Body engine.PassReport `json:"body"`
	}, error) {
		e := eng()
		at := e.Now()
		if input.Body.At != "" {
			parsed, err := time.Parse(time.RFC3339, input.Body.At)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "", "invalid at timestamp", map[string]any{"at": input.Body.At})
			}
			at = parsed
		}
		report, err := e.RunPass(ctx, at, input.Body.Notify)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.PassReport `json:"body"`
		}{Body: report}, nil
	})
}

var activityKinds = map[string]bool{
	domain.ActivityPushOpened:       true,
	domain.ActivityPushActionStart:  true,
	domain.ActivityPushActionSnooze: true,
	domain.ActivityPushActionDone:   true,
}

func registerActivity(api huma.API, eng func() engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "record-activity",
		Method:      http.MethodPost,
		Path:        "/activity",
		Summary:     "Record push engagement from an action-token callback",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Token string `json:"token"`
			Kind  string `json:"kind" enum:"push_opened,push_action_start,push_action_snooze,push_action_done"`
		}
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if !activityKinds[input.Body.Kind] {
			return nil, newAPIError(http.StatusBadRequest, "", "unsupported activity kind", map[string]any{"kind": input.Body.Kind})
		}
		e := eng()
		claims, err := e.Tokens.ParseActionToken(input.Body.Token)
		if err != nil {
			return nil, newAPIError(http.StatusUnauthorized, "", "invalid action token", nil)
		}
		if err := e.Repo.AppendActivity(ctx, domain.ActivityEvent{
			UserID:     claims.User,
			Kind:       input.Body.Kind,
			EntityKind: claims.EntityType,
			EntityID:   claims.EntityID,
			Family:     claims.Family,
			CreatedAt:  e.Now(),
		}); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "recorded"}}, nil
	})
}

func registerSubscriptions(api huma.API, eng func() engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "add-subscription",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/subscriptions",
		Summary:     "Register a push subscription",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Body   struct {
			Endpoint string `json:"endpoint" minLength:"1"`
			P256DH   string `json:"p256dh,omitempty"`
			Auth     string `json:"auth,omitempty"`
		}
	}) (*struct {
		Body domain.PushSubscription `json:"body"`
	}, error) {
		e := eng()
		if _, err := e.Repo.GetUser(ctx, input.UserID); err != nil {
			return nil, handleError(err)
		}
		sub := domain.PushSubscription{
			ID:        newSubscriptionID(),
			UserID:    input.UserID,
			Endpoint:  input.Body.Endpoint,
			P256DH:    input.Body.P256DH,
			Auth:      input.Body.Auth,
			CreatedAt: e.Now(),
		}
		if err := e.Repo.InsertSubscription(ctx, sub); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PushSubscription `json:"body"`
		}{Body: sub}, nil
	})
}

func newSubscriptionID() string {
	return uuid.NewString()
}
