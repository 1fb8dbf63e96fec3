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

	"caretaker/internal/domain"
	"caretaker/internal/engine"
	"caretaker/internal/repo"
	"caretaker/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid ticket status transition New Ticket -> Work Order"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Caretaker API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema-level request failures are the caller's fault.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Caretaker API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerBuildings(group, cfg.Engine)
	registerFlats(group, cfg.Engine)
	registerTickets(group, cfg.Engine)
	registerWorkOrders(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerCharges(group, cfg.Engine)
	registerActivity(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
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
	var ite workflow.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"kind": ite.Kind,
			"from": ite.From,
			"to":   ite.To,
		})
	}
	var rle engine.ReminderLimitError
	if errors.As(err, &rle) {
		return newAPIError(http.StatusConflict, "reminder_limit_reached", err.Error(), map[string]any{
			"demand_id": rle.DemandID,
			"limit":     rle.Limit,
		})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	// The document is marshalled at most once, on first request.
	var once sync.Once
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			spec, _ = json.Marshal(api.OpenAPI())
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Caretaker API Docs</title>
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

func registerBuildings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-building",
		Method:        http.MethodPost,
		Path:          "/buildings",
		Summary:       "Register building",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateBuildingRequest `json:"body"`
	}) (*struct {
		Body domain.Building `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		b, err := e.InitBuilding(ctx, input.Body.ID, deref(input.Body.Name), deref(input.Body.Address), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Building `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-buildings",
		Method:      http.MethodGet,
		Path:        "/buildings",
		Summary:     "List buildings",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Building `json:"body"`
	}, error) {
		items, err := e.Repo.ListBuildings(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Building `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-building",
		Method:      http.MethodGet,
		Path:        "/buildings/{building_id}",
		Summary:     "Get building",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BuildingID string `path:"building_id"`
	}) (*struct {
		Body domain.Building `json:"body"`
	}, error) {
		b, err := e.Repo.GetBuilding(ctx, input.BuildingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Building `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "building-status",
		Method:      http.MethodGet,
		Path:        "/buildings/{building_id}/status",
		Summary:     "Building dashboard counts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BuildingID string `path:"building_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		b, err := e.Repo.GetBuilding(ctx, input.BuildingID)
		if err != nil {
			return nil, handleError(err)
		}
		ticketCounts, err := e.Repo.CountTicketsByStatus(ctx, b.ID)
		if err != nil {
			return nil, handleError(err)
		}
		workOrderCounts, err := e.Repo.CountWorkOrdersByStatus(ctx, b.ID)
		if err != nil {
			return nil, handleError(err)
		}
		outstanding, err := e.Repo.ListOutstandingDemands(ctx, b.ID)
		if err != nil {
			return nil, handleError(err)
		}
		var owed int64
		for _, d := range outstanding {
			owed += d.Outstanding
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"building_id":         b.ID,
			"status":              b.Status,
			"ticket_counts":       ticketCounts,
			"work_order_counts":   workOrderCounts,
			"unpaid_demands":      len(outstanding),
			"outstanding_charges": owed,
		}}, nil
	})
}

func registerFlats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-flat",
		Method:        http.MethodPost,
		Path:          "/buildings/{building_id}/flats",
		Summary:       "Register flat",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		BuildingID string            `path:"building_id"`
		Body       CreateFlatRequest `json:"body"`
	}) (*struct {
		Body domain.Flat `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.CreateFlat(ctx, domain.Flat{
			BuildingID: input.BuildingID,
			Label:      input.Body.Label,
			Floor:      input.Body.Floor,
			OccupantID: input.Body.OccupantID,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Flat `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-flats",
		Method:      http.MethodGet,
		Path:        "/buildings/{building_id}/flats",
		Summary:     "List flats",
	}, func(ctx context.Context, input *struct {
		BuildingID string `path:"building_id"`
	}) (*struct {
		Body []domain.Flat `json:"body"`
	}, error) {
		items, err := e.Repo.ListFlats(ctx, input.BuildingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Flat `json:"body"`
		}{Body: items}, nil
	})
}

func registerTickets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-ticket",
		Method:        http.MethodPost,
		Path:          "/buildings/{building_id}/tickets",
		Summary:       "Open ticket",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		BuildingID string              `path:"building_id"`
		Body       CreateTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTicket(ctx, domain.Ticket{
			BuildingID:  input.BuildingID,
			Title:       input.Body.Title,
			Description: deref(input.Body.Description),
			Location:    deref(input.Body.Location),
			Urgency:     deref(input.Body.Urgency),
			RequesterID: deref(input.Body.RequesterID),
			Attachments: input.Body.Attachments,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/buildings/{building_id}/tickets",
		Summary:     "List tickets",
	}, func(ctx context.Context, input *struct {
		BuildingID      string `path:"building_id"`
		Status          string `query:"status"`
		Urgency         string `query:"urgency"`
		RequesterID     string `query:"requester_id"`
		AssigneeID      string `query:"assignee_id"`
		Limit           int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
		CursorCreatedAt string `query:"cursor_created_at"`
		CursorID        string `query:"cursor_id"`
	}) (*struct {
		Body []domain.Ticket `json:"body"`
	}, error) {
		items, err := e.Repo.ListTickets(ctx, repo.TicketFilters{
			BuildingID:      input.BuildingID,
			Status:          input.Status,
			Urgency:         input.Urgency,
			RequesterID:     input.RequesterID,
			AssigneeID:      input.AssigneeID,
			Limit:           input.Limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Ticket `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticket_id}",
		Summary:     "Get ticket",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		t, err := e.Repo.GetTicket(ctx, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets/{ticket_id}/transition",
		Summary:     "Transition ticket",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TicketID string            `path:"ticket_id"`
		Body     TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.TransitionTicket(ctx, input.TicketID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ticket-actions",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticket_id}/actions",
		Summary:     "Available ticket actions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*struct {
		Body ActionsResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTicket(ctx, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionsResponse `json:"body"`
		}{Body: ticketActionsResponse(t.Status)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets/{ticket_id}/assign",
		Summary:     "Assign ticket",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TicketID string              `path:"ticket_id"`
		Body     AssignTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AssignTicket(ctx, input.TicketID, input.Body.AssigneeID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-ticket-quote",
		Method:        http.MethodPost,
		Path:          "/tickets/{ticket_id}/quotes",
		Summary:       "Submit quote for ticket",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		TicketID string             `path:"ticket_id"`
		Body     CreateQuoteRequest `json:"body"`
	}) (*struct {
		Body domain.Quote `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.AddQuote(ctx, domain.Quote{
			ParentKind:  "ticket",
			ParentID:    input.TicketID,
			SupplierID:  input.Body.SupplierID,
			Amount:      input.Body.Amount,
			Description: deref(input.Body.Description),
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Quote `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ticket-quotes",
		Method:      http.MethodGet,
		Path:        "/tickets/{ticket_id}/quotes",
		Summary:     "List ticket quotes",
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*struct {
		Body []domain.Quote `json:"body"`
	}, error) {
		items, err := e.Repo.ListQuotes(ctx, "ticket", input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Quote `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-quote",
		Method:      http.MethodPost,
		Path:        "/quotes/{quote_id}/accept",
		Summary:     "Accept quote",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		QuoteID string `path:"quote_id"`
	}) (*struct {
		Body domain.Quote `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.AcceptQuote(ctx, input.QuoteID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Quote `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/tickets/{ticket_id}/comments",
		Summary:       "Comment on ticket",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		TicketID string               `path:"ticket_id"`
		Body     CreateCommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.TicketID, input.Body.Body, actorID)
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
		Path:        "/tickets/{ticket_id}/comments",
		Summary:     "List ticket comments",
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
	}) (*struct {
		Body []domain.Comment `json:"body"`
	}, error) {
		items, err := e.Repo.ListComments(ctx, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Comment `json:"body"`
		}{Body: items}, nil
	})
}

func registerWorkOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-work-order",
		Method:        http.MethodPost,
		Path:          "/buildings/{building_id}/workorders",
		Summary:       "Open work order",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		BuildingID string                 `path:"building_id"`
		Body       CreateWorkOrderRequest `json:"body"`
	}) (*struct {
		Body domain.WorkOrder `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.CreateWorkOrder(ctx, domain.WorkOrder{
			BuildingID:  input.BuildingID,
			Title:       input.Body.Title,
			Description: deref(input.Body.Description),
			Priority:    deref(input.Body.Priority),
			FlatID:      input.Body.FlatID,
			TicketID:    input.Body.TicketID,
			SupplierID:  input.Body.SupplierID,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkOrder `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-orders",
		Method:      http.MethodGet,
		Path:        "/buildings/{building_id}/workorders",
		Summary:     "List work orders",
	}, func(ctx context.Context, input *struct {
		BuildingID string `path:"building_id"`
		Status     string `query:"status"`
		Priority   string `query:"priority"`
		TicketID   string `query:"ticket_id"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
	}) (*struct {
		Body []domain.WorkOrder `json:"body"`
	}, error) {
		items, err := e.Repo.ListWorkOrders(ctx, repo.WorkOrderFilters{
			BuildingID: input.BuildingID,
			Status:     input.Status,
			Priority:   input.Priority,
			TicketID:   input.TicketID,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkOrder `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-order",
		Method:      http.MethodGet,
		Path:        "/workorders/{work_order_id}",
		Summary:     "Get work order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkOrderID string `path:"work_order_id"`
	}) (*struct {
		Body domain.WorkOrder `json:"body"`
	}, error) {
		w, err := e.Repo.GetWorkOrder(ctx, input.WorkOrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkOrder `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-work-order",
		Method:      http.MethodPost,
		Path:        "/workorders/{work_order_id}/transition",
		Summary:     "Transition work order",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		WorkOrderID string            `path:"work_order_id"`
		Body        TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.WorkOrder `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.TransitionWorkOrder(ctx, input.WorkOrderID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkOrder `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "work-order-actions",
		Method:      http.MethodGet,
		Path:        "/workorders/{work_order_id}/actions",
		Summary:     "Available work order actions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkOrderID string `path:"work_order_id"`
	}) (*struct {
		Body ActionsResponse `json:"body"`
	}, error) {
		w, err := e.Repo.GetWorkOrder(ctx, input.WorkOrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionsResponse `json:"body"`
		}{Body: workOrderActionsResponse(w.Status)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-feedback",
		Method:      http.MethodPost,
		Path:        "/workorders/{work_order_id}/feedback",
		Summary:     "Record occupant feedback",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		WorkOrderID string          `path:"work_order_id"`
		Body        FeedbackRequest `json:"body"`
	}) (*struct {
		Body domain.WorkOrder `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.RecordFeedback(ctx, input.WorkOrderID, input.Body.Rating, deref(input.Body.Comment), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkOrder `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-work-order",
		Method:      http.MethodPost,
		Path:        "/workorders/{work_order_id}/resolve",
		Summary:     "Resolve work order",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		WorkOrderID string         `path:"work_order_id"`
		Body        ResolveRequest `json:"body"`
	}) (*struct {
		Body domain.WorkOrder `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.ResolveWorkOrder(ctx, input.WorkOrderID, deref(input.Body.Notes), input.Body.Cost, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkOrder `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "schedule-work-order-visit",
		Method:        http.MethodPost,
		Path:          "/workorders/{work_order_id}/schedule",
		Summary:       "Schedule a visit for a work order",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		WorkOrderID string                 `path:"work_order_id"`
		Body        RescheduleEventRequest `json:"body"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.ScheduleEventForWorkOrder(ctx, input.WorkOrderID, "", input.Body.StartsAt, input.Body.EndsAt, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-work-order-quote",
		Method:        http.MethodPost,
		Path:          "/workorders/{work_order_id}/quotes",
		Summary:       "Submit quote for work order",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		WorkOrderID string             `path:"work_order_id"`
		Body        CreateQuoteRequest `json:"body"`
	}) (*struct {
		Body domain.Quote `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.AddQuote(ctx, domain.Quote{
			ParentKind:  "workorder",
			ParentID:    input.WorkOrderID,
			SupplierID:  input.Body.SupplierID,
			Amount:      input.Body.Amount,
			Description: deref(input.Body.Description),
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Quote `json:"body"`
		}{Body: q}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-event",
		Method:        http.MethodPost,
		Path:          "/buildings/{building_id}/events",
		Summary:       "Schedule event",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		BuildingID string             `path:"building_id"`
		Body       CreateEventRequest `json:"body"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.CreateEvent(ctx, domain.Event{
			BuildingID:  input.BuildingID,
			Title:       input.Body.Title,
			Description: deref(input.Body.Description),
			Location:    deref(input.Body.Location),
			StartsAt:    input.Body.StartsAt,
			EndsAt:      input.Body.EndsAt,
			TicketID:    input.Body.TicketID,
			Assignees:   input.Body.Assignees,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/buildings/{building_id}/events",
		Summary:     "List events",
	}, func(ctx context.Context, input *struct {
		BuildingID string `path:"building_id"`
		Status     string `query:"status"`
		TicketID   string `query:"ticket_id"`
		From       string `query:"from"`
		To         string `query:"to"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.ListEvents(ctx, repo.EventFilters{
			BuildingID: input.BuildingID,
			Status:     input.Status,
			TicketID:   input.TicketID,
			From:       input.From,
			To:         input.To,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}",
		Summary:     "Get event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		ev, err := e.Repo.GetEvent(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-event",
		Method:      http.MethodPost,
		Path:        "/events/{event_id}/transition",
		Summary:     "Transition event",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string            `path:"event_id"`
		Body    TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.TransitionEvent(ctx, input.EventID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "event-actions",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/actions",
		Summary:     "Available event actions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct {
		Body ActionsResponse `json:"body"`
	}, error) {
		ev, err := e.Repo.GetEvent(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionsResponse `json:"body"`
		}{Body: eventActionsResponse(ev.Status)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reschedule-event",
		Method:      http.MethodPost,
		Path:        "/events/{event_id}/schedule",
		Summary:     "Move event window",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		EventID string                 `path:"event_id"`
		Body    RescheduleEventRequest `json:"body"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.UpdateEventSchedule(ctx, input.EventID, input.Body.StartsAt, input.Body.EndsAt, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: ev}, nil
	})
}

func registerCharges(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "issue-demand",
		Method:        http.MethodPost,
		Path:          "/buildings/{building_id}/charges",
		Summary:       "Issue service charge demand",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		BuildingID string             `path:"building_id"`
		Body       IssueDemandRequest `json:"body"`
	}) (*struct {
		Body domain.ServiceChargeDemand `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d := domain.ServiceChargeDemand{
			BuildingID:       input.BuildingID,
			FlatID:           input.Body.FlatID,
			Period:           input.Body.Period,
			BaseAmount:       input.Body.BaseAmount,
			GroundRentAmount: derefInt64(input.Body.GroundRentAmount),
			AmountPaid:       derefInt64(input.Body.AmountPaid),
			DueDate:          input.Body.DueDate,
		}
		if input.Body.Rate != nil {
			d.Rate = *input.Body.Rate
		}
		if input.Body.Penalty != nil {
			d.Penalty = *input.Body.Penalty
		}
		out, err := e.IssueDemand(ctx, d, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ServiceChargeDemand `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-demands",
		Method:      http.MethodGet,
		Path:        "/buildings/{building_id}/charges",
		Summary:     "List service charge demands",
	}, func(ctx context.Context, input *struct {
		BuildingID string `path:"building_id"`
		Status     string `query:"status"`
		FlatID     string `query:"flat_id"`
		Period     string `query:"period"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
	}) (*struct {
		Body []domain.ServiceChargeDemand `json:"body"`
	}, error) {
		items, err := e.Repo.ListDemands(ctx, repo.DemandFilters{
			BuildingID: input.BuildingID,
			Status:     input.Status,
			FlatID:     input.FlatID,
			Period:     input.Period,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ServiceChargeDemand `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-demand",
		Method:      http.MethodGet,
		Path:        "/charges/{demand_id}",
		Summary:     "Get demand",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DemandID string `path:"demand_id"`
	}) (*struct {
		Body domain.ServiceChargeDemand `json:"body"`
	}, error) {
		d, err := e.Repo.GetDemand(ctx, input.DemandID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ServiceChargeDemand `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-payment",
		Method:      http.MethodPost,
		Path:        "/charges/{demand_id}/payments",
		Summary:     "Record payment",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DemandID string               `path:"demand_id"`
		Body     RecordPaymentRequest `json:"body"`
	}) (*struct {
		Body domain.ServiceChargeDemand `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.RecordPayment(ctx, input.DemandID, input.Body.Amount, deref(input.Body.Reference), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ServiceChargeDemand `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-penalties",
		Method:      http.MethodPost,
		Path:        "/buildings/{building_id}/charges/penalty-run",
		Summary:     "Apply late penalties",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		BuildingID string            `path:"building_id"`
		Body       PenaltyRunRequest `json:"body"`
	}) (*struct {
		Body []domain.ServiceChargeDemand `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		asOf := time.Now().UTC()
		if input.Body.AsOf != nil {
			parsed, err := time.Parse(time.RFC3339, *input.Body.AsOf)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid as_of", nil)
			}
			asOf = parsed
		}
		applied, err := e.CheckAndApplyPenalties(ctx, input.BuildingID, asOf, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if applied == nil {
			applied = []domain.ServiceChargeDemand{}
		}
		return &struct {
			Body []domain.ServiceChargeDemand `json:"body"`
		}{Body: applied}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-reminder",
		Method:      http.MethodPost,
		Path:        "/charges/{demand_id}/reminders",
		Summary:     "Send payment reminder",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DemandID string `path:"demand_id"`
	}) (*struct {
		Body domain.ServiceChargeDemand `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.SendReminder(ctx, input.DemandID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ServiceChargeDemand `json:"body"`
		}{Body: d}, nil
	})
}

func registerActivity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/buildings/{building_id}/activity",
		Summary:     "Activity log",
	}, func(ctx context.Context, input *struct {
		BuildingID string `path:"building_id"`
		Action     string `query:"action"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Cursor     int64  `query:"cursor"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
	}) (*struct {
		Body []ActivityResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListActivity(ctx, input.Limit, input.Cursor, input.BuildingID, input.Action, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ActivityResponse `json:"body"`
		}{Body: mapActivity(items)}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/buildings/{building_id}/notifications",
		Summary:     "Notification inbox",
	}, func(ctx context.Context, input *struct {
		BuildingID string `path:"building_id"`
		UserID     string `query:"user_id"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		items, err := e.Repo.ListNotifications(ctx, input.BuildingID, input.UserID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})
}
