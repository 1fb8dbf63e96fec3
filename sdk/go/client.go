package caretakersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Caretaker HTTP API client.
type Client struct {
	BaseURL     string
	BuildingID  string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, buildingID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		BuildingID: buildingID,
		Timeout:    10 * time.Second,
	}
}

// Ticket represents the API ticket model (partial).
type Ticket struct {
	ID          string `json:"id"`
	BuildingID  string `json:"building_id"`
	Title       string `json:"title"`
	Urgency     string `json:"urgency"`
	Status      string `json:"status"`
	RequesterID string `json:"requester_id"`
}

// WorkOrder represents the API work order model (partial).
type WorkOrder struct {
	ID         string  `json:"id"`
	BuildingID string  `json:"building_id"`
	TicketID   *string `json:"ticket_id,omitempty"`
	Title      string  `json:"title"`
	Priority   string  `json:"priority"`
	Status     string  `json:"status"`
}

// Demand represents a service charge demand.
type Demand struct {
	ID            string `json:"id"`
	FlatID        string `json:"flat_id"`
	Period        string `json:"period"`
	TotalDue      int64  `json:"total_due"`
	AmountPaid    int64  `json:"amount_paid"`
	Outstanding   int64  `json:"outstanding"`
	Status        string `json:"status"`
	RemindersSent int    `json:"reminders_sent"`
}

// Action is an available transition for an entity.
type Action struct {
	Label  string `json:"label"`
	Target string `json:"target"`
}

// Activity is one audit log entry.
type Activity struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts"`
	Action      string         `json:"action"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id"`
	PerformedBy string         `json:"performed_by"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTicket opens a ticket in the active building.
func (c *Client) CreateTicket(ctx context.Context, title, urgency string) (Ticket, error) {
	body := map[string]any{
		"title":   title,
		"urgency": urgency,
	}
	var resp Ticket
	err := c.do(ctx, http.MethodPost, c.buildingPath("tickets"), body, &resp)
	return resp, err
}

// TransitionTicket moves a ticket to the target status.
func (c *Client) TransitionTicket(ctx context.Context, ticketID, status string) (Ticket, error) {
	var resp Ticket
	endpoint := fmt.Sprintf("v0/tickets/%s/transition", url.PathEscape(ticketID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// TicketActions lists available transitions for a ticket.
func (c *Client) TicketActions(ctx context.Context, ticketID string) ([]Action, error) {
	var resp struct {
		Actions []Action `json:"actions"`
	}
	endpoint := fmt.Sprintf("v0/tickets/%s/actions", url.PathEscape(ticketID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Actions, err
}

// CreateWorkOrder opens a work order, optionally linked to a ticket.
func (c *Client) CreateWorkOrder(ctx context.Context, title, ticketID string) (WorkOrder, error) {
	body := map[string]any{"title": title}
	if ticketID != "" {
		body["ticket_id"] = ticketID
	}
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, c.buildingPath("workorders"), body, &resp)
	return resp, err
}

// TransitionWorkOrder moves a work order to the target status.
func (c *Client) TransitionWorkOrder(ctx context.Context, workOrderID, status string) (WorkOrder, error) {
	var resp WorkOrder
	endpoint := fmt.Sprintf("v0/workorders/%s/transition", url.PathEscape(workOrderID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// RecordPayment applies a payment to a demand.
func (c *Client) RecordPayment(ctx context.Context, demandID string, amount int64, reference string) (Demand, error) {
	body := map[string]any{"amount": amount}
	if reference != "" {
		body["reference"] = reference
	}
	var resp Demand
	endpoint := fmt.Sprintf("v0/charges/%s/payments", url.PathEscape(demandID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SendReminder sends a payment reminder for a demand.
func (c *Client) SendReminder(ctx context.Context, demandID string) (Demand, error) {
	var resp Demand
	endpoint := fmt.Sprintf("v0/charges/%s/reminders", url.PathEscape(demandID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ActivityLog returns recent activity entries.
func (c *Client) ActivityLog(ctx context.Context, limit int) ([]Activity, error) {
	endpoint := c.buildingPath("activity")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Activity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) buildingPath(p string) string {
	building := url.PathEscape(c.BuildingID)
	return fmt.Sprintf("v0/buildings/%s/%s", building, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
