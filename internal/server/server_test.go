package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"

	"caretaker/internal/config"
	"caretaker/internal/db"
	"caretaker/internal/domain"
	"caretaker/internal/engine"
	"caretaker/internal/migrate"
	"caretaker/internal/repo"
)

type testServer struct {
	URL    string
	eng    engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("bld-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitBuilding(context.Background(), "bld-1", "Riverside House", "", "tester"); err != nil {
		t.Fatalf("init building: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		eng:    e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestTicketTransitionOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/buildings/bld-1/tickets", map[string]any{
		"title":   "Broken lift",
		"urgency": "High",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create ticket status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Ticket
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal ticket: %v", err)
	}
	if created.Status != "New Ticket" {
		t.Fatalf("status = %q", created.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tickets/"+created.ID+"/transition", map[string]any{
		"status": "Manager Review",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, string(data))
	}
	var moved domain.Ticket
	_ = json.Unmarshal(data, &moved)
	if moved.Status != "Manager Review" {
		t.Fatalf("status after transition = %q", moved.Status)
	}
}

func TestInvalidTransitionEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/buildings/bld-1/tickets", map[string]any{
		"title": "Damp patch",
	}, nil)
	var created domain.Ticket
	_ = json.Unmarshal(data, &created)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tickets/"+created.ID+"/transition", map[string]any{
		"status": "Work Order",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
	if envelope.Error.Details["from"] != "New Ticket" || envelope.Error.Details["to"] != "Work Order" {
		t.Fatalf("details = %v", envelope.Error.Details)
	}
}

func TestEventWindowRejectedOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/buildings/bld-1/events", map[string]any{
		"title":     "AGM",
		"starts_at": "2024-03-11T08:00:00Z",
		"ends_at":   "2024-03-11T07:00:00Z",
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/buildings/bld-1/events", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list events: %d", res.StatusCode)
	}
	var events []domain.Event
	_ = json.Unmarshal(body, &events)
	if len(events) != 0 {
		t.Fatalf("rejected event was persisted: %s", string(body))
	}
}

func TestActionsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/buildings/bld-1/tickets", map[string]any{
		"title": "Noisy pipes",
	}, nil)
	var created domain.Ticket
	_ = json.Unmarshal(data, &created)

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tickets/"+created.ID+"/actions", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("actions status %d: %s", res.StatusCode, string(body))
	}
	var actions ActionsResponse
	if err := json.Unmarshal(body, &actions); err != nil {
		t.Fatalf("unmarshal actions: %v", err)
	}
	if actions.Status != "New Ticket" || len(actions.Actions) == 0 {
		t.Fatalf("actions = %+v", actions)
	}
}

func TestReminderLimitOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/buildings/bld-1/flats", map[string]any{
		"label": "Flat 1A",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create flat: %d %s", res.StatusCode, string(data))
	}
	var flat domain.Flat
	_ = json.Unmarshal(data, &flat)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/buildings/bld-1/charges", map[string]any{
		"flat_id":     flat.ID,
		"period":      "2024-H1",
		"base_amount": 3000,
		"rate":        0.075,
		"due_date":    "2024-03-31T00:00:00Z",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("issue demand: %d %s", res.StatusCode, string(data))
	}
	var demand domain.ServiceChargeDemand
	_ = json.Unmarshal(data, &demand)
	if demand.Rate != 0.075 {
		t.Fatalf("rate = %v, want 0.075", demand.Rate)
	}

	// default cap is 3 reminders
	for i := 0; i < 3; i++ {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/charges/"+demand.ID+"/reminders", nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("reminder %d: %d %s", i+1, res.StatusCode, string(data))
		}
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/charges/"+demand.ID+"/reminders", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "reminder_limit_reached" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestAPIKeyAuthenticates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	raw := "ck_local_integration_key"
	err := srv.eng.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:      "key-1",
		ActorID: "integration-bot",
		Name:    "ci",
		KeyHash: repo.HashAPIKey(raw),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/buildings", nil)
	req.Header.Set("X-Api-Key", raw)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key rejected: %d", res.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/buildings", nil)
	req2.Header.Set("X-Api-Key", "not-a-key")
	res2, err := srv.Client().Do(req2)
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown api key accepted: %d", res2.StatusCode)
	}
}

func TestOpenAPIDocumentConcurrentFetch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	bodies := make([][]byte, 4)
	errs := make([]error, len(bodies))
	statuses := make([]int, len(bodies))
	var wg sync.WaitGroup
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/openapi.json", nil)
			if err != nil {
				errs[i] = err
				return
			}
			req.Header.Set("X-Actor-Id", "tester")
			res, err := srv.Client().Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			statuses[i] = res.StatusCode
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := range bodies {
		if errs[i] != nil {
			t.Fatalf("fetch %d: %v", i, errs[i])
		}
		if statuses[i] != http.StatusOK {
			t.Fatalf("fetch %d status %d", i, statuses[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("fetch %d returned a different document", i)
		}
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/buildings", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	res2, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res2.StatusCode)
	}
}
