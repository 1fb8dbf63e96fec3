package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"caretaker/internal/config"
	"caretaker/internal/domain"
	"caretaker/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// Dispatcher tails the activity log and posts matching entries to the
// building's configured webhook endpoints.
type Dispatcher struct {
	repo     repo.Repo
	building string
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartDispatcher spawns the polling loop when the config defines webhooks.
func StartDispatcher(r repo.Repo, cfg *config.Config) {
	if cfg == nil || len(cfg.Webhooks) == 0 {
		return
	}
	buildingID := cfg.Building.ID
	if strings.TrimSpace(buildingID) == "" {
		return
	}
	d := &Dispatcher{
		repo:     r,
		building: buildingID,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	go d.run()
}

func (d *Dispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *Dispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(i, hook)
	}
}

func (d *Dispatcher) dispatchWebhook(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	entries, err := d.repo.ActivityAfter(ctx, defaultWebhookBatch, cursor, d.building)
	if err != nil {
		log.Printf("webhook: fetch activity failed: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	filter := newActionFilter(hook.Actions)
	for _, entry := range entries {
		if !filter.match(entry.Action) {
			d.setCursor(idx, entry.ID)
			continue
		}
		if err := d.postEntry(ctx, hook, entry); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, entry.ID)
	}
}

func (d *Dispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.repo.LatestActivityID(context.Background(), d.building)
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEntry struct {
	ID          int64           `json:"id"`
	Action      string          `json:"action"`
	Description string          `json:"description,omitempty"`
	BuildingID  string          `json:"building_id"`
	EntityKind  string          `json:"entity_kind"`
	EntityID    string          `json:"entity_id,omitempty"`
	PerformedBy string          `json:"performed_by"`
	TS          string          `json:"ts"`
	Payload     json.RawMessage `json:"payload"`
}

func (d *Dispatcher) postEntry(ctx context.Context, hook config.WebhookConfig, entry domain.ActivityEntry) error {
	payload := json.RawMessage([]byte("{}"))
	if entry.Payload != "" && json.Valid([]byte(entry.Payload)) {
		payload = json.RawMessage([]byte(entry.Payload))
	}
	body := webhookEntry{
		ID:          entry.ID,
		Action:      entry.Action,
		Description: entry.Description,
		BuildingID:  entry.BuildingID,
		EntityKind:  entry.EntityKind,
		EntityID:    entry.EntityID,
		PerformedBy: entry.PerformedBy,
		TS:          entry.TS,
		Payload:     payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caretaker-Action", entry.Action)
	req.Header.Set("X-Caretaker-Delivery", fmt.Sprintf("%d", entry.ID))
	req.Header.Set("X-Caretaker-Building", d.building)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Caretaker-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type actionFilter struct {
	all bool
	set map[string]struct{}
}

func newActionFilter(actions []string) actionFilter {
	if len(actions) == 0 {
		return actionFilter{all: true}
	}
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		key := strings.TrimSpace(a)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return actionFilter{all: true}
	}
	return actionFilter{set: set}
}

func (f actionFilter) match(action string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[action]
	return ok
}
