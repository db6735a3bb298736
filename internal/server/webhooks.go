package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher posts new history entries to the configured webhooks.
// Each hook keeps its own cursor and only advances it after a 2xx, so delivery is at-least-once.
type WebhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *slog.Logger
	cursors  map[int]int64
	ready    bool
	Interval time.Duration
}

// NewWebhookDispatcher returns nil when no webhook is configured.
func NewWebhookDispatcher(e engine.Engine, logger *slog.Logger) *WebhookDispatcher {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger,
		cursors:  make(map[int]int64),
		Interval: defaultWebhookInterval,
	}
}

// Run dispatches until ctx is done. Hooks start from the latest entry present
// once the cursors can be read; nothing is sent before that.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if d == nil {
		return
	}
	d.tick(ctx)
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *WebhookDispatcher) tick(ctx context.Context) {
	if !d.ready {
		if err := d.initCursors(ctx); err != nil {
			d.logger.WarnContext(ctx, "webhook: init cursor failed, will retry", "error", err)
			return
		}
	}
	d.DispatchOnce(ctx)
}

func (d *WebhookDispatcher) initCursors(ctx context.Context) error {
	latest, err := d.engine.Repo.LatestHistoryID(ctx)
	if err != nil {
		return err
	}
	for i := range d.webhooks {
		d.cursors[i] = latest
	}
	d.ready = true
	return nil
}

// DispatchOnce delivers one batch to every enabled hook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	entries, err := d.engine.Repo.HistoryAfter(ctx, d.cursors[idx], defaultWebhookBatch)
	if err != nil {
		d.logger.WarnContext(ctx, "webhook: fetch history failed", "error", err)
		return
	}
	filter := newActionFilter(hook.Actions)
	for _, h := range entries {
		if filter.match(h.Action) {
			if err := d.post(ctx, hook, h); err != nil {
				d.logger.WarnContext(ctx, "webhook: delivery failed", "url", hook.URL, "history_id", h.ID, "error", err)
				return
			}
		}
		d.cursors[idx] = h.ID
	}
}

type webhookPayload struct {
	ID      int64  `json:"id"`
	CaseID  string `json:"case_id"`
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Action  string `json:"action"`
	AgentID string `json:"agent_id"`
	Note    string `json:"note,omitempty"`
	TS      string `json:"ts"`
}

func (d *WebhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, h domain.HistoryEntry) error {
	data, err := json.Marshal(webhookPayload(h))
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caseflow-Action", h.Action)
	req.Header.Set("X-Caseflow-Delivery", fmt.Sprintf("%d", h.ID))
	req.Header.Set("X-Caseflow-Case", h.CaseID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Caseflow-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type actionFilter struct {
	all bool
	set map[string]struct{}
}

func newActionFilter(actions []string) actionFilter {
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		if key := strings.TrimSpace(a); key != "" {
			set[key] = struct{}{}
		}
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
