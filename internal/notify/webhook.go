package notify

import (
	"bytes"
	"context"
	"net/http"

	"github.com/bytedance/sonic"

	"signal_bot/internal/models"
)

type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Token   string            `yaml:"token"`
	Headers map[string]string `yaml:"headers"`
}

// Webhook — POST алерта JSON-ом на произвольный URL.
type Webhook struct {
	id     string
	cfg    WebhookConfig
	client *http.Client
}

func NewWebhook(id string, cfg WebhookConfig, client *http.Client) *Webhook {
	return &Webhook{id: id, cfg: cfg, client: defaultClient(client)}
}

func (w *Webhook) ID() string { return w.id }

func (w *Webhook) Send(ctx context.Context, a models.Alert) error {
	payload, err := sonic.Marshal(a)
	if err != nil {
		return Permanent(err)
	}
	req, err := w.request(ctx, http.MethodPost, payload)
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return statusError(resp)
}

// TestConnection: endpoint отвечает и принимает наши креды.
func (w *Webhook) TestConnection(ctx context.Context) bool {
	req, err := w.request(ctx, http.MethodHead, nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500 && resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden
}

func (w *Webhook) request(ctx context.Context, method string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if w.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}
