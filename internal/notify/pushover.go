package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"signal_bot/internal/models"
)

const DefaultPushoverURL = "https://api.pushover.net"

type PushoverConfig struct {
	AppToken string `yaml:"app_token"`
	UserKey  string `yaml:"user_key"`
	Sound    string `yaml:"sound"`
	BaseURL  string `yaml:"base_url"`
}

// Pushover — push-уведомления через api.pushover.net.
type Pushover struct {
	id     string
	cfg    PushoverConfig
	client *http.Client
}

func NewPushover(id string, cfg PushoverConfig, client *http.Client) *Pushover {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPushoverURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Pushover{id: id, cfg: cfg, client: defaultClient(client)}
}

func (p *Pushover) ID() string { return p.id }

type pushoverResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors"`
}

func (p *Pushover) Send(ctx context.Context, a models.Alert) error {
	if p.cfg.AppToken == "" || p.cfg.UserKey == "" {
		return Permanent(fmt.Errorf("pushover: missing app token or user key"))
	}
	prio, sound := p.priority(a)

	form := url.Values{
		"token":    {p.cfg.AppToken},
		"user":     {p.cfg.UserKey},
		"title":    {Title(a)},
		"message":  {Body(a)},
		"priority": {strconv.Itoa(prio)},
	}
	if sound != "" {
		form.Set("sound", sound)
	}
	if prio == int(models.PriorityEmergency) {
		// для emergency pushover требует параметры повтора
		form.Set("retry", "60")
		form.Set("expire", "3600")
	}
	return p.post(ctx, "/1/messages.json", form)
}

// TestConnection проверяет токен и ключ пользователя без отправки сообщения.
func (p *Pushover) TestConnection(ctx context.Context) bool {
	if p.cfg.AppToken == "" || p.cfg.UserKey == "" {
		return false
	}
	err := p.post(ctx, "/1/users/validate.json", url.Values{
		"token": {p.cfg.AppToken},
		"user":  {p.cfg.UserKey},
	})
	return err == nil
}

// priority: рыночные обновления — тихо и с низким приоритетом, ошибки —
// высокий приоритет и сирена, остальное по приоритету алерта.
func (p *Pushover) priority(a models.Alert) (int, string) {
	switch a.Kind {
	case models.AlertMarketUpdate:
		return int(models.PriorityLow), ""
	case models.AlertError:
		prio := a.Priority
		if prio < models.PriorityHigh {
			prio = models.PriorityHigh
		}
		return int(prio), "siren"
	}
	prio := a.Priority
	if prio < models.PriorityLowest {
		prio = models.PriorityLowest
	}
	if prio > models.PriorityEmergency {
		prio = models.PriorityEmergency
	}
	return int(prio), p.cfg.Sound
}

func (p *Pushover) post(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return err
	}
	var out pushoverResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("pushover: decode response: %w", err)
	}
	if out.Status != 1 {
		return Permanent(fmt.Errorf("pushover: %s", strings.Join(out.Errors, "; ")))
	}
	return nil
}
