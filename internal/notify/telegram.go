package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signal_bot/internal/models"
)

type TelegramConfig struct {
	Token       string `yaml:"token"`
	ChatID      int64  `yaml:"chat_id"`
	APIEndpoint string `yaml:"api_endpoint"` // по умолчанию api.telegram.org
}

// Telegram — сообщение в чат через Bot API (Markdown).
type Telegram struct {
	id     string
	bot    *tgbot.BotAPI
	chatID int64
}

// NewTelegram не ходит в сеть: проверка токена — в TestConnection, а битый
// токен проявится постоянной ошибкой первой же доставки.
func NewTelegram(id string, cfg TelegramConfig, client *http.Client) *Telegram {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbot.APIEndpoint
	}
	bot := &tgbot.BotAPI{
		Token:  cfg.Token,
		Client: defaultClient(client),
		Buffer: 100,
	}
	bot.SetAPIEndpoint(endpoint)
	return &Telegram{id: id, bot: bot, chatID: cfg.ChatID}
}

func (t *Telegram) ID() string { return t.id }

func (t *Telegram) Send(ctx context.Context, a models.Alert) error {
	if t.bot.Token == "" || t.chatID == 0 {
		return Permanent(fmt.Errorf("telegram: missing token or chat id"))
	}
	msg := tgbot.NewMessage(t.chatID, Markdown(a))
	msg.ParseMode = tgbot.ModeMarkdown
	msg.DisableWebPagePreview = true

	_, err := t.withContext(ctx).Send(msg)
	return classifyTelegram(err)
}

func (t *Telegram) TestConnection(ctx context.Context) bool {
	if t.bot.Token == "" {
		return false
	}
	_, err := t.withContext(ctx).GetMe()
	return err == nil
}

// classifyTelegram: 400/401/403/404 — постоянная ошибка, 429 и 5xx — временная.
func classifyTelegram(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbot.Error
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("telegram %d: %w", apiErr.Code, err)
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return Permanent(wrapped)
		}
		return wrapped
	}
	return err
}

// withContext — копия бота, HTTP-запросы которой отменяются вместе с ctx.
// По таймауту попытки запрос обрывается, а не досылается после повтора.
func (t *Telegram) withContext(ctx context.Context) *tgbot.BotAPI {
	bot := *t.bot
	bot.Client = ctxClient{ctx: ctx, next: t.bot.Client}
	return &bot
}

type ctxClient struct {
	ctx  context.Context
	next tgbot.HTTPClient
}

func (c ctxClient) Do(req *http.Request) (*http.Response, error) {
	return c.next.Do(req.WithContext(c.ctx))
}
