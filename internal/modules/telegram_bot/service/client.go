package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Telegram — приём команд оператора через long polling. Отвечает только
// в свой чат, остальные сообщения игнорирует.
type Telegram struct {
	token    string
	endpoint string
	chatID   int64
	client   *http.Client
	commands *Commands
	log      *zap.Logger

	mu  sync.Mutex
	bot *tgbot.BotAPI
}

func NewTelegram(token, endpoint string, chatID int64, commands *Commands, client *http.Client, log *zap.Logger) *Telegram {
	if endpoint == "" {
		endpoint = tgbot.APIEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		token:    token,
		endpoint: endpoint,
		chatID:   chatID,
		client:   client,
		commands: commands,
		log:      log.Named("control"),
	}
}

// Start проверяет токен (getMe) и запускает обработку команд.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbot.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return fmt.Errorf("telegram control: %w", err)
	}
	t.mu.Lock()
	t.bot = bot
	t.mu.Unlock()

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	go func() {
		for update := range updates {
			t.handleUpdate(ctx, bot, update)
		}
	}()
	t.log.Info("control commands enabled", zap.String("bot", bot.Self.UserName))
	return nil
}

func (t *Telegram) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
		t.bot = nil
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, bot *tgbot.BotAPI, update tgbot.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	if msg.Chat.ID != t.chatID {
		t.log.Warn("command from foreign chat", zap.Int64("chat_id", msg.Chat.ID), zap.String("command", msg.Command()))
		return
	}

	reply := tgbot.NewMessage(t.chatID, t.commands.Handle(ctx, msg.Command(), msg.CommandArguments()))
	reply.ParseMode = tgbot.ModeMarkdown
	reply.ReplyToMessageID = msg.MessageID
	if _, err := bot.Send(reply); err != nil {
		t.log.Error("reply failed", zap.String("command", msg.Command()), zap.Error(err))
	}
}
