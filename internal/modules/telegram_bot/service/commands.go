package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"signal_bot/internal/history"
	"signal_bot/internal/models"
	"signal_bot/internal/notify"
	"signal_bot/internal/runner"
)

const (
	defaultHistory = 5
	maxHistory     = 50
)

type Strategies interface {
	Statuses() []runner.Status
	Stop(name string) error
}

type Channels interface {
	Stats() map[string]notify.ChannelStats
	TestAll(ctx context.Context) map[string]bool
}

// Commands — ответы на команды оператора. Сам по себе в сеть не ходит.
type Commands struct {
	strategies Strategies
	channels   Channels
	history    history.Store
}

func NewCommands(s Strategies, c Channels, h history.Store) *Commands {
	return &Commands{strategies: s, channels: c, history: h}
}

// Handle возвращает текст ответа на команду (Markdown).
func (c *Commands) Handle(ctx context.Context, command, args string) string {
	switch command {
	case "start", "help":
		return c.help()
	case "status":
		return c.status()
	case "channels":
		return c.stats()
	case "history":
		return c.recent(ctx, args)
	case "stop":
		return c.stop(args)
	case "test":
		return c.test(ctx)
	}
	return "Неизвестная команда. /help — список команд"
}

func (c *Commands) help() string {
	return "*Команды*\n\n" +
		"/status — стратегии\n" +
		"/channels — каналы доставки\n" +
		"/history [N] [KIND] — последние алерты\n" +
		"/stop <стратегия> — остановить стратегию\n" +
		"/test — проверить связь с каналами"
}

func (c *Commands) status() string {
	st := c.strategies.Statuses()
	if len(st) == 0 {
		return "Стратегий нет"
	}
	var b strings.Builder
	b.WriteString("*📊 Стратегии*\n")
	for _, s := range st {
		state := "▶️"
		if !s.Running {
			state = "⏹"
		}
		fmt.Fprintf(&b, "\n%s `%s` %s\nтиков: %d, алертов: %d, отброшено баров: %d\n",
			state, s.Strategy, s.Symbol, s.Ticks, s.Alerts, s.Rejected)
		if !s.LastBar.IsZero() {
			fmt.Fprintf(&b, "последний бар: %s\n", s.LastBar.Format("2006-01-02 15:04"))
		}
		if s.Error != "" {
			fmt.Fprintf(&b, "⚠️ %s\n", s.Error)
		}
	}
	return b.String()
}

func (c *Commands) stats() string {
	stats := c.channels.Stats()
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("*📡 Каналы*\n")
	for _, id := range ids {
		s := stats[id]
		fmt.Fprintf(&b, "\n`%s` %s\nотправлено: %d, ошибок: %d, повторов: %d, выброшено: %d, в очереди: %d\n",
			id, onOff(s.Healthy), s.Sent, s.Failed, s.Retries, s.Dropped, s.Queued)
	}
	return b.String()
}

func (c *Commands) recent(ctx context.Context, args string) string {
	f := models.Filter{Limit: defaultHistory}
	for _, a := range strings.Fields(args) {
		if kind, err := models.ParseAlertKind(a); err == nil {
			f.Kind = kind
			continue
		}
		f.Limit = intArg(a, defaultHistory, maxHistory)
	}

	recs, err := c.history.Query(ctx, f)
	if err != nil {
		return "❗️ История недоступна: " + err.Error()
	}
	if len(recs) == 0 {
		return "📭 Алертов нет"
	}
	var b strings.Builder
	b.WriteString("*🕘 Последние алерты*\n")
	for _, r := range recs {
		a := r.Alert
		fmt.Fprintf(&b, "\n#%d %s %s", a.ID, a.CreatedAt.Format("01-02 15:04"), notify.Title(a))
		if a.Kind == models.AlertSignal || a.Kind == models.AlertTrade {
			fmt.Fprintf(&b, " @ %s", f2(a.Price))
		}
		b.WriteString("\n")
		for _, at := range r.Attempts {
			if at.Terminal {
				fmt.Fprintf(&b, "  %s: %s\n", at.Channel, at.Outcome)
			}
		}
	}
	return b.String()
}

func (c *Commands) stop(args string) string {
	name := strings.TrimSpace(args)
	if name == "" {
		return "Укажи стратегию: /stop <имя>"
	}
	if err := c.strategies.Stop(name); err != nil {
		return "⚠️ " + err.Error()
	}
	return fmt.Sprintf("⏹ Стратегия `%s` остановлена", name)
}

func (c *Commands) test(ctx context.Context) string {
	res := c.channels.TestAll(ctx)
	ids := make([]string, 0, len(res))
	for id := range res {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("*🧪 Проверка каналов*\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "`%s`: %s\n", id, onOff(res[id]))
	}
	return b.String()
}
