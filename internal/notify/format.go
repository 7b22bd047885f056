package notify

import (
	"fmt"
	"strings"
	"time"

	"signal_bot/internal/models"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Title — заголовок уведомления по виду алерта.
func Title(a models.Alert) string {
	switch a.Kind {
	case models.AlertSignal:
		return fmt.Sprintf("📊 %s Signal", a.Strategy)
	case models.AlertTrade:
		return fmt.Sprintf("🚨 %s Alert", a.Side)
	case models.AlertError:
		return "🚨 " + nonEmpty(a.ErrorType, "Error")
	case models.AlertMarketUpdate:
		dir := "➡️"
		switch {
		case a.Change > 0:
			dir = "📈"
		case a.Change < 0:
			dir = "📉"
		}
		return fmt.Sprintf("%s %s Update", dir, a.Symbol)
	}
	return nonEmpty(a.Title, "Trading Alert")
}

// Body — текст уведомления без разметки.
func Body(a models.Alert) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	switch a.Kind {
	case models.AlertSignal:
		line("Strategy: %s", a.Strategy)
		line("Signal: %s", a.Side)
		line("Symbol: %s", a.Symbol)
		if a.Price > 0 {
			line("Price: %s", price(a.Price))
		}
		if a.Strength > 0 {
			line("Strength: %.2f", a.Strength)
		}
		if len(a.Conditions) > 0 {
			line("Conditions:")
			for _, c := range a.Conditions {
				line("• %s", c)
			}
		}
	case models.AlertTrade:
		line("Symbol: %s", a.Symbol)
		line("Action: %s", a.Side)
		line("Price: %s", price(a.Price))
		if a.Size != nil {
			line("Size: %.4f", *a.Size)
			line("Value: %s", price(a.Price**a.Size))
		}
	case models.AlertError:
		line("Error: %s", a.Message)
		if a.Context != "" {
			line("Context: %s", a.Context)
		}
	case models.AlertMarketUpdate:
		line("Symbol: %s", a.Symbol)
		line("Price: %s", price(a.Price))
		line("Change: %+.2f (%+.2f%%)", a.Change, a.ChangePct)
		if a.Volume > 0 {
			line("Volume: %.0f", a.Volume)
		}
	default:
		line("%s", a.Message)
	}
	line("Time: %s", stamp(a.CreatedAt))
	return strings.TrimRight(b.String(), "\n")
}

// Markdown — тот же текст для telegram (parse mode Markdown).
func Markdown(a models.Alert) string {
	return "*" + escapeMarkdown(Title(a)) + "*\n" + escapeMarkdown(Body(a))
}

func escapeMarkdown(s string) string {
	r := strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")
	return r.Replace(s)
}

func price(v float64) string { return fmt.Sprintf("$%.2f", v) }

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
