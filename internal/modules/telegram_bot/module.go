package telegram

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"signal_bot/internal/history"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/telegram_bot/service"
	"signal_bot/internal/notify"
	"signal_bot/internal/runner"
)

// Module — команды оператора в telegram. Без control.enabled ничего не делает.
func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			func(m *runner.Manager, d *notify.Dispatcher, h history.Store) *service.Commands {
				return service.NewCommands(m, d, h)
			},
		),
		fx.Invoke(
			func(lc fx.Lifecycle, cfg *config.Config, commands *service.Commands, log *zap.Logger) {
				if !cfg.Control.Enabled {
					return
				}
				ch, _ := cfg.TelegramChannel(cfg.Control.Channel)
				t := service.NewTelegram(
					ch.Telegram.Token,
					ch.Telegram.APIEndpoint,
					ch.Telegram.ChatID,
					commands,
					&http.Client{Timeout: 60 * time.Second},
					log,
				)
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						// без связи с telegram сигналы всё равно идут
						if err := t.Start(context.Background()); err != nil {
							log.Error("control commands disabled", zap.Error(err))
						}
						return nil
					},
					OnStop: func(ctx context.Context) error {
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
