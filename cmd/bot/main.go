package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/feed"
	"signal_bot/internal/modules/health"
	"signal_bot/internal/modules/history"
	logmod "signal_bot/internal/modules/logger"
	"signal_bot/internal/modules/notify"
	telegram "signal_bot/internal/modules/telegram_bot"
	"signal_bot/internal/runner"
)

const stopTimeout = 30 * time.Second

func main() {
	app := fx.New(
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		config.Module(),
		logmod.Module(),
		health.Module(),
		history.Module(),
		notify.Module(),
		feed.Module(),
		runner.Module(),
		telegram.Module(),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		log.Fatal(err)
	}

	<-app.Done()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		log.Fatal(err)
	}
}
