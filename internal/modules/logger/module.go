package logger

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"signal_bot/internal/modules/config"
	"signal_bot/pkg/logger"
	"signal_bot/pkg/tracing"
)

// Module — процессный логгер и трейсер.
func Module() fx.Option {
	return fx.Module("logger",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
				log, err := logger.Init(cfg.Log.Level, cfg.Log.Dev)
				if err != nil {
					return nil, err
				}
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						_ = log.Sync()
						return nil
					},
				})
				return log, nil
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) error {
			_, closer, err := tracing.InitTracer(cfg.Tracing)
			if err != nil {
				return err
			}
			if cfg.Tracing.Enabled {
				log.Info("tracing enabled", zap.String("host", cfg.Tracing.Host), zap.Int("port", cfg.Tracing.Port))
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					closer()
					return nil
				},
			})
			return nil
		}),
	)
}
