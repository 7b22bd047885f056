package history

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"signal_bot/internal/history"
	"signal_bot/internal/history/pg"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/postgres"
)

// Module — журнал алертов (память или postgres) и сквозная нумерация алертов,
// продолжающая историю.
func Module() fx.Option {
	return fx.Module("history",
		fx.Provide(
			NewStore,
			NewSequence,
		),
	)
}

func NewStore(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (history.Store, error) {
	if cfg.History.Backend != "postgres" {
		log.Warn("history is kept in memory and is lost on restart")
		return history.NewMemory(), nil
	}

	ctx := context.Background()
	tx, err := postgres.Connect(ctx, cfg.History.DSN)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	store := pg.New(tx)
	if cfg.History.Migrate {
		if err := store.Migrate(ctx); err != nil {
			tx.Close()
			return nil, err
		}
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tx.Close()
			return nil
		},
	})
	log.Info("history backend: postgres")
	return store, nil
}

func NewSequence(store history.Store) (*models.Sequence, error) {
	last, err := store.LastAlertID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("history: last alert id: %w", err)
	}
	return models.NewSequence(last), nil
}
