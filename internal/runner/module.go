package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	feedmod "signal_bot/internal/modules/feed"
	"signal_bot/internal/modules/health"
	"signal_bot/internal/modules/health/service"
	"signal_bot/internal/strategy"
	"signal_bot/pkg/metrics"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewManager,
			LoadStrategies,
			NewHealthSource,
		),
		fx.Invoke(Run),
	)
}

func LoadStrategies(cfg *config.Config) ([]strategy.Config, error) {
	return strategy.LoadFile(cfg.StrategiesFile)
}

func NewHealthSource(m *Manager) health.SourceOut {
	return health.SourceOut{Source: health.Source{
		Name:   "strategies",
		Report: func() any { return m.Statuses() },
	}}
}

type RunParams struct {
	fx.In
	Lc         fx.Lifecycle
	Cfg        *config.Config
	Log        *zap.Logger
	Manager    *Manager
	Strategies []strategy.Config
	Feeds      feedmod.Factory
	Sink       Sink
	Sequence   *models.Sequence
	Metrics    *metrics.Recorder
	State      *service.State
}

// Run поднимает инстанс на каждую стратегию. Стратегия с ошибкой
// конфигурации пропускается; если не поднялась ни одна, старт падает.
func Run(p RunParams) {
	log := p.Log.Named("runner")
	runCtx, cancel := context.WithCancel(context.Background())

	opts := Options{
		Sequence:          p.Sequence,
		Metrics:           p.Metrics,
		ErrorChannel:      p.Cfg.Runner.ErrorChannel,
		MarketUpdateEvery: p.Cfg.Runner.MarketUpdateEvery,
		FeedRetryDelay:    p.Cfg.Feed.RetryDelay,
		OnBar:             p.State.TouchBar,
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var errs []error
			started := 0
			for _, sc := range p.Strategies {
				if err := startOne(ctx, runCtx, p, sc, opts, log); err != nil {
					log.Error("strategy not started", zap.String("strategy", sc.Name), zap.Error(err))
					errs = append(errs, err)
					continue
				}
				started++
			}
			if started == 0 {
				return fmt.Errorf("runner: no strategy started: %w", errors.Join(errs...))
			}
			p.State.SetReady(true)
			log.Info("strategies running", zap.Int("count", started), zap.Int("failed", len(errs)))
			return nil
		},
		OnStop: func(context.Context) error {
			p.State.SetReady(false)
			cancel()
			p.Manager.StopAll()
			return nil
		},
	})
}

func startOne(ctx, runCtx context.Context, p RunParams, sc strategy.Config, opts Options, log *zap.Logger) error {
	feeds, err := p.Feeds(ctx, sc)
	if err != nil {
		return err
	}
	inst, err := NewInstance(sc, feeds, p.Sink, log, opts)
	if err != nil {
		return err
	}
	if err := p.Manager.Start(runCtx, inst); err != nil {
		return err
	}
	go func() {
		<-inst.Done()
		if err := inst.Err(); err != nil {
			log.Error("strategy halted", zap.String("strategy", sc.Name), zap.Error(err))
		}
	}()
	return nil
}
