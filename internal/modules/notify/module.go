package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"signal_bot/internal/history"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/health"
	"signal_bot/internal/notify"
	"signal_bot/internal/runner"
	"signal_bot/pkg/metrics"
)

const defaultShutdownTimeout = 10 * time.Second

// Module — каналы доставки и диспетчер алертов.
func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			NewDispatcher,
			func(d *notify.Dispatcher) runner.Sink { return d },
			NewHealthSource,
		),
	)
}

type Params struct {
	fx.In
	Lc       fx.Lifecycle
	Cfg      *config.Config
	Log      *zap.Logger
	Journal  history.Store
	Sequence *models.Sequence
	Metrics  *metrics.Recorder
}

func NewDispatcher(p Params) (*notify.Dispatcher, error) {
	log := p.Log.Named("notify")
	d := notify.New(log, p.Journal, notify.Options{
		IntakeBuffer: p.Cfg.Dispatch.IntakeBuffer,
		Sequence:     p.Sequence,
		Metrics:      p.Metrics,
	})

	client := &http.Client{Timeout: 30 * time.Second}
	registered := 0
	for _, cc := range p.Cfg.Channels {
		if !cc.IsEnabled() {
			log.Info("channel disabled", zap.String("channel", cc.ID))
			continue
		}
		ch, err := BuildChannel(cc, log, client)
		if err != nil {
			return nil, err
		}
		lane, err := LaneConfig(cc)
		if err != nil {
			return nil, err
		}
		if err := d.Register(ch, lane); err != nil {
			return nil, err
		}
		registered++
	}
	if registered == 0 {
		return nil, fmt.Errorf("notify: no enabled channels")
	}

	timeout := p.Cfg.Dispatch.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			d.Start()
			for id, ok := range d.TestAll(ctx) {
				if ok {
					log.Info("channel ready", zap.String("channel", id))
				} else {
					log.Warn("channel connection test failed", zap.String("channel", id))
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := d.Close(ctx); err != nil {
				log.Warn("dispatcher stopped with undelivered alerts", zap.Error(err))
			}
			return nil
		},
	})
	return d, nil
}

// BuildChannel собирает канал по его типу.
func BuildChannel(cc config.ChannelConfig, log *zap.Logger, client *http.Client) (notify.Channel, error) {
	switch cc.Type {
	case "console":
		return notify.NewConsole(cc.ID, log, nil), nil
	case "telegram":
		if cc.Telegram.Token == "" || cc.Telegram.ChatID == 0 {
			return nil, fmt.Errorf("channel %s: telegram token and chat_id are required", cc.ID)
		}
		return notify.NewTelegram(cc.ID, cc.Telegram, client), nil
	case "pushover":
		if cc.Pushover.AppToken == "" || cc.Pushover.UserKey == "" {
			return nil, fmt.Errorf("channel %s: pushover app_token and user_key are required", cc.ID)
		}
		return notify.NewPushover(cc.ID, cc.Pushover, client), nil
	case "webhook":
		return notify.NewWebhook(cc.ID, cc.Webhook, client), nil
	}
	return nil, fmt.Errorf("channel %s: unknown type %q", cc.ID, cc.Type)
}

func LaneConfig(cc config.ChannelConfig) (notify.LaneConfig, error) {
	lc := notify.LaneConfig{
		MaxAttempts:    cc.MaxAttempts,
		BaseBackoff:    cc.BaseBackoff,
		MaxBackoff:     cc.MaxBackoff,
		AttemptTimeout: cc.AttemptTimeout,
		RatePerMinute:  cc.RatePerMinute,
		QueueDepth:     cc.QueueDepth,
		Workers:        cc.Workers,
	}
	for _, k := range cc.Kinds {
		kind, err := models.ParseAlertKind(k)
		if err != nil {
			return lc, fmt.Errorf("channel %s: %w", cc.ID, err)
		}
		lc.Kinds = append(lc.Kinds, kind)
	}
	return lc, nil
}

func NewHealthSource(d *notify.Dispatcher) health.SourceOut {
	return health.SourceOut{Source: health.Source{
		Name:   "channels",
		Report: func() any { return d.Stats() },
	}}
}
