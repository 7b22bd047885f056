package feed

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"signal_bot/internal/feed"
	"signal_bot/internal/helper"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/strategy"
)

// Factory строит фиды стратегии, по одному на таймфрейм, уже с индикаторами.
type Factory func(ctx context.Context, cfg strategy.Config) ([]feed.Feed, error)

func Module() fx.Option {
	return fx.Module("feed",
		fx.Provide(NewFactory),
	)
}

func NewFactory(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) Factory {
	log = log.Named("feed")
	if cfg.Feed.Source == "replay" {
		return Replay(cfg.Feed.ReplayFile, log)
	}

	o := &okx{
		cfg:     cfg.Feed,
		log:     log,
		history: feed.History{BaseURL: cfg.Feed.RESTURL, Client: &http.Client{Timeout: 15 * time.Second}},
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			o.closeAll()
			return nil
		},
	})
	return o.build
}

type okx struct {
	cfg     config.FeedConfig
	log     *zap.Logger
	history feed.History

	mu  sync.Mutex
	wss []*feed.WS
}

func (o *okx) build(ctx context.Context, sc strategy.Config) ([]feed.Feed, error) {
	out := make([]feed.Feed, 0, len(sc.Timeframes))
	for _, tf := range sc.TimeframeList() {
		ws, err := feed.NewWS(feed.WSConfig{
			URL:            o.cfg.WSURL,
			Symbol:         sc.Symbol,
			Timeframe:      tf.ID,
			ReconnectDelay: o.cfg.ReconnectDelay,
			PingInterval:   o.cfg.PingInterval,
		}, o.log)
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		o.wss = append(o.wss, ws)
		o.mu.Unlock()

		enriched, err := feed.WithIndicators(ws, sc.Indicators)
		if err != nil {
			return nil, err
		}
		o.warmup(ctx, sc, tf, enriched)
		out = append(out, enriched)
	}
	return out, nil
}

// warmup прогревает индикаторы историей с REST; при неудаче стратегия
// стартует холодной.
func (o *okx) warmup(ctx context.Context, sc strategy.Config, tf models.Timeframe, e *feed.Enriched) {
	if o.cfg.WarmupBars <= 0 || len(sc.Indicators) == 0 {
		return
	}
	bars, err := o.history.Candles(ctx, sc.Symbol, tf.ID, o.cfg.WarmupBars)
	if err != nil {
		o.log.Warn("warmup failed",
			zap.String("strategy", sc.Name),
			zap.String("symbol", sc.Symbol),
			zap.String("tf", tf.ID),
			zap.Error(err))
		return
	}
	e.Prime(bars)
	o.log.Info("warmup done",
		zap.String("strategy", sc.Name),
		zap.String("tf", tf.ID),
		zap.Int("bars", len(bars)))
}

func (o *okx) closeAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ws := range o.wss {
		_ = ws.Close()
	}
	o.wss = nil
}

// Replay читает JSON-массив свечей; {symbol} в пути заменяется инструментом
// стратегии. Таймфрейм свечи нормализуется ("1H", "60m" → "1h"), свечи
// чужих таймфреймов отбрасываются с предупреждением в лог.
func Replay(path string, log *zap.Logger) Factory {
	return func(_ context.Context, sc strategy.Config) ([]feed.Feed, error) {
		file := strings.ReplaceAll(path, "{symbol}", sc.Symbol)
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		var bars []models.Bar
		if err := sonic.Unmarshal(raw, &bars); err != nil {
			return nil, fmt.Errorf("replay %s: %w", file, err)
		}

		known := map[string]bool{}
		for _, tf := range sc.TimeframeList() {
			known[tf.ID] = true
		}
		kept := bars[:0]
		skipped := map[string]int{}
		for _, b := range bars {
			b.Timeframe = helper.NormTF(b.Timeframe)
			if !known[b.Timeframe] {
				skipped[b.Timeframe]++
				continue
			}
			b.Time = b.Time.UTC()
			kept = append(kept, b)
		}
		for tf, n := range skipped {
			log.Warn("replay bars skipped: timeframe not used by strategy",
				zap.String("strategy", sc.Name),
				zap.String("file", file),
				zap.String("tf", tf),
				zap.Int("bars", n))
		}
		// по времени закрытия; при равенстве младший таймфрейм раньше
		period := map[string]time.Duration{}
		for _, tf := range sc.TimeframeList() {
			period[tf.ID] = tf.Period
		}
		sort.SliceStable(kept, func(i, j int) bool {
			if !kept[i].Time.Equal(kept[j].Time) {
				return kept[i].Time.Before(kept[j].Time)
			}
			return period[kept[i].Timeframe] < period[kept[j].Timeframe]
		})

		// один фид на всё: порядок между таймфреймами сохраняется
		enriched, err := feed.WithIndicators(feed.NewSlice(kept...), sc.Indicators)
		if err != nil {
			return nil, err
		}
		return []feed.Feed{enriched}, nil
	}
}
