package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal_bot/internal/aggregator"
	"signal_bot/internal/feed"
	"signal_bot/internal/models"
	"signal_bot/internal/strategy"
	"signal_bot/internal/timeframe"
	"signal_bot/pkg/metrics"
)

// Sink принимает алерты инстанса (notify.Dispatcher).
type Sink interface {
	Submit(ctx context.Context, a models.Alert, targets ...string) error
	Has(ids ...string) error
}

type Options struct {
	Sequence *models.Sequence
	Metrics  *metrics.Recorder

	// ErrorChannel — куда сообщать об остановке по ошибке вычисления.
	// Пусто — во все каналы.
	ErrorChannel string

	// MarketUpdateEvery — период MARKET_UPDATE по младшему таймфрейму, 0 — выключено.
	MarketUpdateEvery time.Duration

	FeedRetryDelay time.Duration
	Clock          func() time.Time

	// OnBar вызывается на каждом принятом тике со временем закрытия бара.
	OnBar func(time.Time)
}

// Status — снимок состояния инстанса для health и логов.
type Status struct {
	RunID    string    `json:"run_id"`
	Strategy string    `json:"strategy"`
	Symbol   string    `json:"symbol"`
	Running  bool      `json:"running"`
	Ticks    int64     `json:"ticks"`
	Alerts   int64     `json:"alerts"`
	Rejected int64     `json:"rejected_bars"`
	LastBar  time.Time `json:"last_bar,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Instance — одна стратегия на одном инструменте. Тики обрабатываются
// строго по одному в одной горутине.
type Instance struct {
	runID string
	cfg   strategy.Config
	feeds []feed.Feed
	sink  Sink
	log   *zap.Logger
	opts  Options

	synch *timeframe.Synchronizer
	agg   *aggregator.Aggregator

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	running  atomic.Bool
	ticks    atomic.Int64
	alerts   atomic.Int64
	rejected atomic.Int64
	lastBar  atomic.Int64

	mu  sync.Mutex
	err error

	// только для горутины run
	last       models.AlignedTick
	lastUpdate *models.Bar
}

// NewInstance проверяет, что все каналы стратегии зарегистрированы, и
// собирает синхронизатор. Ошибка конфигурации — инстанс не создаётся.
func NewInstance(cfg strategy.Config, feeds []feed.Feed, sink Sink, log *zap.Logger, opts Options) (*Instance, error) {
	if len(feeds) == 0 {
		return nil, &strategy.ConfigError{Strategy: cfg.Name, Field: "feeds", Err: errors.New("no feed configured")}
	}
	if err := sink.Has(cfg.Channels...); err != nil {
		return nil, &strategy.ConfigError{Strategy: cfg.Name, Field: "channels", Err: err}
	}
	if opts.ErrorChannel != "" {
		if err := sink.Has(opts.ErrorChannel); err != nil {
			return nil, &strategy.ConfigError{Strategy: cfg.Name, Field: "error_channel", Err: err}
		}
	}
	if opts.Sequence == nil {
		opts.Sequence = models.NewSequence(0)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	synch, err := timeframe.New(cfg.TimeframeList(), cfg.Window)
	if err != nil {
		return nil, &strategy.ConfigError{Strategy: cfg.Name, Field: "timeframes", Err: err}
	}

	runID := uuid.NewString()
	if log == nil {
		log = zap.NewNop()
	}
	return &Instance{
		runID: runID,
		cfg:   cfg,
		feeds: feeds,
		sink:  sink,
		log:   log.With(zap.String("strategy", cfg.Name), zap.String("symbol", cfg.Symbol), zap.String("run_id", runID)),
		opts:  opts,
		synch: synch,
		agg: aggregator.New(cfg, opts.Sequence, aggregator.WithClock(func() time.Time {
			return opts.Clock().UTC()
		})),
		done: make(chan struct{}),
	}, nil
}

func (i *Instance) Name() string { return i.cfg.Name }

// Start запускает цикл инстанса. Повторный вызов ничего не делает.
func (i *Instance) Start(parent context.Context) {
	i.once.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		i.cancel = cancel
		i.running.Store(true)
		go func() {
			defer close(i.done)
			defer i.running.Store(false)
			defer cancel()
			i.run(ctx)
		}()
		i.log.Info("instance started", zap.Int("timeframes", len(i.cfg.Timeframes)), zap.String("policy", string(i.cfg.Policy)))
	})
}

// Stop перестаёт принимать тики и ждёт, пока текущий тик будет обработан.
// Доставки, уже отданные диспетчеру, доводит до конца сам диспетчер.
func (i *Instance) Stop() {
	i.once.Do(func() { close(i.done) })
	if i.cancel != nil {
		i.cancel()
	}
	<-i.done
}

func (i *Instance) Done() <-chan struct{} { return i.done }

// Err — причина остановки, nil если инстанс остановили снаружи или фиды закончились.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

func (i *Instance) Status() Status {
	st := Status{
		RunID:    i.runID,
		Strategy: i.cfg.Name,
		Symbol:   i.cfg.Symbol,
		Running:  i.running.Load(),
		Ticks:    i.ticks.Load(),
		Alerts:   i.alerts.Load(),
		Rejected: i.rejected.Load(),
	}
	if u := i.lastBar.Load(); u != 0 {
		st.LastBar = time.Unix(0, u).UTC()
	}
	if err := i.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

func (i *Instance) run(ctx context.Context) {
	bars := feed.Merge(ctx, i.log.Named("feed"), i.opts.FeedRetryDelay, i.feeds...)
	ticks := i.synch.Run(ctx, bars, i.reject)

	var updates <-chan time.Time
	if i.opts.MarketUpdateEvery > 0 {
		t := time.NewTicker(i.opts.MarketUpdateEvery)
		defer t.Stop()
		updates = t.C
	}

	for {
		select {
		case <-ctx.Done():
			i.log.Info("instance stopped")
			return
		case <-updates:
			i.marketUpdate(ctx)
		case tick, ok := <-ticks:
			if !ok {
				i.log.Info("feeds finished")
				return
			}
			if err := i.step(ctx, tick); err != nil {
				i.halt(err)
				return
			}
		}
	}
}

func (i *Instance) reject(b models.Bar, err error) {
	i.rejected.Add(1)
	i.opts.Metrics.BarRejected(i.cfg.Name, b.Timeframe)
	var rej *timeframe.RejectError
	if errors.As(err, &rej) {
		i.log.Warn("bar rejected",
			zap.String("timeframe", rej.Timeframe),
			zap.Time("time", rej.Time),
			zap.Time("last_accepted", rej.Last))
		return
	}
	i.log.Warn("bar rejected", zap.String("timeframe", b.Timeframe), zap.Time("time", b.Time), zap.Error(err))
}

// step — один тик: голоса таймфреймов, решение, алерт.
func (i *Instance) step(ctx context.Context, tick models.AlignedTick) error {
	i.last = tick
	i.ticks.Add(1)
	i.lastBar.Store(tick.Time.UnixNano())
	if i.opts.OnBar != nil {
		i.opts.OnBar(tick.Time)
	}
	i.opts.Metrics.BarAccepted(i.cfg.Name, tick.Trigger)
	i.opts.Metrics.Tick(i.cfg.Name)

	votes, err := strategy.EvaluateAll(tick, i.cfg)
	if err != nil {
		return err
	}

	alert, ok := i.agg.Aggregate(tick, votes)
	if !ok {
		return nil
	}
	i.alerts.Add(1)
	i.log.Info("signal",
		zap.Int64("alert_id", alert.ID),
		zap.String("side", string(alert.Side)),
		zap.Float64("price", alert.Price),
		zap.Float64("strength", alert.Strength))
	i.submit(ctx, alert, i.cfg.Channels...)
	return nil
}

// marketUpdate — сводка по последнему закрытому бару младшего таймфрейма.
func (i *Instance) marketUpdate(ctx context.Context) {
	cur, ok := i.latestFinest()
	if !ok {
		return
	}
	var change, pct float64
	if prev := i.lastUpdate; prev != nil {
		if prev.Time.Equal(cur.Time) {
			return
		}
		change = cur.Close - prev.Close
		if prev.Close != 0 {
			pct = change / prev.Close * 100
		}
	}
	i.lastUpdate = &cur

	a := models.NewMarketUpdate(i.cfg.Symbol, cur.Close, change, pct, cur.Volume)
	a.ID = i.opts.Sequence.Next()
	a.Strategy = i.cfg.Name
	a.CreatedAt = i.opts.Clock().UTC()
	i.submit(ctx, a, i.cfg.Channels...)
}

func (i *Instance) latestFinest() (models.Bar, bool) {
	if len(i.cfg.Timeframes) == 0 {
		return models.Bar{}, false
	}
	return i.last.Current(i.cfg.Timeframes[0].Timeframe.ID)
}

// halt останавливает инстанс по ошибке вычисления и сообщает о ней ERROR-алертом.
func (i *Instance) halt(err error) {
	i.mu.Lock()
	i.err = err
	i.mu.Unlock()

	i.opts.Metrics.Halted(i.cfg.Name)
	i.log.Error("instance halted", zap.Error(err))

	a := models.NewErrorAlert(
		"EvaluationError",
		err.Error(),
		fmt.Sprintf("strategy=%s symbol=%s run_id=%s", i.cfg.Name, i.cfg.Symbol, i.runID),
	)
	a.ID = i.opts.Sequence.Next()
	a.Symbol = i.cfg.Symbol
	a.Strategy = i.cfg.Name
	a.CreatedAt = i.opts.Clock().UTC()

	var targets []string
	if i.opts.ErrorChannel != "" {
		targets = []string{i.opts.ErrorChannel}
	}
	i.submit(context.Background(), a, targets...)
}

func (i *Instance) submit(ctx context.Context, a models.Alert, targets ...string) {
	if err := i.sink.Submit(ctx, a, targets...); err != nil {
		i.log.Error("alert not submitted", zap.Int64("alert_id", a.ID), zap.String("kind", string(a.Kind)), zap.Error(err))
	}
}
