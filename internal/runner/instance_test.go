package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"signal_bot/internal/feed"
	"signal_bot/internal/history"
	"signal_bot/internal/models"
	"signal_bot/internal/notify"
	"signal_bot/internal/notify/notifytest"
	"signal_bot/internal/strategy"
)

var (
	day  = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now  = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	tf1h = models.Timeframe{ID: "1h", Period: time.Hour}
	tf1d = models.Timeframe{ID: "1d", Period: 24 * time.Hour}
)

func bar(tf string, at time.Time, closePx float64) models.Bar {
	return models.Bar{Timeframe: tf, Time: at, Open: closePx, High: closePx, Low: closePx, Close: closePx, Volume: 10}
}

func closeAbove(v float64) strategy.Rule {
	return strategy.Rule{
		Side:     models.SideBuy,
		Strength: 1,
		When:     strategy.Compare{Left: strategy.Field("close"), Op: strategy.OpGT, Right: strategy.Const(v)},
	}
}

func testStrategy(channels ...string) strategy.Config {
	return strategy.Config{
		Name:   "btc-unanimous",
		Symbol: "BTC-USDT",
		Policy: models.PolicyUnanimous,
		Window: 2,
		Timeframes: []strategy.TimeframeRules{
			{Timeframe: tf1h, Rules: []strategy.Rule{closeAbove(100)}},
			{Timeframe: tf1d, Rules: []strategy.Rule{closeAbove(100)}},
		},
		Priority: models.PriorityHigh,
		Channels: channels,
	}
}

// sink запоминает всё, что отдал инстанс.
type sink struct {
	known map[string]bool

	mu      sync.Mutex
	alerts  []models.Alert
	targets [][]string
}

func newSink(ids ...string) *sink {
	s := &sink{known: map[string]bool{}}
	for _, id := range ids {
		s.known[id] = true
	}
	return s
}

func (s *sink) Submit(_ context.Context, a models.Alert, targets ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	s.targets = append(s.targets, targets)
	return nil
}

func (s *sink) Has(ids ...string) error {
	for _, id := range ids {
		if !s.known[id] {
			return fmt.Errorf("%w: %s", notify.ErrUnknownChannel, id)
		}
	}
	return nil
}

func (s *sink) byKind(kind models.AlertKind) []models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Alert
	for _, a := range s.alerts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// blocking отдаёт свечи и дальше ждёт отмены.
func blocking(bars ...models.Bar) feed.Feed {
	var (
		mu  sync.Mutex
		pos int
	)
	return feed.Func(func(ctx context.Context) (models.Bar, error) {
		mu.Lock()
		if pos < len(bars) {
			b := bars[pos]
			pos++
			mu.Unlock()
			return b, nil
		}
		mu.Unlock()
		<-ctx.Done()
		return models.Bar{}, ctx.Err()
	})
}

func scenario() []models.Bar {
	return []models.Bar{
		bar("1d", day, 150),                  // 1h ещё нет: HOLD
		bar("1h", day.Add(time.Hour), 120),   // оба BUY
		bar("1h", day.Add(2*time.Hour), 90),  // 1h HOLD
		bar("1h", day.Add(2*time.Hour), 90),  // дубль
		bar("1h", day.Add(3*time.Hour), 130), // оба BUY
	}
}

type InstanceTestSuite struct {
	suite.Suite
	seq *models.Sequence
}

func TestInstanceTestSuite(t *testing.T) {
	suite.Run(t, new(InstanceTestSuite))
}

func (s *InstanceTestSuite) SetupTest() {
	s.seq = models.NewSequence(0)
}

func (s *InstanceTestSuite) opts() Options {
	return Options{
		Sequence:       s.seq,
		FeedRetryDelay: time.Millisecond,
		Clock:          func() time.Time { return now },
	}
}

func (s *InstanceTestSuite) wait(inst *Instance) {
	select {
	case <-inst.Done():
	case <-time.After(2 * time.Second):
		s.FailNow("instance did not finish")
	}
}

func (s *InstanceTestSuite) TestSignalsFromAlignedTicks() {
	out := newSink("console")
	inst, err := NewInstance(testStrategy("console"), []feed.Feed{feed.NewSlice(scenario()...)}, out, zap.NewNop(), s.opts())
	s.Require().NoError(err)

	inst.Start(context.Background())
	s.wait(inst)
	s.NoError(inst.Err())

	signals := out.byKind(models.AlertSignal)
	s.Require().Len(signals, 2)
	s.Equal(int64(1), signals[0].ID)
	s.Equal(int64(2), signals[1].ID)
	s.Equal(models.SideBuy, signals[0].Side)
	s.Equal(120.0, signals[0].Price)
	s.Equal(130.0, signals[1].Price)
	s.Equal("btc-unanimous", signals[0].Strategy)
	s.Equal(models.PriorityHigh, signals[0].Priority)
	s.Equal(now, signals[0].CreatedAt)
	s.Len(signals[0].Conditions, 2)
	s.Equal([]string{"console"}, out.targets[0])

	st := inst.Status()
	s.False(st.Running)
	s.Equal(int64(4), st.Ticks)
	s.Equal(int64(2), st.Alerts)
	s.Equal(int64(1), st.Rejected)
	s.Equal(day.Add(3*time.Hour), st.LastBar)
	s.Empty(st.Error)
	s.NotEmpty(st.RunID)
}

func (s *InstanceTestSuite) TestEvaluationErrorHaltsInstance() {
	out := newSink("console", "ops")
	opts := s.opts()
	opts.ErrorChannel = "ops"

	bars := []models.Bar{
		bar("1h", day.Add(time.Hour), 120),
		bar("1h", day.Add(2*time.Hour), math.NaN()),
		bar("1h", day.Add(3*time.Hour), 130),
	}
	inst, err := NewInstance(testStrategy(), []feed.Feed{blocking(bars...)}, out, zap.NewNop(), opts)
	s.Require().NoError(err)

	inst.Start(context.Background())
	s.wait(inst)

	s.Require().Error(inst.Err())
	s.ErrorIs(inst.Err(), strategy.ErrEvaluation)

	errs := out.byKind(models.AlertError)
	s.Require().Len(errs, 1)
	s.Equal("EvaluationError", errs[0].ErrorType)
	s.Equal("BTC-USDT", errs[0].Symbol)
	s.Contains(errs[0].Context, "strategy=btc-unanimous")
	s.Equal([]string{"ops"}, out.targets[len(out.targets)-1])

	st := inst.Status()
	s.Equal(int64(2), st.Ticks, "nothing is evaluated after the halt")
	s.NotEmpty(st.Error)
}

func (s *InstanceTestSuite) TestUnknownChannelIsConfigError() {
	_, err := NewInstance(testStrategy("pager"), []feed.Feed{feed.NewSlice()}, newSink("console"), nil, s.opts())
	var cfgErr *strategy.ConfigError
	s.Require().True(errors.As(err, &cfgErr))
	s.Equal("channels", cfgErr.Field)
	s.ErrorIs(err, strategy.ErrConfiguration)
	s.ErrorIs(err, notify.ErrUnknownChannel)

	opts := s.opts()
	opts.ErrorChannel = "pager"
	_, err = NewInstance(testStrategy(), []feed.Feed{feed.NewSlice()}, newSink("console"), nil, opts)
	s.Require().True(errors.As(err, &cfgErr))
	s.Equal("error_channel", cfgErr.Field)

	_, err = NewInstance(testStrategy(), nil, newSink(), nil, s.opts())
	s.Require().True(errors.As(err, &cfgErr))
	s.Equal("feeds", cfgErr.Field)
}

func (s *InstanceTestSuite) TestMarketUpdateFromFinestTimeframe() {
	out := newSink("console")
	opts := s.opts()
	opts.MarketUpdateEvery = 5 * time.Millisecond

	var bars []time.Time
	var mu sync.Mutex
	opts.OnBar = func(t time.Time) {
		mu.Lock()
		defer mu.Unlock()
		bars = append(bars, t)
	}

	inst, err := NewInstance(testStrategy(), []feed.Feed{blocking(bar("1h", day.Add(time.Hour), 90))}, out, zap.NewNop(), opts)
	s.Require().NoError(err)
	inst.Start(context.Background())
	defer inst.Stop()

	s.Eventually(func() bool { return len(out.byKind(models.AlertMarketUpdate)) > 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	updates := out.byKind(models.AlertMarketUpdate)
	s.Require().Len(updates, 1, "same bar is not reported twice")
	s.Equal("BTC-USDT", updates[0].Symbol)
	s.Equal(90.0, updates[0].Price)
	s.Equal(0.0, updates[0].Change)

	mu.Lock()
	s.Equal([]time.Time{day.Add(time.Hour)}, bars)
	mu.Unlock()
}

func (s *InstanceTestSuite) TestStopIsIdempotent() {
	inst, err := NewInstance(testStrategy(), []feed.Feed{blocking()}, newSink(), nil, s.opts())
	s.Require().NoError(err)
	inst.Start(context.Background())
	s.Eventually(func() bool { return inst.Status().Running }, time.Second, time.Millisecond)

	inst.Stop()
	inst.Stop()
	s.False(inst.Status().Running)
	s.NoError(inst.Err())
}

func TestInstanceEndToEndThroughDispatcher(t *testing.T) {
	store := history.NewMemory()
	seq := models.NewSequence(0)
	d := notify.New(zap.NewNop(), store, notify.Options{Sequence: seq})
	phone := notifytest.New("phone")
	require.NoError(t, d.Register(phone, notify.LaneConfig{BaseBackoff: time.Millisecond}))
	d.Start()

	inst, err := NewInstance(testStrategy(), []feed.Feed{feed.NewSlice(scenario()...)}, d, zap.NewNop(), Options{
		Sequence: seq,
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)
	inst.Start(context.Background())
	<-inst.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	assert.Equal(t, []int64{1, 2}, phone.Delivered())

	recs, err := store.Query(context.Background(), models.Filter{Kind: models.AlertSignal})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		term, ok := rec.Terminal("phone")
		require.True(t, ok)
		assert.Equal(t, models.OutcomeSuccess, term.Outcome)
		assert.Equal(t, 1, term.Attempt)
	}
}
