package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"signal_bot/internal/history"
	"signal_bot/internal/models"
	"signal_bot/pkg/metrics"
	"signal_bot/pkg/tracing"
)

// Journal — куда пишутся алерты и попытки доставки.
type Journal interface {
	AppendAlert(ctx context.Context, a models.Alert) error
	AppendAttempt(ctx context.Context, at models.DeliveryAttempt) error
}

type Options struct {
	IntakeBuffer int
	Sequence     *models.Sequence // общий с агрегаторами, для id алертов-эскалаций
	Metrics      *metrics.Recorder
	Clock        func() time.Time
}

const DefaultIntakeBuffer = 256

type submission struct {
	alert   models.Alert
	targets []string
}

// Dispatcher раздаёт алерты по каналам. У каждого канала своя очередь,
// свои воркеры и своя политика повторов, медленный канал не тормозит
// остальные.
type Dispatcher struct {
	log     *zap.Logger
	journal Journal
	seq     *models.Sequence
	metrics *metrics.Recorder
	now     func() time.Time

	lanes map[string]*lane
	order []string

	mu        sync.RWMutex
	closed    bool
	intake    chan submission
	startOnce sync.Once

	intakeDone chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	workers    sync.WaitGroup
	pending    sync.WaitGroup // доставки в очередях и в работе
}

func New(log *zap.Logger, journal Journal, opts Options) *Dispatcher {
	if opts.IntakeBuffer <= 0 {
		opts.IntakeBuffer = DefaultIntakeBuffer
	}
	if opts.Sequence == nil {
		opts.Sequence = models.NewSequence(0)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Dispatcher{
		log:        log,
		journal:    journal,
		seq:        opts.Sequence,
		metrics:    opts.Metrics,
		now:        opts.Clock,
		lanes:      map[string]*lane{},
		intake:     make(chan submission, opts.IntakeBuffer),
		intakeDone: make(chan struct{}),
		stop:       make(chan struct{}),
	}
}

// Register добавляет канал. Вызывается до Start.
func (d *Dispatcher) Register(ch Channel, cfg LaneConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	id := ch.ID()
	if id == "" {
		return errors.New("notify: channel id is empty")
	}
	if _, ok := d.lanes[id]; ok {
		return fmt.Errorf("notify: channel %q registered twice", id)
	}
	d.lanes[id] = newLane(ch, cfg)
	d.order = append(d.order, id)
	return nil
}

// Start запускает приём и воркеров каналов. Повторный вызов ничего не делает.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.mu.RLock()
		defer d.mu.RUnlock()
		go d.intakeLoop()
		for _, id := range d.order {
			l := d.lanes[id]
			for i := 0; i < l.cfg.Workers; i++ {
				d.workers.Add(1)
				go d.worker(l)
			}
		}
		d.log.Info("dispatcher started", zap.Strings("channels", d.order))
	})
}

// Submit ставит алерт на доставку. Без targets алерт уходит во все
// каналы, принимающие его вид. Сбои каналов сюда не возвращаются.
func (d *Dispatcher) Submit(ctx context.Context, a models.Alert, targets ...string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	if err := d.has(targets); err != nil {
		return err
	}

	select {
	case d.intake <- submission{alert: a.Clone(), targets: append([]string(nil), targets...)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Has проверяет, что все каналы зарегистрированы.
func (d *Dispatcher) Has(ids ...string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.has(ids)
}

func (d *Dispatcher) has(ids []string) error {
	for _, id := range ids {
		if _, ok := d.lanes[id]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownChannel, id)
		}
	}
	return nil
}

func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...)
}

func (d *Dispatcher) Stats() map[string]ChannelStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]ChannelStats, len(d.lanes))
	for id, l := range d.lanes {
		out[id] = l.stats()
	}
	return out
}

// TestAll проверяет связь со всеми каналами параллельно. Результат
// обновляет признак здоровья канала.
func (d *Dispatcher) TestAll(ctx context.Context) map[string]bool {
	d.mu.RLock()
	lanes := make([]*lane, 0, len(d.order))
	for _, id := range d.order {
		lanes = append(lanes, d.lanes[id])
	}
	d.mu.RUnlock()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make(map[string]bool, len(lanes))
	)
	for _, l := range lanes {
		wg.Add(1)
		go func(l *lane) {
			defer wg.Done()
			ok := l.ch.TestConnection(ctx)
			l.healthy.Store(ok)
			mu.Lock()
			out[l.ch.ID()] = ok
			mu.Unlock()
		}(l)
	}
	wg.Wait()
	return out
}

// Close перестаёт принимать алерты и дожидается доставки очереди вместе
// с эскалациями, которые она породила. Если
// ctx истёк раньше, ожидание повторов прерывается, а всё недоставленное
// записывается как FAILURE "dispatcher stopped".
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.intake)
	d.mu.Unlock()

	// то, что успели принять до Start, тоже надо доставить
	d.Start()

	done := make(chan struct{})
	go func() {
		<-d.intakeDone
		// эскалации из доставок, что ещё в работе, должны успеть встать в очередь
		settled := make(chan struct{})
		go func() {
			d.pending.Wait()
			close(settled)
		}()
		select {
		case <-settled:
		case <-d.stop:
		}
		for _, id := range d.order {
			d.lanes[id].close()
		}
		d.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
	}

	d.halt()
	<-done
	for _, id := range d.order {
		l := d.lanes[id]
		rest := l.drain()
		for _, a := range rest {
			l.failed.Add(1)
			d.record(l, a, 1, models.OutcomeFailure, ErrDispatcherClosed, true)
			d.pending.Done()
		}
		if len(rest) > 0 {
			d.log.Warn("undelivered alerts on shutdown", zap.String("channel", id), zap.Int("count", len(rest)))
		}
		d.metrics.QueueDepth(id, 0)
	}
	return ctx.Err()
}

func (d *Dispatcher) halt() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *Dispatcher) intakeLoop() {
	defer close(d.intakeDone)
	for s := range d.intake {
		d.dispatch(s.alert, s.targets)
	}
}

// dispatch сохраняет алерт и раскладывает его по очередям каналов.
// Сбой журнала не блокирует доставку.
func (d *Dispatcher) dispatch(a models.Alert, targets []string) {
	if err := d.persist(func(ctx context.Context) error { return d.journal.AppendAlert(ctx, a) }); err != nil {
		d.log.Error("alert not recorded", zap.Int64("alert_id", a.ID), zap.Error(err))
	}
	d.metrics.Alert(string(a.Kind))

	for _, l := range d.targets(a.Kind, targets) {
		d.enqueue(l, a)
	}
}

// targets — каналы доставки, каждый не больше одного раза.
func (d *Dispatcher) targets(kind models.AlertKind, ids []string) []*lane {
	var out []*lane
	if len(ids) > 0 {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, d.lanes[id])
		}
		return out
	}
	for _, id := range d.order {
		if l := d.lanes[id]; l.accepts(kind) {
			out = append(out, l)
		}
	}
	return out
}

func (d *Dispatcher) enqueue(l *lane, a models.Alert) {
	d.pending.Add(1)
	dropped, ok := l.push(a)
	if !ok {
		d.pending.Done()
		l.failed.Add(1)
		d.record(l, a, 1, models.OutcomeFailure, ErrDispatcherClosed, true)
		return
	}
	if dropped != nil {
		l.dropped.Add(1)
		d.log.Warn("channel queue overflow, oldest alert dropped",
			zap.String("channel", l.ch.ID()), zap.Int64("alert_id", dropped.ID))
		d.record(l, *dropped, 1, models.OutcomeFailure, ErrQueueOverflow, true)
		d.pending.Done()
	}
	d.metrics.QueueDepth(l.ch.ID(), l.len())
}

func (d *Dispatcher) worker(l *lane) {
	defer d.workers.Done()
	for {
		if !l.waitToken(d.stop) {
			return
		}
		a, ok := l.pop(d.stop)
		if !ok {
			return
		}
		d.metrics.QueueDepth(l.ch.ID(), l.len())
		d.deliver(l, a)
		d.pending.Done()
	}
}

// deliver — попытки доставки одного алерта в один канал до итоговой.
func (d *Dispatcher) deliver(l *lane, a models.Alert) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.BaseBackoff
	bo.MaxInterval = l.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	id := l.ch.ID()
	for n := 1; ; n++ {
		outcome, took, err := d.attempt(l, a, n)
		final := err == nil || IsPermanent(err) || n >= l.cfg.MaxAttempts
		switch {
		case err == nil:
			l.sent.Add(1)
			l.healthy.Store(true)
		case final:
			l.failed.Add(1)
			l.healthy.Store(false)
		default:
			l.retries.Add(1)
		}
		d.record(l, a, n, outcome, err, final)
		d.metrics.Attempt(id, string(outcome), took)

		if err == nil {
			d.log.Debug("alert delivered", zap.String("channel", id), zap.Int64("alert_id", a.ID), zap.Int("attempt", n))
			return
		}
		d.log.Warn("delivery attempt failed",
			zap.String("channel", id), zap.Int64("alert_id", a.ID),
			zap.Int("attempt", n), zap.Bool("final", final), zap.Error(err))
		if final {
			if IsPermanent(err) {
				d.escalate(l, a, err)
			}
			return
		}

		t := time.NewTimer(bo.NextBackOff())
		select {
		case <-t.C:
		case <-d.stop:
			t.Stop()
			l.failed.Add(1)
			d.record(l, a, n+1, models.OutcomeFailure, ErrDispatcherClosed, true)
			return
		}
	}
}

func (d *Dispatcher) attempt(l *lane, a models.Alert, n int) (outcome models.Outcome, took time.Duration, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.AttemptTimeout)
	defer cancel()

	span, ctx := tracing.StartSpan(ctx, "notify.deliver", map[string]any{
		"channel":  l.ch.ID(),
		"alert_id": a.ID,
		"attempt":  n,
	})
	defer span.Finish()

	start := time.Now()
	err = send(ctx, l.ch, a.Clone())
	took = time.Since(start)
	tracing.Fail(span, err)

	switch {
	case err == nil:
		return models.OutcomeSuccess, took, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return models.OutcomeTimeout, took, err
	}
	return models.OutcomeFailure, took, err
}

// send — паника в канале считается обычной ошибкой попытки.
func send(ctx context.Context, ch Channel, a models.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", ch.ID(), r)
		}
	}()
	return ch.Send(ctx, a)
}

// escalate отправляет ERROR-алерт о неповторяемом отказе во все
// остальные здоровые каналы. ERROR-алерты не эскалируются.
func (d *Dispatcher) escalate(failed *lane, a models.Alert, cause error) {
	if a.Kind == models.AlertError {
		return
	}
	var targets []string
	for _, id := range d.order {
		if l := d.lanes[id]; l != failed && l.healthy.Load() {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		d.log.Error("no healthy channel to report delivery failure",
			zap.String("channel", failed.ch.ID()), zap.Int64("alert_id", a.ID))
		return
	}

	e := models.NewErrorAlert(
		"DeliveryPermanentFailure",
		fmt.Sprintf("channel %s rejected alert #%d: %v", failed.ch.ID(), a.ID, cause),
		fmt.Sprintf("channel=%s alert_id=%d kind=%s", failed.ch.ID(), a.ID, a.Kind),
	)
	e.ID = d.seq.Next()
	e.Symbol = a.Symbol
	e.Strategy = a.Strategy
	e.CreatedAt = d.now().UTC()
	d.dispatch(e, targets)
}

func (d *Dispatcher) record(l *lane, a models.Alert, n int, outcome models.Outcome, cause error, terminal bool) {
	at := models.DeliveryAttempt{
		AlertID:     a.ID,
		Channel:     l.ch.ID(),
		Attempt:     n,
		Outcome:     outcome,
		Terminal:    terminal,
		AttemptedAt: d.now().UTC(),
	}
	if cause != nil {
		at.Error = cause.Error()
	}
	if err := d.persist(func(ctx context.Context) error { return d.journal.AppendAttempt(ctx, at) }); err != nil {
		d.log.Error("delivery attempt not recorded",
			zap.String("channel", at.Channel), zap.Int64("alert_id", at.AlertID), zap.Int("attempt", n), zap.Error(err))
	}
}

// persist повторяет запись в журнал на временных сбоях хранилища.
func (d *Dispatcher) persist(op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second

	return backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := op(ctx)
		if errors.Is(err, history.ErrDuplicate) || errors.Is(err, history.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(bo, 3))
}
