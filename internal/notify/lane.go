package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"signal_bot/internal/models"
)

// LaneConfig — политика доставки одного канала.
type LaneConfig struct {
	MaxAttempts    int                // попыток всего, включая первую
	BaseBackoff    time.Duration      // первая пауза между попытками
	MaxBackoff     time.Duration      // потолок паузы
	AttemptTimeout time.Duration      // таймаут одной попытки
	RatePerMinute  int                // 0 — без ограничения
	QueueDepth     int                // сколько доставок ждёт в очереди
	Workers        int                // воркеры канала; 1 сохраняет порядок доставки
	Kinds          []models.AlertKind // пусто — все виды алертов
}

const (
	DefaultMaxAttempts    = 3
	DefaultBaseBackoff    = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultAttemptTimeout = 10 * time.Second
	DefaultQueueDepth     = 100
)

func (c LaneConfig) withDefaults() LaneConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = max(DefaultMaxBackoff, c.BaseBackoff)
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// ChannelStats — счётчики канала для /healthz и операторов.
type ChannelStats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Retries int64 `json:"retries"`
	Queued  int   `json:"queued"`
	Healthy bool  `json:"healthy"`
}

// lane — очередь и воркеры одного канала. Очередь ограничена: при
// переполнении выкидывается самая старая ещё не начатая доставка.
type lane struct {
	ch      Channel
	cfg     LaneConfig
	limiter *rate.Limiter
	kinds   map[models.AlertKind]bool

	mu      sync.Mutex
	queue   []models.Alert
	closed  bool
	ready   chan struct{}
	closing chan struct{}

	sent, failed, dropped, retries atomic.Int64
	healthy                        atomic.Bool
}

func newLane(ch Channel, cfg LaneConfig) *lane {
	cfg = cfg.withDefaults()
	l := &lane{
		ch:      ch,
		cfg:     cfg,
		queue:   make([]models.Alert, 0, cfg.QueueDepth),
		ready:   make(chan struct{}, 1),
		closing: make(chan struct{}),
	}
	if cfg.RatePerMinute > 0 {
		l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	if len(cfg.Kinds) > 0 {
		l.kinds = make(map[models.AlertKind]bool, len(cfg.Kinds))
		for _, k := range cfg.Kinds {
			l.kinds[k] = true
		}
	}
	l.healthy.Store(true)
	return l
}

func (l *lane) accepts(kind models.AlertKind) bool {
	return l.kinds == nil || l.kinds[kind]
}

// push ставит доставку в очередь. ok=false — канал уже закрыт.
// dropped — вытесненная доставка, если очередь была полна.
func (l *lane) push(a models.Alert) (dropped *models.Alert, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false
	}
	if len(l.queue) >= l.cfg.QueueDepth {
		old := l.queue[0]
		l.queue = l.queue[1:]
		dropped = &old
	}
	l.queue = append(l.queue, a)
	l.signal()
	return dropped, true
}

// pop ждёт следующую доставку. false — канал закрыт и пуст, либо stop.
func (l *lane) pop(stop <-chan struct{}) (models.Alert, bool) {
	for {
		select {
		case <-stop:
			return models.Alert{}, false
		default:
		}

		l.mu.Lock()
		if len(l.queue) > 0 {
			a := l.queue[0]
			l.queue = l.queue[1:]
			if len(l.queue) > 0 {
				l.signal()
			}
			l.mu.Unlock()
			return a, true
		}
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return models.Alert{}, false
		}

		select {
		case <-l.ready:
		case <-l.closing:
		case <-stop:
			return models.Alert{}, false
		}
	}
}

// waitToken — ограничение частоты канала. Токен берётся до того, как
// доставка снята с очереди, так что лишние доставки копятся в очереди.
func (l *lane) waitToken(stop <-chan struct{}) bool {
	if l.limiter == nil {
		return true
	}
	r := l.limiter.Reserve()
	t := time.NewTimer(r.Delay())
	defer t.Stop()

	closing := l.closing
	for {
		select {
		case <-t.C:
			return true
		case <-stop:
			r.Cancel()
			return false
		case <-closing:
			if l.len() == 0 {
				r.Cancel()
				return false
			}
			closing = nil
		}
	}
}

func (l *lane) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.closing)
}

// drain забирает всё, что не успели доставить.
func (l *lane) drain() []models.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	rest := l.queue
	l.queue = nil
	return rest
}

func (l *lane) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *lane) stats() ChannelStats {
	return ChannelStats{
		Sent:    l.sent.Load(),
		Failed:  l.failed.Load(),
		Dropped: l.dropped.Load(),
		Retries: l.retries.Load(),
		Queued:  l.len(),
		Healthy: l.healthy.Load(),
	}
}

// signal — неблокирующее «в очереди что-то есть».
func (l *lane) signal() {
	select {
	case l.ready <- struct{}{}:
	default:
	}
}
