package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder — счётчики конвейера сигналов и доставки. Nil-безопасен:
// компоненты без метрик получают nil и ничего не пишут.
type Recorder struct {
	barsAccepted *prometheus.CounterVec
	barsRejected *prometheus.CounterVec
	ticks        *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
	halted       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		barsAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_bot_bars_accepted_total",
			Help: "Bars accepted by the timeframe synchronizer",
		}, []string{"strategy", "timeframe"}),
		barsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_bot_bars_rejected_total",
			Help: "Bars rejected as out-of-order or duplicate",
		}, []string{"strategy", "timeframe"}),
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_bot_ticks_total",
			Help: "Aligned ticks evaluated",
		}, []string{"strategy"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_bot_alerts_total",
			Help: "Alerts produced",
		}, []string{"kind"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_bot_delivery_attempts_total",
			Help: "Delivery attempts per channel and outcome",
		}, []string{"channel", "outcome"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signal_bot_channel_queue_depth",
			Help: "Deliveries waiting in a channel queue",
		}, []string{"channel"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signal_bot_delivery_duration_seconds",
			Help:    "Duration of a single delivery attempt",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		halted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_bot_instances_halted_total",
			Help: "Strategy instances halted by evaluation errors",
		}, []string{"strategy"}),
	}
}

func (r *Recorder) BarAccepted(strategy, tf string) {
	if r == nil {
		return
	}
	r.barsAccepted.WithLabelValues(strategy, tf).Inc()
}

func (r *Recorder) BarRejected(strategy, tf string) {
	if r == nil {
		return
	}
	r.barsRejected.WithLabelValues(strategy, tf).Inc()
}

func (r *Recorder) Tick(strategy string) {
	if r == nil {
		return
	}
	r.ticks.WithLabelValues(strategy).Inc()
}

func (r *Recorder) Alert(kind string) {
	if r == nil {
		return
	}
	r.alerts.WithLabelValues(kind).Inc()
}

func (r *Recorder) Attempt(channel, outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(channel, outcome).Inc()
	r.latency.WithLabelValues(channel).Observe(took.Seconds())
}

func (r *Recorder) QueueDepth(channel string, n int) {
	if r == nil {
		return
	}
	r.queueDepth.WithLabelValues(channel).Set(float64(n))
}

func (r *Recorder) Halted(strategy string) {
	if r == nil {
		return
	}
	r.halted.WithLabelValues(strategy).Inc()
}
