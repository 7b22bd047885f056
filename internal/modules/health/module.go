package health

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/health/service"
	"signal_bot/pkg/metrics"
)

// Source — именованный раздел отчёта /healthz. Модули отдают их в группу "health".
type Source struct {
	Name   string
	Report func() any
}

// SourceOut — удобная обёртка для провайдеров.
type SourceOut struct {
	fx.Out
	Source Source `group:"health"`
}

type MuxParams struct {
	fx.In
	State    *service.State
	Registry *prometheus.Registry
	Sources  []Source `group:"health"`
}

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func NewMetrics(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

func NewMux(p MuxParams) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: стратегии запущены, каналы зарегистрированы
		if !p.State.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"ready":     p.State.Ready(),
			"uptimeSec": int64(p.State.Uptime().Seconds()),
			"lastBarUnix": func() int64 {
				t := p.State.LastBar()
				if t.IsZero() {
					return 0
				}
				return t.Unix()
			}(),
		}
		for _, src := range p.Sources {
			resp[src.Name] = src.Report()
		}
		body, err := sonic.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, mux *http.ServeMux, log *zap.Logger) {
	if cfg.Health.Addr == "" {
		log.Info("health server disabled")
		return
	}
	srv := &http.Server{
		Addr:              cfg.Health.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Health.Addr)
			if err != nil {
				return err
			}
			log.Info("health server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					log.Error("health server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewRegistry,
			NewMetrics,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
