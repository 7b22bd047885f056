package tracing

import (
	"context"
	"fmt"
	"io"
	"signal_bot/pkg/logger"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

var (
	serviceName = "signal_bot"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

type Config struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// InitTracer поднимает jaeger и делает его глобальным. При Enabled=false
// остаётся noop-трейсер opentracing, вызовы StartSpan ничего не стоят.
func InitTracer(conf Config) (opentracing.Tracer, func(), error) {
	if !conf.Enabled {
		return opentracing.GlobalTracer(), func() {}, nil
	}

	cfg := &jCfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jCfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           true,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	jMetricsFactory := metrics.NullFactory
	tracer, closer, err := cfg.NewTracer(
		jCfg.Metrics(jMetricsFactory),
	)
	if err != nil {
		return nil, nil, err
	}

	opentracing.SetGlobalTracer(tracer)
	return tracer, closeFn(closer), nil
}

func closeFn(closer io.Closer) func() {
	return func() {
		if err := closer.Close(); err != nil {
			logger.Error("Error closing Jaeger tracer: %v", err)
		}
	}
}

// StartSpan — тонкая обёртка, чтобы не тащить opentracing в каждый пакет.
func StartSpan(ctx context.Context, op string, tags map[string]any) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, op)
	for k, v := range tags {
		span.SetTag(k, v)
	}
	return span, ctx
}

// Fail помечает span ошибкой.
func Fail(span opentracing.Span, err error) {
	if span == nil || err == nil {
		return
	}
	ext.Error.Set(span, true)
	span.SetTag("error.message", err.Error())
}
