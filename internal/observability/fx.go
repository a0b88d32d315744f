package observability

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/logger"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/observability/metrics"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/observability/tracing"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLogger,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewHTTPMetrics,
	),
	fx.Invoke(ensureTracingProvider),
	fx.Invoke(ensureSchedulerMetrics),
	fx.Invoke(ensurePaymentMetrics),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

func provideLogger(cfg Config) (*zap.Logger, error) {
	return logger.New(cfg.LogLevel, cfg.ServiceName)
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}
}

func ensureSchedulerMetrics(cfg metrics.Config) {
	metrics.SchedulerWithConfig(cfg)
}

func ensurePaymentMetrics(cfg metrics.Config) {
	metrics.PaymentsWithConfig(cfg)
}
