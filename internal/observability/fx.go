package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/pawtrack/internal/observability/logger"
	"github.com/smallbiznis/pawtrack/internal/observability/metrics"
	"github.com/smallbiznis/pawtrack/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		func(cfg Config) logger.Config {
			return logger.Config{
				ServiceName:   cfg.ServiceName,
				Environment:   cfg.Environment,
				Version:       cfg.Version,
				Level:         cfg.LogLevel,
				Format:        cfg.LogFormat,
				Debug:         cfg.Debug(),
				IncludeCaller: true,
			}
		},
		logger.New,
		provideGormLoggerConfig,
		func(cfg Config) tracing.Config {
			return tracing.Config{
				Enabled:          cfg.Otel.Enabled,
				ServiceName:      cfg.ServiceName,
				ServiceVersion:   cfg.Version,
				Environment:      cfg.Environment,
				ExporterEndpoint: cfg.Otel.Endpoint,
				ExporterProtocol: cfg.Otel.Protocol,
				SamplingRatio:    cfg.Otel.SamplingRatio,
			}
		},
		tracing.NewProvider,
		func(cfg Config) metrics.Config {
			return metrics.Config{
				Enabled:          cfg.Otel.Enabled,
				ExporterEndpoint: cfg.Otel.Endpoint,
				ExporterProtocol: cfg.Otel.Protocol,
				ServiceName:      cfg.ServiceName,
				Environment:      cfg.Environment,
			}
		},
		metrics.NewProvider,
		metrics.New,
		func() (*metrics.HTTPMetrics, error) {
			return metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)
		},
	),
	// the tracer provider has no consumers besides the global otel registry
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

// provideGormLoggerConfig logs every statement in debug and otherwise only
// slow statements and errors.
func provideGormLoggerConfig(cfg Config, log *zap.Logger) logger.GormLoggerConfig {
	level := gormlogger.Warn
	if cfg.Debug() {
		level = gormlogger.Info
	}
	return logger.GormLoggerConfig{
		Base:                 log.Named("gorm"),
		Level:                level,
		SlowThreshold:        cfg.SlowQuery,
		IgnoreRecordNotFound: true,
	}
}
