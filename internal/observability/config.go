package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/pawtrack/internal/config"
)

// Config is the slice of application config the logging, tracing and
// metrics providers need.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string
	SlowQuery time.Duration

	Otel OtelConfig
}

type OtelConfig struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "pawtrack"
	}
	obs := cfg.Observability
	return Config{
		ServiceName: serviceName,
		Environment: strings.TrimSpace(cfg.Environment),
		Version:     strings.TrimSpace(cfg.AppVersion),
		LogLevel:    obs.LogLevel,
		LogFormat:   obs.LogFormat,
		SlowQuery:   obs.SlowQuery,
		Otel: OtelConfig{
			Enabled:       obs.OtelEnabled,
			Endpoint:      obs.OtelEndpoint,
			Protocol:      obs.OtelProtocol,
			SamplingRatio: obs.OtelSamplingRatio,
		},
	}
}

// Debug enables verbose request logs and gin debug mode.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
