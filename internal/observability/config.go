package observability

import (
	"strings"

	"github.com/smallbiznis/settlement/internal/config"
	"github.com/spf13/viper"
)

// Config holds the logging, tracing and metrics settings shared by every binary.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig reads observability overrides from the environment on top of the
// application config. The first env var bound to a key wins.
func LoadConfig(cfg config.Config) Config {
	v := viper.New()
	bindEnv(v, "environment", "DEPLOYMENT_ENV", "ENVIRONMENT")
	bindEnv(v, "version", "SERVICE_VERSION")
	bindEnv(v, "log.level", "LOG_LEVEL")
	bindEnv(v, "log.format", "LOG_FORMAT")
	bindEnv(v, "otel.enabled", "OTEL_ENABLED")
	bindEnv(v, "otel.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	bindEnv(v, "otel.protocol", "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL")
	bindEnv(v, "otel.sampling_ratio", "OTEL_SAMPLING_RATIO")

	v.SetDefault("environment", cfg.Environment)
	v.SetDefault("version", cfg.AppVersion)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("otel.enabled", true)
	v.SetDefault("otel.endpoint", cfg.OTLPEndpoint)
	v.SetDefault("otel.protocol", "grpc")
	v.SetDefault("otel.sampling_ratio", 0.1)

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "settlement"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(v.GetString("environment")),
		Version:              strings.TrimSpace(v.GetString("version")),
		LogLevel:             lower(v.GetString("log.level"), "info"),
		LogFormat:            lower(v.GetString("log.format"), "json"),
		OtelEnabled:          v.GetBool("otel.enabled"),
		OtelExporterEndpoint: strings.TrimSpace(v.GetString("otel.endpoint")),
		OtelExporterProtocol: normalizeProtocol(v.GetString("otel.protocol")),
		OtelSamplingRatio:    clampRatio(v.GetFloat64("otel.sampling_ratio")),
	}
}

func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	return isDevEnv(c.Environment)
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func bindEnv(v *viper.Viper, key string, envs ...string) {
	args := append([]string{key}, envs...)
	_ = v.BindEnv(args...)
}

func lower(value, def string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return def
	}
	return value
}

// normalizeProtocol folds the OTLP protocol names onto the two exporters we build.
func normalizeProtocol(value string) string {
	switch lower(value, "grpc") {
	case "http", "http/protobuf", "http/json":
		return "http"
	default:
		return "grpc"
	}
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}
