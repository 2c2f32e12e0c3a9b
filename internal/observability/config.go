package observability

import (
	"strings"

	"github.com/smallbiznis/comms/internal/config"
)

const defaultServiceName = "comms"

// Config is the slice of the application config the logging, tracing and
// metrics providers read.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Development bool

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = defaultServiceName
	}

	ratio := cfg.OTelSamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}

	return Config{
		ServiceName:          name,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		Development:          cfg.IsDevelopment(),
		LogLevel:             strings.TrimSpace(cfg.LogLevel),
		LogFormat:            strings.TrimSpace(cfg.LogFormat),
		OtelEnabled:          cfg.OTelEnabled && strings.TrimSpace(cfg.OTLPEndpoint) != "",
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.TrimSpace(cfg.OTLPProtocol),
		OtelSamplingRatio:    ratio,
	}
}

// Debug turns on verbose request logging and error stacks.
func (c Config) Debug() bool {
	return c.Development || strings.EqualFold(c.LogLevel, "debug")
}
