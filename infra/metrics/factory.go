package metrics

import (
	"context"

	"github.com/fieldops/fsd/core/logger"
	coremetrics "github.com/fieldops/fsd/core/metrics"
)

// NewSink builds the configured metrics stack. Prometheus and InfluxDB
// can be enabled together; with neither enabled the result is a NopSink.
func NewSink(ctx context.Context, cfg coremetrics.Config, log logger.Logger) (coremetrics.Sink, error) {
	cfg.SetDefaults()

	var sinks []coremetrics.Sink
	if cfg.PrometheusEnabled {
		prom, err := NewPromSink()
		if err != nil {
			return nil, err
		}
		StartPromServer(ctx, cfg.PrometheusPort, log)
		sinks = append(sinks, prom)
	}
	if cfg.InfluxEnabled {
		sinks = append(sinks, NewInfluxSinkWithFallback(
			cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, log))
	}

	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
