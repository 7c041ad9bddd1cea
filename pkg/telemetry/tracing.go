// Package telemetry wires OpenTelemetry tracing for rule resolution, config
// loading and hook dispatch.
package telemetry

import (
	"context"

	"github.com/jingkaihe/activator/pkg/version"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Sampler names accepted in Config.Sampler
const (
	SamplerAlways = "always"
	SamplerNever  = "never"
	SamplerRatio  = "ratio"
)

// Config controls tracing. It maps onto the `tracing.*` configuration keys.
type Config struct {
	Enabled bool
	// Sampler is one of SamplerAlways, SamplerNever or SamplerRatio
	Sampler string
	// Ratio is the fraction of root traces sampled by SamplerRatio
	Ratio float64
	// Endpoint overrides OTEL_EXPORTER_OTLP_TRACES_ENDPOINT when set,
	// e.g. http://localhost:4318/v1/traces
	Endpoint string
}

// Validate checks the sampler settings
func (c Config) Validate() error {
	switch c.Sampler {
	case "", SamplerAlways, SamplerNever:
	case SamplerRatio:
		if c.Ratio < 0 || c.Ratio > 1 {
			return errors.Errorf("tracing ratio must be between 0 and 1, got %v", c.Ratio)
		}
	default:
		return errors.Errorf("unknown tracing sampler %q (want always, never or ratio)", c.Sampler)
	}
	return nil
}

// InitTracer installs a global tracer provider exporting over OTLP/HTTP. The
// returned shutdown flushes pending spans. When tracing is disabled the
// global no-op provider stays in place.
func InitTracer(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(buildAttributes(version.Get())...),
		resource.WithHost(),
		resource.WithProcessPID(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create tracing resource")
	}

	var exporterOpts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		exporterOpts = append(exporterOpts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create trace exporter")
	}

	provider := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(exporter),
		trace.WithSampler(sampler(cfg)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Shutting the provider down flushes the batcher and then the exporter.
	return provider.Shutdown, nil
}

// buildAttributes describes this binary on every exported span
func buildAttributes(info version.Info) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceName(DefaultTracerName),
		semconv.ServiceVersion(info.Version),
		attribute.String("vcs.revision", info.GitCommit),
		attribute.String("build.time", info.BuildTime),
		attribute.String("process.runtime.version", info.GoVersion),
	}
}

func sampler(cfg Config) trace.Sampler {
	switch cfg.Sampler {
	case SamplerNever:
		return trace.NeverSample()
	case SamplerRatio:
		return trace.ParentBased(trace.TraceIDRatioBased(cfg.Ratio))
	default:
		return trace.ParentBased(trace.AlwaysSample())
	}
}
