package tracing

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tokenpool"

// Options selects the OTLP collector. An empty Endpoint falls back to
// OTEL_EXPORTER_OTLP_ENDPOINT; if both are empty tracing stays disabled.
type Options struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

var (
	initOnce       sync.Once
	tracerProvider *sdktrace.TracerProvider
)

func noopShutdown(context.Context) error { return nil }

// Init installs a global tracer provider exporting over OTLP gRPC.
// The returned function flushes pending spans and should run at shutdown.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	var initErr error
	initOnce.Do(func() {
		endpoint := strings.TrimSpace(opts.Endpoint)
		if endpoint == "" {
			endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
		}
		if endpoint == "" {
			return
		}

		exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if opts.Insecure {
			exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
		if err != nil {
			initErr = err
			return
		}

		res, err := resource.New(ctx,
			resource.WithAttributes(
				attribute.String("service.name", tracerName),
				attribute.String("service.version", version.Version),
				attribute.String("service.instance.id", hostname()),
			),
			resource.WithProcess(),
			resource.WithFromEnv(),
		)
		if err != nil {
			initErr = err
			return
		}

		ratio := opts.SampleRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 1
		}
		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		)
		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.TraceContext{})
	})

	if initErr != nil {
		return noopShutdown, initErr
	}
	if tracerProvider == nil {
		return noopShutdown, nil
	}
	return tracerProvider.Shutdown, nil
}

// StartSpan starts a span on the component tracer taken from the global provider.
func StartSpan(ctx context.Context, component, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	name := tracerName
	if component != "" {
		name += "/" + component
	}
	return otel.Tracer(name).Start(ctx, spanName, opts...)
}

func hostname() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
