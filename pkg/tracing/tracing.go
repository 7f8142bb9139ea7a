// pkg/tracing/tracing.go
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"hullclient/pkg/config"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

var (
	once     sync.Once
	provider *trace.TracerProvider
)

// Init installs an OTLP tracer provider when an exporter endpoint is
// configured and tracing is enabled. It is safe to call more than once; only
// the first call has an effect. The returned function flushes pending spans.
func Init(cfg config.Config, service string) func(context.Context) error {
	once.Do(func() {
		if !cfg.Tracing {
			return
		}
		// Only initialize OTLP exporter if explicitly configured via env.
		endpoint := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
		if endpoint == "" {
			endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if endpoint == "" {
			return
		}
		opts := []otlptracehttp.Option{}
		if strings.HasPrefix(strings.ToLower(endpoint), "http://") {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(context.Background(), opts...)
		if err != nil {
			fmt.Printf("tracing: exporter init failed (will disable instrumentation): %v\n", err)
			return
		}
		res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(service)))
		if err != nil {
			fmt.Printf("tracing: resource init failed: %v\n", err)
			return
		}
		provider = trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
		otel.SetTracerProvider(provider)
	})
	return func(ctx context.Context) error {
		if provider == nil {
			return nil
		}
		return provider.Shutdown(ctx)
	}
}

// Transport wraps an outbound round tripper with client spans. Without a
// configured provider the spans go to the global no-op tracer.
func Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}

// Handler wraps an inbound handler with server spans once Init has installed
// a provider, and passes through otherwise.
func Handler(next http.Handler, operation string) http.Handler {
	if provider == nil {
		return next
	}
	return otelhttp.NewHandler(next, operation)
}
