package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument returns a middleware that wraps the handler with OpenTelemetry
// tracing plus a request counter, wired to the application telemetry.
func Instrument(service string, m *app.Telemetry) Middleware {
	meter := m.MeterProvider().Meter(service)
	requests, err := meter.Int64Counter("http.server.requests")
	if err != nil {
		requests = nil
	}

	return func(next http.Handler) http.Handler {
		counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests != nil {
				requests.Add(r.Context(), 1, metric.WithAttributes(
					attribute.String("http.method", r.Method),
				))
			}
			next.ServeHTTP(w, r)
		})

		return otelhttp.NewHandler(counted, service,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}
