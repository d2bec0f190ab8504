// Package httpmw provides net/http middleware shared by the
// orchestrator's control HTTP server.
package httpmw

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/specifiedcodes/devos-orchestrator/internal/tracing"
)

// OtelTracing wraps handler in an OTel span per request. When tracing is
// disabled (no OTEL_EXPORTER_OTLP_ENDPOINT), this is a no-op.
func OtelTracing(serverName string, handler http.Handler) http.Handler {
	tracer := tracing.Tracer(serverName)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		spanName := fmt.Sprintf("%s %s", r.Method, r.URL.Path)

		ctx, span := tracer.Start(r.Context(), spanName)
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.HTTPRouteKey.String(r.URL.Path),
			semconv.HTTPResponseStatusCodeKey.Int(sw.status),
		)
		if sw.status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", sw.status))
		}
	})
}

// statusWriter captures the status code written by the wrapped handler,
// since http.ResponseWriter does not expose it after the fact.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
