package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// responseWriter records the status the handler wrote.
type responseWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status, w.wrote = code, true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

// Unwrap lets [http.ResponseController] reach the connection, which the
// websocket event stream needs to hijack it.
func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithQuietPaths skips the completion log line for the given exact paths,
// typically probes and /metrics. They are still traced and measured.
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(mw *middleware) {
		for _, p := range paths {
			mw.quiet[p] = struct{}{}
		}
	}
}

type middleware struct {
	metrics *Metrics
	prop    propagation.TextMapPropagator
	quiet   map[string]struct{}
	next    http.Handler
}

// Middleware instruments an API handler. Each request joins the caller's
// W3C trace (or starts one), gets a server span, and is answered with an
// X-Correlation-ID header carrying the trace ID. Request count and latency
// are recorded per matched route pattern, so /recordings/{id} is one series.
// 5xx responses mark the span as an error.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	base := middleware{
		metrics: m,
		prop:    propagation.TraceContext{},
		quiet:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(&base)
	}
	return func(next http.Handler) http.Handler {
		mw := base
		mw.next = next
		return &mw
	}
}

func (mw *middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := mw.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	cid := CorrelationID(ctx)
	w.Header().Set("X-Correlation-ID", cid)
	mw.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
	r = r.WithContext(ctx)
	mw.next.ServeHTTP(rw, r)

	// The mux fills r.Pattern on the request it was handed.
	route := r.Pattern
	if route == "" {
		route = r.URL.Path
	}
	elapsed := time.Since(start)
	method, path := attribute.String("method", r.Method), attribute.String("path", route)
	mw.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(method, path))
	mw.metrics.HTTPRequests.Add(ctx, 1, metric.WithAttributes(method, path,
		attribute.String("status_class", statusClass(rw.status))))

	span.SetAttributes(semconv.HTTPResponseStatusCode(rw.status), semconv.HTTPRoute(route))
	if rw.status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(rw.status))
	}

	if _, ok := mw.quiet[r.URL.Path]; ok {
		return
	}
	level := slog.LevelInfo
	if rw.status >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	slog.LogAttrs(ctx, level, "request completed",
		slog.String("trace_id", cid),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rw.status),
		slog.Duration("duration", elapsed),
	)
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
