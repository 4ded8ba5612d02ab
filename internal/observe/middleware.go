package observe

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Response headers set by [Middleware].
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
)

// recorder captures the response status. It passes hijacking through so the
// WebSocket routes still upgrade behind the middleware.
type recorder struct {
	http.ResponseWriter
	code     int
	upgraded bool
}

func (r *recorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: hijack not supported")
	}
	c, rw, err := hj.Hijack()
	if err == nil {
		r.upgraded = true
		r.code = http.StatusSwitchingProtocols
	}
	return c, rw, err
}

// Unwrap lets [http.ResponseController] reach the inner writer.
func (r *recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

type middleware struct {
	metrics *Metrics
	log     *slog.Logger
	quiet   map[string]bool
	prop    propagation.TextMapPropagator
}

// WithQuietPaths demotes the completion log of the given paths to debug.
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(m *middleware) {
		for _, p := range paths {
			m.quiet[p] = true
		}
	}
}

// WithRequestLogger sets the logger for request logs. The default is
// slog.Default at the time the middleware is built.
func WithRequestLogger(l *slog.Logger) MiddlewareOption {
	return func(m *middleware) {
		if l != nil {
			m.log = l
		}
	}
}

// Middleware traces, times and logs every request.
//
// It continues an incoming W3C trace or starts one, and names the server
// span after the matched route once the handler returns. The trace ID is sent
// back as X-Correlation-ID. X-Request-ID is echoed when the client sent one
// and generated otherwise. Durations go to [Metrics.HTTPRequestDuration]
// labelled by method and route pattern so path values do not explode label
// cardinality. 5xx responses log at warn.
func Middleware(metrics *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{
		metrics: metrics,
		log:     slog.Default(),
		quiet:   make(map[string]bool),
		prop:    propagation.TraceContext{},
	}
	for _, o := range opts {
		o(m)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(next, w, r)
		})
	}
}

func (m *middleware) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx := m.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	reqID := r.Header.Get(HeaderRequestID)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	cid := CorrelationID(ctx)
	h := w.Header()
	h.Set(HeaderRequestID, reqID)
	if cid != "" {
		h.Set(HeaderCorrelationID, cid)
	}
	m.prop.Inject(ctx, propagation.HeaderCarrier(h))

	r = r.WithContext(ctx)
	rec := &recorder{ResponseWriter: w, code: http.StatusOK}
	next.ServeHTTP(rec, r)

	// r.Pattern is set by ServeMux on the request it was handed, which is
	// this one.
	routeName := r.Pattern
	if routeName == "" {
		routeName = r.URL.Path
	} else {
		span.SetName(routeName)
		span.SetAttributes(semconv.HTTPRoute(routeName))
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(rec.code))

	elapsed := time.Since(start)
	m.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("path", routeName),
		),
	)

	level := slog.LevelInfo
	if rec.code >= http.StatusInternalServerError {
		level = slog.LevelWarn
	} else if m.quiet[r.URL.Path] {
		level = slog.LevelDebug
	}
	m.log.LogAttrs(ctx, level, "request completed",
		slog.String("request_id", reqID),
		slog.String("trace_id", cid),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.code),
		slog.Bool("upgraded", rec.upgraded),
		slog.Duration("duration", elapsed),
	)
}
