package api

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/callshield/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TenantIDHeader is the HTTP header for tenant ID.
	TenantIDHeader = "X-Tenant-ID"

	// RequestIDHeader is the HTTP header for request ID.
	RequestIDHeader = "X-Request-ID"

	// TraceIDHeader is the HTTP header for trace ID.
	TraceIDHeader = "X-Trace-ID"

	// maxTenantIDLen bounds tenant IDs, which end up in cache keys and bus subjects.
	maxTenantIDLen = 64
)

type contextKey struct{}

// requestInfo is shared by the middleware chain. Inner middleware fill it in
// so that the access log, written on the way out, sees the resolved tenant.
type requestInfo struct {
	requestID string
	traceID   string
	tenantID  string
}

func infoFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(contextKey{}).(*requestInfo); ok {
		return info
	}
	return nil
}

var tracer = otel.Tracer("callshield-api")

// TracingMiddleware assigns the request ID, opens the request span and
// marks it failed on 5xx responses.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := &requestInfo{requestID: r.Header.Get(RequestIDHeader)}
		if info.requestID == "" {
			info.requestID = uuid.New().String()
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String("request.id", info.requestID),
			),
		)
		defer span.End()

		info.traceID = info.requestID
		if sc := span.SpanContext(); sc.TraceID().IsValid() {
			info.traceID = sc.TraceID().String()
		}

		w.Header().Set(RequestIDHeader, info.requestID)
		w.Header().Set(TraceIDHeader, info.traceID)

		rec := record(w)
		next.ServeHTTP(rec, r.WithContext(context.WithValue(ctx, contextKey{}, info)))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if info.tenantID != "" {
			span.SetAttributes(attribute.String("tenant.id", info.tenantID))
		}
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}

// LoggingMiddleware writes one access log line per request. Probes are
// logged at debug level.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := record(w)

		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		switch {
		case rec.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case rec.status >= http.StatusBadRequest:
			level = slog.LevelWarn
		case isProbe(r.URL.Path):
			level = slog.LevelDebug
		}

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if info := infoFrom(r.Context()); info != nil {
			attrs = append(attrs,
				"tenant_id", info.tenantID,
				"request_id", info.requestID,
				"trace_id", info.traceID,
			)
		}
		slog.Log(r.Context(), level, "http request", attrs...)
	})
}

func isProbe(path string) bool {
	return path == "/health" || path == "/ready" || path == "/metrics"
}

// TenantMiddleware resolves the tenant from the X-Tenant-ID header, or the
// tenant query parameter for browser WebSocket handshakes, which cannot
// carry custom headers.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(TenantIDHeader)
		if tenantID == "" {
			tenantID = r.URL.Query().Get("tenant")
		}
		if err := validateTenantID(tenantID); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		ctx := r.Context()
		info := infoFrom(ctx)
		if info == nil {
			info = &requestInfo{}
			ctx = context.WithValue(ctx, contextKey{}, info)
		}
		info.tenantID = tenantID
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateTenantID(id string) error {
	switch {
	case id == "":
		return errors.New("X-Tenant-ID header is required")
	case id == domain.GlobalTenantID:
		return errors.New("the global tenant cannot be used for requests")
	case len(id) > maxTenantIDLen:
		return errors.New("tenant ID is too long")
	case strings.ContainsFunc(id, func(c rune) bool { return c <= ' ' || c == 0x7f }):
		return errors.New("tenant ID must not contain whitespace or control characters")
	}
	return nil
}

// CORSMiddleware lets the browser dashboard call the API from another origin.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+TenantIDHeader+", "+RequestIDHeader)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader+", "+TraceIDHeader)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a handler panic into a 500.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				slog.Error("panic recovered",
					"panic", v,
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the response status for the access log and span.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// record wraps w, reusing an outer recorder when there is one.
func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rec *statusRecorder) WriteHeader(code int) {
	if !rec.wroteHeader {
		rec.status = code
		rec.wroteHeader = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	rec.wroteHeader = true
	return rec.ResponseWriter.Write(b)
}

// Flush keeps streaming responses working through the recorder.
func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the event stream upgrade to a WebSocket through the recorder.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rec.status = http.StatusSwitchingProtocols
	rec.wroteHeader = true
	return hj.Hijack()
}

// GetTenantID returns the tenant resolved by TenantMiddleware.
func GetTenantID(ctx context.Context) string {
	if info := infoFrom(ctx); info != nil {
		return info.tenantID
	}
	return ""
}

// GetRequestID returns the request ID assigned by TracingMiddleware.
func GetRequestID(ctx context.Context) string {
	if info := infoFrom(ctx); info != nil {
		return info.requestID
	}
	return ""
}

// GetTraceID returns the trace ID, or the request ID when tracing is off.
func GetTraceID(ctx context.Context) string {
	if info := infoFrom(ctx); info != nil {
		return info.traceID
	}
	return ""
}
