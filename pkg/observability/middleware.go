package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware records a span and request metrics for every status server
// request. Either argument may be nil to skip that side.
func HTTPMiddleware(tracer trace.Tracer, recorder Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var span trace.Span
			ctx := r.Context()
			if tracer != nil {
				ctx, span = tracer.Start(ctx, SpanHTTPRequest,
					trace.WithAttributes(
						attribute.String(AttrHTTPMethod, r.Method),
						attribute.String(AttrHTTPPath, r.URL.Path),
					),
				)
				defer span.End()
			}

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			duration := time.Since(start)

			if span != nil {
				span.SetAttributes(
					attribute.Int(AttrHTTPStatus, wrapped.statusCode),
					attribute.Int64(AttrHTTPRespSize, int64(wrapped.bytesWritten)),
				)
				if wrapped.statusCode >= 400 {
					span.SetAttributes(attribute.String(AttrErrorType, fmt.Sprintf("HTTP %d", wrapped.statusCode)))
				}
			}

			if recorder != nil {
				recorder.RecordHTTPRequest(ctx, r.Method, r.URL.Path, wrapped.statusCode, duration)
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	wroteHeader  bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

// Hijack implements http.Hijacker.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("ResponseWriter does not implement http.Hijacker")
}

// Flush implements http.Flusher.
func (w *responseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
