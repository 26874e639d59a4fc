package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger logs one line per request after it completes. The level
// follows the status code: 5xx at Error, 4xx at Warn, everything else Info.
func RequestLogger(l *Logger) func(http.Handler) http.Handler {
	l = OrNop(l)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			args := []any{
				FieldRequestID, middleware.GetReqID(r.Context()),
				FieldMethod, r.Method,
				FieldPath, r.URL.Path,
				FieldStatusCode, status,
				FieldDuration, time.Since(start).Milliseconds(),
			}

			switch {
			case status >= 500:
				l.ErrorContext(r.Context(), "HTTP request completed", args...)
			case status >= 400:
				l.WarnContext(r.Context(), "HTTP request completed", args...)
			default:
				l.InfoContext(r.Context(), "HTTP request completed", args...)
			}
		})
	}
}
