package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds each session API request. Handlers observe the
// deadline through the request context; the assistant and backend clients
// pass it on to their outbound calls. A handler that gives up without writing
// a response gets a 504 with a JSON api_error body.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{ResponseWriter: w}
			next.ServeHTTP(tw, r.WithContext(ctx))

			if !tw.wrote && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				writeErrorBody(w, http.StatusGatewayTimeout, errTypeServer, "request timed out")
			}
		})
	}
}

// timeoutWriter records whether the handler started a response.
type timeoutWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *timeoutWriter) WriteHeader(code int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *timeoutWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *timeoutWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
