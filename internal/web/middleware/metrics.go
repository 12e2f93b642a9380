package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// RequestRecorder receives one observation per request
type RequestRecorder interface {
	RecordRequest(method, route, status string, d time.Duration)
}

// Metrics records requests by route pattern rather than raw path so that
// packet ids and hashes do not each become a label value
func Metrics(rec RequestRecorder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			rec.RecordRequest(r.Method, route, strconv.Itoa(rw.statusCode), time.Since(start))
		})
	}
}
