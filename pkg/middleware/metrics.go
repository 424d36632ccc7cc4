package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/BScong/text-indexing/pkg/metrics"
)

// Metrics counts and times requests by route pattern. It must wrap the
// ServeMux directly: the mux records the matched pattern on the request it
// is handed, and any WithContext copy in between would hide it.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			start := time.Now()
			rec := record(w)
			defer func() {
				m.HTTPRequestsInFlight.Dec()
				route := r.Pattern
				if route == "" {
					route = "unmatched"
				}
				m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
				m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
