package metrics

import (
	"net/http"
	"strconv"
	"time"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RouteLabeler maps a request to a bounded metrics label, usually a
// configured route name. Raw paths would explode label cardinality.
type RouteLabeler func(r *http.Request) string

// Middleware returns a metrics collection middleware
func Middleware(label RouteLabeler, metricsPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == metricsPath {
				next.ServeHTTP(w, r)
				return
			}

			IncActiveRequests()
			defer DecActiveRequests()

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := "unmatched"
			if label != nil {
				if l := label(r); l != "" {
					route = l
				}
			}
			RecordHTTPRequest(r.Method, route, strconv.Itoa(sw.status), time.Since(start))
		})
	}
}
