package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/maltehedderich/rate-governor/internal/logger"
	"github.com/maltehedderich/rate-governor/internal/ratelimit"
)

// Recovery returns a middleware that turns handler panics into a 500 response
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := newResponseWriter(w)
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					logger.FromContext(r.Context(), "recovery").Error("panic recovered", logger.Fields{
						"error":     fmt.Sprintf("%v", err),
						"stack":     string(debug.Stack()),
						"method":    r.Method,
						"path":      r.URL.Path,
						"remote_ip": ratelimit.ClientIP(r),
					})

					if rw.wroteHeader {
						return
					}
					WriteJSONError(rw, r, http.StatusInternalServerError,
						"internal_server_error", "An internal error occurred")
				}
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
