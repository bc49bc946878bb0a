package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware enforces request timeouts. The context is cancelled at
// the deadline; handlers cooperate by checking context.Done().
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
