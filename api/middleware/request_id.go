package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lacaja/possync/api/responses"
	"github.com/lacaja/possync/pkg/logger"
)

const maxRequestIDLen = 128

// RequestID reuses the caller's X-Request-Id or mints one, echoes it on the
// response and tags the request's log context with it.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := strings.TrimSpace(r.Header.Get(responses.RequestIDHeader))
			if reqID == "" || len(reqID) > maxRequestIDLen {
				reqID = uuid.NewString()
			}
			w.Header().Set(responses.RequestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithField(ctx, "request_id", reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
