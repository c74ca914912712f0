package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestID assigns each request an id, reused from the X-Request-ID header
// when the caller already set one. The id travels on both the request (for
// handlers building error envelopes) and the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}
