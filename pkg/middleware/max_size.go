package middleware

import (
	"net/http"

	apperrors "reslock/pkg/errors"
	httputil "reslock/pkg/http"
)

// MaxRequestSize caps request bodies at limit bytes. Declared oversize bodies are rejected
// up front; chunked ones fail when the handler reads past the limit.
func MaxRequestSize(limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > int64(limit) {
				httputil.WriteError(w, apperrors.PayloadTooLarge(limit))
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, int64(limit))
			}
			next.ServeHTTP(w, r)
		})
	}
}
