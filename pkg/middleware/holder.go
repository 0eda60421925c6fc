package middleware

import (
	"context"
	"net/http"
	"strings"

	apperrors "reslock/pkg/errors"
	httputil "reslock/pkg/http"
	"reslock/pkg/logger"
)

const (
	HolderIDHeader            = "X-Holder-ID"
	HolderIDKey    contextKey = "holder_id"
)

// HolderValidator rejects malformed holder ids. A nil validator accepts any non-empty id.
type HolderValidator func(holderID string) error

// HolderIdentity resolves the calling holder from the X-Holder-ID header set by the
// upstream gateway. Paths with one of the exempt prefixes skip the check.
func HolderIdentity(log *logger.Logger, validate HolderValidator, exempt ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range exempt {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			holderID := strings.TrimSpace(r.Header.Get(HolderIDHeader))
			if holderID == "" {
				log.Warn("Missing holder identity",
					"request_id", RequestIDFromContext(r.Context()),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, apperrors.Unauthorized("X-Holder-ID header is required"))
				return
			}

			if validate != nil {
				if err := validate(holderID); err != nil {
					httputil.WriteError(w, apperrors.InvalidInput(err.Error()))
					return
				}
			}

			ctx := context.WithValue(r.Context(), HolderIDKey, holderID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func HolderFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(HolderIDKey).(string); ok {
		return id
	}
	return ""
}

// WithHolder returns ctx carrying holderID, as HolderIdentity would.
func WithHolder(ctx context.Context, holderID string) context.Context {
	return context.WithValue(ctx, HolderIDKey, holderID)
}
