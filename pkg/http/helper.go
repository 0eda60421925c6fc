package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "reslock/pkg/errors"
)

// DecodeJSON reads a JSON body into dst. An empty body is allowed only when optional is set.
func DecodeJSON(r *http.Request, dst any, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return apperrors.InvalidInput("request body is required")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return apperrors.InvalidInput("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.PayloadTooLarge(int(maxErr.Limit))
		}
		return apperrors.InvalidInput("invalid JSON in request body")
	}
	return nil
}
