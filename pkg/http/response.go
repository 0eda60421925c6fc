package http

import (
	"encoding/json"
	"net/http"

	apperrors "reslock/pkg/errors"
)

type ErrorResponse struct {
	Code    string         `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// SuccessResponse always carries data; lookups answer {"data": null} when nothing is held.
type SuccessResponse struct {
	Data any `json:"data"`
}

// WriteJSON returns the encode error so callers can log it. Nothing can be sent after WriteHeader.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

func WriteError(w http.ResponseWriter, err error) error {
	var errResp ErrorResponse

	appErr := apperrors.AsAppError(err)
	statusCode := appErr.StatusCode()
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}

	if statusCode >= http.StatusInternalServerError && appErr.Code == apperrors.CodeInternal {
		errResp = ErrorResponse{
			Code:  apperrors.CodeInternal,
			Error: "Internal server error",
		}
	} else {
		errResp = ErrorResponse{
			Code:    appErr.Code,
			Error:   appErr.Message,
			Details: appErr.Details,
		}
	}

	return WriteJSON(w, statusCode, errResp)
}

func WriteSuccess(w http.ResponseWriter, data any) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

func WriteCreated(w http.ResponseWriter, data any) error {
	return WriteJSON(w, http.StatusCreated, SuccessResponse{Data: data})
}

func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
