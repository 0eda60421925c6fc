package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	lockserrors "reslock/internal/locks/errors"
	"reslock/internal/locks/service"
	"reslock/internal/locks/validator"
	apperrors "reslock/pkg/errors"
	httputil "reslock/pkg/http"
	"reslock/pkg/logger"
	"reslock/pkg/middleware"
	"reslock/pkg/model"
	"reslock/pkg/sanitizer"

	"github.com/julienschmidt/httprouter"
)

type LockHandler struct {
	manager   service.LockManager
	validator *validator.LockValidator
	log       *logger.Logger
}

func NewLockHandler(manager service.LockManager, v *validator.LockValidator, log *logger.Logger) *LockHandler {
	return &LockHandler{
		manager:   manager,
		validator: v,
		log:       log,
	}
}

type convertRequest struct {
	Payload json.RawMessage `json:"payload,omitempty"`
}

type releaseResponse struct {
	Released bool `json:"released"`
}

func (h *LockHandler) Acquire(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	holderID, ok := h.holder(w, r, "Acquire")
	if !ok {
		return
	}

	var req model.AcquireLockRequest
	if err := httputil.DecodeJSON(r, &req, false); err != nil {
		h.writeError(w, "Acquire", err)
		return
	}
	sanitizer.SanitizeAcquireRequest(&req)

	window, err := h.validator.ValidateAcquire(&req)
	if err != nil {
		h.writeError(w, "Acquire", err)
		return
	}

	lock, err := h.manager.Acquire(r.Context(), req.ResourceID, holderID, window)
	if err != nil {
		h.writeError(w, "Acquire", err)
		return
	}

	if err := httputil.WriteCreated(w, model.NewLockView(lock, h.manager.Now())); err != nil {
		h.log.Error("failed to write created response", "handler", "Acquire", "operation", "WriteCreated", "error", err)
	}
}

func (h *LockHandler) Release(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	holderID, ok := h.holder(w, r, "Release")
	if !ok {
		return
	}
	resourceID, ok := h.resourceParam(w, ps, "Release")
	if !ok {
		return
	}

	if err := h.manager.Release(r.Context(), resourceID, holderID); err != nil {
		h.writeError(w, "Release", err)
		return
	}

	if err := httputil.WriteSuccess(w, releaseResponse{Released: true}); err != nil {
		h.log.Error("failed to write success response", "handler", "Release", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) Convert(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	holderID, ok := h.holder(w, r, "Convert")
	if !ok {
		return
	}
	resourceID, ok := h.resourceParam(w, ps, "Convert")
	if !ok {
		return
	}

	var req convertRequest
	if err := httputil.DecodeJSON(r, &req, true); err != nil {
		h.writeError(w, "Convert", err)
		return
	}

	handle, err := h.manager.Convert(r.Context(), resourceID, holderID, req.Payload)
	if err != nil {
		h.writeError(w, "Convert", err)
		return
	}

	if err := httputil.WriteSuccess(w, handle); err != nil {
		h.log.Error("failed to write success response", "handler", "Convert", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) Mine(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	holderID, ok := h.holder(w, r, "Mine")
	if !ok {
		return
	}

	lock, err := h.manager.GetActiveByHolder(r.Context(), holderID)
	if err != nil {
		h.writeError(w, "Mine", err)
		return
	}

	if err := httputil.WriteSuccess(w, model.NewLockView(lock, h.manager.Now())); err != nil {
		h.log.Error("failed to write success response", "handler", "Mine", "operation", "WriteSuccess", "error", err)
	}
}

// GetByResource reports whether a resource is held. Another holder's id is not disclosed.
func (h *LockHandler) GetByResource(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	holderID, ok := h.holder(w, r, "GetByResource")
	if !ok {
		return
	}
	resourceID, ok := h.resourceParam(w, ps, "GetByResource")
	if !ok {
		return
	}

	lock, err := h.manager.GetActiveByResource(r.Context(), resourceID)
	if err != nil {
		h.writeError(w, "GetByResource", err)
		return
	}
	if lock != nil && lock.HolderID != holderID {
		lock = lock.Clone()
		lock.HolderID = ""
	}

	if err := httputil.WriteSuccess(w, model.NewLockView(lock, h.manager.Now())); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByResource", "operation", "WriteSuccess", "error", err)
	}
}

func (h *LockHandler) holder(w http.ResponseWriter, r *http.Request, handler string) (string, bool) {
	holderID := middleware.HolderFromContext(r.Context())
	if holderID == "" {
		h.writeError(w, handler, apperrors.Unauthorized("X-Holder-ID header is required"))
		return "", false
	}
	return holderID, true
}

func (h *LockHandler) resourceParam(w http.ResponseWriter, ps httprouter.Params, handler string) (string, bool) {
	resourceID := sanitizer.SanitizeIdentifier(ps.ByName("resourceId"))
	if err := h.validator.ValidateIdentifier("resource_id", resourceID); err != nil {
		h.writeError(w, handler, err)
		return "", false
	}
	return resourceID, true
}

func (h *LockHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, toAppError(err)); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

// toAppError maps refusals and validation failures onto the transport taxonomy.
func toAppError(err error) error {
	if lockErr, ok := lockserrors.AsLockError(err); ok {
		details := map[string]any{"errorKind": string(lockErr.Kind)}
		if lockErr.ResourceID != "" {
			details["resourceId"] = lockErr.ResourceID
		}

		var appErr *apperrors.AppError
		switch lockErr.Kind {
		case lockserrors.KindInvalidWindow:
			appErr = apperrors.Validation(lockErr.Error(), nil)
		case lockserrors.KindNotOwner:
			appErr = apperrors.Forbidden(lockErr.Error())
		default:
			appErr = apperrors.Conflict(lockErr.Error())
		}
		return appErr.WithDetails(details)
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return apperrors.InvalidInput(validationErrs.Error()).WithDetails(map[string]any{
			"errors": []validator.ValidationError(validationErrs),
		})
	}

	return err
}

func (h *LockHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/locks", h.Acquire)
	router.GET("/api/v1/locks/mine", h.Mine)
	router.GET("/api/v1/locks/resource/:resourceId", h.GetByResource)
	router.DELETE("/api/v1/locks/:resourceId", h.Release)
	router.POST("/api/v1/locks/:resourceId/convert", h.Convert)
}
