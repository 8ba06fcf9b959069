package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/cloudstore/internal/common"
)

// keyNotFound is the body of a 404 from the brokering endpoints.
const keyNotFound = "Key not found"

func statusFor(err error) int {
	var te *common.TransientError
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized
	case common.IsPathError(err), errors.Is(err, common.ErrFolderContent):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrVersionConflict), errors.Is(err, common.ErrDedupConflict):
		return http.StatusConflict
	case errors.As(err, &te):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeText(w, status, http.StatusText(status))
		return
	}
	writeText(w, status, err.Error())
}

// writeKeyError answers the brokering endpoints, whose 404 body is fixed.
func (h *Handler) writeKeyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, common.ErrorNotFound) {
		writeText(w, http.StatusNotFound, keyNotFound)
		return
	}
	h.writeError(w, r, err)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
