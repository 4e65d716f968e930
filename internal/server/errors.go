package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"csv-file-drop/internal/common"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, common.ErrUnauthorized),
		errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrAlreadyExists),
		errors.Is(err, common.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the mapped status and the error's client
// message. Unmapped errors are logged and hidden behind a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	writeErrorStatus(w, r, log, err, statusFor(err))
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error, status int) {
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("rid", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeDetail(w, status, http.StatusText(status))
		return
	}

	detail := common.Detail(err)
	if detail == "" {
		detail = http.StatusText(status)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeDetail(w, status, detail)
}
