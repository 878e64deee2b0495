package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tjfontaine/storefront-studio/internal/session"
	"github.com/tjfontaine/storefront-studio/internal/staging"
	"github.com/tjfontaine/storefront-studio/internal/storage"
)

// Error types carried in the JSON error body.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuthentication = "authentication_error"
	errTypeNotFound       = "not_found_error"
	errTypeConflict       = "conflict_error"
	errTypeGone           = "session_ended_error"
	errTypePersistence    = "persistence_error"
	errTypeServer         = "api_error"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// classify maps domain errors to an HTTP status and error type.
func classify(err error) (int, string) {
	var persistErr *staging.PersistError
	switch {
	case errors.Is(err, session.ErrEmptyInput):
		return http.StatusBadRequest, errTypeInvalidRequest
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, staging.ErrFieldNotPending):
		return http.StatusNotFound, errTypeNotFound
	case errors.Is(err, session.ErrEnded):
		return http.StatusGone, errTypeGone
	case errors.Is(err, session.ErrExchangeInFlight),
		errors.Is(err, staging.ErrConfirmInFlight),
		errors.Is(err, staging.ErrNoPendingPatch):
		return http.StatusConflict, errTypeConflict
	case errors.As(err, &persistErr):
		return http.StatusBadGateway, errTypePersistence
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errTypeServer
	default:
		return http.StatusInternalServerError, errTypeServer
	}
}

// writeError writes err as a JSON error body and attaches it to the request log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	status, typ := classify(err)
	writeErrorBody(w, status, typ, err.Error())
}

func writeErrorBody(w http.ResponseWriter, status int, typ, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Type: typ, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
