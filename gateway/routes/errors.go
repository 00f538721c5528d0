package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"trustescrow/gateway/audit"
	"trustescrow/native/escrow"
)

const (
	codeIdempotencyMismatch = "idempotency_mismatch"
	codeIdempotencyInFlight = "idempotency_in_flight"
	codeUnauthenticated     = "unauthenticated"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// httpStatus maps engine reason codes onto HTTP status codes.
func httpStatus(code string) int {
	switch code {
	case codeUnauthenticated:
		return http.StatusUnauthorized
	case escrow.CodeNotYours:
		return http.StatusForbidden
	case escrow.CodeTooEarly, escrow.CodeWindowClosed, escrow.CodeInvalidState, codeIdempotencyMismatch, codeIdempotencyInFlight:
		return http.StatusConflict
	case escrow.CodeNotFound:
		return http.StatusNotFound
	case escrow.CodePaymentFailed:
		return http.StatusPaymentRequired
	case escrow.CodeInvalidParams:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := escrow.ErrorCode(err)
	switch {
	case errors.Is(err, audit.ErrIdempotencyMismatch):
		code = codeIdempotencyMismatch
	case errors.Is(err, audit.ErrIdempotencyInFlight):
		code = codeIdempotencyInFlight
	}
	message := err.Error()
	if code == escrow.CodeInternal {
		message = "internal error"
	}
	writeCode(w, code, message)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeCode(w, escrow.CodeInvalidParams, err.Error())
}

func writeCode(w http.ResponseWriter, code, message string) {
	if rec, ok := w.(*auditRecorder); ok {
		rec.code = code
	}
	writeJSON(w, httpStatus(code), errorBody{Code: code, Message: message})
}
