package http

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/sosi/kosningakerfi/internal/errors"
)

// errorResponse is the JSON body of every error answer.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeAppError answers with the status matching err's code. Internal
// errors never leak their message.
func writeAppError(w http.ResponseWriter, err error) {
	var e *apperrors.Error
	if !errors.As(err, &e) {
		writeError(w, http.StatusInternalServerError, apperrors.CodeInternal, "Internal Server Error")
		return
	}

	status := statusFor(e.Code)
	message := e.Message
	if status == http.StatusInternalServerError {
		message = "Internal Server Error"
	}
	writeError(w, status, e.Code, message)
}

func statusFor(code string) int {
	switch code {
	case apperrors.CodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.CodeUnauthorized, apperrors.CodeTokenInvalid, apperrors.CodeTokenExpired, apperrors.CodeSessionExpired:
		return http.StatusUnauthorized
	case apperrors.CodeForbidden:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeConflict, apperrors.CodeAlreadyExists:
		return http.StatusConflict
	case apperrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperrors.CodeUnavailable, apperrors.CodeUpstreamStatus, apperrors.CodeMalformedResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		return apperrors.InvalidInput("invalid JSON body")
	}
	return nil
}
