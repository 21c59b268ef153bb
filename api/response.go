package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xraph/agentchat"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// StatusOf maps an engine error to an HTTP status code.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, agentchat.ErrPaymentReversalFailed):
		return http.StatusInternalServerError
	case errors.Is(err, agentchat.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, agentchat.ErrInvalidTarget),
		errors.Is(err, agentchat.ErrLengthMismatch),
		errors.Is(err, agentchat.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, agentchat.ErrTimelockNotElapsed),
		errors.Is(err, agentchat.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, agentchat.ErrIncorrectPayment),
		errors.Is(err, agentchat.ErrLimitOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, agentchat.ErrPaymentForwardFailed):
		return http.StatusBadGateway
	case agentchat.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, agentchat.ErrStoreClosed), agentchat.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Internal failures do not leak their message.
func writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	resp := ErrorResponse{
		Error:  agentchat.Code(err),
		Reason: agentchat.RevertReason(err),
	}
	var ve agentchat.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
		resp.Message = ve.Message
	}
	if status < http.StatusInternalServerError || status == http.StatusBadGateway {
		if resp.Message == "" {
			resp.Message = err.Error()
		}
	}
	JSON(w, status, resp)
}
