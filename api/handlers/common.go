// Package handlers implements the HTTP API surface.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/actionmesh/actionmesh/types"
	"go.uber.org/zap"
)

// Response is the uniform JSON envelope for every API response.
type Response struct {
	Success       bool       `json:"success"`
	Data          any        `json:"data,omitempty"`
	Error         *ErrorBody `json:"error,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
}

// ErrorBody is the client-facing error payload.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// RetryAfterSeconds is set for retryable denials.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// WriteJSON writes a success response.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	correlationID, _ := types.CorrelationID(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Success:       true,
		Data:          data,
		CorrelationID: correlationID,
	})
}

// WriteError maps a service error to an HTTP response. Structured errors
// carry their own status and retry hint; anything else is a 500.
func WriteError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	body := &ErrorBody{
		Code:    string(types.ErrInternal),
		Message: "internal error",
	}

	if structured, ok := types.AsError(err); ok {
		status = httpStatusFor(structured)
		body.Code = string(structured.Code)
		body.Message = structured.Message
		if structured.RetryAfter > 0 {
			seconds := int(structured.RetryAfter / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			body.RetryAfterSeconds = seconds
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
	} else if logger != nil {
		logger.Error("unhandled error", zap.Error(err))
	}

	correlationID, _ := types.CorrelationID(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Success:       false,
		Error:         body,
		CorrelationID: correlationID,
	})
}

// httpStatusFor maps the error taxonomy to HTTP statuses.
func httpStatusFor(err *types.Error) int {
	if err.HTTPStatus != 0 {
		return err.HTTPStatus
	}
	switch err.Code {
	case types.ErrValidation:
		return http.StatusBadRequest
	case types.ErrAuthentication:
		return http.StatusUnauthorized
	case types.ErrPermission:
		return http.StatusForbidden
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrConflict:
		return http.StatusConflict
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrProvider, types.ErrTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON decodes a request body, rejecting unknown fields.
func DecodeJSON(r *http.Request, into any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return types.NewError(types.ErrValidation, "invalid request body").WithCause(err)
	}
	return nil
}
