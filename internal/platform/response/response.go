// Package response provides standardized HTTP response helpers
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
)

// Response is the standard API response structure
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta contains pagination metadata for list responses
type Meta struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := Response{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	}

	json.NewEncoder(w).Encode(resp)
}

// Error sends an error response. Typed errors map to their kind's status;
// anything else is reported as an internal error without leaking detail.
func Error(w http.ResponseWriter, err error) {
	var typed *apperrors.Error
	if !errors.As(err, &typed) {
		typed = apperrors.Internal("internal server error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(typed.HTTPStatus())

	resp := Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    typed.Code(),
			Message: typed.Message,
		},
	}

	json.NewEncoder(w).Encode(resp)
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 OK response
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Paginated sends a list response with offset/limit metadata
func Paginated(w http.ResponseWriter, data interface{}, limit, offset, count int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := Response{
		Success: true,
		Data:    data,
		Meta: &Meta{
			Limit:  limit,
			Offset: offset,
			Count:  count,
		},
	}

	json.NewEncoder(w).Encode(resp)
}
