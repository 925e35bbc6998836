// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/classhub/classhub/internal/logging"
)

// Response is the envelope every endpoint writes. Data and Error are
// mutually exclusive.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Error carries a machine-readable code next to the human message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta is per-response bookkeeping for tracing and latency inspection.
type Meta struct {
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}

// Error codes surfaced by this layer.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeUnknownAction    = "UNKNOWN_ACTION"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeRenewalRace      = "RENEWAL_RACE"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// ResponseWriter writes the standard envelope and stamps request
// metadata.
type ResponseWriter struct {
	w         http.ResponseWriter
	r         *http.Request
	startTime time.Time
}

// NewResponseWriter creates a response writer for one request.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{w: w, r: r, startTime: time.Now()}
}

// Success writes a 200 envelope around data.
func (rw *ResponseWriter) Success(data interface{}) {
	rw.writeJSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
		Meta:    rw.meta(),
	})
}

// Fail writes an error envelope with the given status and code.
func (rw *ResponseWriter) Fail(statusCode int, code, message string) {
	rw.writeJSON(statusCode, Response{
		Success: false,
		Error:   &Error{Code: code, Message: message},
		Meta:    rw.meta(),
	})
}

// BadRequest writes a 400 error.
func (rw *ResponseWriter) BadRequest(message string) {
	rw.Fail(http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized writes a 401 error.
func (rw *ResponseWriter) Unauthorized(message string) {
	rw.Fail(http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden writes a 403 error.
func (rw *ResponseWriter) Forbidden(message string) {
	rw.Fail(http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError writes a 500 error.
func (rw *ResponseWriter) InternalError(message string) {
	rw.Fail(http.StatusInternalServerError, ErrCodeInternalError, message)
}

func (rw *ResponseWriter) meta() *Meta {
	return &Meta{
		RequestID:  chimiddleware.GetReqID(rw.r.Context()),
		Timestamp:  time.Now(),
		DurationMs: time.Since(rw.startTime).Milliseconds(),
	}
}

func (rw *ResponseWriter) writeJSON(statusCode int, body Response) {
	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(statusCode)

	if err := json.NewEncoder(rw.w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}
