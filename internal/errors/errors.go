// Package errors classifies pipeline and HTTP failures. Every AppError
// carries a code that decides its HTTP status and whether a later run may
// succeed without intervention.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type ErrorCode string

const (
	CodeInternal   ErrorCode = "INTERNAL_ERROR"
	CodeBadRequest ErrorCode = "BAD_REQUEST"
	CodeConflict   ErrorCode = "CONFLICT"
	CodeRateLimit  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeStopped    ErrorCode = "SERVICE_STOPPED"

	CodeSourceUnavailable    ErrorCode = "SOURCE_UNAVAILABLE"
	CodeSourceQuery          ErrorCode = "SOURCE_QUERY_ERROR"
	CodeAggregation          ErrorCode = "AGGREGATION_ERROR"
	CodeNarrativeUnavailable ErrorCode = "NARRATIVE_UNAVAILABLE"
	CodeSnapshotWrite        ErrorCode = "SNAPSHOT_WRITE_ERROR"
)

type codeInfo struct {
	status    int
	transient bool
}

var codes = map[ErrorCode]codeInfo{
	CodeInternal:             {http.StatusInternalServerError, false},
	CodeBadRequest:           {http.StatusBadRequest, false},
	CodeConflict:             {http.StatusConflict, true},
	CodeRateLimit:            {http.StatusTooManyRequests, true},
	CodeStopped:              {http.StatusServiceUnavailable, false},
	CodeSourceUnavailable:    {http.StatusServiceUnavailable, true},
	CodeSourceQuery:          {http.StatusUnprocessableEntity, false},
	CodeAggregation:          {http.StatusUnprocessableEntity, false},
	CodeNarrativeUnavailable: {http.StatusServiceUnavailable, true},
	CodeSnapshotWrite:        {http.StatusInternalServerError, false},
}

type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Cause      error     `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	status := http.StatusInternalServerError
	if info, ok := codes[code]; ok {
		status = info.status
	}
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: status,
		Cause:      err,
		Timestamp:  time.Now().UTC(),
	}
}

func New(code ErrorCode, message string) *AppError {
	return Wrap(nil, code, message)
}

func Internal(message string) *AppError { return New(CodeInternal, message) }
func InternalWrap(err error, message string) *AppError { return Wrap(err, CodeInternal, message) }
func BadRequest(message string) *AppError { return New(CodeBadRequest, message) }
func Conflict(message string) *AppError { return New(CodeConflict, message) }
func RateLimit(message string) *AppError { return New(CodeRateLimit, message) }
func Stopped(message string) *AppError { return New(CodeStopped, message) }

// Source adapter failures: the store could not be reached (transient) or
// it answered with rows of the wrong shape.
func SourceUnavailable(err error, message string) *AppError {
	return Wrap(err, CodeSourceUnavailable, message)
}

func SourceQuery(err error, message string) *AppError {
	return Wrap(err, CodeSourceQuery, message)
}

func Aggregation(message string) *AppError {
	return New(CodeAggregation, message)
}

func NarrativeUnavailable(err error, message string) *AppError {
	return Wrap(err, CodeNarrativeUnavailable, message)
}

func SnapshotWrite(err error, message string) *AppError {
	return Wrap(err, CodeSnapshotWrite, message)
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsTransient reports whether a later attempt may succeed without operator
// intervention.
func IsTransient(err error) bool {
	return err != nil && codes[CodeOf(err)].transient
}

type ErrorResponse struct {
	Error   *AppError `json:"error"`
	Success bool      `json:"success"`
}

type SuccessResponse struct {
	Data    any  `json:"data"`
	Success bool `json:"success"`
}

func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, requestID string) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = InternalWrap(err, "An unexpected error occurred")
	}
	appErr.RequestID = requestID

	level := slog.LevelError
	if appErr.StatusCode < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "request failed",
		"error_code", appErr.Code,
		"error_message", appErr.Message,
		"status_code", appErr.StatusCode,
		"request_id", requestID,
		"cause", appErr.Cause,
	)

	if encErr := writeJSON(w, appErr.StatusCode, nil, ErrorResponse{Error: appErr}); encErr != nil {
		logger.Error("failed to encode error response", "error", encErr, "request_id", requestID)
	}
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessWithHeaders(w, data, nil)
}

func WriteSuccessWithHeaders(w http.ResponseWriter, data any, headers map[string]string) {
	writeJSON(w, http.StatusOK, headers, SuccessResponse{Data: data, Success: true})
}

func writeJSON(w http.ResponseWriter, status int, headers map[string]string, body any) error {
	for key, value := range headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}
