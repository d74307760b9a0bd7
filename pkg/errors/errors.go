package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	StatusCode int            `json:"-"`
	Details    map[string]any `json:"-"`
	Internal   error          `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches AppErrors by code, so sentinel comparisons still hold for the
// copies produced by WithInternal and WithDetails.
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	if !ok || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithDetails returns a copy of the AppError carrying extra fields that are
// merged into the rendered JSON body (e.g. quota usage numbers).
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Details = details
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrInvalidCode = &AppError{
		Code:       "INVALID_CODE",
		Message:    "Invalid session code",
		StatusCode: http.StatusNotFound,
	}

	ErrSessionFull = &AppError{
		Code:       "SESSION_FULL",
		Message:    "Session already has two participants",
		StatusCode: http.StatusConflict,
	}

	ErrSessionCap = &AppError{
		Code:       "SESSION_LIMIT_REACHED",
		Message:    "Server session limit reached, please try again later",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrNotConnected = &AppError{
		Code:       "NOT_CONNECTED",
		Message:    "Sender is not connected to this session",
		StatusCode: http.StatusForbidden,
	}

	ErrQuotaExceeded = &AppError{
		Code:       "QUOTA_EXCEEDED",
		Message:    "Storage quota exceeded",
		StatusCode: http.StatusRequestEntityTooLarge,
	}

	ErrFileTooLarge = &AppError{
		Code:       "FILE_TOO_LARGE",
		Message:    "File exceeds the per-file size limit",
		StatusCode: http.StatusRequestEntityTooLarge,
	}

	ErrUploadNotFound = &AppError{
		Code:       "UPLOAD_NOT_FOUND",
		Message:    "Upload not found",
		StatusCode: http.StatusNotFound,
	}

	ErrUploadIncomplete = &AppError{
		Code:       "UPLOAD_INCOMPLETE",
		Message:    "Upload is missing chunks",
		StatusCode: http.StatusBadRequest,
	}

	ErrInvalidChunkIndex = &AppError{
		Code:       "INVALID_CHUNK_INDEX",
		Message:    "Chunk index is out of range",
		StatusCode: http.StatusBadRequest,
	}

	ErrSizeMismatch = &AppError{
		Code:       "SIZE_MISMATCH",
		Message:    "Assembled file size does not match the declared size",
		StatusCode: http.StatusInternalServerError,
	}

	ErrInvalidPath = &AppError{
		Code:       "INVALID_PATH",
		Message:    "Invalid path component",
		StatusCode: http.StatusBadRequest,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Request not allowed",
		StatusCode: http.StatusForbidden,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
