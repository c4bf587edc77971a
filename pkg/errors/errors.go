package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Call signaling errors
	ErrCodeInvalidTarget ErrorCode = "INVALID_TARGET"
	ErrCodeBusy          ErrorCode = "BUSY"
	ErrCodeOffline       ErrorCode = "OFFLINE"
	ErrCodeStaleSession  ErrorCode = "STALE_SESSION"

	// Live room errors
	ErrCodeSeatTaken       ErrorCode = "SEAT_TAKEN"
	ErrCodeRoomFull        ErrorCode = "ROOM_FULL"
	ErrCodeAlreadySeated   ErrorCode = "ALREADY_SEATED"
	ErrCodeNotSeated       ErrorCode = "NOT_SEATED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeInvalidCapacity ErrorCode = "INVALID_CAPACITY"
	ErrCodeRoomEnded       ErrorCode = "ROOM_ENDED"

	// Not found errors
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Internal errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase       ErrorCode = "DATABASE_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
// The status code defaults to 500 Internal Server Error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError for debugging
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Validation errors
func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidInputError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// Authentication errors
func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidTokenError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

// Call signaling errors

// InvalidTargetError covers unknown targets and self-invites
func InvalidTargetError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidTarget, message, http.StatusBadRequest)
}

// BusyError means the callee is already in an active session
func BusyError() *AppError {
	return NewWithStatus(ErrCodeBusy, "User is busy in another session", http.StatusConflict)
}

// OfflineError means the callee has no reachable connection
func OfflineError() *AppError {
	return NewWithStatus(ErrCodeOffline, "User is not reachable", http.StatusConflict)
}

// StaleSessionError acknowledges an event for a session that already
// ended or never existed; it never errors the other party
func StaleSessionError() *AppError {
	return NewWithStatus(ErrCodeStaleSession, "Session no longer active", http.StatusGone)
}

// Live room errors
func SeatTakenError(position int) *AppError {
	return NewWithStatus(ErrCodeSeatTaken, fmt.Sprintf("Seat %d is already occupied", position), http.StatusConflict)
}

func RoomFullError() *AppError {
	return NewWithStatus(ErrCodeRoomFull, "No empty seat available", http.StatusConflict)
}

func AlreadySeatedError() *AppError {
	return NewWithStatus(ErrCodeAlreadySeated, "User already holds a seat in this room", http.StatusConflict)
}

func NotSeatedError() *AppError {
	return NewWithStatus(ErrCodeNotSeated, "User holds no seat in this room", http.StatusConflict)
}

func ForbiddenError(message string) *AppError {
	return NewWithStatus(ErrCodeForbidden, message, http.StatusForbidden)
}

func InvalidCapacityError() *AppError {
	return NewWithStatus(ErrCodeInvalidCapacity, "Seated rooms require capacity of at least 1", http.StatusBadRequest)
}

func RoomEndedError() *AppError {
	return NewWithStatus(ErrCodeRoomEnded, "Room has ended", http.StatusGone)
}

// Not found errors
func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// Internal errors
func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", err)
}

func ServiceUnavailableError(message string) *AppError {
	return NewWithStatus(ErrCodeServiceUnavail, message, http.StatusServiceUnavailable)
}

// IsAppError checks if an error is an AppError type
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return InternalError(err.Error())
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}
