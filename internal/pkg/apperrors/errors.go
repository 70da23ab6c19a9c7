package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrAuthorization  ErrorType = "AUTHORIZATION_ERROR"
	ErrState          ErrorType = "STATE_ERROR"
	ErrValidation     ErrorType = "VALIDATION_ERROR"
	ErrFunds          ErrorType = "FUNDS_ERROR"
	ErrAuthFailed     ErrorType = "AUTH_FAILED"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrRateLimited    ErrorType = "RATE_LIMITED"
	ErrReadOnly       ErrorType = "READ_ONLY"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
)

// Reason narrows an ErrorType down to the rule that was violated.
type Reason string

const (
	ReasonNotAdmin Reason = "NotAdmin"

	ReasonNotActive              Reason = "NotActive"
	ReasonAlreadyResolved        Reason = "AlreadyResolved"
	ReasonAlreadyInitialized     Reason = "AlreadyInitialized"
	ReasonPlatformNotInitialized Reason = "PlatformNotInitialized"
	ReasonCounterNotInitialized  Reason = "CounterNotInitialized"
	ReasonDuplicateID            Reason = "DuplicateID"

	ReasonSelfFollow       Reason = "SelfFollow"
	ReasonAlreadyFollowing Reason = "AlreadyFollowing"
	ReasonNotAFollower     Reason = "NotAFollower"
	ReasonAlreadyClaimed   Reason = "AlreadyClaimed"
	ReasonNoFollowers      Reason = "NoFollowers"
	ReasonCapacityExceeded Reason = "CapacityExceeded"
	ReasonNotDistributed   Reason = "NotDistributed"
	ReasonInvalidAmount    Reason = "InvalidAmount"

	ReasonInsufficientDeposit Reason = "InsufficientDeposit"
	ReasonInsufficientFunds   Reason = "InsufficientFunds"
	ReasonInsufficientEscrow  Reason = "InsufficientEscrow"
	ReasonOverflow            Reason = "Overflow"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Reason     Reason    `json:"reason,omitempty"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func newWithReason(errType ErrorType, reason Reason, msg string) *AppError {
	e := New(errType, msg, nil)
	e.Reason = reason
	return e
}

func NewAuthorization(msg string) *AppError {
	return newWithReason(ErrAuthorization, ReasonNotAdmin, msg)
}

func NewState(reason Reason, msg string) *AppError {
	return newWithReason(ErrState, reason, msg)
}

func NewValidation(reason Reason, msg string) *AppError {
	return newWithReason(ErrValidation, reason, msg)
}

func NewFunds(reason Reason, msg string) *AppError {
	return newWithReason(ErrFunds, reason, msg)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// TypeOf returns the ErrorType of err, or "" when err is not an AppError.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// ReasonOf returns the Reason of err, or "" when err carries none.
func ReasonOf(err error) Reason {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrValidation, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrAuthorization:
		return http.StatusForbidden
	case ErrState:
		return http.StatusConflict
	case ErrFunds:
		return http.StatusUnprocessableEntity
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrReadOnly:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrFunds:
		return "Deposit more funds and retry."
	case ErrAuthFailed:
		return "Check identity headers and signature."
	case ErrAuthorization:
		return "Only the platform admin may perform this action."
	case ErrRateLimited:
		return "Retry after a short delay."
	default:
		return ""
	}
}
