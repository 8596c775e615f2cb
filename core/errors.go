package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	AccessErrorValidation      = "ACCESS_VALIDATION"
	AccessErrorNotFound        = "ACCESS_NOT_FOUND"
	AccessErrorConflict        = "ACCESS_CONFLICT"
	AccessErrorExternalFailure = "ACCESS_EXTERNAL_FAILURE"
	AccessErrorRateLimited     = "ACCESS_RATE_LIMITED"
	AccessErrorInternal        = "ACCESS_INTERNAL_ERROR"
)

// NewValidationError builds the error returned for rejected input before any
// network call is made.
func NewValidationError(field string, message string) *goerrors.Error {
	return goerrors.NewValidation("core: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(AccessErrorValidation).
		WithSeverity(goerrors.SeverityError)
}

func NewNotFoundError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(AccessErrorNotFound)
}

// NewEventInFlightError is returned when a billing event is redelivered while
// an earlier delivery still holds its reservation.
func NewEventInFlightError(eventID string) *goerrors.Error {
	return goerrors.New("core: billing event "+eventID+" is already being processed", goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(AccessErrorConflict).
		WithMetadata(map[string]any{"billing_event_id": eventID})
}

// IsValidationError reports errors produced by input validation.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryValidation || richErr.Category == goerrors.CategoryBadInput
}

func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryNotFound
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

func IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryConflict
	}
	return false
}

func accessErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureAccessErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no rows"):
		return newAccessError(err.Error(), goerrors.CategoryNotFound, AccessErrorNotFound)
	case strings.Contains(msg, "unique constraint"), strings.Contains(msg, "duplicate key"):
		return newAccessError(err.Error(), goerrors.CategoryConflict, AccessErrorConflict)
	case strings.Contains(msg, "rate limit"):
		return newAccessError(err.Error(), goerrors.CategoryRateLimit, AccessErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newAccessError(err.Error(), goerrors.CategoryBadInput, AccessErrorValidation)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureAccessErrorEnvelope(mapped)
}

func newAccessError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureAccessErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureAccessErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = accessHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultAccessTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultAccessTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return AccessErrorValidation
	case goerrors.CategoryNotFound:
		return AccessErrorNotFound
	case goerrors.CategoryConflict:
		return AccessErrorConflict
	case goerrors.CategoryRateLimit:
		return AccessErrorRateLimited
	case goerrors.CategoryExternal:
		return AccessErrorExternalFailure
	default:
		return AccessErrorInternal
	}
}

func accessHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
