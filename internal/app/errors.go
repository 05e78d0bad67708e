package app

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"townsquare/api/internal/auth"
	"townsquare/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

const (
	codeValidation      = "VALIDATION_ERROR"
	codePermission      = "PERMISSION_DENIED"
	codeNotFound        = "NOT_FOUND"
	codeUnauthorized    = "UNAUTHORIZED"
	codeRateLimited     = "RATE_LIMITED"
	codeServer          = "SERVER_ERROR"
	codeUnavailable     = "SERVICE_UNAVAILABLE"
	codeAlreadyAssigned = "ALREADY_ASSIGNED"
	codeDuplicate       = "DUPLICATE_ENTRY"
	codeConflict        = "CONFLICT"
	codeEmailExists     = "EMAIL_EXISTS"
	codeEmployeeExists  = "EMPLOYEE_ID_EXISTS"
)

func validationError(fields map[string][]string) *DomainError {
	return domainError(http.StatusBadRequest, codeValidation, "Validation failed", fields)
}

func fieldError(field, message string) *DomainError {
	return validationError(map[string][]string{field: {message}})
}

func permissionError(message string) *DomainError {
	if message == "" {
		message = "You do not have permission to perform this action"
	}
	return domainError(http.StatusForbidden, codePermission, message, nil)
}

func notFoundError(what string) *DomainError {
	return domainError(http.StatusNotFound, codeNotFound, what+" not found", nil)
}

func conflictError(code, message string) *DomainError {
	return domainError(http.StatusConflict, code, message, nil)
}

func rateLimitedError(retryAfter time.Duration) *DomainError {
	seconds := int(retryAfter.Round(time.Second) / time.Second)
	return domainError(http.StatusTooManyRequests, codeRateLimited,
		"Daily issue limit reached, try again later",
		map[string][]string{"retry_after": {strconv.Itoa(seconds)}})
}

func unauthorizedError() *DomainError {
	return domainError(http.StatusUnauthorized, codeUnauthorized, "Authentication required", nil)
}

func unavailableError(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, codeUnavailable, message, nil)
}

// mapError converts any error into the response status and code. Unknown
// errors become a 500 and the caller logs them.
func mapError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFoundError("Resource")
	case errors.Is(err, store.ErrDuplicate):
		return conflictError(codeDuplicate, "Resource already exists")
	case errors.Is(err, store.ErrContended):
		return conflictError(codeConflict, "Resource is busy, please retry")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return domainError(http.StatusUnauthorized, codeUnauthorized, "Invalid or expired token", nil)
	default:
		return domainError(http.StatusInternalServerError, codeServer, "Something went wrong", nil)
	}
}
