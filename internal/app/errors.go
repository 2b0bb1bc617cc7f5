package app

import (
	"fmt"
	"net/http"
)

// DomainError is the app layer's error taxonomy. Code is a stable
// machine-readable tag (VALIDATION, NOT_FOUND, SCOPE_NOT_FOUND, ...);
// Status is the HTTP status it maps to.
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

// validationError rejects malformed input before any store work starts.
func validationError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION", message, nil)
}

// notFoundError covers both missing records and missing scopes; the code
// distinguishes which.
func notFoundError(code, message string) *DomainError {
	return domainError(http.StatusNotFound, code, message, nil)
}
