package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error with a stable code that maps to an HTTP response.
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

func errNotReady() *DomainError {
	return domainError(http.StatusConflict, "NOT_READY", "Document is still loading", nil)
}

func errUnknownField(field string) *DomainError {
	return domainError(http.StatusNotFound, "UNKNOWN_FIELD", "Unknown document field", map[string]any{"field": field})
}

func errUnknownModule(id string) *DomainError {
	return domainError(http.StatusNotFound, "UNKNOWN_MODULE", "Unknown dashboard module", map[string]any{"id": id})
}

func errInvalidField(field string, err error) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_FIELD", "Field value does not match its schema", map[string]any{
		"field":  field,
		"reason": err.Error(),
	})
}
