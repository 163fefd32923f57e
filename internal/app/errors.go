package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"quill/api/internal/chapter"
	"quill/api/internal/llmproxy"
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

type errorKind struct {
	target error
	status int
	code   string
}

// First match wins.
var errorKinds = []errorKind{
	{chapter.ErrNotInitialized, http.StatusConflict, "NOT_INITIALIZED"},
	{chapter.ErrAlreadyInitialized, http.StatusConflict, "ALREADY_INITIALIZED"},
	{chapter.ErrPatchConflict, http.StatusConflict, "PATCH_CONFLICT"},
	{chapter.ErrInvalidPatch, http.StatusBadRequest, "INVALID_PATCH"},
	{chapter.ErrInvalidVersion, http.StatusBadRequest, "INVALID_VERSION"},
	{chapter.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
	{chapter.ErrPatchNotFound, http.StatusNotFound, "PATCH_NOT_FOUND"},
	{chapter.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{chapter.ErrStorageInconsistency, http.StatusInternalServerError, "STORAGE_INCONSISTENCY"},
	{chapter.ErrClosed, http.StatusServiceUnavailable, "UNAVAILABLE"},
	{llmproxy.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{llmproxy.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
	{llmproxy.ErrMissingMessages, http.StatusBadRequest, "MISSING_MESSAGES"},
	{llmproxy.ErrNoContent, http.StatusBadGateway, "NO_CONTENT"},
	{llmproxy.ErrUpstream, http.StatusBadGateway, "UPSTREAM_ERROR"},
	{llmproxy.ErrUnknownProvider, http.StatusNotFound, "UNKNOWN_PROVIDER"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
	{context.Canceled, http.StatusServiceUnavailable, "CANCELLED"},
}

// classify turns a service error into the DomainError the transport writes.
// Server-side failures keep a generic message.
func classify(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	for _, kind := range errorKinds {
		if !errors.Is(err, kind.target) {
			continue
		}
		message := err.Error()
		if kind.status >= http.StatusInternalServerError && kind.status != http.StatusBadGateway {
			message = http.StatusText(kind.status)
		}
		return domainError(kind.status, kind.code, message, nil)
	}
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
}
