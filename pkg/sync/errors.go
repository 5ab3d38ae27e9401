// Copyright 2024-2026 Aiku AI

package sync

import "fmt"

// APIError is the typed error the router returns for fatal conditions. The
// status is HTTP-like so webhook endpoints can map it directly onto a
// response code.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError creates an APIError with the given status and message.
func NewAPIError(status int, message string) *APIError {
	return &APIError{Status: status, Message: message}
}

func apiErrorf(status int, format string, args ...any) *APIError {
	return &APIError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// skipReason is the outcome string for a no-op caused by a missing
// correlation: the event concerns a ticket that is not mirrored.
func skipReason(event, ref string) string {
	return fmt.Sprintf("Skipping over %s for %s: not synced.", event, ref)
}

// syntheticSkipReason is the outcome string for a no-op caused by loop
// suppression: the entity was created by the sync engine itself.
func syntheticSkipReason(event, ref string) string {
	return fmt.Sprintf("Skipping over %s for %s: caused by sync.", event, ref)
}
