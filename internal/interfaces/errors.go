package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCrossTenant is returned when an entity exists but belongs to a
	// different tenant than the caller. Storage never serves it.
	ErrCrossTenant = errors.New("cross-tenant access rejected")

	// ErrCompanyNameGuard is returned when an affiliation write carries a
	// company name containing '@' or '|'.
	ErrCompanyNameGuard = errors.New("company name fails write guard")

	// ErrJobTerminal is returned when a mutation targets a job already in a
	// terminal state.
	ErrJobTerminal = errors.New("job is in a terminal state")
)

// ProviderError wraps a collaborator failure with the HTTP status that
// caused it, so callers can separate BLOCKED (401/403/429) from ERROR.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %v", e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsBlockedStatus reports whether an HTTP status means the provider is
// refusing the caller rather than failing.
func IsBlockedStatus(code int) bool {
	return code == 401 || code == 403 || code == 429
}

// BlockedError reports whether err carries a blocking provider status.
func BlockedError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && IsBlockedStatus(pe.StatusCode)
}
