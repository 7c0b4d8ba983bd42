package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady signals a pipeline operation invoked out of sequence. This is
	// a caller bug and is never retried automatically.
	ErrNotReady = errors.New("domain is not ready for this operation")

	// ErrAlreadyInProgress signals that another pipeline step holds the
	// per-domain lock. Callers should back off and retry.
	ErrAlreadyInProgress = errors.New("another operation is in progress for this domain")

	// ErrProtectedDomain rejects deletion of the primary domain.
	ErrProtectedDomain = errors.New("primary domain cannot be deleted")

	// ErrDomainNotFound is returned for operations on unknown domains.
	ErrDomainNotFound = errors.New("domain is not configured")
)

// ValidationError reports a malformed record, domain or config input. It is
// raised before any network call and never produces a deployment log entry.
type ValidationError struct {
	Field  string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Issues)
}

// ProviderError wraps a DNS push rejected by the upstream provider.
type ProviderError struct {
	Domain string
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("dns push for %s rejected: %v", e.Domain, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProvisioningError wraps a failed certificate request.
type ProvisioningError struct {
	Domain string
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("certificate provisioning for %s failed: %v", e.Domain, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// DeploymentError wraps a deployment that failed to apply or to pass its
// health-check window.
type DeploymentError struct {
	Domain string
	Err    error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deployment of %s failed: %v", e.Domain, e.Err)
}

func (e *DeploymentError) Unwrap() error { return e.Err }
