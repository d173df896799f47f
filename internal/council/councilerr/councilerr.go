// Package councilerr defines the error taxonomy shared by the deliberation
// pipeline. Callers branch on these types with errors.As rather than on
// message text.
package councilerr

import (
	"fmt"

	types "github.com/roundtablehq/roundtable-backend/internal/domain"
)

// BackendKind classifies a single upstream model call failure.
type BackendKind string

const (
	KindTimeout             BackendKind = "timeout"
	KindRateLimited         BackendKind = "rate_limited"
	KindInvalidResponse     BackendKind = "invalid_response"
	KindUpstreamUnavailable BackendKind = "upstream_unavailable"
)

// BackendError wraps one failed model call. Every kind is treated as
// retryable by the fallback chain; the kind only drives accounting and
// observability.
type BackendError struct {
	Kind    BackendKind
	ModelID string
	Err     error
}

func (e *BackendError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("model call %s (%s): %v", e.ModelID, e.Kind, e.Err)
	}
	return fmt.Sprintf("model call %s (%s)", e.ModelID, e.Kind)
}

func (e *BackendError) Unwrap() error { return e.Err }

func NewBackendError(kind BackendKind, modelID string, err error) *BackendError {
	return &BackendError{Kind: kind, ModelID: modelID, Err: err}
}

// ConfigurationError means a role resolved to an empty fallback chain at
// every level, so the request cannot even be attempted.
type ConfigurationError struct {
	Role types.Role
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("no model chain configured for role %q", e.Role)
}

// StageExhaustedError means every seat of a stage burned through its whole
// fallback chain without a single usable response.
type StageExhaustedError struct {
	Stage int
	Seats int
}

func (e *StageExhaustedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("stage %d exhausted: all %d seats failed", e.Stage, e.Seats)
}

// Denial reasons, ordered by check precedence.
const (
	DenySuspended   = "tenant_suspended"
	DenyQueryLimit  = "query_limit_exceeded"
	DenyBudgetLimit = "budget_exceeded"
)

// AdmissionDenied is returned by the quota guard when a session may not
// start. Reason is one of the Deny* constants.
type AdmissionDenied struct {
	TenantID string
	Reason   string
}

func (e *AdmissionDenied) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("admission denied: %s", e.Reason)
}
