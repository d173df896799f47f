// Package backend defines the single-call contract against the model
// routing endpoint. One Generate call is one upstream request: retry and
// fallback policy belongs to the stage executor, never to the client.
package backend

import (
	"context"
)

// CallInput is one fully resolved model call. The sampling envelope comes
// from the session's snapshotted stage config.
type CallInput struct {
	ModelID      string
	SystemPrompt string
	UserContent  string
	Temperature  float64
	MaxTokens    int
}

// Result carries the response plus the accounting facts for the attempt.
// LatencyMS is populated even when the call fails so every attempt row gets
// a real duration.
type Result struct {
	Content   string
	TokensIn  int
	TokensOut int
	CostCents int64
	LatencyMS int64
}

// Client performs exactly one upstream call per Generate. A non-nil error
// is always a *councilerr.BackendError so callers can branch on the kind.
type Client interface {
	Generate(ctx context.Context, in CallInput) (Result, error)
}
