// Package backendtest provides a scripted in-memory backend client for
// exercising stage executors without a routing endpoint.
package backendtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roundtablehq/roundtable-backend/internal/council/backend"
	"github.com/roundtablehq/roundtable-backend/internal/council/councilerr"
)

// Step scripts one call against a model. A zero Kind means success with
// Content; a non-zero Kind fails the call with that backend error kind.
type Step struct {
	Content   string
	Kind      councilerr.BackendKind
	CostCents int64
	Delay     time.Duration
}

type Fake struct {
	mu      sync.Mutex
	scripts map[string][]Step
	calls   []backend.CallInput
}

func New() *Fake {
	return &Fake{scripts: map[string][]Step{}}
}

// Stub queues steps for modelID. Each call against the model consumes one
// step; calls past the end of the queue succeed with a canned echo.
func (f *Fake) Stub(modelID string, steps ...Step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[modelID] = append(f.scripts[modelID], steps...)
}

// Fail queues n failing steps of the given kind for modelID.
func (f *Fake) Fail(modelID string, kind councilerr.BackendKind, n int) {
	steps := make([]Step, n)
	for i := range steps {
		steps[i] = Step{Kind: kind}
	}
	f.Stub(modelID, steps...)
}

func (f *Fake) Generate(ctx context.Context, in backend.CallInput) (backend.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	var step Step
	if queue := f.scripts[in.ModelID]; len(queue) > 0 {
		step = queue[0]
		f.scripts[in.ModelID] = queue[1:]
	} else {
		step = Step{Content: fmt.Sprintf("stub response from %s", in.ModelID)}
	}
	f.mu.Unlock()

	start := time.Now()
	if step.Delay > 0 {
		select {
		case <-ctx.Done():
			return backend.Result{LatencyMS: time.Since(start).Milliseconds()},
				councilerr.NewBackendError(councilerr.KindTimeout, in.ModelID, ctx.Err())
		case <-time.After(step.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return backend.Result{LatencyMS: time.Since(start).Milliseconds()},
			councilerr.NewBackendError(councilerr.KindTimeout, in.ModelID, err)
	}

	if step.Kind != "" {
		return backend.Result{LatencyMS: time.Since(start).Milliseconds()},
			councilerr.NewBackendError(step.Kind, in.ModelID, fmt.Errorf("scripted %s", step.Kind))
	}

	content := step.Content
	if content == "" {
		content = fmt.Sprintf("stub response from %s", in.ModelID)
	}
	return backend.Result{
		Content:   content,
		TokensIn:  approxTokens(in.SystemPrompt) + approxTokens(in.UserContent),
		TokensOut: approxTokens(content),
		CostCents: step.CostCents,
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

// Calls returns every CallInput seen, in arrival order.
func (f *Fake) Calls() []backend.CallInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]backend.CallInput, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor counts calls made against one model.
func (f *Fake) CallsFor(modelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.ModelID == modelID {
			n++
		}
	}
	return n
}

func approxTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return (len([]rune(text)) + 3) / 4
}
