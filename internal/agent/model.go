// Package agent implements the scout decision loop: it hands the
// conversation to a model, dispatches the tool calls the model asks for and
// decides when the run is over.
package agent

import (
	"context"

	"github.com/klubi/scout/internal/tools"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// ModelRequest is what the loop submits on every THINKING step.
type ModelRequest struct {
	Turns []v1alpha1.Turn
	Tools []tools.Schema
}

// ModelResponse is either final text (no ToolCalls) or one or more tool
// call requests, possibly with accompanying text.
type ModelResponse struct {
	Content   string
	ToolCalls []v1alpha1.ToolCall
}

// Model is the model-service boundary.
type Model interface {
	Complete(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// ToolDispatcher executes one tool call and never fails; problems are
// reported through the returned ToolResult.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call v1alpha1.ToolCall) (v1alpha1.ToolResult, v1alpha1.Invocation)
}

// Observer is notified of loop progress, for live display.
type Observer interface {
	RoundStarted(runID string, iteration, max int)
	ModelReplied(runID string, resp *ModelResponse)
	ToolStarted(runID string, call v1alpha1.ToolCall)
	ToolFinished(runID string, res v1alpha1.ToolResult, inv v1alpha1.Invocation)
	RunFinished(runID string, outcome *Outcome)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) RoundStarted(string, int, int) {}
func (NopObserver) ModelReplied(string, *ModelResponse) {}
func (NopObserver) ToolStarted(string, v1alpha1.ToolCall) {}
func (NopObserver) ToolFinished(string, v1alpha1.ToolResult, v1alpha1.Invocation) {}
func (NopObserver) RunFinished(string, *Outcome) {}
