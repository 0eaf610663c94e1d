package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/klubi/scout/internal/conversation"
	"github.com/klubi/scout/internal/tools"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

var (
	ErrModelService   = errors.New("model service failure")
	ErrInvalidRunSpec = errors.New("invalid run spec")
	ErrCancelled      = errors.New("run cancelled")
)

// State is a step of the decision loop.
type State string

const (
	StateInit     State = "INIT"
	StateThinking State = "THINKING"
	StateToolExec State = "TOOL_EXEC"
	StateDone     State = "DONE"
	StateAborted  State = "ABORTED"
)

func (s State) terminal() bool {
	return s == StateDone || s == StateAborted
}

// Outcome is what a finished run hands back to its caller.
type Outcome struct {
	Phase       v1alpha1.RunPhase
	Iterations  int
	Turns       []v1alpha1.Turn
	Invocations []v1alpha1.Invocation
	// Answer is the content of the final assistant turn.
	Answer string
	Err    error
}

// Journal receives the run record after every round and once more when
// the run ends. A failing journal never stops the run.
type Journal interface {
	Record(ctx context.Context, run *v1alpha1.Run) error
}

// Loop drives runs. A Loop keeps no per-run state, so one Loop may serve
// several runs at once as long as its Model is safe for concurrent use.
type Loop struct {
	model      Model
	dispatcher ToolDispatcher
	schemas    []tools.Schema
	logger     *zap.Logger
	journal    Journal
	observer   Observer
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithJournal sets where run records are written while a run progresses.
func WithJournal(j Journal) LoopOption {
	return func(l *Loop) { l.journal = j }
}

// WithObserver sets the observer notified of loop progress.
func WithObserver(o Observer) LoopOption {
	return func(l *Loop) {
		if o != nil {
			l.observer = o
		}
	}
}

// NewLoop creates a Loop offering the tools described by schemas.
func NewLoop(model Model, dispatcher ToolDispatcher, schemas []tools.Schema, logger *zap.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		model:      model,
		dispatcher: dispatcher,
		schemas:    schemas,
		logger:     logger,
		observer:   NopObserver{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// execution is the state of one run. It is owned by a single goroutine.
type execution struct {
	*Loop
	record      *v1alpha1.Run
	conv        *conversation.Conversation
	state       State
	iteration   int
	pending     []v1alpha1.ToolCall
	invocations []v1alpha1.Invocation
	answer      string
	err         error
}

// Run executes the decision loop for record and fills in its status. The
// returned Outcome is never nil once the run spec is valid; the error is
// non-nil exactly when the run was aborted.
func (l *Loop) Run(ctx context.Context, record *v1alpha1.Run) (*Outcome, error) {
	if err := record.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRunSpec, err)
	}

	x := &execution{Loop: l, record: record, state: StateInit}
	x.init(ctx)

	for !x.state.terminal() {
		switch x.state {
		case StateThinking:
			x.think(ctx)
		case StateToolExec:
			x.execute(ctx)
		}
	}

	return x.finish(ctx)
}

// ---------- states ----------

func (x *execution) init(ctx context.Context) {
	spec := x.record.Spec

	names := make([]string, len(x.schemas))
	for i, s := range x.schemas {
		names[i] = s.Name
	}
	x.conv = conversation.Seed(conversation.Brief{
		Target:        spec.Target,
		Mode:          spec.Mode,
		MaxIterations: spec.MaxIterations,
		Tools:         names,
		Instructions:  spec.Instructions,
	})
	x.iteration = 0

	now := time.Now()
	x.record.Status = v1alpha1.RunStatus{
		Phase:     v1alpha1.RunRunning,
		StartedAt: now,
	}
	x.record.Metadata.UpdatedAt = now

	x.logger.Info("run started",
		zap.String("runId", x.record.Metadata.Name),
		zap.String("target", spec.Target),
		zap.String("mode", string(spec.Mode)),
		zap.Int("maxIterations", spec.MaxIterations),
	)
	x.journalWrite(ctx)
	x.transition(StateThinking)
}

func (x *execution) think(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		x.abort(fmt.Errorf("%w: %w", ErrCancelled, err))
		return
	}

	x.observer.RoundStarted(x.record.Metadata.Name, x.iteration+1, x.record.Spec.MaxIterations)

	resp, err := x.model.Complete(ctx, ModelRequest{
		Turns: x.conv.Render(),
		Tools: x.schemas,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		x.abort(fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
		return
	case err != nil:
		x.abort(fmt.Errorf("%w: %w", ErrModelService, err))
		return
	case resp == nil:
		x.abort(fmt.Errorf("%w: empty response", ErrModelService))
		return
	}

	x.observer.ModelReplied(x.record.Metadata.Name, resp)
	x.conv.Append(v1alpha1.Turn{
		Role:      v1alpha1.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	if len(resp.ToolCalls) == 0 {
		x.answer = resp.Content
		x.record.Status.Phase = v1alpha1.RunCompleted
		x.transition(StateDone)
		return
	}

	x.pending = resp.ToolCalls
	x.transition(StateToolExec)
}

func (x *execution) execute(ctx context.Context) {
	round := x.iteration + 1
	for _, call := range x.pending {
		x.observer.ToolStarted(x.record.Metadata.Name, call)

		res, inv := x.dispatcher.Dispatch(ctx, call)
		inv.Iteration = round

		x.conv.Append(v1alpha1.Turn{
			Role:       v1alpha1.RoleTool,
			Content:    res.Output,
			ToolName:   call.Name,
			ToolCallID: call.ID,
		})
		x.invocations = append(x.invocations, inv)

		x.observer.ToolFinished(x.record.Metadata.Name, res, inv)
	}
	x.pending = nil
	x.iteration = round

	// Cancellation during the round wins over the budget.
	if err := ctx.Err(); err != nil {
		x.abort(fmt.Errorf("%w: %w", ErrCancelled, err))
		return
	}

	if x.iteration >= x.record.Spec.MaxIterations {
		x.answer = budgetSummary(x.iteration, x.invocations)
		x.conv.Append(v1alpha1.Turn{Role: v1alpha1.RoleAssistant, Content: x.answer})
		x.record.Status.Phase = v1alpha1.RunBudgetExhausted
		x.transition(StateDone)
		return
	}

	x.journalWrite(ctx)
	x.transition(StateThinking)
}

func (x *execution) abort(err error) {
	x.err = err
	x.record.Status.Phase = v1alpha1.RunAborted
	x.logger.Error("run aborted",
		zap.String("runId", x.record.Metadata.Name),
		zap.Int("iteration", x.iteration),
		zap.Error(err),
	)
	x.transition(StateAborted)
}

func (x *execution) finish(ctx context.Context) (*Outcome, error) {
	now := time.Now()
	x.record.Status.FinishedAt = now
	x.record.Metadata.UpdatedAt = now
	if x.err != nil {
		x.record.Status.Error = x.err.Error()
	}
	// The journal gets the final record even when ctx is already cancelled.
	x.journalWrite(context.WithoutCancel(ctx))

	out := &Outcome{
		Phase:       x.record.Status.Phase,
		Iterations:  x.iteration,
		Turns:       x.record.Status.Turns,
		Invocations: x.record.Status.Invocations,
		Answer:      x.answer,
		Err:         x.err,
	}

	x.logger.Info("run finished",
		zap.String("runId", x.record.Metadata.Name),
		zap.String("phase", string(out.Phase)),
		zap.Int("iterations", out.Iterations),
		zap.Int("invocations", len(out.Invocations)),
	)
	x.observer.RunFinished(x.record.Metadata.Name, out)
	return out, x.err
}

// ---------- helpers ----------

func (x *execution) transition(next State) {
	x.logger.Debug("state transition",
		zap.String("runId", x.record.Metadata.Name),
		zap.String("from", string(x.state)),
		zap.String("state", string(next)),
		zap.Int("iteration", x.iteration),
	)
	x.state = next
}

// journalWrite refreshes the record from the conversation and hands it to
// the journal, if any.
func (x *execution) journalWrite(ctx context.Context) {
	x.record.Status.Iterations = x.iteration
	x.record.Status.Turns = x.conv.Render()
	x.record.Status.Invocations = append([]v1alpha1.Invocation(nil), x.invocations...)

	if x.journal == nil {
		return
	}
	if err := x.journal.Record(ctx, x.record); err != nil {
		x.logger.Warn("failed to journal run",
			zap.String("runId", x.record.Metadata.Name),
			zap.Error(err),
		)
	}
}

// budgetSummary is the synthesized final turn of a run that used up its
// round budget.
func budgetSummary(rounds int, invocations []v1alpha1.Invocation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Iteration budget exhausted after %d rounds. Stopping before the model gave a final answer.", rounds)

	if len(invocations) == 0 {
		return sb.String()
	}
	counts := map[string]int{}
	for _, inv := range invocations {
		counts[fmt.Sprintf("%s (%s)", inv.ToolName, inv.Status)]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("\nTool invocations:")
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n- %s x%d", k, counts[k])
	}
	return sb.String()
}
