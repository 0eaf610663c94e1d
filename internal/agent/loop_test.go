package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/klubi/scout/internal/runner"
	"github.com/klubi/scout/internal/tools"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// scriptedModel replies with the result of next for every call and keeps
// the requests it received.
type scriptedModel struct {
	mu       sync.Mutex
	requests []ModelRequest
	next     func(call int, req ModelRequest) (*ModelResponse, error)
}

func (m *scriptedModel) Complete(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	n := len(m.requests)
	m.mu.Unlock()
	return m.next(n, req)
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// alwaysCall returns a model that requests the given tool every round.
func alwaysCall(name, args string) *scriptedModel {
	return &scriptedModel{next: func(call int, _ ModelRequest) (*ModelResponse, error) {
		return &ModelResponse{ToolCalls: []v1alpha1.ToolCall{
			{ID: fmt.Sprintf("call-%d", call), Name: name, Arguments: args},
		}}, nil
	}}
}

// fakeExecutor stands in for the process runner.
type fakeExecutor struct {
	mu    sync.Mutex
	argvs [][]string
}

func (f *fakeExecutor) Run(ctx context.Context, c runner.Command) runner.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.argvs = append(f.argvs, c.Argv)
	return runner.Result{Output: c.Label + " output\n", Status: v1alpha1.StatusOK}
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.argvs)
}

// recordingJournal remembers the phase and turn count of every write.
type recordingJournal struct {
	mu     sync.Mutex
	phases []v1alpha1.RunPhase
	turns  []int
	err    error
}

func (j *recordingJournal) Record(ctx context.Context, run *v1alpha1.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.phases = append(j.phases, run.Status.Phase)
	j.turns = append(j.turns, len(run.Status.Turns))
	return j.err
}

func newTestLoop(t *testing.T, model Model, exec tools.Executor, opts ...LoopOption) *Loop {
	t.Helper()
	reg, err := tools.DefaultRegistry(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := tools.NewDispatcher(reg, exec, zap.NewNop())
	return NewLoop(model, d, reg.Schemas(), zap.NewNop(), opts...)
}

func newTestRecord(t *testing.T, mode v1alpha1.Mode, override int) *v1alpha1.Run {
	t.Helper()
	spec, err := v1alpha1.NewRunSpec("10.10.10.5", mode, override)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewRun(spec)
}

func TestLoopQuickModeExhaustsBudget(t *testing.T) {
	model := alwaysCall("nmap", `{"target":"10.10.10.5"}`)
	exec := &fakeExecutor{}
	loop := newTestLoop(t, model, exec)
	record := newTestRecord(t, v1alpha1.ModeQuick, 0)

	out, err := loop.Run(context.Background(), record)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Phase != v1alpha1.RunBudgetExhausted {
		t.Errorf("expected BudgetExhausted, got %s", out.Phase)
	}
	if out.Iterations != 3 {
		t.Errorf("expected 3 rounds, got %d", out.Iterations)
	}
	if model.calls() != 3 {
		t.Errorf("expected 3 model calls, got %d", model.calls())
	}
	if exec.count() != 3 {
		t.Errorf("expected 3 processes, got %d", exec.count())
	}

	last := out.Turns[len(out.Turns)-1]
	if last.Role != v1alpha1.RoleAssistant || !strings.Contains(last.Content, "budget exhausted after 3 rounds") {
		t.Errorf("expected synthesized budget turn, got %+v", last)
	}
	if !strings.Contains(out.Answer, "nmap (ok) x3") {
		t.Errorf("expected summary of invocations, got %q", out.Answer)
	}
	if record.Status.Phase != v1alpha1.RunBudgetExhausted || record.Status.FinishedAt.IsZero() {
		t.Errorf("expected record status to be filled in, got %+v", record.Status)
	}
	for i, inv := range out.Invocations {
		if inv.Iteration != i+1 {
			t.Errorf("invocation %d: expected iteration %d, got %d", i, i+1, inv.Iteration)
		}
	}
}

func TestLoopRespectsBudget(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		model := alwaysCall("whatweb", `{"url":"http://10.10.10.5"}`)
		loop := newTestLoop(t, model, &fakeExecutor{})

		out, err := loop.Run(context.Background(), newTestRecord(t, v1alpha1.ModeCustom, n))
		if err != nil {
			t.Fatalf("budget %d: unexpected error: %v", n, err)
		}
		if out.Iterations != n || model.calls() != n {
			t.Errorf("budget %d: got %d rounds and %d model calls", n, out.Iterations, model.calls())
		}
	}
}

func TestLoopFinalAnswerFirstRound(t *testing.T) {
	model := &scriptedModel{next: func(int, ModelRequest) (*ModelResponse, error) {
		return &ModelResponse{Content: "Nothing to enumerate."}, nil
	}}
	exec := &fakeExecutor{}
	loop := newTestLoop(t, model, exec)

	out, err := loop.Run(context.Background(), newTestRecord(t, v1alpha1.ModeNormal, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != v1alpha1.RunCompleted {
		t.Errorf("expected Completed, got %s", out.Phase)
	}
	if out.Iterations != 0 || model.calls() != 1 {
		t.Errorf("expected one model call and no rounds, got %d calls and %d rounds", model.calls(), out.Iterations)
	}
	if exec.count() != 0 {
		t.Errorf("expected no process, got %d", exec.count())
	}
	if out.Answer != "Nothing to enumerate." {
		t.Errorf("unexpected answer %q", out.Answer)
	}
	if len(out.Turns) != 3 {
		t.Errorf("expected system, user and assistant turns, got %d", len(out.Turns))
	}
}

func TestLoopUnknownToolContinues(t *testing.T) {
	model := &scriptedModel{next: func(call int, req ModelRequest) (*ModelResponse, error) {
		if call == 1 {
			return &ModelResponse{ToolCalls: []v1alpha1.ToolCall{{ID: "c1", Name: "hydra", Arguments: `{}`}}}, nil
		}
		last := req.Turns[len(req.Turns)-1]
		if last.Role != v1alpha1.RoleTool || !strings.Contains(last.Content, "unknown tool") {
			return nil, fmt.Errorf("expected error result in conversation, got %+v", last)
		}
		return &ModelResponse{Content: "done"}, nil
	}}
	exec := &fakeExecutor{}
	loop := newTestLoop(t, model, exec)

	out, err := loop.Run(context.Background(), newTestRecord(t, v1alpha1.ModeQuick, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != v1alpha1.RunCompleted {
		t.Errorf("expected Completed, got %s", out.Phase)
	}
	if len(out.Invocations) != 1 || out.Invocations[0].Status != v1alpha1.StatusError {
		t.Errorf("expected one error invocation, got %+v", out.Invocations)
	}
	if exec.count() != 0 {
		t.Errorf("expected no process for unknown tool, got %d", exec.count())
	}
}

func TestLoopMissingWordlist(t *testing.T) {
	model := &scriptedModel{next: func(call int, _ ModelRequest) (*ModelResponse, error) {
		if call == 1 {
			return &ModelResponse{ToolCalls: []v1alpha1.ToolCall{
				{ID: "c1", Name: "gobuster", Arguments: `{"url":"http://10.10.10.5/"}`},
			}}, nil
		}
		return &ModelResponse{Content: "done"}, nil
	}}
	exec := &fakeExecutor{}
	loop := newTestLoop(t, model, exec)

	out, err := loop.Run(context.Background(), newTestRecord(t, v1alpha1.ModeQuick, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.count() != 0 {
		t.Errorf("expected no process, got %d", exec.count())
	}

	var toolTurns []v1alpha1.Turn
	for _, turn := range out.Turns {
		if turn.Role == v1alpha1.RoleTool {
			toolTurns = append(toolTurns, turn)
		}
	}
	if len(toolTurns) != 1 {
		t.Fatalf("expected one tool turn, got %d", len(toolTurns))
	}
	if !strings.Contains(toolTurns[0].Content, "wordlist") || toolTurns[0].ToolCallID != "c1" {
		t.Errorf("unexpected tool turn %+v", toolTurns[0])
	}
}

func TestLoopOneToolTurnPerCall(t *testing.T) {
	var before []int
	model := &scriptedModel{next: func(call int, req ModelRequest) (*ModelResponse, error) {
		before = append(before, len(req.Turns))
		calls := make([]v1alpha1.ToolCall, call)
		for i := range calls {
			calls[i] = v1alpha1.ToolCall{ID: fmt.Sprintf("c%d-%d", call, i), Name: "whatweb", Arguments: `{"url":"http://x"}`}
		}
		return &ModelResponse{ToolCalls: calls}, nil
	}}
	loop := newTestLoop(t, model, &fakeExecutor{})

	out, err := loop.Run(context.Background(), newTestRecord(t, v1alpha1.ModeQuick, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Round n issues n calls: one assistant turn plus n tool turns.
	for i := 1; i < len(before); i++ {
		if got, want := before[i]-before[i-1], 1+i; got != want {
			t.Errorf("round %d: conversation grew by %d, want %d", i, got, want)
		}
	}
	if len(out.Invocations) != 1+2+3 {
		t.Errorf("expected 6 invocations, got %d", len(out.Invocations))
	}
	// Tool calls keep the order the model issued them in.
	var ids []string
	for _, turn := range out.Turns {
		if turn.Role == v1alpha1.RoleTool {
			ids = append(ids, turn.ToolCallID)
		}
	}
	if strings.Join(ids, ",") != "c1-0,c2-0,c2-1,c3-0,c3-1,c3-2" {
		t.Errorf("unexpected tool turn order %v", ids)
	}
}

func TestLoopModelErrorAborts(t *testing.T) {
	model := &scriptedModel{next: func(call int, _ ModelRequest) (*ModelResponse, error) {
		if call == 2 {
			return nil, errors.New("connection refused")
		}
		return &ModelResponse{ToolCalls: []v1alpha1.ToolCall{{ID: "c", Name: "nmap", Arguments: `{"target":"10.10.10.5"}`}}}, nil
	}}
	loop := newTestLoop(t, model, &fakeExecutor{})
	record := newTestRecord(t, v1alpha1.ModeNormal, 0)

	out, err := loop.Run(context.Background(), record)
	if !errors.Is(err, ErrModelService) {
		t.Fatalf("expected ErrModelService, got %v", err)
	}
	if out == nil || out.Phase != v1alpha1.RunAborted {
		t.Fatalf("expected Aborted outcome, got %+v", out)
	}
	if out.Iterations != 1 {
		t.Errorf("expected 1 completed round, got %d", out.Iterations)
	}
	if model.calls() != 2 {
		t.Errorf("expected no retry after model failure, got %d calls", model.calls())
	}
	if !strings.Contains(record.Status.Error, "connection refused") {
		t.Errorf("expected error recorded, got %q", record.Status.Error)
	}
}

func TestLoopNilResponseAborts(t *testing.T) {
	model := &scriptedModel{next: func(int, ModelRequest) (*ModelResponse, error) { return nil, nil }}
	loop := newTestLoop(t, model, &fakeExecutor{})

	_, err := loop.Run(context.Background(), newTestRecord(t, v1alpha1.ModeQuick, 0))
	if !errors.Is(err, ErrModelService) {
		t.Fatalf("expected ErrModelService, got %v", err)
	}
}

func TestLoopCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &scriptedModel{next: func(int, ModelRequest) (*ModelResponse, error) {
		cancel()
		return &ModelResponse{ToolCalls: []v1alpha1.ToolCall{{ID: "c", Name: "nmap", Arguments: `{"target":"10.10.10.5"}`}}}, nil
	}}
	loop := newTestLoop(t, model, &fakeExecutor{})

	out, err := loop.Run(ctx, newTestRecord(t, v1alpha1.ModeNormal, 0))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if out.Phase != v1alpha1.RunAborted || out.Iterations != 1 {
		t.Errorf("expected Aborted after 1 round, got %s after %d", out.Phase, out.Iterations)
	}
}

func TestLoopInvalidSpec(t *testing.T) {
	loop := newTestLoop(t, alwaysCall("nmap", `{}`), &fakeExecutor{})
	_, err := loop.Run(context.Background(), NewRun(v1alpha1.RunSpec{Target: "-x", Mode: v1alpha1.ModeQuick, MaxIterations: 3}))
	if !errors.Is(err, ErrInvalidRunSpec) {
		t.Fatalf("expected ErrInvalidRunSpec, got %v", err)
	}
}

func TestLoopJournal(t *testing.T) {
	journal := &recordingJournal{}
	model := alwaysCall("nmap", `{"target":"10.10.10.5"}`)
	loop := newTestLoop(t, model, &fakeExecutor{}, WithJournal(journal))

	if _, err := loop.Run(context.Background(), newTestRecord(t, v1alpha1.ModeCustom, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Start, after round 1, final.
	if len(journal.phases) != 3 {
		t.Fatalf("expected 3 journal writes, got %d: %v", len(journal.phases), journal.phases)
	}
	if journal.phases[0] != v1alpha1.RunRunning || journal.phases[2] != v1alpha1.RunBudgetExhausted {
		t.Errorf("unexpected phases %v", journal.phases)
	}
	for i := 1; i < len(journal.turns); i++ {
		if journal.turns[i] <= journal.turns[i-1] {
			t.Errorf("expected journaled turns to grow, got %v", journal.turns)
		}
	}
}

func TestLoopJournalFailureDoesNotAbort(t *testing.T) {
	journal := &recordingJournal{err: errors.New("disk full")}
	loop := newTestLoop(t, alwaysCall("nmap", `{"target":"10.10.10.5"}`), &fakeExecutor{}, WithJournal(journal))

	out, err := loop.Run(context.Background(), newTestRecord(t, v1alpha1.ModeQuick, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Phase != v1alpha1.RunBudgetExhausted {
		t.Errorf("expected BudgetExhausted, got %s", out.Phase)
	}
}

func TestLoopSchemasOffered(t *testing.T) {
	model := &scriptedModel{next: func(int, ModelRequest) (*ModelResponse, error) {
		return &ModelResponse{Content: "ok"}, nil
	}}
	loop := newTestLoop(t, model, &fakeExecutor{})
	if _, err := loop.Run(context.Background(), newTestRecord(t, v1alpha1.ModeQuick, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := model.requests[0]
	if len(req.Tools) != 5 || req.Tools[0].Name != "nmap" {
		t.Errorf("expected five tools starting with nmap, got %d", len(req.Tools))
	}
	if req.Turns[0].Role != v1alpha1.RoleSystem || !strings.Contains(req.Turns[1].Content, "10.10.10.5") {
		t.Errorf("expected seeded conversation, got %+v", req.Turns[:2])
	}
}

// cancellingExecutor cancels the run while its tool is executing.
type cancellingExecutor struct {
	cancel context.CancelFunc
}

func (e cancellingExecutor) Run(ctx context.Context, c runner.Command) runner.Result {
	e.cancel()
	return runner.Result{Output: "interrupted\n", Status: v1alpha1.StatusError, ExitCode: -1}
}

func TestLoopCancelledInLastRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	journal := &recordingJournal{}
	loop := newTestLoop(t, alwaysCall("nmap", `{"target":"10.10.10.5"}`), cancellingExecutor{cancel: cancel}, WithJournal(journal))
	record := newTestRecord(t, v1alpha1.ModeCustom, 1)

	out, err := loop.Run(ctx, record)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if out.Phase != v1alpha1.RunAborted {
		t.Errorf("expected Aborted, got %s", out.Phase)
	}
	if out.Iterations != 1 || len(out.Invocations) != 1 {
		t.Errorf("expected the round to be recorded, got %d rounds and %d invocations", out.Iterations, len(out.Invocations))
	}
	if record.Status.Error == "" {
		t.Error("expected error recorded")
	}
	if last := journal.phases[len(journal.phases)-1]; last != v1alpha1.RunAborted {
		t.Errorf("expected final journal write Aborted, got %s", last)
	}
}

func TestLoopMissingBinaryContinues(t *testing.T) {
	reg, err := tools.DefaultRegistry(map[string]string{"nmap": "/nonexistent/scout-test-nmap"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := tools.NewDispatcher(reg, runner.New(zap.NewNop()), zap.NewNop())

	model := &scriptedModel{next: func(call int, req ModelRequest) (*ModelResponse, error) {
		if call == 1 {
			return &ModelResponse{ToolCalls: []v1alpha1.ToolCall{{ID: "c1", Name: "nmap", Arguments: `{"target":"10.10.10.5"}`}}}, nil
		}
		last := req.Turns[len(req.Turns)-1]
		if last.Role != v1alpha1.RoleTool || !strings.Contains(last.Content, "failed to start") {
			return nil, fmt.Errorf("expected start failure in conversation, got %+v", last)
		}
		return &ModelResponse{Content: "nmap is not installed."}, nil
	}}
	loop := NewLoop(model, d, reg.Schemas(), zap.NewNop())

	out, err := loop.Run(context.Background(), newTestRecord(t, v1alpha1.ModeQuick, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.calls() != 2 {
		t.Errorf("expected a second round, got %d model calls", model.calls())
	}
	if out.Phase != v1alpha1.RunCompleted {
		t.Errorf("expected Completed, got %s", out.Phase)
	}
	inv := out.Invocations[0]
	if inv.Status != v1alpha1.StatusError || len(inv.Argv) == 0 || inv.Argv[0] != "/nonexistent/scout-test-nmap" {
		t.Errorf("unexpected invocation %+v", inv)
	}
}
