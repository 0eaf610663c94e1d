package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/klubi/scout/internal/runner"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// Executor runs one command. *runner.Runner satisfies it.
type Executor interface {
	Run(ctx context.Context, c runner.Command) runner.Result
}

// Dispatcher resolves tool calls against a Registry, validates their
// arguments, runs the resulting command and normalises the outcome.
type Dispatcher struct {
	registry    *Registry
	exec        Executor
	logger      *zap.Logger
	outputLimit int
	stream      bool
	timeouts    map[string]time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithOutputLimit sets the byte bound applied to tool output.
func WithOutputLimit(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.outputLimit = n
		}
	}
}

// WithStreaming asks the executor to stream output lines while a tool runs.
func WithStreaming(on bool) DispatcherOption {
	return func(d *Dispatcher) { d.stream = on }
}

// WithTimeouts overrides the default timeout of the named tools.
func WithTimeouts(t map[string]time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		for name, v := range t {
			if v > 0 {
				d.timeouts[name] = v
			}
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(reg *Registry, exec Executor, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:    reg,
		exec:        exec,
		logger:      logger,
		outputLimit: DefaultOutputLimit,
		timeouts:    make(map[string]time.Duration),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry calls are resolved against.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch executes one tool call. It never fails: unknown tools, invalid
// arguments and process failures all come back as a ToolResult with a
// non-ok status whose Output explains the problem to the model.
func (d *Dispatcher) Dispatch(ctx context.Context, call v1alpha1.ToolCall) (v1alpha1.ToolResult, v1alpha1.Invocation) {
	inv := v1alpha1.Invocation{
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
		StartedAt: time.Now(),
		ExitCode:  -1,
	}

	spec, err := d.registry.Lookup(call.Name)
	if err != nil {
		msg := fmt.Sprintf("unknown tool %q; available tools: %s", call.Name, strings.Join(d.registry.Names(), ", "))
		return d.reject(call, inv, msg, err)
	}

	args, err := ParseArguments(spec, call.Arguments)
	if err != nil {
		return d.reject(call, inv, err.Error(), err)
	}

	argv, err := spec.Command(args)
	if err != nil {
		return d.reject(call, inv, err.Error(), err)
	}
	inv.Argv = argv

	timeout := spec.Timeout
	if t, ok := d.timeouts[spec.Name]; ok {
		timeout = t
	}

	d.logger.Info("dispatching tool",
		zap.String("tool", spec.Name),
		zap.String("callId", call.ID),
		zap.String("args", call.Arguments),
		zap.Strings("argv", argv),
		zap.Time("startedAt", inv.StartedAt),
		zap.Duration("timeout", timeout),
	)

	res := d.exec.Run(ctx, runner.Command{
		Label:   spec.Name,
		Argv:    argv,
		Timeout: timeout,
		Stream:  d.stream,
	})

	inv.Status = res.Status
	inv.ExitCode = res.ExitCode
	inv.RawLength = len(res.Output)
	inv.Duration = res.Duration

	fields := []zap.Field{
		zap.String("tool", spec.Name),
		zap.String("callId", call.ID),
		zap.String("status", string(res.Status)),
		zap.Int("exitCode", res.ExitCode),
		zap.Int("rawLength", inv.RawLength),
		zap.Duration("duration", res.Duration),
	}
	if res.Status == v1alpha1.StatusOK {
		d.logger.Info("tool finished", fields...)
	} else {
		d.logger.Warn("tool failed", append(fields, zap.Error(res.Err))...)
	}

	return v1alpha1.ToolResult{
		CallID:    call.ID,
		ToolName:  spec.Name,
		Output:    d.payload(res),
		Status:    res.Status,
		RawLength: inv.RawLength,
	}, inv
}

// payload formats what the model sees for a finished process.
func (d *Dispatcher) payload(res runner.Result) string {
	out := Truncate(res.Output, d.outputLimit)
	if res.Status == v1alpha1.StatusOK {
		if strings.TrimSpace(out) == "" {
			return "(no output)"
		}
		return out
	}
	header := fmt.Sprintf("[%s] %s", res.Status, res.Message)
	if strings.TrimSpace(out) == "" {
		return header
	}
	return header + "\n" + out
}

func (d *Dispatcher) reject(call v1alpha1.ToolCall, inv v1alpha1.Invocation, msg string, err error) (v1alpha1.ToolResult, v1alpha1.Invocation) {
	level := d.logger.Warn
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		level = d.logger.Info
	}
	level("tool call rejected",
		zap.String("tool", call.Name),
		zap.String("callId", call.ID),
		zap.String("args", call.Arguments),
		zap.Error(err),
	)

	inv.Status = v1alpha1.StatusError
	return v1alpha1.ToolResult{
		CallID:   call.ID,
		ToolName: call.Name,
		Output:   "[error] " + msg,
		Status:   v1alpha1.StatusError,
	}, inv
}
