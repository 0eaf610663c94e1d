// Package runner executes external scanner processes, capturing their
// combined output and optionally streaming it line by line to an observer.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

var (
	ErrProcessStart = errors.New("process failed to start")
	ErrTimeout      = errors.New("process timed out")
	ErrEmptyCommand = errors.New("empty command")
)

const (
	defaultLineBuffer = 256
	defaultWaitDelay  = 2 * time.Second
)

// Observer receives streamed output lines as they are produced.
// label identifies the producing command (normally the tool name).
type Observer interface {
	OnLine(label, line string)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(label, line string)

func (f ObserverFunc) OnLine(label, line string) { f(label, line) }

// Command describes one process invocation. Argv is executed directly,
// never through a shell.
type Command struct {
	Label   string
	Argv    []string
	Timeout time.Duration
	Stream  bool
}

// Result holds what a process produced and how it ended.
type Result struct {
	Output   string
	Status   v1alpha1.ExitStatus
	ExitCode int
	// Message describes a non-ok outcome in words fit for the model.
	Message  string
	Duration time.Duration
	// Err classifies a non-ok outcome; it is never returned as an error.
	Err error
}

// Runner launches processes. A Runner holds no per-run state and is safe
// for concurrent use by independent runs.
type Runner struct {
	observer   Observer
	logger     *zap.Logger
	lineBuffer int
	waitDelay  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver sets the observer that receives streamed lines.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithLineBuffer sets the capacity of the channel between the output reader
// and the observer. Lines are dropped from the display path, never from the
// captured output, when the observer falls behind.
func WithLineBuffer(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.lineBuffer = n
		}
	}
}

// WithWaitDelay bounds how long Run waits for output pipes to close after
// the process has exited or been killed.
func WithWaitDelay(d time.Duration) Option {
	return func(r *Runner) { r.waitDelay = d }
}

// New creates a Runner.
func New(logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		logger:     logger,
		lineBuffer: defaultLineBuffer,
		waitDelay:  defaultWaitDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes c and blocks until it exits, times out or ctx is cancelled.
// Failures of the process itself, including a missing binary, are reported
// in the Result and never as a panic or returned error.
func (r *Runner) Run(ctx context.Context, c Command) Result {
	start := time.Now()
	if len(c.Argv) == 0 || c.Argv[0] == "" {
		return Result{
			Status:   v1alpha1.StatusError,
			ExitCode: -1,
			Message:  ErrEmptyCommand.Error(),
			Err:      ErrEmptyCommand,
		}
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Argv[0], c.Argv[1:]...)
	cmd.WaitDelay = r.waitDelay

	// stdout and stderr share one pipe so lines keep their relative order.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	var lines chan string
	displayDone := make(chan struct{})
	if c.Stream && r.observer != nil {
		lines = make(chan string, r.lineBuffer)
		go func() {
			defer close(displayDone)
			for line := range lines {
				r.observer.OnLine(c.Label, line)
			}
		}()
	} else {
		close(displayDone)
	}

	var buf bytes.Buffer
	var dropped int
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		dropped = consume(pr, &buf, lines)
	}()

	finish := func() {
		pw.Close()
		<-readDone
		if lines != nil {
			close(lines)
		}
		<-displayDone
	}

	r.logger.Debug("starting process",
		zap.String("label", c.Label),
		zap.Strings("argv", c.Argv),
		zap.Duration("timeout", c.Timeout),
	)

	if err := cmd.Start(); err != nil {
		finish()
		r.logger.Warn("process failed to start",
			zap.String("label", c.Label),
			zap.String("bin", c.Argv[0]),
			zap.Error(err),
		)
		return Result{
			Status:   v1alpha1.StatusError,
			ExitCode: -1,
			Message:  fmt.Sprintf("failed to start %s: %v", c.Argv[0], err),
			Duration: time.Since(start),
			Err:      fmt.Errorf("%w: %s: %v", ErrProcessStart, c.Argv[0], err),
		}
	}

	waitErr := cmd.Wait()
	finish()

	res := Result{
		Output:   buf.String(),
		Status:   v1alpha1.StatusOK,
		Duration: time.Since(start),
	}

	switch {
	case ctx.Err() != nil:
		res.Status = v1alpha1.StatusError
		res.ExitCode = -1
		res.Message = fmt.Sprintf("%s cancelled: %v", c.Argv[0], ctx.Err())
		res.Err = ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Status = v1alpha1.StatusTimeout
		res.ExitCode = -1
		res.Message = fmt.Sprintf("%s killed after exceeding timeout of %s", c.Argv[0], c.Timeout)
		res.Err = fmt.Errorf("%w after %s", ErrTimeout, c.Timeout)
	case waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay):
		res.Status = v1alpha1.StatusError
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			res.Message = fmt.Sprintf("%s exited with code %d", c.Argv[0], res.ExitCode)
		} else {
			res.ExitCode = -1
			res.Message = fmt.Sprintf("%s failed: %v", c.Argv[0], waitErr)
		}
		res.Err = waitErr
	}

	if dropped > 0 {
		r.logger.Debug("observer fell behind; display lines dropped",
			zap.String("label", c.Label),
			zap.Int("dropped", dropped),
		)
	}

	r.logger.Debug("process finished",
		zap.String("label", c.Label),
		zap.String("status", string(res.Status)),
		zap.Int("exitCode", res.ExitCode),
		zap.Int("outputLen", len(res.Output)),
		zap.Duration("duration", res.Duration),
	)

	return res
}

// consume copies everything from r into buf and forwards each complete line
// to lines without blocking. It returns the number of lines it had to drop.
func consume(r io.Reader, buf *bytes.Buffer, lines chan<- string) int {
	dropped := 0
	br := bufio.NewReader(r)
	for {
		chunk, err := br.ReadString('\n')
		if chunk != "" {
			buf.WriteString(chunk)
			if lines != nil {
				select {
				case lines <- strings.TrimRight(chunk, "\r\n"):
				default:
					dropped++
				}
			}
		}
		if err != nil {
			return dropped
		}
	}
}
