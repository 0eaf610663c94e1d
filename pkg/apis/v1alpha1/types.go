// Package v1alpha1 defines all scout resource types.
package v1alpha1

import (
	"fmt"
	"time"
)

const (
	APIVersion = "scout.dev/v1alpha1"
)

// Resource kinds
const (
	KindRun         = "Run"
	KindScanProfile = "ScanProfile"
)

// TypeMeta describes the API version and kind of a resource.
type TypeMeta struct {
	APIVersion string `json:"apiVersion" yaml:"apiVersion"`
	Kind       string `json:"kind" yaml:"kind"`
}

// ObjectMeta holds metadata common to all resources.
type ObjectMeta struct {
	Name      string            `json:"name" yaml:"name"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	UID       string            `json:"uid,omitempty" yaml:"uid,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// -------------------------------------------------------
// Modes
// -------------------------------------------------------

// Mode is a named iteration-budget preset.
type Mode string

const (
	ModeQuick  Mode = "quick"
	ModeNormal Mode = "normal"
	ModeDeep   Mode = "deep"
	ModeCustom Mode = "custom"
)

// presetIterations maps each preset mode to its round budget.
// ModeCustom has no preset and needs an explicit budget.
var presetIterations = map[Mode]int{
	ModeQuick:  3,
	ModeNormal: 10,
	ModeDeep:   20,
}

// ParseMode converts a user-supplied name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeQuick, ModeNormal, ModeDeep, ModeCustom:
		return m, nil
	case "":
		return ModeNormal, nil
	default:
		return "", fmt.Errorf("unknown mode %q (valid: quick, normal, deep, custom)", s)
	}
}

// Iterations returns the preset round budget for the mode, or 0 for
// ModeCustom and unknown modes.
func (m Mode) Iterations() int {
	return presetIterations[m]
}

// -------------------------------------------------------
// RunSpec (run configuration)
// -------------------------------------------------------

// RunSpec is the configuration of a single decision-loop run.
type RunSpec struct {
	Target        string `json:"target" yaml:"target"`
	Mode          Mode   `json:"mode" yaml:"mode"`
	MaxIterations int    `json:"maxIterations" yaml:"maxIterations"`
	Model         string `json:"model,omitempty" yaml:"model,omitempty"`
	SaveLog       bool   `json:"saveLog,omitempty" yaml:"saveLog,omitempty"`
	// Profile names the ScanProfile a custom run was built from.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
	// Instructions are operator notes appended to the system turn.
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// NewRunSpec builds a RunSpec for target, deriving the budget from mode
// unless override is positive. A positive override on a preset mode keeps
// the mode name; ModeCustom requires a positive override.
func NewRunSpec(target string, mode Mode, override int) (RunSpec, error) {
	spec := RunSpec{Target: target, Mode: mode}
	switch {
	case override > 0:
		spec.MaxIterations = override
	case mode == ModeCustom:
		return RunSpec{}, fmt.Errorf("mode custom requires an explicit iteration budget")
	default:
		spec.MaxIterations = mode.Iterations()
	}
	return spec, spec.Validate()
}

// Validate checks the RunSpec invariants.
func (s RunSpec) Validate() error {
	if err := ValidateTarget(s.Target); err != nil {
		return err
	}
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("maxIterations must be > 0, got %d", s.MaxIterations)
	}
	return nil
}

// ValidateTarget rejects targets that are empty, contain whitespace or
// could be mistaken for a command-line option.
func ValidateTarget(target string) error {
	if target == "" {
		return fmt.Errorf("target must not be empty")
	}
	for _, r := range target {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return fmt.Errorf("target %q must not contain whitespace", target)
		}
	}
	if target[0] == '-' {
		return fmt.Errorf("target %q must not start with '-'", target)
	}
	return nil
}

// -------------------------------------------------------
// Conversation
// -------------------------------------------------------

// Role identifies who produced a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry of the conversation exchanged with the model.
type Turn struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
	// ToolName and ToolCallID are set on tool turns.
	ToolName   string `json:"toolName,omitempty" yaml:"toolName,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty" yaml:"toolCallId,omitempty"`
	// ToolCalls are the requests carried by an assistant turn.
	ToolCalls []ToolCall `json:"toolCalls,omitempty" yaml:"toolCalls,omitempty"`
}

// ToolCall is a model-issued request to invoke one registered tool.
type ToolCall struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	// Arguments is the JSON object text exactly as the model produced it.
	Arguments string `json:"arguments" yaml:"arguments"`
}

// ExitStatus classifies how a tool invocation ended.
type ExitStatus string

const (
	StatusOK      ExitStatus = "ok"
	StatusError   ExitStatus = "error"
	StatusTimeout ExitStatus = "timeout"
)

// ToolResult is the normalised outcome of one dispatched ToolCall.
type ToolResult struct {
	CallID   string     `json:"callId" yaml:"callId"`
	ToolName string     `json:"toolName" yaml:"toolName"`
	Output   string     `json:"output" yaml:"output"`
	Status   ExitStatus `json:"status" yaml:"status"`
	// RawLength is the byte length of the output before truncation.
	RawLength int `json:"rawLength" yaml:"rawLength"`
}

// Invocation records one tool dispatch for later review.
type Invocation struct {
	CallID    string        `json:"callId" yaml:"callId"`
	ToolName  string        `json:"toolName" yaml:"toolName"`
	Arguments string        `json:"arguments" yaml:"arguments"`
	Argv      []string      `json:"argv,omitempty" yaml:"argv,omitempty"`
	Iteration int           `json:"iteration" yaml:"iteration"`
	Status    ExitStatus    `json:"status" yaml:"status"`
	ExitCode  int           `json:"exitCode" yaml:"exitCode"`
	RawLength int           `json:"rawLength" yaml:"rawLength"`
	StartedAt time.Time     `json:"startedAt" yaml:"startedAt"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// -------------------------------------------------------
// Run (persisted run record)
// -------------------------------------------------------

// RunPhase represents the lifecycle phase of a Run.
type RunPhase string

const (
	RunRunning         RunPhase = "Running"
	RunCompleted       RunPhase = "Completed"
	RunBudgetExhausted RunPhase = "BudgetExhausted"
	RunAborted         RunPhase = "Aborted"
)

// Terminal reports whether the phase is final.
func (p RunPhase) Terminal() bool {
	return p == RunCompleted || p == RunBudgetExhausted || p == RunAborted
}

// Run is the record of one decision-loop invocation.
type Run struct {
	TypeMeta `json:",inline" yaml:",inline"`
	Metadata ObjectMeta `json:"metadata" yaml:"metadata"`
	Spec     RunSpec    `json:"spec" yaml:"spec"`
	Status   RunStatus  `json:"status,omitempty" yaml:"status,omitempty"`
}

type RunStatus struct {
	Phase       RunPhase     `json:"phase" yaml:"phase"`
	Iterations  int          `json:"iterations" yaml:"iterations"`
	Turns       []Turn       `json:"turns,omitempty" yaml:"turns,omitempty"`
	Invocations []Invocation `json:"invocations,omitempty" yaml:"invocations,omitempty"`
	Error       string       `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time    `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	FinishedAt  time.Time    `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}

// -------------------------------------------------------
// ScanProfile (custom mode)
// -------------------------------------------------------

// ScanProfile describes a custom run: budget, tool subset and overrides.
type ScanProfile struct {
	TypeMeta `json:",inline" yaml:",inline"`
	Metadata ObjectMeta      `json:"metadata" yaml:"metadata"`
	Spec     ScanProfileSpec `json:"spec" yaml:"spec"`
}

type ScanProfileSpec struct {
	MaxIterations int `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"`
	// Tools restricts the registry to the named tools; empty means all.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	// ToolTimeouts overrides per-tool timeouts, in seconds.
	ToolTimeouts map[string]int `json:"toolTimeouts,omitempty" yaml:"toolTimeouts,omitempty"`
	OutputLimit  int            `json:"outputLimit,omitempty" yaml:"outputLimit,omitempty"`
	Instructions string         `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// -------------------------------------------------------
// API requests
// -------------------------------------------------------

// RunRequest is the body of a request to launch a run.
type RunRequest struct {
	Target string `json:"target" yaml:"target"`
	Mode   Mode   `json:"mode,omitempty" yaml:"mode,omitempty"`
	// Iterations overrides the mode's budget when positive.
	Iterations   int    `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// Spec converts the request into a validated RunSpec.
func (r RunRequest) Spec() (RunSpec, error) {
	mode, err := ParseMode(string(r.Mode))
	if err != nil {
		return RunSpec{}, err
	}
	if r.Iterations < 0 {
		return RunSpec{}, fmt.Errorf("iterations must be >= 0, got %d", r.Iterations)
	}
	spec, err := NewRunSpec(r.Target, mode, r.Iterations)
	if err != nil {
		return RunSpec{}, err
	}
	spec.Instructions = r.Instructions
	return spec, nil
}
