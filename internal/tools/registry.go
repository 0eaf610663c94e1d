// Package tools holds the scanner tool registry, argument validation and
// the dispatcher that turns model tool calls into process invocations.
package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrDuplicateTool    = errors.New("tool already registered")
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid tool arguments")
	ErrInvalidSpec      = errors.New("invalid tool spec")
)

// ParamType is the simple JSON type a parameter accepts.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Bounds limits a numeric parameter to [Min, Max].
type Bounds struct {
	Min float64
	Max float64
}

// Param describes one named tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Bounds      *Bounds
}

// BuildFunc turns validated arguments into the argument vector that follows
// the tool's binary.
type BuildFunc func(args Args) ([]string, error)

// Spec describes a registered tool. A Spec is immutable once registered.
type Spec struct {
	Name        string
	Description string
	Params      []Param
	// Binary is the executable prefix of every command line.
	Binary  string
	Build   BuildFunc
	Timeout time.Duration
}

// Param returns the named parameter.
func (s *Spec) Param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Command builds the full argument vector for validated args.
func (s *Spec) Command(args Args) ([]string, error) {
	rest, err := s.Build(args)
	if err != nil {
		return nil, err
	}
	return append([]string{s.Binary}, rest...), nil
}

// Schema is the JSON-schema style description presented to the model.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Schema renders the spec as an object schema.
func (s *Spec) Schema() Schema {
	props := make(map[string]any, len(s.Params))
	required := []string{}
	for _, p := range s.Params {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if p.Bounds != nil {
			prop["minimum"] = p.Bounds.Min
			prop["maximum"] = p.Bounds.Max
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return Schema{
		Name:        s.Name,
		Description: s.Description,
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           props,
			"required":             required,
			"additionalProperties": false,
		},
	}
}

// Registry maps tool names to specs, remembering registration order.
// Under scout serve one Registry is read by every active run, so access
// is locked; the per-run loop state itself holds no locks.
type Registry struct {
	mu    sync.RWMutex
	order []string
	specs map[string]*Spec
}

// NewRegistry creates a registry holding the given specs, in order.
func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]*Spec, len(specs))}
	for _, s := range specs {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds spec. It fails with ErrDuplicateTool if the name is taken.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidSpec)
	}
	if spec.Build == nil {
		return fmt.Errorf("%w: %q has no command builder", ErrInvalidSpec, spec.Name)
	}
	if spec.Binary == "" {
		return fmt.Errorf("%w: %q has no binary", ErrInvalidSpec, spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, spec.Name)
	}
	s := spec
	s.Params = append([]Param(nil), spec.Params...)
	r.specs[s.Name] = &s
	r.order = append(r.order, s.Name)
	return nil
}

// Lookup returns the spec registered under name, or ErrUnknownTool.
func (r *Registry) Lookup(name string) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return s, nil
}

// All returns every spec in registration order.
func (r *Registry) All() []*Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Schemas returns the model-facing schema of every tool, in order.
func (r *Registry) Schemas() []Schema {
	all := r.All()
	out := make([]Schema, len(all))
	for i, s := range all {
		out[i] = s.Schema()
	}
	return out
}

// Subset returns a new registry restricted to names, keeping this
// registry's order. An empty names list returns every tool.
func (r *Registry) Subset(names []string) (*Registry, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, err := r.Lookup(n); err != nil {
			return nil, err
		}
		want[n] = struct{}{}
	}

	sub := &Registry{specs: make(map[string]*Spec, len(want))}
	for _, s := range r.All() {
		if _, ok := want[s.Name]; ok {
			if err := sub.Register(*s); err != nil {
				return nil, err
			}
		}
	}
	return sub, nil
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
