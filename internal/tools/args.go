package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is one validated argument. Exactly one of the typed fields is
// meaningful, selected by Type.
type Value struct {
	Type ParamType
	str  string
	num  float64
	flag bool
}

func StringValue(s string) Value { return Value{Type: TypeString, str: s} }
func NumberValue(n float64) Value { return Value{Type: TypeNumber, num: n} }
func IntegerValue(n int) Value { return Value{Type: TypeInteger, num: float64(n)} }
func BooleanValue(b bool) Value { return Value{Type: TypeBoolean, flag: b} }

// String renders the value the way it appears on a command line.
func (v Value) String() string {
	switch v.Type {
	case TypeString:
		return v.str
	case TypeInteger:
		return strconv.Itoa(int(v.num))
	case TypeNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(v.flag)
	}
	return ""
}

// Args is the validated argument set for one tool call.
type Args map[string]Value

// String returns a string argument and whether it was supplied.
func (a Args) String(name string) (string, bool) {
	v, ok := a[name]
	if !ok {
		return "", false
	}
	return v.str, true
}

// Int returns an integer argument and whether it was supplied.
func (a Args) Int(name string) (int, bool) {
	v, ok := a[name]
	if !ok {
		return 0, false
	}
	return int(v.num), true
}

// Bool returns a boolean argument, or def when it was not supplied.
func (a Args) Bool(name string, def bool) bool {
	v, ok := a[name]
	if !ok {
		return def
	}
	return v.flag
}

// ArgumentError reports a tool call whose arguments do not match the
// tool's parameters.
type ArgumentError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("invalid arguments for %s: %q %s", e.Tool, e.Param, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return ErrInvalidArguments }

// ParseArguments decodes the raw JSON argument text of a tool call and
// validates it against spec. Empty text is treated as an empty object.
func ParseArguments(spec *Spec, raw string) (Args, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, &ArgumentError{Tool: spec.Name, Reason: "arguments are not a JSON object: " + err.Error()}
	}
	return Validate(spec, fields)
}

// Validate checks decoded fields against spec. Every required parameter
// must be present, every present field must be a declared parameter, and
// each value must have the declared type. JSON null counts as absent.
func Validate(spec *Spec, fields map[string]any) (Args, error) {
	for _, name := range sortedKeys(fields) {
		if _, ok := spec.Param(name); !ok {
			return nil, &ArgumentError{Tool: spec.Name, Param: name, Reason: "is not a parameter of this tool"}
		}
	}

	args := make(Args, len(fields))
	for _, p := range spec.Params {
		raw, present := fields[p.Name]
		if !present || raw == nil {
			if p.Required {
				return nil, &ArgumentError{Tool: spec.Name, Param: p.Name, Reason: "is required"}
			}
			continue
		}
		v, err := convert(p, raw)
		if err != nil {
			return nil, &ArgumentError{Tool: spec.Name, Param: p.Name, Reason: err.Error()}
		}
		args[p.Name] = v
	}
	return args, nil
}

func convert(p Param, raw any) (Value, error) {
	switch p.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("must be a string, got %s", jsonType(raw))
		}
		s = strings.TrimSpace(s)
		if s == "" && p.Required {
			return Value{}, fmt.Errorf("must not be empty")
		}
		if strings.HasPrefix(s, "-") {
			return Value{}, fmt.Errorf("must not start with '-'")
		}
		if strings.ContainsAny(s, "\x00\r\n") {
			return Value{}, fmt.Errorf("must not contain control characters")
		}
		return StringValue(s), nil

	case TypeNumber, TypeInteger:
		n, ok := raw.(float64)
		if !ok {
			return Value{}, fmt.Errorf("must be a number, got %s", jsonType(raw))
		}
		if p.Type == TypeInteger && n != math.Trunc(n) {
			return Value{}, fmt.Errorf("must be an integer, got %v", n)
		}
		if p.Bounds != nil && (n < p.Bounds.Min || n > p.Bounds.Max) {
			return Value{}, fmt.Errorf("must be between %v and %v, got %v", p.Bounds.Min, p.Bounds.Max, n)
		}
		if p.Type == TypeInteger {
			return IntegerValue(int(n)), nil
		}
		return NumberValue(n), nil

	case TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("must be a boolean, got %s", jsonType(raw))
		}
		return BooleanValue(b), nil
	}
	return Value{}, fmt.Errorf("has unsupported type %q", p.Type)
}

func jsonType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
