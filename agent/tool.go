package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/taskforce/task"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
	ParamList   ParamType = "list"
	ParamMap    ParamType = "map"
	ParamAny    ParamType = "any"
)

func (p ParamType) accepts(v task.Value) bool {
	switch p {
	case ParamAny, "":
		return true
	case ParamString:
		return v.Kind() == task.KindString
	case ParamInt:
		return v.Kind() == task.KindInt
	case ParamFloat:
		return v.Kind() == task.KindFloat || v.Kind() == task.KindInt
	case ParamBool:
		return v.Kind() == task.KindBool
	case ParamList:
		return v.Kind() == task.KindList
	case ParamMap:
		return v.Kind() == task.KindMap
	}
	return false
}

// Param declares one parameter of a tool.
type Param struct {
	Name        string     `json:"name"`
	Type        ParamType  `json:"type"`
	Required    bool       `json:"required"`
	Default     task.Value `json:"default"`
	Description string     `json:"description,omitempty"`
}

// Tool is a named, directly invokable operation with a parameter schema.
type Tool interface {
	Name() string
	Description() string
	Params() []Param
	// Invoke runs the tool. Arguments have already been validated when the
	// call goes through a ToolSet.
	Invoke(ctx context.Context, args map[string]task.Value) (task.Value, error)
}

// ToolFunc is the body of a tool built with NewTool.
type ToolFunc func(ctx context.Context, args map[string]task.Value) (task.Value, error)

type funcTool struct {
	name   string
	desc   string
	params []Param
	fn     ToolFunc
}

// NewTool adapts fn into a Tool.
func NewTool(name, description string, params []Param, fn ToolFunc) Tool {
	return &funcTool{name: name, desc: description, params: params, fn: fn}
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return t.desc }
func (t *funcTool) Params() []Param     { return append([]Param(nil), t.params...) }

func (t *funcTool) Invoke(ctx context.Context, args map[string]task.Value) (task.Value, error) {
	if t.fn == nil {
		return task.Null(), fmt.Errorf("tool %s has no implementation", t.name)
	}
	return t.fn(ctx, args)
}

// ValidateArgs checks args against params. It returns a new map with
// defaults filled in for absent optional parameters. Missing required
// parameters, unknown names, and type mismatches yield ErrInvalidArgument.
func ValidateArgs(params []Param, args map[string]task.Value) (map[string]task.Value, error) {
	out := make(map[string]task.Value, len(params))
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.Name] = true
		v, ok := args[p.Name]
		if !ok || v.IsNull() {
			if p.Required {
				return nil, fmt.Errorf("%w: missing required parameter %q", ErrInvalidArgument, p.Name)
			}
			if !p.Default.IsNull() {
				out[p.Name] = p.Default
			}
			continue
		}
		if !p.Type.accepts(v) {
			return nil, fmt.Errorf("%w: parameter %q is %s, want %s", ErrInvalidArgument, p.Name, v.Kind(), p.Type)
		}
		out[p.Name] = v
	}
	for name := range args {
		if !known[name] {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidArgument, name)
		}
	}
	return out, nil
}

// ToolSet is an ordered, name-indexed collection of tools. It is safe for
// concurrent use.
type ToolSet struct {
	mu     sync.RWMutex
	tools  []Tool
	byName map[string]Tool
}

// NewToolSet creates a set containing tools. Duplicate names are rejected.
func NewToolSet(tools ...Tool) (*ToolSet, error) {
	s := &ToolSet{byName: make(map[string]Tool)}
	for _, t := range tools {
		if err := s.Add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends t. A tool with the same name must not already be present.
func (s *ToolSet) Add(t Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byName == nil {
		s.byName = make(map[string]Tool)
	}
	if _, dup := s.byName[t.Name()]; dup {
		return fmt.Errorf("tool %s already registered", t.Name())
	}
	s.tools = append(s.tools, t)
	s.byName[t.Name()] = t
	return nil
}

// Get returns the tool registered under name.
func (s *ToolSet) Get(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byName[name]
	return t, ok
}

// List returns the tools in registration order.
func (s *ToolSet) List() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Tool(nil), s.tools...)
}

func (s *ToolSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tools)
}

// Invoke validates args against the named tool's schema and runs it.
func (s *ToolSet) Invoke(ctx context.Context, name string, args map[string]task.Value) (task.Value, error) {
	t, ok := s.Get(name)
	if !ok {
		return task.Null(), fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	valid, err := ValidateArgs(t.Params(), args)
	if err != nil {
		return task.Null(), fmt.Errorf("tool %s: %w", name, err)
	}
	out, err := t.Invoke(ctx, valid)
	if err != nil {
		return out, fmt.Errorf("tool %s: %w", name, err)
	}
	return out, nil
}
