// Package task defines the task model, typed task parameters, execution
// results, and the archive that persists completed results.
package task

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type tags the functional domain a task belongs to.
type Type string

const (
	TypeProcessManagement Type = "process_management"
	TypeCleanup           Type = "cleanup"
	TypeDiagnostics       Type = "diagnostics"
	TypeMonitoring        Type = "monitoring"
	TypeOptimization      Type = "optimization"
	TypeBrowserManagement Type = "browser_management"
	TypeAnalysis          Type = "analysis"
	TypeMaintenance       Type = "maintenance"
)

// Capability is a tag identifying a functional domain a skill serves.
// Tasks list the capabilities an agent must cover to be assigned.
type Capability string

const (
	CapabilityProcessManagement Capability = "process_management"
	CapabilityCleanup           Capability = "cleanup"
	CapabilityDiagnostics       Capability = "diagnostics"
	CapabilityMonitoring        Capability = "monitoring"
	CapabilityOptimization      Capability = "optimization"
	CapabilityBrowserManagement Capability = "browser_management"
	CapabilityAnalysis          Capability = "analysis"
	CapabilityMaintenance       Capability = "maintenance"
)

// Priority determines task scheduling order. Higher values dispatch first.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority accepts a priority name ("low", "normal", "high", "critical")
// or its numeric value.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		if _, ok := priorityNames[Priority(n)]; ok {
			return Priority(n), nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// Spec describes a task to be created. It is the mutable input to New; the
// resulting Task is read-only.
type Spec struct {
	Type                 Type             `json:"type" yaml:"type"`
	Priority             Priority         `json:"priority" yaml:"priority"`
	Description          string           `json:"description" yaml:"description"`
	Parameters           map[string]Value `json:"parameters,omitempty" yaml:"-"`
	RequiredCapabilities []Capability     `json:"required_capabilities,omitempty" yaml:"required_capabilities"`
	Timeout              time.Duration    `json:"timeout,omitempty" yaml:"timeout"`
}

// Task is an immutable unit of work. Once created its fields never change;
// submitting the same work again requires a new Task (see Resubmit).
type Task struct {
	id           string
	typ          Type
	priority     Priority
	description  string
	params       map[string]Value
	capabilities []Capability
	timeout      time.Duration
	createdAt    time.Time
}

// New creates a task from spec with a fresh ID.
func New(spec Spec) *Task {
	params := make(map[string]Value, len(spec.Parameters))
	for k, v := range spec.Parameters {
		params[k] = v.clone()
	}
	return &Task{
		id:           uuid.New().String(),
		typ:          spec.Type,
		priority:     spec.Priority,
		description:  spec.Description,
		params:       params,
		capabilities: slices.Clone(spec.RequiredCapabilities),
		timeout:      spec.Timeout,
		createdAt:    time.Now(),
	}
}

func (t *Task) ID() string          { return t.id }
func (t *Task) Type() Type          { return t.typ }
func (t *Task) Priority() Priority  { return t.priority }
func (t *Task) Description() string { return t.description }

// Timeout returns the advisory execution timeout, zero when unset.
func (t *Task) Timeout() time.Duration { return t.timeout }
func (t *Task) CreatedAt() time.Time   { return t.createdAt }

// Param returns the parameter stored under key.
func (t *Task) Param(key string) (Value, bool) {
	v, ok := t.params[key]
	if !ok {
		return Value{}, false
	}
	return v.clone(), true
}

// Params returns a copy of all parameters.
func (t *Task) Params() map[string]Value {
	out := make(map[string]Value, len(t.params))
	for k, v := range t.params {
		out[k] = v.clone()
	}
	return out
}

// RequiredCapabilities returns a copy of the capability tags an agent must cover.
func (t *Task) RequiredCapabilities() []Capability {
	return slices.Clone(t.capabilities)
}

// StringParam returns the string parameter under key, or def when it is absent.
// A present parameter of another kind yields a *TypeError.
func (t *Task) StringParam(key, def string) (string, error) {
	v, ok := t.params[key]
	if !ok {
		return def, nil
	}
	s, err := v.AsString()
	if err != nil {
		return "", fmt.Errorf("param %s: %w", key, err)
	}
	return s, nil
}

// Spec returns the spec this task was built from.
func (t *Task) Spec() Spec {
	return Spec{
		Type:                 t.typ,
		Priority:             t.priority,
		Description:          t.description,
		Parameters:           t.Params(),
		RequiredCapabilities: t.RequiredCapabilities(),
		Timeout:              t.timeout,
	}
}

// Resubmit returns a new task with the same spec and a new ID.
func (t *Task) Resubmit() *Task { return New(t.Spec()) }

// taskJSON is the wire form of a Task.
type taskJSON struct {
	ID                   string           `json:"id"`
	Type                 Type             `json:"type"`
	Priority             Priority         `json:"priority"`
	PriorityName         string           `json:"priority_name"`
	Description          string           `json:"description"`
	Parameters           map[string]Value `json:"parameters,omitempty"`
	RequiredCapabilities []Capability     `json:"required_capabilities,omitempty"`
	Timeout              time.Duration    `json:"timeout,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
}

func (t *Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(taskJSON{
		ID:                   t.id,
		Type:                 t.typ,
		Priority:             t.priority,
		PriorityName:         t.priority.String(),
		Description:          t.description,
		Parameters:           maps.Clone(t.params),
		RequiredCapabilities: t.capabilities,
		Timeout:              t.timeout,
		CreatedAt:            t.createdAt,
	})
}
