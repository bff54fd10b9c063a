package agent

import (
	"context"
	"fmt"
	"slices"

	"github.com/GoCodeAlone/taskforce/task"
)

// Skill is a policy that decides whether it can handle a task and how to
// execute it with the agent's tools.
type Skill interface {
	Name() string
	Description() string
	Category() task.Capability
	Proficiency() Proficiency
	CanHandle(t *task.Task) bool
	Execute(ctx context.Context, t *task.Task, tools *ToolSet) (task.Value, error)
}

// SkillSpec configures a skill built with NewSkill.
type SkillSpec struct {
	Name        string
	Description string
	Category    task.Capability
	Proficiency Proficiency

	// CanHandle defaults to HandlesCategory(Category).
	CanHandle func(t *task.Task) bool
	Execute   func(ctx context.Context, t *task.Task, tools *ToolSet) (task.Value, error)
}

type funcSkill struct {
	spec SkillSpec
}

// NewSkill adapts spec into a Skill.
func NewSkill(spec SkillSpec) Skill {
	if spec.Proficiency == 0 {
		spec.Proficiency = ProficiencyNovice
	}
	if spec.CanHandle == nil {
		spec.CanHandle = HandlesCategory(spec.Category)
	}
	return &funcSkill{spec: spec}
}

func (s *funcSkill) Name() string                { return s.spec.Name }
func (s *funcSkill) Description() string         { return s.spec.Description }
func (s *funcSkill) Category() task.Capability   { return s.spec.Category }
func (s *funcSkill) Proficiency() Proficiency    { return s.spec.Proficiency }
func (s *funcSkill) CanHandle(t *task.Task) bool { return s.spec.CanHandle(t) }

func (s *funcSkill) Execute(ctx context.Context, t *task.Task, tools *ToolSet) (task.Value, error) {
	if s.spec.Execute == nil {
		return task.Null(), fmt.Errorf("skill %s has no executor", s.spec.Name)
	}
	return s.spec.Execute(ctx, t, tools)
}

// HandlesCategory matches tasks whose type equals c or that require c.
func HandlesCategory(c task.Capability) func(*task.Task) bool {
	return func(t *task.Task) bool {
		return string(t.Type()) == string(c) || slices.Contains(t.RequiredCapabilities(), c)
	}
}

// HandlesTypes matches tasks of any of the given types.
func HandlesTypes(types ...task.Type) func(*task.Task) bool {
	return func(t *task.Task) bool { return slices.Contains(types, t.Type()) }
}

// InvokeTool returns a skill executor that calls the named tool, passing
// the task parameters that the tool declares.
func InvokeTool(name string) func(context.Context, *task.Task, *ToolSet) (task.Value, error) {
	return func(ctx context.Context, t *task.Task, tools *ToolSet) (task.Value, error) {
		tool, ok := tools.Get(name)
		if !ok {
			return task.Null(), fmt.Errorf("%w: %s", ErrToolNotFound, name)
		}
		args := make(map[string]task.Value)
		for _, p := range tool.Params() {
			if v, ok := t.Param(p.Name); ok {
				args[p.Name] = v
			}
		}
		return tools.Invoke(ctx, name, args)
	}
}
