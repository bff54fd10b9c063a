package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/GoCodeAlone/taskforce/task"
)

// skill builds a skill of category c that succeeds with its own name.
func skill(name string, c task.Capability, p Proficiency) Skill {
	return NewSkill(SkillSpec{
		Name:        name,
		Category:    c,
		Proficiency: p,
		Execute: func(context.Context, *task.Task, *ToolSet) (task.Value, error) {
			return task.String(name), nil
		},
	})
}

func failingSkill(c task.Capability) Skill {
	return NewSkill(SkillSpec{
		Name:     "failing",
		Category: c,
		Execute: func(context.Context, *task.Task, *ToolSet) (task.Value, error) {
			return task.Null(), errors.New("boom")
		},
	})
}

// readyAgent returns an initialized agent with the given skills.
func readyAgent(t *testing.T, id string, skills ...Skill) *Base {
	t.Helper()
	a := New(Config{
		ID: id,
		Setup: func(b *Base) error {
			for _, s := range skills {
				b.AddSkill(s)
			}
			return nil
		},
	})
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize %s: %v", id, err)
	}
	return a
}

func newTask(typ task.Type, caps ...task.Capability) *task.Task {
	return task.New(task.Spec{Type: typ, Description: string(typ) + " task", RequiredCapabilities: caps})
}
