package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/GoCodeAlone/taskforce/config"
	"github.com/GoCodeAlone/taskforce/task"
)

// DefaultCommandTimeout applies to command tools configured without one.
const DefaultCommandTimeout = time.Minute

// CommandTool runs a fixed executable. Callers may append arguments through
// the optional "args" parameter; the executable itself is never caller
// controlled.
type CommandTool struct {
	name    string
	desc    string
	command string
	args    []string
	timeout time.Duration
}

// NewCommandTool creates a tool that runs command with args.
func NewCommandTool(name, description, command string, args []string, timeout time.Duration) *CommandTool {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &CommandTool{
		name:    name,
		desc:    description,
		command: command,
		args:    slices.Clone(args),
		timeout: timeout,
	}
}

func (c *CommandTool) Name() string        { return c.name }
func (c *CommandTool) Description() string { return c.desc }

func (c *CommandTool) Params() []Param {
	return []Param{{
		Name:        "args",
		Type:        ParamList,
		Description: "extra arguments appended to the configured ones",
	}}
}

// Invoke runs the command and returns a map with stdout, stderr and
// exit_code. A non-zero exit is an error; the output is still returned.
func (c *CommandTool) Invoke(ctx context.Context, args map[string]task.Value) (task.Value, error) {
	argv := slices.Clone(c.args)
	if extra, ok := args["args"]; ok && !extra.IsNull() {
		items, err := extra.AsList()
		if err != nil {
			return task.Null(), fmt.Errorf("%w: args: %v", ErrInvalidArgument, err)
		}
		for i, it := range items {
			s, err := it.AsString()
			if err != nil {
				return task.Null(), fmt.Errorf("%w: args[%d]: %v", ErrInvalidArgument, i, err)
			}
			argv = append(argv, s)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.command, argv...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second // children may hold the output pipes open
	runErr := cmd.Run()

	exitCode := 0
	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return task.Null(), fmt.Errorf("run %s: %w", c.command, ctx.Err())
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		exitCode = exitErr.ExitCode()
	default:
		return task.Null(), fmt.Errorf("run %s: %w", c.command, runErr)
	}

	out := task.Map(map[string]task.Value{
		"stdout":    task.String(stdout.String()),
		"stderr":    task.String(stderr.String()),
		"exit_code": task.Int(int64(exitCode)),
	})
	if exitCode != 0 {
		return out, fmt.Errorf("%s exited with status %d", c.command, exitCode)
	}
	return out, nil
}

// RuleSpec configures a skill built with NewRuleSkill.
type RuleSpec struct {
	Name        string
	Description string
	Category    task.Capability
	Proficiency Proficiency
	Types       []task.Type
	Keywords    []string
	Tool        string
}

// NewRuleSkill returns a skill that handles tasks by type or description
// keyword and executes them by invoking a single tool. With no types and no
// keywords it handles tasks of its category.
func NewRuleSkill(spec RuleSpec) Skill {
	keywords := make([]string, 0, len(spec.Keywords))
	for _, k := range spec.Keywords {
		keywords = append(keywords, strings.ToLower(k))
	}
	types := slices.Clone(spec.Types)

	canHandle := HandlesCategory(spec.Category)
	if len(types) > 0 || len(keywords) > 0 {
		canHandle = func(t *task.Task) bool {
			if slices.Contains(types, t.Type()) {
				return true
			}
			desc := strings.ToLower(t.Description())
			return slices.ContainsFunc(keywords, func(k string) bool { return strings.Contains(desc, k) })
		}
	}

	return NewSkill(SkillSpec{
		Name:        spec.Name,
		Description: spec.Description,
		Category:    spec.Category,
		Proficiency: spec.Proficiency,
		CanHandle:   canHandle,
		Execute:     InvokeTool(spec.Tool),
	})
}

// FromConfig builds an uninitialized command agent. Its tools and skills
// are registered when it is initialized.
func FromConfig(cfg config.AgentConfig) (*Base, error) {
	tools := make([]Tool, 0, len(cfg.Tools))
	names := make(map[string]bool, len(cfg.Tools))
	for _, tc := range cfg.Tools {
		if tc.Name == "" || tc.Command == "" {
			return nil, fmt.Errorf("agent %s: tool needs a name and a command", cfg.ID)
		}
		names[tc.Name] = true
		tools = append(tools, NewCommandTool(tc.Name, tc.Description, tc.Command, tc.Args, tc.Timeout))
	}

	skills := make([]Skill, 0, len(cfg.Skills))
	for _, sc := range cfg.Skills {
		if !names[sc.Tool] {
			return nil, fmt.Errorf("agent %s: skill %s: %w: %s", cfg.ID, sc.Name, ErrToolNotFound, sc.Tool)
		}
		prof, err := ParseProficiency(sc.Proficiency)
		if err != nil {
			return nil, fmt.Errorf("agent %s: skill %s: %w", cfg.ID, sc.Name, err)
		}
		types := make([]task.Type, 0, len(sc.Types))
		for _, t := range sc.Types {
			types = append(types, task.Type(t))
		}
		skills = append(skills, NewRuleSkill(RuleSpec{
			Name:        sc.Name,
			Description: sc.Description,
			Category:    task.Capability(sc.Category),
			Proficiency: prof,
			Types:       types,
			Keywords:    sc.Keywords,
			Tool:        sc.Tool,
		}))
	}

	return New(Config{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Setup: func(b *Base) error {
			for _, t := range tools {
				if err := b.AddTool(t); err != nil {
					return err
				}
			}
			for _, s := range skills {
				b.AddSkill(s)
			}
			return nil
		},
	}), nil
}
