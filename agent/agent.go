// Package agent defines capability-providing agents, their tools and skills,
// the rule that matches tasks to agents, and teams that run missions.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/taskforce/comms"
	"github.com/GoCodeAlone/taskforce/task"
)

var (
	ErrAgentBusy          = errors.New("agent is busy")
	ErrAgentShutdown      = errors.New("agent is shut down")
	ErrNotInitialized     = errors.New("agent is not initialized")
	ErrAlreadyInitialized = errors.New("agent is already initialized")
	ErrNoCapableSkill     = errors.New("no skill can handle task")
	ErrToolNotFound       = errors.New("tool not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNoEligibleAgent    = errors.New("no eligible agent")
	ErrExecutionPanicked  = errors.New("execution panicked")
	ErrMissionInProgress  = errors.New("mission already in progress")
	ErrMissionCancelled   = errors.New("mission cancelled")
	ErrUnknownMission     = errors.New("unknown mission kind")
)

// Status represents the current state of an agent.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusIdle          Status = "idle"
	StatusReady         Status = "ready"
	StatusBusy          Status = "busy"
	StatusError         Status = "error"
	StatusShutdown      Status = "shutdown"
)

// Available reports whether an agent in this state may be given a task.
func (s Status) Available() bool { return s == StatusIdle || s == StatusReady }

// Terminal reports whether the state can never be left.
func (s Status) Terminal() bool { return s == StatusShutdown }

// Proficiency ranks how well a skill performs its category.
type Proficiency int

const (
	ProficiencyNovice Proficiency = iota + 1
	ProficiencyIntermediate
	ProficiencyAdvanced
	ProficiencyExpert
)

var proficiencyNames = map[Proficiency]string{
	ProficiencyNovice:       "novice",
	ProficiencyIntermediate: "intermediate",
	ProficiencyAdvanced:     "advanced",
	ProficiencyExpert:       "expert",
}

func (p Proficiency) String() string {
	if s, ok := proficiencyNames[p]; ok {
		return s
	}
	return "proficiency(" + strconv.Itoa(int(p)) + ")"
}

// ParseProficiency accepts a proficiency name or its numeric rank.
// An empty string yields ProficiencyNovice.
func ParseProficiency(s string) (Proficiency, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ProficiencyNovice, nil
	}
	for p, name := range proficiencyNames {
		if name == s {
			return p, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		if _, ok := proficiencyNames[Proficiency(n)]; ok {
			return Proficiency(n), nil
		}
	}
	return 0, fmt.Errorf("unknown proficiency %q", s)
}

// Agent is an addressable worker that advertises tools and skills.
//
// Execute always returns a Result describing the run. A failure Result is
// accompanied by a non-nil error so callers can match it with errors.Is.
type Agent interface {
	ID() string
	Name() string
	Description() string
	Status() Status
	Tools() []Tool
	Skills() []Skill

	// Initialize registers tools and skills and makes the agent ready.
	Initialize(ctx context.Context) error
	Execute(ctx context.Context, t *task.Task) (task.Result, error)
	// HandleMessage processes a notification or request and returns a reply,
	// which may be nil.
	HandleMessage(ctx context.Context, msg *comms.Message) (*comms.Message, error)
	// Shutdown releases resources. The agent is never selected again.
	Shutdown(ctx context.Context) error
}

// SkillInfo is the JSON-friendly description of a skill.
type SkillInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    task.Capability `json:"category"`
	Proficiency Proficiency     `json:"proficiency"`
}

// ToolInfo is the JSON-friendly description of a tool.
type ToolInfo struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params,omitempty"`
}

// Info provides read-only metadata about an agent.
type Info struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Status        Status            `json:"status"`
	Capabilities  []task.Capability `json:"capabilities"`
	Skills        []SkillInfo       `json:"skills"`
	Tools         []ToolInfo        `json:"tools"`
	CurrentTask   string            `json:"current_task,omitempty"`
	InitializedAt time.Time         `json:"initialized_at,omitzero"`
	Completed     int               `json:"completed"`
	Failed        int               `json:"failed"`
}

// Describe returns metadata for any agent. Agents that keep runtime
// counters (such as *Base) report them through an Info method.
func Describe(a Agent) Info {
	if d, ok := a.(interface{ Info() Info }); ok {
		return d.Info()
	}
	return Info{
		ID:           a.ID(),
		Name:         a.Name(),
		Description:  a.Description(),
		Status:       a.Status(),
		Capabilities: Capabilities(a),
		Skills:       skillInfos(a.Skills()),
		Tools:        toolInfos(a.Tools()),
	}
}

func skillInfos(skills []Skill) []SkillInfo {
	out := make([]SkillInfo, 0, len(skills))
	for _, s := range skills {
		out = append(out, SkillInfo{
			Name:        s.Name(),
			Description: s.Description(),
			Category:    s.Category(),
			Proficiency: s.Proficiency(),
		})
	}
	return out
}

func toolInfos(tools []Tool) []ToolInfo {
	out := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolInfo{Name: t.Name(), Description: t.Description(), Params: t.Params()})
	}
	return out
}

// Run executes t on a and normalizes the outcome: panics are recovered,
// a missing or inconsistent Result is replaced by a failure, and the
// returned Result is always attributed to t and a.
func Run(ctx context.Context, a Agent, t *task.Task) (res task.Result, err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s: %w: %v", a.ID(), ErrExecutionPanicked, r)
			res = task.Failed(t.ID(), a.ID(), err, started, time.Now())
		}
	}()

	res, err = a.Execute(ctx, t)
	switch {
	case err != nil && (res.OK() || res.TaskID == ""):
		res = task.Failed(t.ID(), a.ID(), err, started, time.Now())
	case err == nil && res.TaskID == "":
		res = task.Succeeded(t.ID(), a.ID(), res.Output, started, time.Now())
	case err == nil && !res.OK():
		err = errors.New(res.Error)
	}
	res.TaskID = t.ID()
	res.AgentID = a.ID()
	return res, err
}
