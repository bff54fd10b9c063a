package agent

import (
	"context"
	"log/slog"
	"slices"

	"github.com/GoCodeAlone/taskforce/task"
)

// Capabilities returns the union of the categories of a's skills, in first
// seen order.
func Capabilities(a Agent) []task.Capability {
	return capabilitiesOf(a.Skills())
}

func capabilitiesOf(skills []Skill) []task.Capability {
	caps := make([]task.Capability, 0, len(skills))
	for _, s := range skills {
		if !slices.Contains(caps, s.Category()) {
			caps = append(caps, s.Category())
		}
	}
	return caps
}

// HasCapability reports whether any of a's skills belongs to c.
func HasCapability(a Agent, c task.Capability) bool {
	return slices.ContainsFunc(a.Skills(), func(s Skill) bool { return s.Category() == c })
}

// Eligible reports whether a may take t, and if so the proficiency of its
// best skill that can handle t. An agent is eligible when it is available,
// not in busy, covers every capability t requires, and has at least one
// skill that can handle t.
func Eligible(a Agent, t *task.Task, busy map[string]bool) (Proficiency, bool) {
	if !a.Status().Available() || busy[a.ID()] {
		return 0, false
	}
	skills := a.Skills()
	caps := capabilitiesOf(skills)
	for _, c := range t.RequiredCapabilities() {
		if !slices.Contains(caps, c) {
			return 0, false
		}
	}
	var best Proficiency
	for _, s := range skills {
		if s.CanHandle(t) && s.Proficiency() > best {
			best = s.Proficiency()
		}
	}
	return best, best > 0
}

// SelectAgent returns the eligible agent with the most proficient matching
// skill. Ties go to the agent that appears first in agents.
func SelectAgent(agents []Agent, t *task.Task, busy map[string]bool) (Agent, bool) {
	var best Agent
	var bestProf Proficiency
	for _, a := range agents {
		p, ok := Eligible(a, t, busy)
		if ok && p > bestProf {
			best, bestProf = a, p
		}
	}
	return best, best != nil
}

// Candidate is the view of an agent offered to an Assigner.
type Candidate struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Status      Status      `json:"status"`
	Skills      []SkillInfo `json:"skills"`
}

// CandidateOf describes a for an Assigner.
func CandidateOf(a Agent) Candidate {
	return Candidate{
		ID:          a.ID(),
		Name:        a.Name(),
		Description: a.Description(),
		Status:      a.Status(),
		Skills:      skillInfos(a.Skills()),
	}
}

// Assigner recommends an agent for a task. It returns the id of one of the
// candidates. Recommendations are advisory; see Assign.
type Assigner interface {
	Recommend(ctx context.Context, t *task.Task, roster []Candidate) (agentID string, err error)
}

// AssignerFunc adapts a function into an Assigner.
type AssignerFunc func(ctx context.Context, t *task.Task, roster []Candidate) (string, error)

func (f AssignerFunc) Recommend(ctx context.Context, t *task.Task, roster []Candidate) (string, error) {
	return f(ctx, t, roster)
}

// Strategy names how an agent was chosen.
type Strategy string

const (
	StrategyAssigner Strategy = "assigner"
	StrategyRule     Strategy = "rule"
)

// Assign picks an agent for t. When an assigner is set and more than one
// agent is eligible, its recommendation is used if it names an eligible
// agent; otherwise the deterministic rule of SelectAgent applies. A nil
// Agent means nothing is eligible.
func Assign(ctx context.Context, assigner Assigner, agents []Agent, t *task.Task, busy map[string]bool, logger *slog.Logger) (Agent, Strategy) {
	fallback, ok := SelectAgent(agents, t, busy)
	if !ok {
		return nil, ""
	}
	if assigner == nil {
		return fallback, StrategyRule
	}

	eligible := make(map[string]Agent)
	roster := make([]Candidate, 0, len(agents))
	for _, a := range agents {
		roster = append(roster, CandidateOf(a))
		if _, ok := Eligible(a, t, busy); ok {
			eligible[a.ID()] = a
		}
	}
	if len(eligible) == 1 {
		return fallback, StrategyRule
	}

	if logger == nil {
		logger = slog.Default()
	}
	id, err := assigner.Recommend(ctx, t, roster)
	if err != nil {
		logger.Warn("assigner failed, using rule", "task_id", t.ID(), "err", err)
		return fallback, StrategyRule
	}
	a, ok := eligible[id]
	if !ok {
		logger.Warn("assigner recommended ineligible agent, using rule", "task_id", t.ID(), "agent_id", id)
		return fallback, StrategyRule
	}
	return a, StrategyAssigner
}
