package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/GoCodeAlone/taskforce/agent"
	"github.com/GoCodeAlone/taskforce/task"
)

// Execution describes a running task.
type Execution struct {
	Task      *task.Task `json:"task"`
	AgentID   string     `json:"agent_id"`
	StartedAt time.Time  `json:"started_at"`
}

// Stats is a point-in-time count of the scheduler's tables.
type Stats struct {
	Agents        int `json:"agents"`
	Pending       int `json:"pending"`
	Active        int `json:"active"`
	History       int `json:"history"`
	MaxConcurrent int `json:"max_concurrent"`
	MaxHistory    int `json:"max_history"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Cancelled     int `json:"cancelled"`
}

// TaskStatus returns a task that is queued or running. Finished and
// cancelled tasks are not found.
func (o *Orchestrator) TaskStatus(id string) (*task.Task, bool) {
	var found *task.Task
	_ = o.call(func(s *state) {
		if e, ok := s.active[id]; ok {
			found = e.task
			return
		}
		for _, q := range s.queue {
			if q.task.ID() == id {
				found = q.task
				return
			}
		}
	})
	return found, found != nil
}

// Agent returns the registered agent with the given id.
func (o *Orchestrator) Agent(id string) (agent.Agent, bool) {
	var a agent.Agent
	_ = o.call(func(s *state) { a = s.byID[id] })
	return a, a != nil
}

// Agents returns the roster in registration order.
func (o *Orchestrator) Agents() []agent.Agent {
	var out []agent.Agent
	_ = o.call(func(s *state) { out = slices.Clone(s.roster) })
	return out
}

// AgentsWithCapability returns the registered agents with a skill in c.
func (o *Orchestrator) AgentsWithCapability(c task.Capability) []agent.Agent {
	var out []agent.Agent
	for _, a := range o.Agents() {
		if agent.HasCapability(a, c) {
			out = append(out, a)
		}
	}
	return out
}

// Pending returns queued tasks in the order they would be dispatched.
func (o *Orchestrator) Pending() []*task.Task {
	var qs []queued
	_ = o.call(func(s *state) { qs = slices.Clone(s.queue) })
	slices.SortFunc(qs, func(a, b queued) int {
		if c := cmp.Compare(b.task.Priority(), a.task.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]*task.Task, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.task)
	}
	return out
}

// Active returns running tasks, oldest first.
func (o *Orchestrator) Active() []Execution {
	var out []Execution
	_ = o.call(func(s *state) {
		for _, e := range s.active {
			out = append(out, Execution{Task: e.task, AgentID: e.agentID, StartedAt: e.started})
		}
	})
	slices.SortFunc(out, func(a, b Execution) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// History returns recorded results, most recent first.
func (o *Orchestrator) History() []task.Result {
	var out []task.Result
	_ = o.call(func(s *state) { out = slices.Clone(s.history) })
	return out
}

// Result looks up a finished task's result, first in memory and then in
// the archive.
func (o *Orchestrator) Result(ctx context.Context, taskID string) (task.Result, error) {
	if res, ok := o.results.Get(taskID); ok {
		return res, nil
	}
	if o.archive != nil {
		res, err := o.archive.Get(ctx, taskID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, task.ErrNotFound) {
			return task.Result{}, fmt.Errorf("result %s: %w", taskID, err)
		}
	}
	return task.Result{}, fmt.Errorf("result %s: %w", taskID, ErrTaskNotFound)
}

// Results lists archived results. Without an archive it filters the
// in-memory history.
func (o *Orchestrator) Results(ctx context.Context, f task.Filter) ([]task.Result, error) {
	if o.archive != nil {
		return o.archive.List(ctx, f)
	}
	var out []task.Result
	for _, r := range o.History() {
		if f.AgentID != "" && r.AgentID != f.AgentID {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		out = append(out, r)
	}
	if f.Offset > 0 {
		out = out[min(f.Offset, len(out)):]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (o *Orchestrator) Stats() Stats {
	var st Stats
	_ = o.call(func(s *state) {
		st = Stats{
			Agents:        len(s.roster),
			Pending:       len(s.queue),
			Active:        len(s.active),
			History:       len(s.history),
			MaxConcurrent: o.maxConcurrent,
			MaxHistory:    o.maxHistory,
			Completed:     s.completed,
			Failed:        s.failed,
			Cancelled:     s.cancelled,
		}
	})
	return st
}

// Summary renders a human-readable status report. It is meant for logs and
// terminals, not for parsing.
func (o *Orchestrator) Summary() string {
	st := o.Stats()
	agents := o.Agents()
	title := cases.Title(language.English)

	var b strings.Builder
	fmt.Fprintf(&b, "Agents: %d\n", st.Agents)
	fmt.Fprintf(&b, "Queued: %d\n", st.Pending)
	fmt.Fprintf(&b, "Active: %d/%d\n", st.Active, st.MaxConcurrent)
	fmt.Fprintf(&b, "History: %d/%d (completed %d, failed %d, cancelled %d)\n",
		st.History, st.MaxHistory, st.Completed, st.Failed, st.Cancelled)
	for _, a := range agents {
		fmt.Fprintf(&b, "  - %s (%s): %s\n", a.Name(), a.ID(), title.String(string(a.Status())))
	}
	return b.String()
}
