package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/GoCodeAlone/taskforce/agent"
	"github.com/GoCodeAlone/taskforce/task"
)

// state is the scheduler's bookkeeping. Only the loop goroutine touches it.
type state struct {
	roster  []agent.Agent
	byID    map[string]agent.Agent
	queue   []queued
	seq     uint64
	active  map[string]*execution
	history []task.Result // most recent first

	// consulting holds queued tasks waiting on the assigner. Each one
	// reserves an execution slot until its recommendation arrives.
	consulting map[string]bool
	closed  bool

	completed int
	failed    int
	cancelled int
}

type queued struct {
	task *task.Task
	seq  uint64
}

type execution struct {
	task    *task.Task
	agentID string
	started time.Time
	cancel  context.CancelFunc
}

type completion struct {
	exec *execution
	res  task.Result
	err  error
}

// SubmitTask queues t and triggers a drain. It returns without waiting for
// dispatch.
func (o *Orchestrator) SubmitTask(t *task.Task) (string, error) {
	err := o.send(func(s *state) {
		if s.closed {
			o.logger.Warn("task submitted after close", "task_id", t.ID())
			return
		}
		s.seq++
		s.queue = append(s.queue, queued{task: t, seq: s.seq})
		o.metrics.setQueued(len(s.queue))
		o.logger.Debug("task queued", "task_id", t.ID(), "type", t.Type(), "priority", t.Priority())
		o.emit(taskEvent(t, "task queued", "", "queued"))
		o.drain(s)
	})
	if err != nil {
		return "", fmt.Errorf("submit task %s: %w", t.ID(), err)
	}
	return t.ID(), nil
}

// CancelTask removes a queued task, or cancels a running one and frees its
// slot. It reports whether the task was found; finished tasks cannot be
// cancelled.
func (o *Orchestrator) CancelTask(id string) bool {
	var found bool
	_ = o.call(func(s *state) {
		if i := slices.IndexFunc(s.queue, func(q queued) bool { return q.task.ID() == id }); i >= 0 {
			t := s.queue[i].task
			s.queue = slices.Delete(s.queue, i, i+1)
			o.metrics.setQueued(len(s.queue))
			o.emit(taskEvent(t, "task cancelled", "", "cancelled"))
			s.cancelled++
			found = true
			return
		}
		if e, ok := s.active[id]; ok {
			e.cancel()
			delete(s.active, id)
			o.metrics.setActive(len(s.active))
			o.emit(taskEvent(e.task, "task cancelled", e.agentID, "cancelled"))
			o.logger.Info("task cancelled", "task_id", id, "agent_id", e.agentID)
			s.cancelled++
			found = true
			o.drain(s)
		}
	})
	return found
}

// drain admits queued tasks until the queue is exhausted or the active
// table is full. Tasks no agent can take stay queued. A task with several
// eligible agents goes to the assigner, when one is set, and stays queued
// until the recommendation comes back.
func (o *Orchestrator) drain(s *state) {
	if s.closed || len(s.queue) == 0 || o.slotsInUse(s) >= o.maxConcurrent {
		return
	}

	slices.SortFunc(s.queue, func(a, b queued) int {
		if c := cmp.Compare(b.task.Priority(), a.task.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	busy := busyAgents(s)
	var admitted []queued
	var chosen []agent.Agent
	kept := make([]queued, 0, len(s.queue))
	for _, q := range s.queue {
		if s.consulting[q.task.ID()] || o.slotsInUse(s)+len(admitted) >= o.maxConcurrent {
			kept = append(kept, q)
			continue
		}
		eligible := eligibleAgents(s.roster, q.task, busy)
		switch {
		case len(eligible) == 0:
			kept = append(kept, q)
		case o.assigner != nil && len(eligible) > 1:
			o.consult(s, q.task)
			kept = append(kept, q)
		default:
			a, _ := agent.SelectAgent(eligible, q.task, busy)
			busy[a.ID()] = true
			admitted = append(admitted, q)
			chosen = append(chosen, a)
		}
	}
	s.queue = kept

	for i, q := range admitted {
		o.launch(s, q.task, chosen[i])
		o.metrics.incAssignment(string(agent.StrategyRule))
	}
	o.metrics.setQueued(len(s.queue))
	o.metrics.setActive(len(s.active))
}

func (o *Orchestrator) slotsInUse(s *state) int { return len(s.active) + len(s.consulting) }

func busyAgents(s *state) map[string]bool {
	busy := make(map[string]bool, len(s.active))
	for _, e := range s.active {
		busy[e.agentID] = true
	}
	return busy
}

func eligibleAgents(roster []agent.Agent, t *task.Task, busy map[string]bool) []agent.Agent {
	var out []agent.Agent
	for _, a := range roster {
		if _, ok := agent.Eligible(a, t, busy); ok {
			out = append(out, a)
		}
	}
	return out
}

// consult asks the assigner about t on its own goroutine and posts the
// answer back to the loop.
func (o *Orchestrator) consult(s *state, t *task.Task) {
	roster := make([]agent.Candidate, 0, len(s.roster))
	for _, a := range s.roster {
		roster = append(roster, agent.CandidateOf(a))
	}
	s.consulting[t.ID()] = true
	o.logger.Debug("consulting assigner", "task_id", t.ID(), "candidates", len(roster))

	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx, cancel := context.WithTimeout(o.ctx, o.assignTimeout)
		id, err := o.assigner.Recommend(ctx, t, roster)
		cancel()
		_ = o.send(func(s *state) { o.recommended(s, t, id, err) })
	}()
}

// recommended dispatches t on the assigner's pick when that agent is still
// eligible, or on the deterministic rule otherwise. A task that was
// cancelled while the assigner was thinking is ignored.
func (o *Orchestrator) recommended(s *state, t *task.Task, agentID string, err error) {
	delete(s.consulting, t.ID())
	defer o.drain(s)

	i := slices.IndexFunc(s.queue, func(q queued) bool { return q.task == t })
	if s.closed || i < 0 || o.slotsInUse(s) >= o.maxConcurrent {
		return
	}

	busy := busyAgents(s)
	a, strategy := s.byID[agentID], agent.StrategyAssigner
	switch {
	case err != nil:
		o.logger.Warn("assigner failed, using rule", "task_id", t.ID(), "err", err)
		a = nil
	case a == nil:
		o.logger.Warn("assigner recommended unknown agent, using rule", "task_id", t.ID(), "agent_id", agentID)
	default:
		if _, ok := agent.Eligible(a, t, busy); !ok {
			o.logger.Warn("assigner recommended ineligible agent, using rule", "task_id", t.ID(), "agent_id", agentID)
			a = nil
		}
	}
	if a == nil {
		var ok bool
		if a, ok = agent.SelectAgent(s.roster, t, busy); !ok {
			return
		}
		strategy = agent.StrategyRule
	}

	s.queue = slices.Delete(s.queue, i, i+1)
	o.launch(s, t, a)
	o.metrics.incAssignment(string(strategy))
	o.metrics.setQueued(len(s.queue))
	o.metrics.setActive(len(s.active))
}

func (o *Orchestrator) timeoutFor(t *task.Task) time.Duration {
	if !o.enforceTimeouts {
		return 0
	}
	if t.Timeout() > 0 {
		return t.Timeout()
	}
	return o.defaultTimeout
}

// launch moves t into the active table and starts it on a worker.
func (o *Orchestrator) launch(s *state, t *task.Task, a agent.Agent) {
	ctx, cancel := context.WithCancel(o.ctx)
	timeout := o.timeoutFor(t)
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		parent := cancel
		cancel = func() { cancelTimeout(); parent() }
	}

	e := &execution{task: t, agentID: a.ID(), started: time.Now(), cancel: cancel}
	s.active[t.ID()] = e
	o.logger.Info("task dispatched", "task_id", t.ID(), "agent_id", a.ID(), "priority", t.Priority())
	o.emit(taskEvent(t, "task dispatched", a.ID(), "running"))

	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		defer cancel()
		res, err := o.execute(ctx, a, e, timeout)
		select {
		case o.completions <- completion{exec: e, res: res, err: err}:
		case <-o.done:
		}
	}()
}

// execute runs the task and returns as soon as it finishes, its deadline
// passes, or it is cancelled, even if the agent ignores ctx. The agent may
// still be busy at that point; once it returns the loop is asked to drain.
func (o *Orchestrator) execute(ctx context.Context, a agent.Agent, e *execution, timeout time.Duration) (task.Result, error) {
	type outcome struct {
		res task.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := agent.Run(ctx, a, e.task)
		ch <- outcome{res, err}
		// The slot may have been freed by a cancel or deadline while the
		// agent was still busy. Drain again now that it is ready.
		_ = o.send(func(s *state) { o.drain(s) })
	}()

	select {
	case out := <-ch:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return o.timedOut(e, timeout)
		}
		return out.res, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return o.timedOut(e, timeout)
		}
		err := fmt.Errorf("task %s: %w", e.task.ID(), ctx.Err())
		return task.Failed(e.task.ID(), e.agentID, err, e.started, time.Now()), err
	}
}

func (o *Orchestrator) timedOut(e *execution, timeout time.Duration) (task.Result, error) {
	err := fmt.Errorf("task %s: %w after %s", e.task.ID(), ErrTaskTimeout, timeout)
	return task.Failed(e.task.ID(), e.agentID, err, e.started, time.Now()), err
}

// complete records a finished execution and drains again. Results of
// executions that were cancelled are dropped.
func (o *Orchestrator) complete(s *state, c completion) {
	id := c.exec.task.ID()
	if cur, ok := s.active[id]; !ok || cur != c.exec {
		o.logger.Debug("dropping result of cancelled task", "task_id", id)
		o.drain(s)
		return
	}
	delete(s.active, id)

	res := c.res
	s.history = slices.Insert(s.history, 0, res)
	if len(s.history) > o.maxHistory {
		s.history = s.history[:o.maxHistory]
	}
	o.results.Add(id, res)

	if res.OK() {
		s.completed++
		o.logger.Info("task completed", "task_id", id, "agent_id", res.AgentID, "duration", res.Metrics.Duration())
	} else {
		s.failed++
		o.logger.Warn("task failed", "task_id", id, "agent_id", res.AgentID, "err", res.Error)
	}
	o.metrics.observeCompletion(res.AgentID, string(res.Status), res.Metrics.Duration())
	o.emit(taskEvent(c.exec.task, "task "+string(res.Status), res.AgentID, string(res.Status)))
	o.store(res)

	o.drain(s)
	o.metrics.setActive(len(s.active))
}

// store archives res without blocking the loop.
func (o *Orchestrator) store(res task.Result) {
	if o.archive == nil {
		return
	}
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), 5*time.Second)
		defer cancel()
		if err := o.archive.Append(ctx, res); err != nil {
			o.logger.Error("archive result", "task_id", res.TaskID, "err", err)
		}
	}()
}
