// Package orchestrator schedules tasks onto registered agents.
//
// One goroutine owns the roster, the pending queue, the active-execution
// table and the completed history. Every public method either sends that
// goroutine a command or reads a snapshot it produced, so none of the
// bookkeeping needs a lock. Task execution runs on worker goroutines that
// report back over a channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/taskforce/agent"
	"github.com/GoCodeAlone/taskforce/comms"
	"github.com/GoCodeAlone/taskforce/task"
)

const (
	DefaultMaxConcurrentTasks = 5
	DefaultMaxHistory         = 100
	DefaultAssignTimeout      = 10 * time.Second
	DefaultTimeout            = 5 * time.Minute
	DefaultResultCacheSize    = 1000

	eventBuffer   = 256
	commandBuffer = 64
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrTaskNotFound  = errors.New("task not found")
	ErrClosed        = errors.New("orchestrator closed")
	ErrTaskTimeout   = errors.New("task timed out")
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxConcurrentTasks bounds the active-execution table.
func WithMaxConcurrentTasks(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithMaxHistory bounds the completed history.
func WithMaxHistory(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxHistory = n
		}
	}
}

// WithAssigner consults a before the deterministic matching rule.
func WithAssigner(a agent.Assigner) Option { return func(o *Orchestrator) { o.assigner = a } }

// WithAssignTimeout bounds each call to the assigner.
func WithAssignTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.assignTimeout = d
		}
	}
}

// WithTimeoutEnforcement turns execution deadlines on or off. When on, a
// task runs under its own timeout, or the default timeout when it has none.
func WithTimeoutEnforcement(enabled bool) Option {
	return func(o *Orchestrator) { o.enforceTimeouts = enabled }
}

// WithDefaultTimeout sets the deadline for tasks that declare none. Zero
// means such tasks run without a deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.defaultTimeout = d }
}

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithBus publishes task updates on bus and records routed messages.
func WithBus(bus comms.Bus) Option { return func(o *Orchestrator) { o.bus = bus } }

// WithArchive appends every recorded result to store.
func WithArchive(store task.ResultStore) Option { return func(o *Orchestrator) { o.archive = store } }

func WithMetrics(m *Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithResultCacheSize bounds the by-id result index used by Result.
func WithResultCacheSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.resultCacheSize = n
		}
	}
}

// Orchestrator is the process-wide scheduler.
type Orchestrator struct {
	maxConcurrent   int
	maxHistory      int
	assigner        agent.Assigner
	assignTimeout   time.Duration
	enforceTimeouts bool
	defaultTimeout  time.Duration
	resultCacheSize int
	logger          *slog.Logger
	bus             comms.Bus
	archive         task.ResultStore
	metrics         *Metrics

	results *lru.Cache[string, task.Result]

	cmds        chan func(*state)
	completions chan completion
	events      chan *comms.Message
	stop        chan struct{}
	done        chan struct{}
	eventsDone  chan struct{}

	// ctx is the parent of every execution context.
	ctx    context.Context
	cancel context.CancelFunc

	workers    sync.WaitGroup
	background sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error

	st state // owned by the loop goroutine
}

// New creates an orchestrator and starts its loop. Call Close to stop it.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		maxConcurrent:   DefaultMaxConcurrentTasks,
		maxHistory:      DefaultMaxHistory,
		assignTimeout:   DefaultAssignTimeout,
		enforceTimeouts: true,
		defaultTimeout:  DefaultTimeout,
		resultCacheSize: DefaultResultCacheSize,
		logger:          slog.Default(),
		cmds:            make(chan func(*state), commandBuffer),
		completions:     make(chan completion),
		events:          make(chan *comms.Message, eventBuffer),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		eventsDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.results, _ = lru.New[string, task.Result](o.resultCacheSize)
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.st = state{
		byID:       make(map[string]agent.Agent),
		active:     make(map[string]*execution),
		consulting: make(map[string]bool),
	}

	go o.loop()
	go o.publishEvents()
	return o
}

func (o *Orchestrator) loop() {
	defer close(o.done)
	for {
		select {
		case fn := <-o.cmds:
			fn(&o.st)
		case c := <-o.completions:
			o.complete(&o.st, c)
		case <-o.stop:
			return
		}
	}
}

// send queues fn for the loop without waiting for it to run.
func (o *Orchestrator) send(fn func(*state)) error {
	select {
	case <-o.done:
		return ErrClosed
	default:
	}
	select {
	case o.cmds <- fn:
		return nil
	case <-o.done:
		return ErrClosed
	}
}

// call runs fn on the loop and waits for it to finish.
func (o *Orchestrator) call(fn func(*state)) error {
	finished := make(chan struct{})
	if err := o.send(func(s *state) {
		defer close(finished)
		fn(s)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-o.done:
		return ErrClosed
	}
}

// emit queues a bus event. Events are published in order on a separate
// goroutine so bus handlers may call back into the orchestrator.
func (o *Orchestrator) emit(msg *comms.Message) {
	if o.bus == nil {
		return
	}
	select {
	case o.events <- msg:
	default:
		o.logger.Warn("event buffer full, dropping event", "subject", msg.Subject)
	}
}

func (o *Orchestrator) publishEvents() {
	defer close(o.eventsDone)
	for msg := range o.events {
		if err := o.bus.Publish(o.ctx, msg); err != nil {
			o.logger.Warn("publish event", "subject", msg.Subject, "err", err)
		}
	}
}

func taskEvent(t *task.Task, subject, agentID, status string) *comms.Message {
	msg := comms.NewMessage(comms.TypeTaskUpdate, "orchestrator", "", subject, t.Description())
	msg.Metadata = map[string]string{
		"task_id":  t.ID(),
		"type":     string(t.Type()),
		"priority": t.Priority().String(),
		"status":   status,
	}
	if agentID != "" {
		msg.Metadata["agent_id"] = agentID
	}
	return msg
}

// RegisterAgent initializes a and adds it to the roster. Registering an id
// that is already present does nothing. An agent that fails to initialize
// is not added and the error is returned.
func (o *Orchestrator) RegisterAgent(ctx context.Context, a agent.Agent) error {
	var exists bool
	if err := o.call(func(s *state) { _, exists = s.byID[a.ID()] }); err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := a.Initialize(ctx); err != nil && !errors.Is(err, agent.ErrAlreadyInitialized) {
		o.logger.Error("agent initialization failed", "agent_id", a.ID(), "err", err)
		return fmt.Errorf("register agent %s: %w", a.ID(), err)
	}

	return o.call(func(s *state) {
		if _, dup := s.byID[a.ID()]; dup {
			return
		}
		s.roster = append(s.roster, a)
		s.byID[a.ID()] = a
		o.metrics.setAgents(len(s.roster))
		o.logger.Info("agent registered", "agent_id", a.ID(), "name", a.Name(), "capabilities", agent.Capabilities(a))
		o.drain(s)
	})
}

// UnregisterAgent removes the agent from the roster and shuts it down.
// Work already running on it finishes or fails on its own.
func (o *Orchestrator) UnregisterAgent(ctx context.Context, id string) error {
	var removed agent.Agent
	if err := o.call(func(s *state) {
		a, ok := s.byID[id]
		if !ok {
			return
		}
		delete(s.byID, id)
		s.roster = slices.DeleteFunc(s.roster, func(x agent.Agent) bool { return x.ID() == id })
		o.metrics.setAgents(len(s.roster))
		removed = a
	}); err != nil {
		return err
	}
	if removed == nil {
		return fmt.Errorf("unregister %s: %w", id, ErrAgentNotFound)
	}
	if err := removed.Shutdown(ctx); err != nil {
		o.logger.Warn("agent shutdown failed", "agent_id", id, "err", err)
	}
	o.logger.Info("agent unregistered", "agent_id", id)
	return nil
}

// Close stops admitting work, cancels running tasks, waits for workers,
// shuts every registered agent down and stops the loop. It is safe to call
// more than once; later calls return the first call's result.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.closeOnce.Do(func() {
		var agents []agent.Agent
		_ = o.call(func(s *state) {
			s.closed = true
			for id, e := range s.active {
				e.cancel()
				delete(s.active, id)
			}
			agents = slices.Clone(s.roster)
			o.metrics.setActive(0)
		})
		o.cancel()

		var errs []error
		if err := waitGroup(ctx, &o.workers); err != nil {
			errs = append(errs, fmt.Errorf("wait for workers: %w", err))
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, a := range agents {
			g.Go(func() error {
				if err := a.Shutdown(gctx); err != nil {
					return fmt.Errorf("shutdown agent %s: %w", a.ID(), err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			errs = append(errs, err)
		}

		close(o.stop)
		<-o.done
		close(o.events)
		<-o.eventsDone
		if err := waitGroup(ctx, &o.background); err != nil {
			errs = append(errs, fmt.Errorf("wait for background work: %w", err))
		}
		o.closeErr = errors.Join(errs...)
	})
	return o.closeErr
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
