package agent

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/taskforce/comms"
	"github.com/GoCodeAlone/taskforce/task"
)

// DefaultInboxSize bounds the messages a Base keeps when it has no
// message handler.
const DefaultInboxSize = 100

// Config configures a Base agent.
type Config struct {
	ID          string
	Name        string
	Description string

	// Setup registers tools and skills. It runs once during Initialize, after
	// the agent's own dependencies have been constructed.
	Setup func(b *Base) error
	// Teardown runs during Shutdown.
	Teardown func(ctx context.Context) error
	// OnMessage handles inbound messages. When nil, messages are kept in a
	// bounded inbox and acknowledged.
	OnMessage func(ctx context.Context, msg *comms.Message) (*comms.Message, error)
	InboxSize int
}

// Base is a reusable Agent implementation. Concrete agents either embed it
// or configure it with Setup.
type Base struct {
	mu            sync.RWMutex
	cfg           Config
	status        Status
	tools         *ToolSet
	skills        []Skill
	inbox         []*comms.Message
	curTask       string
	initializedAt time.Time
	completed     int
	failed        int
}

// New creates an uninitialized agent from cfg. An empty ID is replaced
// with a generated one.
func New(cfg Config) *Base {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	tools, _ := NewToolSet()
	return &Base{cfg: cfg, status: StatusUninitialized, tools: tools}
}

func (b *Base) ID() string          { return b.cfg.ID }
func (b *Base) Name() string        { return b.cfg.Name }
func (b *Base) Description() string { return b.cfg.Description }

func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *Base) Tools() []Tool { return b.tools.List() }

func (b *Base) Skills() []Skill {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.skills)
}

// ToolSet returns the agent's live tool set.
func (b *Base) ToolSet() *ToolSet { return b.tools }

// AddTool registers a tool.
func (b *Base) AddTool(t Tool) error {
	if err := b.tools.Add(t); err != nil {
		return fmt.Errorf("agent %s: %w", b.cfg.ID, err)
	}
	return nil
}

// AddSkill registers a skill.
func (b *Base) AddSkill(s Skill) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.skills = append(b.skills, s)
}

// Initialize runs Config.Setup and moves the agent to ready. A failed
// setup leaves the agent in StatusError and may be retried.
func (b *Base) Initialize(ctx context.Context) error {
	b.mu.Lock()
	switch b.status {
	case StatusUninitialized, StatusError:
	case StatusShutdown:
		b.mu.Unlock()
		return fmt.Errorf("initialize agent %s: %w", b.cfg.ID, ErrAgentShutdown)
	default:
		b.mu.Unlock()
		return fmt.Errorf("initialize agent %s: %w", b.cfg.ID, ErrAlreadyInitialized)
	}
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("initialize agent %s: %w", b.cfg.ID, err)
	}
	if err := b.runSetup(); err != nil {
		b.mu.Lock()
		b.status = StatusError
		b.mu.Unlock()
		return fmt.Errorf("initialize agent %s: %w", b.cfg.ID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusShutdown {
		return fmt.Errorf("initialize agent %s: %w", b.cfg.ID, ErrAgentShutdown)
	}
	b.status = StatusReady
	b.initializedAt = time.Now()
	return nil
}

func (b *Base) runSetup() (err error) {
	if b.cfg.Setup == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("setup panicked: %v", r)
		}
	}()
	return b.cfg.Setup(b)
}

// Execute runs t with the best skill that can handle it. The agent is busy
// for the duration and returns to ready on every exit path.
func (b *Base) Execute(ctx context.Context, t *task.Task) (res task.Result, err error) {
	started := time.Now()

	b.mu.Lock()
	var refuse error
	switch b.status {
	case StatusShutdown:
		refuse = ErrAgentShutdown
	case StatusBusy:
		refuse = ErrAgentBusy
	case StatusUninitialized, StatusError:
		refuse = ErrNotInitialized
	}
	var skill Skill
	if refuse == nil {
		if skill = b.pickSkill(t); skill == nil {
			refuse = ErrNoCapableSkill
		}
	}
	if refuse != nil {
		b.failed++
		b.mu.Unlock()
		err = fmt.Errorf("agent %s: task %s: %w", b.cfg.ID, t.ID(), refuse)
		return task.Failed(t.ID(), b.cfg.ID, err, started, time.Now()), err
	}
	b.status = StatusBusy
	b.curTask = t.ID()
	b.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s: skill %s: %w: %v", b.cfg.ID, skill.Name(), ErrExecutionPanicked, r)
			res = task.Failed(t.ID(), b.cfg.ID, err, started, time.Now())
		}
		b.mu.Lock()
		if b.status == StatusBusy {
			b.status = StatusReady
		}
		b.curTask = ""
		if err != nil {
			b.failed++
		} else {
			b.completed++
		}
		b.mu.Unlock()
	}()

	out, err := skill.Execute(ctx, t, b.tools)
	if err != nil {
		err = fmt.Errorf("agent %s: skill %s: %w", b.cfg.ID, skill.Name(), err)
		return task.FailedWithOutput(t.ID(), b.cfg.ID, out, err, started, time.Now()), err
	}
	return task.Succeeded(t.ID(), b.cfg.ID, out, started, time.Now()), nil
}

// pickSkill returns the highest-proficiency skill that can handle t,
// preferring skills whose category t requires. Ties keep registration
// order. Callers hold b.mu.
func (b *Base) pickSkill(t *task.Task) Skill {
	required := t.RequiredCapabilities()
	var best, bestRequired Skill
	for _, s := range b.skills {
		if !s.CanHandle(t) {
			continue
		}
		if best == nil || s.Proficiency() > best.Proficiency() {
			best = s
		}
		if slices.Contains(required, s.Category()) &&
			(bestRequired == nil || s.Proficiency() > bestRequired.Proficiency()) {
			bestRequired = s
		}
	}
	if bestRequired != nil {
		return bestRequired
	}
	return best
}

// HandleMessage delegates to Config.OnMessage, or stores msg in the inbox
// and acknowledges it.
func (b *Base) HandleMessage(ctx context.Context, msg *comms.Message) (*comms.Message, error) {
	if b.Status() == StatusShutdown {
		return nil, fmt.Errorf("agent %s: %w", b.cfg.ID, ErrAgentShutdown)
	}
	if b.cfg.OnMessage != nil {
		return b.cfg.OnMessage(ctx, msg)
	}

	b.mu.Lock()
	b.inbox = append(b.inbox, msg)
	if len(b.inbox) > b.cfg.InboxSize {
		b.inbox = b.inbox[len(b.inbox)-b.cfg.InboxSize:]
	}
	b.mu.Unlock()

	return comms.Reply(msg, b.cfg.ID, "ack"), nil
}

// Inbox returns the retained messages, oldest first.
func (b *Base) Inbox() []*comms.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.inbox)
}

// Shutdown makes the agent terminal and runs Config.Teardown once.
func (b *Base) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.status == StatusShutdown {
		b.mu.Unlock()
		return nil
	}
	b.status = StatusShutdown
	b.mu.Unlock()

	if b.cfg.Teardown != nil {
		if err := b.cfg.Teardown(ctx); err != nil {
			return fmt.Errorf("shutdown agent %s: %w", b.cfg.ID, err)
		}
	}
	return nil
}

// Info returns the agent's current metadata.
func (b *Base) Info() Info {
	skills := b.Skills()
	tools := b.Tools()

	b.mu.RLock()
	defer b.mu.RUnlock()
	return Info{
		ID:            b.cfg.ID,
		Name:          b.cfg.Name,
		Description:   b.cfg.Description,
		Status:        b.status,
		Capabilities:  capabilitiesOf(skills),
		Skills:        skillInfos(skills),
		Tools:         toolInfos(tools),
		CurrentTask:   b.curTask,
		InitializedAt: b.initializedAt,
		Completed:     b.completed,
		Failed:        b.failed,
	}
}
