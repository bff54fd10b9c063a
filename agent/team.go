package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/taskforce/comms"
	"github.com/GoCodeAlone/taskforce/task"
)

// DefaultMissionHistory bounds the finished missions a team remembers.
const DefaultMissionHistory = 50

// MissionStatus is the lifecycle state of a mission.
type MissionStatus string

const (
	MissionPending    MissionStatus = "pending"
	MissionInProgress MissionStatus = "in_progress"
	MissionCompleted  MissionStatus = "completed"
	MissionFailed     MissionStatus = "failed"
	MissionCancelled  MissionStatus = "cancelled"
)

// Mission is a snapshot of a team-scoped bundle of tasks.
type Mission struct {
	ID             string            `json:"id"`
	TeamID         string            `json:"team_id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Tasks          []*task.Task      `json:"tasks"`
	AssignedAgents map[string]string `json:"assigned_agents"` // task id -> agent id
	Status         MissionStatus     `json:"status"`
	Results        []task.Result     `json:"results"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    time.Time         `json:"completed_at,omitzero"`
}

func (m *Mission) clone() Mission {
	c := *m
	c.Tasks = slices.Clone(m.Tasks)
	c.AssignedAgents = maps.Clone(m.AssignedAgents)
	c.Results = slices.Clone(m.Results)
	return c
}

// Team groups agents under a leader and runs missions over them. A team
// holds references to agents owned elsewhere and never shuts them down.
type Team struct {
	id         string
	name       string
	assigner   Assigner
	bus        comms.Bus
	logger     *slog.Logger
	maxHistory int

	mu      sync.RWMutex
	members []Agent
	leader  Agent
	current *Mission
	cancel  context.CancelFunc
	history []Mission
}

// TeamOption configures a Team.
type TeamOption func(*Team)

// WithTeamID sets the team id. By default a uuid is generated.
func WithTeamID(id string) TeamOption { return func(t *Team) { t.id = id } }

// WithTeamAssigner makes missions ask a for assignments first.
func WithTeamAssigner(a Assigner) TeamOption { return func(t *Team) { t.assigner = a } }

// WithTeamBus publishes mission notifications on bus.
func WithTeamBus(bus comms.Bus) TeamOption { return func(t *Team) { t.bus = bus } }

func WithTeamLogger(l *slog.Logger) TeamOption { return func(t *Team) { t.logger = l } }

// WithMissionHistory bounds the mission history to n entries.
func WithMissionHistory(n int) TeamOption {
	return func(t *Team) {
		if n > 0 {
			t.maxHistory = n
		}
	}
}

// NewTeam creates an empty team.
func NewTeam(name string, opts ...TeamOption) *Team {
	t := &Team{
		id:         uuid.New().String(),
		name:       name,
		logger:     slog.Default(),
		maxHistory: DefaultMissionHistory,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Team) ID() string   { return t.id }
func (t *Team) Name() string { return t.name }

// AddMember adds a to the team. The first member becomes leader. Adding an
// agent whose id is already present does nothing.
func (t *Team) AddMember(a Agent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addMemberLocked(a)
}

func (t *Team) addMemberLocked(a Agent) {
	if slices.ContainsFunc(t.members, func(m Agent) bool { return m.ID() == a.ID() }) {
		return
	}
	t.members = append(t.members, a)
	if t.leader == nil {
		t.leader = a
	}
}

// RemoveMember removes the agent with the given id. Removing the leader
// promotes the new first member, or leaves the team without a leader.
func (t *Team) RemoveMember(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := slices.IndexFunc(t.members, func(m Agent) bool { return m.ID() == id })
	if i < 0 {
		return false
	}
	t.members = slices.Delete(t.members, i, i+1)
	if t.leader != nil && t.leader.ID() == id {
		t.leader = nil
		if len(t.members) > 0 {
			t.leader = t.members[0]
		}
	}
	return true
}

// SetLeader makes a the leader, adding it as a member if needed.
func (t *Team) SetLeader(a Agent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addMemberLocked(a)
	t.leader = a
}

// Leader returns the leader, or nil for an empty team.
func (t *Team) Leader() Agent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.leader
}

// Members returns the members in the order they were added.
func (t *Team) Members() []Agent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.members)
}

// CurrentMission returns the running mission, if any.
func (t *Team) CurrentMission() (Mission, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return Mission{}, false
	}
	return t.current.clone(), true
}

// Missions returns finished missions, most recent first.
func (t *Team) Missions() []Mission {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.history)
}

// CancelMission cancels the running mission. It reports whether one was
// running.
func (t *Team) CancelMission() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.cancel == nil {
		return false
	}
	t.cancel()
	return true
}

// StartMission assigns every task to a member up front, then executes the
// assignments in order and blocks until the mission finishes. A task no
// member can take is recorded as a failure with ErrNoEligibleAgent. The
// mission completes only if every result succeeded.
//
// Cancelling ctx or calling CancelMission stops the mission before its next
// task; the returned mission is then cancelled and the error wraps
// ErrMissionCancelled.
func (t *Team) StartMission(ctx context.Context, name, description string, tasks []*task.Task) (Mission, error) {
	mctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.current != nil {
		t.mu.Unlock()
		return Mission{}, fmt.Errorf("team %s: %w", t.id, ErrMissionInProgress)
	}
	m := &Mission{
		ID:             uuid.New().String(),
		TeamID:         t.id,
		Name:           name,
		Description:    description,
		Tasks:          slices.Clone(tasks),
		AssignedAgents: make(map[string]string),
		Status:         MissionInProgress,
		CreatedAt:      time.Now(),
	}
	t.current = m
	t.cancel = cancel
	members := slices.Clone(t.members)
	t.mu.Unlock()

	t.logger.Info("mission started", "team_id", t.id, "mission_id", m.ID, "name", name, "tasks", len(tasks))

	assigned := make([]Agent, len(tasks))
	for i, tk := range tasks {
		a, strategy := Assign(mctx, t.assigner, members, tk, nil, t.logger)
		if a == nil {
			continue
		}
		assigned[i] = a
		t.mu.Lock()
		m.AssignedAgents[tk.ID()] = a.ID()
		t.mu.Unlock()
		t.logger.Debug("mission task assigned", "mission_id", m.ID, "task_id", tk.ID(), "agent_id", a.ID(), "strategy", strategy)
	}

	for i, tk := range tasks {
		if mctx.Err() != nil {
			break
		}

		var res task.Result
		if a := assigned[i]; a != nil {
			res, _ = Run(mctx, a, tk)
		} else {
			now := time.Now()
			res = task.Failed(tk.ID(), "", fmt.Errorf("task %s: %w", tk.ID(), ErrNoEligibleAgent), now, now)
		}

		t.mu.Lock()
		m.Results = append(m.Results, res)
		t.mu.Unlock()

		t.notify(ctx, m.ID, members, res)
	}
	cancelled := mctx.Err() != nil

	t.mu.Lock()
	switch {
	case cancelled:
		m.Status = MissionCancelled
	case allSucceeded(m.Results):
		m.Status = MissionCompleted
	default:
		m.Status = MissionFailed
	}
	m.CompletedAt = time.Now()
	snap := m.clone()
	t.history = slices.Insert(t.history, 0, snap)
	if len(t.history) > t.maxHistory {
		t.history = t.history[:t.maxHistory]
	}
	t.current = nil
	t.cancel = nil
	t.mu.Unlock()

	t.logger.Info("mission finished", "team_id", t.id, "mission_id", m.ID, "status", snap.Status, "results", len(snap.Results))

	if cancelled {
		return snap, fmt.Errorf("team %s: mission %s: %w", t.id, m.ID, ErrMissionCancelled)
	}
	return snap, nil
}

func allSucceeded(results []task.Result) bool {
	for _, r := range results {
		if !r.OK() {
			return false
		}
	}
	return true
}

// notify tells every member that a mission task finished. Delivery errors
// are logged.
func (t *Team) notify(ctx context.Context, missionID string, members []Agent, res task.Result) {
	content := fmt.Sprintf("task %s %s", res.TaskID, res.Status)
	meta := map[string]string{
		"mission_id": missionID,
		"task_id":    res.TaskID,
		"agent_id":   res.AgentID,
		"status":     string(res.Status),
	}

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, member := range members {
		g.Go(func() error {
			msg := comms.NewMessage(comms.TypeNotification, t.id, member.ID(), "mission task completed", content)
			msg.TeamID = t.id
			msg.Metadata = maps.Clone(meta)
			if _, err := member.HandleMessage(gctx, msg); err != nil {
				return fmt.Errorf("notify %s: %w", member.ID(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, ErrAgentShutdown) {
		t.logger.Warn("mission notification failed", "team_id", t.id, "mission_id", missionID, "err", err)
	}

	if t.bus != nil {
		msg := comms.NewMessage(comms.TypeNotification, t.id, "", "mission task completed", content)
		msg.TeamID = t.id
		msg.Metadata = meta
		if err := t.bus.Publish(ctx, msg); err != nil {
			t.logger.Warn("publish mission notification", "team_id", t.id, "err", err)
		}
	}
}

// TeamInfo is the JSON-friendly view of a team.
type TeamInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Leader   string    `json:"leader,omitempty"`
	Members  []string  `json:"members"`
	Current  *Mission  `json:"current_mission,omitempty"`
	Missions []Mission `json:"missions"`
}

// Info returns a snapshot of the team.
func (t *Team) Info() TeamInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info := TeamInfo{
		ID:       t.id,
		Name:     t.name,
		Members:  make([]string, 0, len(t.members)),
		Missions: slices.Clone(t.history),
	}
	for _, m := range t.members {
		info.Members = append(info.Members, m.ID())
	}
	if t.leader != nil {
		info.Leader = t.leader.ID()
	}
	if t.current != nil {
		c := t.current.clone()
		info.Current = &c
	}
	return info
}
