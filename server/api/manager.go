// Package api implements the taskforce REST API.
package api

import (
	"context"

	"github.com/GoCodeAlone/taskforce/agent"
	"github.com/GoCodeAlone/taskforce/comms"
	"github.com/GoCodeAlone/taskforce/orchestrator"
	"github.com/GoCodeAlone/taskforce/task"
)

// Scheduler is the view of the orchestrator the API needs.
// *orchestrator.Orchestrator implements it.
type Scheduler interface {
	Stats() orchestrator.Stats
	Summary() string

	Agents() []agent.Agent
	Agent(id string) (agent.Agent, bool)

	SubmitTask(t *task.Task) (string, error)
	CancelTask(id string) bool
	TaskStatus(id string) (*task.Task, bool)
	Pending() []*task.Task
	Active() []orchestrator.Execution
	Result(ctx context.Context, taskID string) (task.Result, error)
	Results(ctx context.Context, f task.Filter) ([]task.Result, error)

	SendMessage(ctx context.Context, from, to string, typ comms.MessageType, content string, data map[string]string) (*comms.Message, error)
	BroadcastMessage(ctx context.Context, msg *comms.Message) error
}

// TeamDirectory looks up configured teams.
type TeamDirectory interface {
	Teams() []*agent.Team
	Team(id string) (*agent.Team, bool)
}

var _ Scheduler = (*orchestrator.Orchestrator)(nil)
