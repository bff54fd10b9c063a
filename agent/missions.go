package agent

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/GoCodeAlone/taskforce/task"
)

// Predefined mission kinds.
const (
	MissionQuickCleanup      = "quick_cleanup"
	MissionDeepCleanup       = "deep_cleanup"
	MissionDiagnostics       = "diagnostics"
	MissionEmergencyResponse = "emergency_response"
)

type missionTemplate struct {
	name        string
	description string
	tasks       []task.Spec
}

func step(typ task.Type, p task.Priority, desc string, timeout time.Duration) task.Spec {
	return task.Spec{
		Type:                 typ,
		Priority:             p,
		Description:          desc,
		RequiredCapabilities: []task.Capability{task.Capability(typ)},
		Timeout:              timeout,
	}
}

var missionTemplates = map[string]missionTemplate{
	MissionQuickCleanup: {
		name:        "Quick Cleanup",
		description: "Free memory and clear temporary files",
		tasks: []task.Spec{
			step(task.TypeOptimization, task.PriorityHigh, "Release inactive memory", time.Minute),
			step(task.TypeCleanup, task.PriorityNormal, "Clear temporary files", 2*time.Minute),
		},
	},
	MissionDeepCleanup: {
		name:        "Deep Cleanup",
		description: "Thorough cleanup of caches, logs, browser tabs and memory",
		tasks: []task.Spec{
			step(task.TypeAnalysis, task.PriorityNormal, "Analyze disk usage", 2*time.Minute),
			step(task.TypeCleanup, task.PriorityNormal, "Clear application caches", 5*time.Minute),
			step(task.TypeCleanup, task.PriorityLow, "Remove old log files", 5*time.Minute),
			step(task.TypeBrowserManagement, task.PriorityNormal, "Close idle browser tabs", time.Minute),
			step(task.TypeOptimization, task.PriorityHigh, "Release inactive memory", time.Minute),
			step(task.TypeMaintenance, task.PriorityLow, "Run maintenance scripts", 10*time.Minute),
		},
	},
	MissionDiagnostics: {
		name:        "System Diagnostics",
		description: "Collect health, resource and process diagnostics",
		tasks: []task.Spec{
			step(task.TypeDiagnostics, task.PriorityHigh, "Check system health", time.Minute),
			step(task.TypeMonitoring, task.PriorityNormal, "Sample resource usage", time.Minute),
			step(task.TypeAnalysis, task.PriorityNormal, "Analyze top processes", time.Minute),
		},
	},
	MissionEmergencyResponse: {
		name:        "Emergency Response",
		description: "Recover a system under severe memory or CPU pressure",
		tasks: []task.Spec{
			step(task.TypeProcessManagement, task.PriorityCritical, "Terminate runaway processes", 30*time.Second),
			step(task.TypeOptimization, task.PriorityCritical, "Free memory immediately", 30*time.Second),
			step(task.TypeDiagnostics, task.PriorityHigh, "Verify system recovered", 30*time.Second),
		},
	},
}

// MissionKinds lists the predefined mission kinds in sorted order.
func MissionKinds() []string {
	kinds := make([]string, 0, len(missionTemplates))
	for k := range missionTemplates {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// MissionTasks builds fresh tasks for a predefined mission kind.
func MissionTasks(kind string) ([]*task.Task, error) {
	tmpl, ok := missionTemplates[kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownMission, kind)
	}
	tasks := make([]*task.Task, 0, len(tmpl.tasks))
	for _, spec := range tmpl.tasks {
		tasks = append(tasks, task.New(spec))
	}
	return tasks, nil
}

// StartPredefined runs the predefined mission of the given kind.
func (t *Team) StartPredefined(ctx context.Context, kind string) (Mission, error) {
	tasks, err := MissionTasks(kind)
	if err != nil {
		return Mission{}, err
	}
	tmpl := missionTemplates[kind]
	return t.StartMission(ctx, tmpl.name, tmpl.description, tasks)
}

func (t *Team) QuickCleanup(ctx context.Context) (Mission, error) {
	return t.StartPredefined(ctx, MissionQuickCleanup)
}

func (t *Team) DeepCleanup(ctx context.Context) (Mission, error) {
	return t.StartPredefined(ctx, MissionDeepCleanup)
}

func (t *Team) Diagnostics(ctx context.Context) (Mission, error) {
	return t.StartPredefined(ctx, MissionDiagnostics)
}

func (t *Team) EmergencyResponse(ctx context.Context) (Mission, error) {
	return t.StartPredefined(ctx, MissionEmergencyResponse)
}
