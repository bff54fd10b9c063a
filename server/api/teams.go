package api

import (
	"fmt"
	"sync"

	"github.com/GoCodeAlone/taskforce/agent"
)

// TeamRegistry is an in-memory TeamDirectory.
type TeamRegistry struct {
	mu    sync.RWMutex
	teams map[string]*agent.Team
	order []string
}

// NewTeamRegistry creates a registry holding teams.
func NewTeamRegistry(teams ...*agent.Team) *TeamRegistry {
	r := &TeamRegistry{teams: make(map[string]*agent.Team)}
	for _, t := range teams {
		_ = r.Add(t)
	}
	return r
}

// Add registers t. Team ids must be unique.
func (r *TeamRegistry) Add(t *agent.Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.teams[t.ID()]; ok {
		return fmt.Errorf("team %s already registered", t.ID())
	}
	r.teams[t.ID()] = t
	r.order = append(r.order, t.ID())
	return nil
}

// Teams returns all teams in registration order.
func (r *TeamRegistry) Teams() []*agent.Team {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*agent.Team, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.teams[id])
	}
	return out
}

func (r *TeamRegistry) Team(id string) (*agent.Team, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.teams[id]
	return t, ok
}

// CancelMissions cancels every running mission and returns how many were
// cancelled.
func (r *TeamRegistry) CancelMissions() int {
	n := 0
	for _, t := range r.Teams() {
		if t.CancelMission() {
			n++
		}
	}
	return n
}
