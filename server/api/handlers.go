package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/GoCodeAlone/taskforce/agent"
	"github.com/GoCodeAlone/taskforce/comms"
	"github.com/GoCodeAlone/taskforce/orchestrator"
	"github.com/GoCodeAlone/taskforce/task"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Scheduler Scheduler
	Teams     TeamDirectory
	Bus       comms.Bus
	Logger    *slog.Logger
	Version   string
	StartedAt time.Time
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/summary", h.summary)

	mux.HandleFunc("GET /api/agents", h.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", h.getAgent)

	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.submitTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.cancelTask)
	mux.HandleFunc("GET /api/results", h.listResults)

	mux.HandleFunc("GET /api/messages", h.listMessages)
	mux.HandleFunc("POST /api/messages", h.sendMessage)

	mux.HandleFunc("GET /api/teams", h.listTeams)
	mux.HandleFunc("GET /api/teams/{id}", h.getTeam)
	mux.HandleFunc("POST /api/teams/{id}/missions", h.startMission)
	mux.HandleFunc("DELETE /api/teams/{id}/missions/current", h.cancelMission)

	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrAgentNotFound), errors.Is(err, orchestrator.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrMissionInProgress):
		return http.StatusConflict
	case errors.Is(err, agent.ErrUnknownMission):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handlers) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger().Error("api request failed", "err", err)
	}
	writeError(w, code, err.Error())
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return n, nil
}

// --- Agent handlers ---

func (h *Handlers) listAgents(w http.ResponseWriter, _ *http.Request) {
	agents := h.Scheduler.Agents()
	infos := make([]agent.Info, 0, len(agents))
	for _, a := range agents {
		infos = append(infos, agent.Describe(a))
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.Scheduler.Agent(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, agent.Describe(a))
}

// --- Task handlers ---

// TaskRequest is the body accepted by POST /api/tasks.
type TaskRequest struct {
	Type                 task.Type             `json:"type"`
	Priority             string                `json:"priority,omitempty"`
	Description          string                `json:"description"`
	Parameters           map[string]task.Value `json:"parameters,omitempty"`
	RequiredCapabilities []task.Capability     `json:"required_capabilities,omitempty"`
	Timeout              string                `json:"timeout,omitempty"`
}

// Spec validates the request and converts it to a task spec.
func (req TaskRequest) Spec() (task.Spec, error) {
	spec := task.Spec{
		Type:                 req.Type,
		Priority:             task.PriorityNormal,
		Description:          req.Description,
		Parameters:           req.Parameters,
		RequiredCapabilities: req.RequiredCapabilities,
	}
	if req.Type == "" {
		return spec, errors.New("type is required")
	}
	if req.Priority != "" {
		p, err := task.ParsePriority(req.Priority)
		if err != nil {
			return spec, err
		}
		spec.Priority = p
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d < 0 {
			return spec, fmt.Errorf("invalid timeout %q", req.Timeout)
		}
		spec.Timeout = d
	}
	return spec, nil
}

// TaskList is the body returned by GET /api/tasks.
type TaskList struct {
	Pending []*task.Task             `json:"pending"`
	Active  []orchestrator.Execution `json:"active"`
}

// TaskState is the body returned by GET /api/tasks/{id}.
type TaskState struct {
	State   string       `json:"state"` // queued, running or finished
	Task    *task.Task   `json:"task,omitempty"`
	AgentID string       `json:"agent_id,omitempty"`
	Result  *task.Result `json:"result,omitempty"`
}

func (h *Handlers) listTasks(w http.ResponseWriter, _ *http.Request) {
	list := TaskList{Pending: h.Scheduler.Pending(), Active: h.Scheduler.Active()}
	if list.Pending == nil {
		list.Pending = []*task.Task{}
	}
	if list.Active == nil {
		list.Active = []orchestrator.Execution{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) submitTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	spec, err := req.Spec()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t := task.New(spec)
	if _, err := h.Scheduler.SubmitTask(t); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, e := range h.Scheduler.Active() {
		if e.Task.ID() == id {
			writeJSON(w, http.StatusOK, TaskState{State: "running", Task: e.Task, AgentID: e.AgentID})
			return
		}
	}
	if t, ok := h.Scheduler.TaskStatus(id); ok {
		writeJSON(w, http.StatusOK, TaskState{State: "queued", Task: t})
		return
	}
	res, err := h.Scheduler.Result(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TaskState{State: "finished", AgentID: res.AgentID, Result: &res})
}

func (h *Handlers) cancelTask(w http.ResponseWriter, r *http.Request) {
	if !h.Scheduler.CancelTask(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "task not queued or running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{AgentID: q.Get("agent_id")}
	if s := q.Get("status"); s != "" {
		st := task.ResultStatus(s)
		if st != task.ResultSuccess && st != task.ResultFailure {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", s))
			return
		}
		filter.Status = &st
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit", 50); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.Scheduler.Results(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	if results == nil {
		results = []task.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

// --- Message handlers ---

// MessageRequest is the body accepted by POST /api/messages. An empty or
// wildcard recipient broadcasts to every agent.
type MessageRequest struct {
	From    string            `json:"from,omitempty"`
	To      string            `json:"to,omitempty"`
	Type    comms.MessageType `json:"type,omitempty"`
	Content string            `json:"content"`
	Data    map[string]string `json:"data,omitempty"`
}

func (h *Handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.From == "" {
		req.From = "api"
	}

	if req.Type == comms.TypeBroadcast || req.To == "" || req.To == comms.Wildcard {
		msg := comms.NewMessage(comms.TypeBroadcast, req.From, "", "", req.Content)
		msg.Metadata = req.Data
		if err := h.Scheduler.BroadcastMessage(r.Context(), msg); err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, msg)
		return
	}

	reply, err := h.Scheduler.SendMessage(r.Context(), req.From, req.To, req.Type, req.Content, req.Data)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		writeJSON(w, http.StatusOK, []*comms.Message{})
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.Bus.History(r.URL.Query().Get("agent_id"), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if msgs == nil {
		msgs = []*comms.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// --- Team handlers ---

func (h *Handlers) team(w http.ResponseWriter, r *http.Request) (*agent.Team, bool) {
	if h.Teams == nil {
		writeError(w, http.StatusNotFound, "team not found")
		return nil, false
	}
	t, ok := h.Teams.Team(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "team not found")
	}
	return t, ok
}

func (h *Handlers) listTeams(w http.ResponseWriter, _ *http.Request) {
	infos := []agent.TeamInfo{}
	if h.Teams != nil {
		for _, t := range h.Teams.Teams() {
			infos = append(infos, t.Info())
		}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handlers) getTeam(w http.ResponseWriter, r *http.Request) {
	if t, ok := h.team(w, r); ok {
		writeJSON(w, http.StatusOK, t.Info())
	}
}

// MissionRequest is the body accepted by POST /api/teams/{id}/missions.
// Either Kind names a predefined mission or Tasks lists custom work.
type MissionRequest struct {
	Kind        string        `json:"kind,omitempty"`
	Name        string        `json:"name,omitempty"`
	Description string        `json:"description,omitempty"`
	Tasks       []TaskRequest `json:"tasks,omitempty"`
}

func (h *Handlers) startMission(w http.ResponseWriter, r *http.Request) {
	team, ok := h.team(w, r)
	if !ok {
		return
	}
	var req MissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var run func(ctx context.Context) (agent.Mission, error)
	switch {
	case req.Kind != "":
		if _, err := agent.MissionTasks(req.Kind); err != nil {
			h.fail(w, err)
			return
		}
		run = func(ctx context.Context) (agent.Mission, error) { return team.StartPredefined(ctx, req.Kind) }
	case len(req.Tasks) > 0:
		tasks := make([]*task.Task, 0, len(req.Tasks))
		for i, tr := range req.Tasks {
			spec, err := tr.Spec()
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("tasks[%d]: %v", i, err))
				return
			}
			tasks = append(tasks, task.New(spec))
		}
		name := req.Name
		if name == "" {
			name = "Custom Mission"
		}
		run = func(ctx context.Context) (agent.Mission, error) {
			return team.StartMission(ctx, name, req.Description, tasks)
		}
	default:
		writeError(w, http.StatusBadRequest, "kind or tasks is required")
		return
	}

	if _, busy := team.CurrentMission(); busy {
		h.fail(w, fmt.Errorf("team %s: %w", team.ID(), agent.ErrMissionInProgress))
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		m, err := run(r.Context())
		if err != nil && m.ID == "" {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		m, err := run(ctx)
		if err != nil {
			h.logger().Warn("mission ended with error", "team_id", team.ID(), "mission_id", m.ID, "err", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"team_id": team.ID(), "status": "accepted"})
}

func (h *Handlers) cancelMission(w http.ResponseWriter, r *http.Request) {
	team, ok := h.team(w, r)
	if !ok {
		return
	}
	if !team.CancelMission() {
		writeError(w, http.StatusNotFound, "no mission in progress")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Status / version ---

// Status is the body returned by GET /api/status.
type Status struct {
	Status  string              `json:"status"`
	Version string              `json:"version"`
	Uptime  string              `json:"uptime"`
	Stats   *orchestrator.Stats `json:"stats,omitempty"`
}

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	st := Status{Status: "ok", Version: h.Version}
	if !h.StartedAt.IsZero() {
		st.Uptime = time.Since(h.StartedAt).Round(time.Second).String()
	}
	if h.Scheduler != nil {
		stats := h.Scheduler.Stats()
		st.Stats = &stats
	}
	writeJSON(w, http.StatusOK, st)
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) summary(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(h.Scheduler.Summary()))
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
