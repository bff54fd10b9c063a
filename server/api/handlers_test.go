package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/taskforce/agent"
	"github.com/GoCodeAlone/taskforce/comms"
	"github.com/GoCodeAlone/taskforce/orchestrator"
	"github.com/GoCodeAlone/taskforce/server/api"
	"github.com/GoCodeAlone/taskforce/task"
)

// --- Test helpers ---

type fixture struct {
	mux   *http.ServeMux
	orch  *orchestrator.Orchestrator
	bus   *comms.InMemoryBus
	teams *api.TeamRegistry
	hold  chan struct{}
}

func cleaner(id string, hold <-chan struct{}) *agent.Base {
	return agent.New(agent.Config{
		ID:   id,
		Name: "Cleaner " + id,
		Setup: func(b *agent.Base) error {
			b.AddSkill(agent.NewSkill(agent.SkillSpec{
				Name:     "tidy",
				Category: task.CapabilityCleanup,
				Execute: func(ctx context.Context, t *task.Task, _ *agent.ToolSet) (task.Value, error) {
					if t.Description() == "hold" {
						select {
						case <-hold:
						case <-ctx.Done():
							return task.Null(), ctx.Err()
						}
					}
					return task.String("tidied"), nil
				},
			}))
			return nil
		},
	})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{bus: comms.NewInMemoryBus(), hold: make(chan struct{})}
	f.orch = orchestrator.New(orchestrator.WithBus(f.bus), orchestrator.WithMaxConcurrentTasks(1))
	t.Cleanup(func() {
		close(f.hold)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.orch.Close(ctx)
	})

	a := cleaner("c1", f.hold)
	if err := f.orch.RegisterAgent(context.Background(), a); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	team := agent.NewTeam("Crew", agent.WithTeamID("crew"), agent.WithTeamBus(f.bus))
	team.AddMember(a)
	f.teams = api.NewTeamRegistry(team)

	f.mux = http.NewServeMux()
	h := &api.Handlers{
		Scheduler: f.orch,
		Teams:     f.teams,
		Bus:       f.bus,
		Logger:    slog.Default(),
		Version:   "test",
		StartedAt: time.Now(),
	}
	h.RegisterRoutes(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- Tests ---

func TestListAndGetAgents(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/agents", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	agents := decode[[]agent.Info](t, rr)
	if len(agents) != 1 || agents[0].ID != "c1" {
		t.Fatalf("agents = %+v, want [c1]", agents)
	}
	if agents[0].Status != agent.StatusReady {
		t.Errorf("status = %q, want ready", agents[0].Status)
	}

	rr = f.do(t, http.MethodGet, "/api/agents/c1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	if info := decode[agent.Info](t, rr); len(info.Capabilities) != 1 || info.Capabilities[0] != task.CapabilityCleanup {
		t.Errorf("capabilities = %v, want [cleanup]", info.Capabilities)
	}

	if rr := f.do(t, http.MethodGet, "/api/agents/nonexistent", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestSubmitTask_Lifecycle(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/tasks", `{"type":"cleanup","priority":"high","description":"sweep","timeout":"30s"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	created := decode[map[string]any](t, rr)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("expected task id in %v", created)
	}
	if created["priority_name"] != "high" {
		t.Errorf("priority_name = %v, want high", created["priority_name"])
	}

	var state api.TaskState
	waitFor(t, func() bool {
		rr := f.do(t, http.MethodGet, "/api/tasks/"+id, "")
		if rr.Code != http.StatusOK {
			return false
		}
		state = decode[api.TaskState](t, rr)
		return state.State == "finished"
	})
	if state.Result == nil || !state.Result.OK() {
		t.Fatalf("result = %+v, want success", state.Result)
	}
	if state.AgentID != "c1" {
		t.Errorf("agent = %q, want c1", state.AgentID)
	}

	rr = f.do(t, http.MethodGet, "/api/results?agent_id=c1&status=success", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("results: expected 200, got %d", rr.Code)
	}
	if results := decode[[]task.Result](t, rr); len(results) != 1 || results[0].TaskID != id {
		t.Errorf("results = %+v, want [%s]", results, id)
	}
}

func TestSubmitTask_BadRequest(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{
		`not json`,
		`{"description":"no type"}`,
		`{"type":"cleanup","priority":"urgent"}`,
		`{"type":"cleanup","timeout":"soon"}`,
	} {
		if rr := f.do(t, http.MethodPost, "/api/tasks", body); rr.Code != http.StatusBadRequest {
			t.Errorf("POST %s: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestListAndCancelTasks(t *testing.T) {
	f := newFixture(t)

	running := decode[map[string]any](t, f.do(t, http.MethodPost, "/api/tasks", `{"type":"cleanup","description":"hold"}`))
	queued := decode[map[string]any](t, f.do(t, http.MethodPost, "/api/tasks", `{"type":"cleanup","description":"later"}`))
	waitFor(t, func() bool { return len(f.orch.Active()) == 1 })

	rr := f.do(t, http.MethodGet, "/api/tasks", "")
	list := decode[struct {
		Pending []map[string]any `json:"pending"`
		Active  []struct {
			AgentID string `json:"agent_id"`
		} `json:"active"`
	}](t, rr)
	if len(list.Pending) != 1 || list.Pending[0]["id"] != queued["id"] {
		t.Errorf("pending = %v, want [%v]", list.Pending, queued["id"])
	}
	if len(list.Active) != 1 || list.Active[0].AgentID != "c1" {
		t.Errorf("active = %+v, want one on c1", list.Active)
	}

	state := decode[api.TaskState](t, f.do(t, http.MethodGet, "/api/tasks/"+running["id"].(string), ""))
	if state.State != "running" {
		t.Errorf("state = %q, want running", state.State)
	}
	state = decode[api.TaskState](t, f.do(t, http.MethodGet, "/api/tasks/"+queued["id"].(string), ""))
	if state.State != "queued" {
		t.Errorf("state = %q, want queued", state.State)
	}

	if rr := f.do(t, http.MethodDelete, "/api/tasks/"+queued["id"].(string), ""); rr.Code != http.StatusNoContent {
		t.Errorf("cancel: expected 204, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodDelete, "/api/tasks/"+queued["id"].(string), ""); rr.Code != http.StatusNotFound {
		t.Errorf("second cancel: expected 404, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/api/tasks/unknown", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown task: expected 404, got %d", rr.Code)
	}
}

func TestResults_InvalidQuery(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"status=maybe", "limit=-1", "offset=x"} {
		if rr := f.do(t, http.MethodGet, "/api/results?"+q, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("GET /api/results?%s: expected 400, got %d", q, rr.Code)
		}
	}
}

func TestMessages(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/messages", `{"from":"ops","to":"c1","type":"request","content":"status?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("send: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	reply := decode[comms.Message](t, rr)
	if reply.Type != comms.TypeResponse || reply.To != "ops" {
		t.Errorf("reply = %+v, want response to ops", reply)
	}

	if rr := f.do(t, http.MethodPost, "/api/messages", `{"to":"ghost","content":"hi"}`); rr.Code != http.StatusNotFound {
		t.Errorf("unknown recipient: expected 404, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/api/messages", `{"content":"all hands"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("broadcast: expected 202, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/api/messages?agent_id=c1&limit=10", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rr.Code)
	}
	if msgs := decode[[]comms.Message](t, rr); len(msgs) != 3 {
		t.Errorf("history = %d messages, want 3", len(msgs))
	}
}

func TestTeams(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/teams", "")
	teams := decode[[]agent.TeamInfo](t, rr)
	if len(teams) != 1 || teams[0].ID != "crew" || len(teams[0].Members) != 1 {
		t.Fatalf("teams = %+v, want crew with one member", teams)
	}
	if rr := f.do(t, http.MethodGet, "/api/teams/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown team: expected 404, got %d", rr.Code)
	}
}

func TestStartMission_Wait(t *testing.T) {
	f := newFixture(t)

	body := `{"name":"Tidy up","tasks":[{"type":"cleanup","description":"one"},{"type":"cleanup","description":"two"}]}`
	rr := f.do(t, http.MethodPost, "/api/teams/crew/missions?wait=true", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("mission: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	m := decode[agent.Mission](t, rr)
	if m.Status != agent.MissionCompleted {
		t.Errorf("status = %q, want completed", m.Status)
	}
	if len(m.Results) != 2 {
		t.Errorf("results = %d, want 2", len(m.Results))
	}

	info := decode[agent.TeamInfo](t, f.do(t, http.MethodGet, "/api/teams/crew", ""))
	if len(info.Missions) != 1 || info.Missions[0].Name != "Tidy up" {
		t.Errorf("missions = %+v, want [Tidy up]", info.Missions)
	}
}

func TestStartMission_AsyncAndCancel(t *testing.T) {
	f := newFixture(t)
	team, _ := f.teams.Team("crew")

	rr := f.do(t, http.MethodPost, "/api/teams/crew/missions", `{"tasks":[{"type":"cleanup","description":"hold"}]}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("mission: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	waitFor(t, func() bool { _, ok := team.CurrentMission(); return ok })

	if rr := f.do(t, http.MethodPost, "/api/teams/crew/missions", `{"kind":"diagnostics"}`); rr.Code != http.StatusConflict {
		t.Errorf("second mission: expected 409, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodDelete, "/api/teams/crew/missions/current", ""); rr.Code != http.StatusNoContent {
		t.Errorf("cancel: expected 204, got %d", rr.Code)
	}
	waitFor(t, func() bool { _, ok := team.CurrentMission(); return !ok })

	missions := team.Missions()
	if len(missions) != 1 || missions[0].Status != agent.MissionCancelled {
		t.Errorf("missions = %+v, want one cancelled", missions)
	}
	if rr := f.do(t, http.MethodDelete, "/api/teams/crew/missions/current", ""); rr.Code != http.StatusNotFound {
		t.Errorf("cancel idle team: expected 404, got %d", rr.Code)
	}
}

func TestStartMission_BadRequest(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`{}`, `{"kind":"vacation"}`, `{"tasks":[{"description":"untyped"}]}`} {
		if rr := f.do(t, http.MethodPost, "/api/teams/crew/missions", body); rr.Code != http.StatusBadRequest {
			t.Errorf("POST %s: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestStatusAndSummary(t *testing.T) {
	f := newFixture(t)

	st := decode[api.Status](t, f.do(t, http.MethodGet, "/api/status", ""))
	if st.Status != "ok" || st.Version != "test" {
		t.Errorf("status = %+v", st)
	}
	if st.Stats == nil || st.Stats.Agents != 1 {
		t.Errorf("stats = %+v, want 1 agent", st.Stats)
	}

	rr := f.do(t, http.MethodGet, "/api/summary", "")
	if !strings.Contains(rr.Body.String(), "Cleaner c1 (c1)") {
		t.Errorf("summary = %q", rr.Body.String())
	}
}

func TestTeamRegistry(t *testing.T) {
	r := api.NewTeamRegistry(agent.NewTeam("A", agent.WithTeamID("a")))
	if err := r.Add(agent.NewTeam("B", agent.WithTeamID("b"))); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(agent.NewTeam("A again", agent.WithTeamID("a"))); err == nil {
		t.Error("expected duplicate id error")
	}
	teams := r.Teams()
	if len(teams) != 2 || teams[0].ID() != "a" || teams[1].ID() != "b" {
		t.Errorf("Teams() order wrong")
	}
	if n := r.CancelMissions(); n != 0 {
		t.Errorf("CancelMissions = %d, want 0", n)
	}
}
