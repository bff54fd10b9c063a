package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/GoCodeAlone/taskforce/task"
)

func TestCapabilities(t *testing.T) {
	a := readyAgent(t, "a",
		skill("c1", task.CapabilityCleanup, ProficiencyNovice),
		skill("d", task.CapabilityDiagnostics, ProficiencyNovice),
		skill("c2", task.CapabilityCleanup, ProficiencyExpert),
	)
	caps := Capabilities(a)
	if len(caps) != 2 || caps[0] != task.CapabilityCleanup || caps[1] != task.CapabilityDiagnostics {
		t.Errorf("Capabilities = %v", caps)
	}
	if !HasCapability(a, task.CapabilityDiagnostics) || HasCapability(a, task.CapabilityMonitoring) {
		t.Error("HasCapability mismatch")
	}
}

func TestEligible(t *testing.T) {
	cleaner := readyAgent(t, "cleaner", skill("c", task.CapabilityCleanup, ProficiencyAdvanced))
	tk := newTask(task.TypeCleanup, task.CapabilityCleanup)

	if p, ok := Eligible(cleaner, tk, nil); !ok || p != ProficiencyAdvanced {
		t.Errorf("Eligible = %v, %v; want advanced, true", p, ok)
	}
	if _, ok := Eligible(cleaner, tk, map[string]bool{"cleaner": true}); ok {
		t.Error("busy agent must not be eligible")
	}
	if _, ok := Eligible(cleaner, newTask(task.TypeCleanup, task.CapabilityCleanup, task.CapabilityAnalysis), nil); ok {
		t.Error("agent missing a required capability must not be eligible")
	}
	if _, ok := Eligible(cleaner, newTask(task.TypeDiagnostics), nil); ok {
		t.Error("agent with no skill that can handle the task must not be eligible")
	}

	uninit := New(Config{ID: "u"})
	if _, ok := Eligible(uninit, tk, nil); ok {
		t.Error("uninitialized agent must not be eligible")
	}
	cleaner.Shutdown(context.Background())
	if _, ok := Eligible(cleaner, tk, nil); ok {
		t.Error("shut down agent must not be eligible")
	}
}

func TestSelectAgent(t *testing.T) {
	novice := readyAgent(t, "novice", skill("c", task.CapabilityCleanup, ProficiencyNovice))
	expertA := readyAgent(t, "expert-a", skill("c", task.CapabilityCleanup, ProficiencyExpert))
	expertB := readyAgent(t, "expert-b", skill("c", task.CapabilityCleanup, ProficiencyExpert))
	agents := []Agent{novice, expertA, expertB}
	tk := newTask(task.TypeCleanup)

	got, ok := SelectAgent(agents, tk, nil)
	if !ok || got.ID() != "expert-a" {
		t.Errorf("SelectAgent = %v, want expert-a (first of tied best)", got)
	}
	got, _ = SelectAgent(agents, tk, map[string]bool{"expert-a": true})
	if got.ID() != "expert-b" {
		t.Errorf("SelectAgent with expert-a busy = %s, want expert-b", got.ID())
	}
	if _, ok := SelectAgent(agents, newTask(task.TypeAnalysis, "nonexistent"), nil); ok {
		t.Error("expected no agent for unknown capability")
	}
}

func TestAssign(t *testing.T) {
	a := readyAgent(t, "a", skill("c", task.CapabilityCleanup, ProficiencyExpert))
	b := readyAgent(t, "b", skill("c", task.CapabilityCleanup, ProficiencyNovice))
	d := readyAgent(t, "d", skill("d", task.CapabilityDiagnostics, ProficiencyExpert))
	agents := []Agent{a, b, d}
	tk := newTask(task.TypeCleanup)
	ctx := context.Background()

	recommend := func(id string, err error) Assigner {
		return AssignerFunc(func(_ context.Context, _ *task.Task, roster []Candidate) (string, error) {
			if len(roster) != 3 {
				t.Errorf("roster len = %d, want 3", len(roster))
			}
			return id, err
		})
	}

	tests := []struct {
		name         string
		assigner     Assigner
		wantID       string
		wantStrategy Strategy
	}{
		{"no assigner", nil, "a", StrategyRule},
		{"accepted", recommend("b", nil), "b", StrategyAssigner},
		{"error falls back", recommend("", errors.New("offline")), "a", StrategyRule},
		{"unknown falls back", recommend("ghost", nil), "a", StrategyRule},
		{"ineligible falls back", recommend("d", nil), "a", StrategyRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, strategy := Assign(ctx, tt.assigner, agents, tk, nil, nil)
			if got == nil || got.ID() != tt.wantID {
				t.Fatalf("Assign = %v, want %s", got, tt.wantID)
			}
			if strategy != tt.wantStrategy {
				t.Errorf("strategy = %q, want %q", strategy, tt.wantStrategy)
			}
		})
	}
}

func TestAssign_SkipsAssignerWithoutChoice(t *testing.T) {
	a := readyAgent(t, "a", skill("c", task.CapabilityCleanup, ProficiencyExpert))
	calls := 0
	assigner := AssignerFunc(func(context.Context, *task.Task, []Candidate) (string, error) {
		calls++
		return "a", nil
	})

	got, _ := Assign(context.Background(), assigner, []Agent{a}, newTask(task.TypeCleanup), nil, nil)
	if got == nil || got.ID() != "a" {
		t.Fatalf("Assign = %v, want a", got)
	}
	if got, _ := Assign(context.Background(), assigner, []Agent{a}, newTask(task.TypeMonitoring), nil, nil); got != nil {
		t.Errorf("Assign = %v, want nil", got)
	}
	if calls != 0 {
		t.Errorf("assigner called %d times, want 0", calls)
	}
}
