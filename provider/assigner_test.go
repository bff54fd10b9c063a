package provider_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/GoCodeAlone/taskforce/agent"
	"github.com/GoCodeAlone/taskforce/provider"
	"github.com/GoCodeAlone/taskforce/provider/mock"
	"github.com/GoCodeAlone/taskforce/task"
)

var roster = []agent.Candidate{
	{ID: "a1", Name: "Cleaner", Status: agent.StatusReady, Skills: []agent.SkillInfo{{Name: "tidy", Category: task.CapabilityCleanup, Proficiency: agent.ProficiencyNovice}}},
	{ID: "a2", Name: "Deep Cleaner", Status: agent.StatusReady},
	{ID: "a3", Name: "Doctor", Status: agent.StatusBusy},
}

func TestMatchCandidate(t *testing.T) {
	tests := []struct {
		reply  string
		want   string
		wantOK bool
	}{
		{"Cleaner", "a1", true},
		{"a3", "a3", true},
		{"  \"doctor\". ", "a3", true},
		{"DEEP CLEANER", "a2", true},
		{"I would pick Deep Cleaner for this.", "a2", true},
		{"The doctor is best", "a3", true},
		{"nobody", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := provider.MatchCandidate(tt.reply, roster)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("MatchCandidate(%q) = %q, %v; want %q, %v", tt.reply, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestChatAssigner_Recommend(t *testing.T) {
	p := mock.New("Doctor")
	a := provider.NewChatAssigner(p)
	tk := task.New(task.Spec{
		Type:                 task.TypeDiagnostics,
		Priority:             task.PriorityHigh,
		Description:          "check the disks",
		RequiredCapabilities: []task.Capability{task.CapabilityDiagnostics},
	})

	id, err := a.Recommend(context.Background(), tk, roster)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if id != "a3" {
		t.Errorf("Recommend = %q, want a3", id)
	}

	calls := p.Calls()
	if len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("calls = %v, want one system+user conversation", calls)
	}
	prompt := calls[0][1].Content
	for _, want := range []string{"check the disks", "high", "diagnostics", "Deep Cleaner", "tidy [cleanup, novice]"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestChatAssigner_Errors(t *testing.T) {
	tk := task.New(task.Spec{Type: task.TypeCleanup})

	_, err := provider.NewChatAssigner(mock.New("someone else")).Recommend(context.Background(), tk, roster)
	if !errors.Is(err, provider.ErrNoRecommendation) {
		t.Errorf("unmatched reply err = %v, want ErrNoRecommendation", err)
	}

	down := errors.New("provider down")
	_, err = provider.NewChatAssigner(mock.Failing(down)).Recommend(context.Background(), tk, roster)
	if !errors.Is(err, down) {
		t.Errorf("provider failure err = %v, want %v", err, down)
	}

	_, err = provider.NewChatAssigner(mock.New("Cleaner")).Recommend(context.Background(), tk, nil)
	if !errors.Is(err, provider.ErrNoRecommendation) {
		t.Errorf("empty roster err = %v, want ErrNoRecommendation", err)
	}
}
