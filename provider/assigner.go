package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/taskforce/agent"
	"github.com/GoCodeAlone/taskforce/task"
)

// ErrNoRecommendation is returned when a reply names none of the candidates.
var ErrNoRecommendation = errors.New("reply names no candidate")

const assignSystemPrompt = `You assign tasks to agents in a task orchestration system.
Pick the single best agent for the task from the roster.
Reply with the agent's name only, with no explanation.`

// ChatAssigner asks a Provider which agent should take a task. It
// implements agent.Assigner.
type ChatAssigner struct {
	provider Provider
}

var _ agent.Assigner = (*ChatAssigner)(nil)

func NewChatAssigner(p Provider) *ChatAssigner { return &ChatAssigner{provider: p} }

// Recommend returns the id of the candidate named in the provider's reply.
func (a *ChatAssigner) Recommend(ctx context.Context, t *task.Task, roster []agent.Candidate) (string, error) {
	if len(roster) == 0 {
		return "", ErrNoRecommendation
	}
	resp, err := a.provider.Chat(ctx, []Message{
		{Role: RoleSystem, Content: assignSystemPrompt},
		{Role: RoleUser, Content: describe(t, roster)},
	})
	if err != nil {
		return "", fmt.Errorf("%s: recommend agent: %w", a.provider.Name(), err)
	}
	id, ok := MatchCandidate(resp.Content, roster)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoRecommendation, resp.Content)
	}
	return id, nil
}

func describe(t *task.Task, roster []agent.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.Description())
	fmt.Fprintf(&b, "Type: %s\n", t.Type())
	fmt.Fprintf(&b, "Priority: %s\n", t.Priority())
	if caps := t.RequiredCapabilities(); len(caps) > 0 {
		names := make([]string, len(caps))
		for i, c := range caps {
			names[i] = string(c)
		}
		fmt.Fprintf(&b, "Required capabilities: %s\n", strings.Join(names, ", "))
	}
	b.WriteString("\nAgents:\n")
	for _, c := range roster {
		fmt.Fprintf(&b, "- %s (status: %s)\n", c.Name, c.Status)
		for _, s := range c.Skills {
			fmt.Fprintf(&b, "    %s [%s, %s]\n", s.Name, s.Category, s.Proficiency)
		}
	}
	return b.String()
}

// MatchCandidate finds the candidate a free-text reply refers to. It tries
// an exact name or id, then a case-insensitive match, then the longest name
// or id contained in the reply.
func MatchCandidate(reply string, roster []agent.Candidate) (string, bool) {
	reply = strings.Trim(strings.TrimSpace(reply), "\"'`.*")
	if reply == "" {
		return "", false
	}
	for _, c := range roster {
		if c.Name == reply || c.ID == reply {
			return c.ID, true
		}
	}
	for _, c := range roster {
		if strings.EqualFold(c.Name, reply) || strings.EqualFold(c.ID, reply) {
			return c.ID, true
		}
	}

	lower := strings.ToLower(reply)
	var best string
	var bestLen int
	for _, c := range roster {
		for _, key := range []string{c.Name, c.ID} {
			if key != "" && len(key) > bestLen && strings.Contains(lower, strings.ToLower(key)) {
				best, bestLen = c.ID, len(key)
			}
		}
	}
	return best, best != ""
}
