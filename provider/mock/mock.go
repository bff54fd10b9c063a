// Package mock provides a scripted AI provider for testing.
package mock

import (
	"context"
	"sync"

	"github.com/GoCodeAlone/taskforce/provider"
)

const defaultResponse = "No recommendation."

// Provider implements provider.Provider with scripted replies. It records
// every conversation it receives.
type Provider struct {
	mu        sync.Mutex
	responses []string
	err       error
	idx       int
	calls     [][]provider.Message
}

// New creates a Provider that cycles through the given responses.
func New(responses ...string) *Provider {
	return &Provider{responses: responses}
}

// Failing creates a Provider whose every call returns err.
func Failing(err error) *Provider {
	return &Provider{err: err}
}

func (m *Provider) Name() string { return "mock" }

// Chat returns the next scripted response, cycling through the queue.
func (m *Provider) Chat(_ context.Context, messages []provider.Message) (*provider.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]provider.Message(nil), messages...))
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &provider.Response{Content: defaultResponse}, nil
	}
	resp := m.responses[m.idx%len(m.responses)]
	m.idx++
	return &provider.Response{Content: resp, Usage: provider.Usage{OutputTokens: len(resp)}}, nil
}

// Calls returns the conversations received so far.
func (m *Provider) Calls() [][]provider.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]provider.Message(nil), m.calls...)
}
