package provider

import (
	"context"
	"sync"
)

// Mock is a scripted provider for tests and dry runs. Responses are consumed
// in order; when the script runs out the last entry repeats.
type Mock struct {
	mu        sync.Mutex
	name      string
	script    []MockReply
	callIndex int
	Requests  []Request
}

// MockReply is one scripted outcome: either a response or an error.
type MockReply struct {
	Text string
	Cost float64
	Err  error
}

func NewMock(name string, script ...MockReply) *Mock {
	return &Mock{name: name, script: script}
}

func (m *Mock) Name() string { return m.name }

func (m *Mock) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if len(m.script) == 0 {
		return &Response{Text: "mock output", TokensIn: 10, TokensOut: 10}, nil
	}

	idx := m.callIndex
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	m.callIndex++

	reply := m.script[idx]
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &Response{
		Text:      reply.Text,
		TokensIn:  len(req.Prompt) / 4,
		TokensOut: len(reply.Text) / 4,
		Cost:      reply.Cost,
	}, nil
}

// Calls returns how many times Generate was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIndex
}
