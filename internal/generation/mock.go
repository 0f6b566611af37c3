package generation

import (
	"context"
	"io"
	"sync"
)

// MockGenerator replays scripted fragments for tests. When Err is set, the
// stream yields it after the fragments instead of io.EOF, simulating a
// provider failing mid-stream.
type MockGenerator struct {
	Fragments []string
	Err       error

	mu      sync.Mutex
	prompts []string
}

// GenerateStream records the prompt and returns a stream over the scripted
// fragments.
func (g *MockGenerator) GenerateStream(ctx context.Context, prompt string) (Stream, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	return &mockStream{fragments: g.Fragments, err: g.Err, ctx: ctx}, nil
}

// Model returns a fixed identifier for the mock.
func (g *MockGenerator) Model() string {
	return "mock-generator"
}

// Prompts returns every prompt passed to GenerateStream.
func (g *MockGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type mockStream struct {
	fragments []string
	err       error
	ctx       context.Context
	pos       int
	closed    bool
}

func (s *mockStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.closed {
		return "", io.EOF
	}
	if s.pos < len(s.fragments) {
		frag := s.fragments[s.pos]
		s.pos++
		return frag, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}
