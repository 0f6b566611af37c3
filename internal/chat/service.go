// Package chat orchestrates one question: retrieve chunks, emit sources,
// then stream the generated answer as typed events.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

// ErrEmptyQuery is returned for a blank query before any retrieval or
// provider call happens.
var ErrEmptyQuery = errors.New("query cannot be empty")

// DefaultSnippetChars bounds the snippet shown per source in the sources
// event.
const DefaultSnippetChars = 250

// Retriever is the slice of the search layer the chat service needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error)
}

// Service answers questions over the indexed corpus. Each request owns an
// independent event stream; requests share no mutable state, so any number
// may run concurrently.
type Service struct {
	retriever    Retriever
	generator    generation.Generator
	snippetChars int
	defaultTopK  int
	buffer       int
	logger       *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger for per-request debug output.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithSnippetChars bounds the per-source snippet length.
func WithSnippetChars(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.snippetChars = n
		}
	}
}

// WithDefaultTopK sets the result count used when a request leaves TopK
// unset.
func WithDefaultTopK(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.defaultTopK = n
		}
	}
}

// NewService creates a chat service over the given retriever and generator.
func NewService(r Retriever, g generation.Generator, opts ...ServiceOption) *Service {
	s := &Service{
		retriever:    r,
		generator:    g,
		snippetChars: DefaultSnippetChars,
		defaultTopK:  models.DefaultTopK,
		buffer:       32,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask validates the request and starts answering it. The returned channel
// delivers one sources event, then token events as the provider produces
// them, and is closed after a single terminal done or error event. An empty
// query fails immediately with ErrEmptyQuery and opens no stream.
//
// Cancelling ctx stops the stream promptly: the provider connection is
// released and no further events are sent.
func (s *Service) Ask(ctx context.Context, req *models.ChatRequest) (<-chan models.Event, error) {
	if req.TopK <= 0 {
		req.TopK = s.defaultTopK
	}
	if err := req.Validate(); err != nil {
		return nil, ErrEmptyQuery
	}
	events := make(chan models.Event, s.buffer)
	go s.run(ctx, req, events)
	return events, nil
}

func (s *Service) run(ctx context.Context, req *models.ChatRequest, events chan<- models.Event) {
	defer close(events)

	results, err := s.retriever.Retrieve(ctx, req.Query, req.TopK)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("retrieval failed", zap.String("query", req.Query), zap.Error(err))
		}
		s.emit(ctx, events, models.ErrorEvent(err.Error()))
		return
	}
	if len(results) == 0 {
		s.emit(ctx, events, models.ErrorEvent("no documents found"))
		return
	}

	sources := make([]models.Source, len(results))
	for i, res := range results {
		sources[i] = models.Source{
			Title:    res.Meta.Title,
			URL:      res.Meta.URL,
			Snippet:  utils.Truncate(res.Meta.Text, s.snippetChars),
			Distance: res.Distance,
			Position: res.Meta.Position,
		}
	}
	if !s.emit(ctx, events, models.SourcesEvent(sources)) {
		return
	}

	stream, err := s.generator.GenerateStream(ctx, BuildPrompt(req.Query, results))
	if err != nil {
		if s.logger != nil {
			s.logger.Error("generation failed to start", zap.Error(err))
		}
		s.emit(ctx, events, models.ErrorEvent(err.Error()))
		return
	}
	defer stream.Close()

	for {
		frag, err := stream.Recv()
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				// Client gone; stop without further events.
				return
			case errors.Is(err, io.EOF):
				s.emit(ctx, events, models.DoneEvent())
				return
			default:
				if s.logger != nil {
					s.logger.Error("generation stream failed", zap.Error(err))
				}
				s.emit(ctx, events, models.ErrorEvent(err.Error()))
				return
			}
		}
		if !s.emit(ctx, events, models.TokenEvent(frag)) {
			return
		}
	}
}

// emit delivers ev unless the request context ends first. It reports
// whether the event was sent.
func (s *Service) emit(ctx context.Context, events chan<- models.Event, ev models.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// BuildPrompt concatenates all retrieved chunk texts, each labeled with its
// source index and title, followed by the question. It prefers the full
// stored text over the length-bounded result view, so long chunks reach the
// model uncut.
func BuildPrompt(query string, results []models.RetrievalResult) string {
	blocks := make([]string, len(results))
	for i, res := range results {
		text := res.FullText
		if text == "" {
			text = res.Meta.Text
		}
		blocks[i] = fmt.Sprintf("Source %d - %s:\n%s", i+1, res.Meta.Title, text)
	}
	passages := strings.Join(blocks, "\n\n---\n\n")
	return fmt.Sprintf(
		"You are a helpful assistant. Use this context to answer:\n\n%s\n\nQuestion: %s\n\nAnswer:",
		passages, query)
}
