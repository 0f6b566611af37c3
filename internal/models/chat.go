package models

import (
	"fmt"
	"strings"
)

// DefaultTopK is the number of chunks retrieved when a request does not
// specify top_k.
const DefaultTopK = 5

// ChatRequest is a question to answer over the indexed corpus.
type ChatRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// Validate trims the query, rejects empty requests, and applies the top_k
// default. An empty query is a client error; nothing further runs for it.
func (r *ChatRequest) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if r.TopK <= 0 {
		r.TopK = DefaultTopK
	}
	return nil
}

// Event types pushed over a chat stream, in protocol order: one sources
// event, zero or more token events, then exactly one done or error event.
const (
	EventSources = "sources"
	EventToken   = "token"
	EventDone    = "done"
	EventError   = "error"
)

// Source is one retrieved chunk as shown to the client before generation
// begins: provenance plus a truncated snippet.
type Source struct {
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Snippet  string  `json:"snippet"`
	Distance float64 `json:"distance"`
	Position int     `json:"position"`
}

// Event is one typed message on a chat stream.
type Event struct {
	Type    string   `json:"type"`
	Sources []Source `json:"sources,omitempty"`
	Content string   `json:"content,omitempty"`
	Message string   `json:"message,omitempty"`
}

// SourcesEvent lists all retrieved sources, emitted before any generation.
func SourcesEvent(sources []Source) Event {
	return Event{Type: EventSources, Sources: sources}
}

// TokenEvent carries one generated text fragment.
func TokenEvent(content string) Event {
	return Event{Type: EventToken, Content: content}
}

// DoneEvent terminates a successful stream. It carries no payload.
func DoneEvent() Event {
	return Event{Type: EventDone}
}

// ErrorEvent terminates a failed stream with a client-visible message.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}
