// Package cli renders chat event streams for terminal consumption.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kotae/internal/models"
)

// OutputFormat is the format for answer output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON emits one JSON event per line for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteEvents consumes a chat event stream and renders it to w. In text
// format the sources are listed first, then answer tokens are written as
// they arrive. The returned error is non-nil when the stream ends with an
// error event.
func WriteEvents(w io.Writer, events <-chan models.Event, format OutputFormat, showSources bool) error {
	if format == OutputJSON {
		return writeEventsJSON(w, events)
	}
	return writeEventsText(w, events, showSources)
}

func writeEventsJSON(w io.Writer, events <-chan models.Event) error {
	enc := json.NewEncoder(w)
	var streamErr error
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if ev.Type == models.EventError {
			streamErr = fmt.Errorf("error: %s", ev.Message)
		}
	}
	return streamErr
}

func writeEventsText(w io.Writer, events <-chan models.Event, showSources bool) error {
	for ev := range events {
		switch ev.Type {
		case models.EventSources:
			if showSources {
				WriteSources(w, ev.Sources)
			}
		case models.EventToken:
			fmt.Fprint(w, ev.Content)
		case models.EventDone:
			fmt.Fprintln(w)
		case models.EventError:
			fmt.Fprintln(w)
			return fmt.Errorf("error: %s", ev.Message)
		}
	}
	return nil
}

// WriteSources lists retrieved sources with their provenance.
func WriteSources(w io.Writer, sources []models.Source) {
	fmt.Fprintln(w, "Sources:")
	for i, src := range sources {
		fmt.Fprintf(w, "  %d. %s (%s, distance %.4f)\n", i+1, src.Title, src.URL, src.Distance)
	}
	fmt.Fprintln(w)
}
