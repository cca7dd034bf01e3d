package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ContentType is the media type of the event stream.
const ContentType = "text/event-stream"

// SetHeaders prepares h for a server-sent event response.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer frames events as `data: <json>\n\n` and flushes after each one.
type Writer struct {
	w     io.Writer
	flush func()
}

// NewWriter wraps w. If w is an http.Flusher every event is flushed.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w, flush: func() {}}

	if f, ok := w.(http.Flusher); ok {
		sw.flush = f.Flush
	}

	return sw
}

// WriteEvent writes one event.
func (w *Writer) WriteEvent(ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}

	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", b); err != nil {
		return err
	}

	w.flush()

	return nil
}

// WriteAll writes events until the channel closes, ctx ends or a write fails.
func (w *Writer) WriteAll(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			if err := w.WriteEvent(ev); err != nil {
				return err
			}
		}
	}
}
