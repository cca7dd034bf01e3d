// Package stream translates the raw events of a running turn into the
// external streaming protocol and writes them as server-sent events.
//
// The protocol has a small, fixed vocabulary:
//
//	checkpoint      {"type":"checkpoint","checkpoint_id":"..."}   new conversations, always first
//	content         {"type":"content","content":"..."}            model text fragments, in order
//	search_start    {"type":"search_start","query":"..."}
//	search_results  {"type":"search_results","urls":"[\"...\"]"}
//	error           {"type":"error","message":"..."}              failed turns
//	end             {"type":"end"}                                always last, exactly once
//
// Non-search tool completions produce nothing by default. They can be mapped
// through Options.ToolEnd, or reported generically with Options.EmitToolEnd.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/vaagent/core"
	"github.com/hupe1980/vaagent/tool/search"
)

// ToolEndFunc maps the raw tool_end event of one tool to external events.
type ToolEndFunc func(ev core.Event) []Event

// Options configures a Translator.
type Options struct {
	// SearchTool names the tool whose calls produce search_start and
	// search_results events.
	SearchTool string

	// ToolEnd maps tool_end events of other tools by tool name.
	ToolEnd map[string]ToolEndFunc

	// EmitToolEnd reports a tool_end{tool} event for tools without a mapping.
	EmitToolEnd bool

	// ErrorMessage renders the error event text. Defaults to err.Error().
	ErrorMessage func(err error) string
}

// Translator converts raw engine events into protocol events. A Translator
// holds only configuration and can serve any number of turns concurrently.
type Translator struct {
	opts Options
}

// NewTranslator creates a translator for the default search tool.
func NewTranslator(optFns ...func(o *Options)) *Translator {
	opts := Options{
		SearchTool: search.ToolName,
		ErrorMessage: func(err error) string {
			if err == nil {
				return "unknown error"
			}
			return err.Error()
		},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Translator{opts: opts}
}

// Translate consumes raw until it is closed and returns the protocol events.
// The returned channel always ends with exactly one end event. If ctx is
// cancelled, output stops and raw is drained in the background so the
// producer never blocks.
func (t *Translator) Translate(ctx context.Context, raw <-chan core.Event) <-chan Event {
	out := make(chan Event, 16)

	go func() {
		defer close(out)

		s := t.NewSession()

		send := func(evs []Event) bool {
			for _, ev := range evs {
				if ctx.Err() != nil {
					return false
				}

				select {
				case <-ctx.Done():
					return false
				case out <- ev:
				}
			}
			return true
		}

		for ev := range raw {
			if !send(s.Process(ev)) {
				go func() {
					for range raw {
					}
				}()

				return
			}
		}

		send(s.Close())
	}()

	return out
}

// NewSession returns the translation state for one turn.
func (t *Translator) NewSession() *Session {
	return &Session{opts: t.opts, calls: make(map[string]core.ToolCall), ready: make(map[string]Event)}
}

// Session translates the events of one turn. Search starts and results are
// kept strictly paired: at most one search is open at a time and results
// that complete out of order are held back until their start was emitted.
type Session struct {
	opts Options

	pending []core.ToolCall
	open    string
	calls   map[string]core.ToolCall
	ready   map[string]Event
	ended   bool
}

// Process translates one raw event.
func (s *Session) Process(ev core.Event) []Event {
	if s.ended {
		return nil
	}

	switch ev.Kind {
	case core.EventThreadCreated:
		return []Event{Checkpoint(ev.ThreadID)}

	case core.EventModelDelta:
		if ev.Delta == "" {
			return nil
		}
		return []Event{Content(ev.Delta)}

	case core.EventModelEnd:
		if ev.Message == nil {
			return nil
		}
		for _, call := range ev.Message.ToolCalls {
			if call.Name == s.opts.SearchTool {
				s.track(call)
			}
		}
		return s.flush()

	case core.EventToolEnd:
		if ev.Call == nil {
			return nil
		}
		if ev.Call.Name == s.opts.SearchTool {
			if _, known := s.calls[ev.Call.ID]; !known {
				s.track(*ev.Call)
			}
			s.ready[ev.Call.ID] = SearchResults(ExtractURLs(ev.Result))
			return s.flush()
		}
		return s.toolEnd(ev)

	case core.EventError:
		return append(s.abandon(), Error(s.opts.ErrorMessage(ev.Err)))
	}

	return nil
}

// Close returns the terminal events. Calling it again returns nothing.
func (s *Session) Close() []Event {
	if s.ended {
		return nil
	}

	s.ended = true

	return append(s.abandon(), End())
}

func (s *Session) track(call core.ToolCall) {
	s.calls[call.ID] = call
	s.pending = append(s.pending, call)
}

func (s *Session) flush() []Event {
	var out []Event

	for {
		if s.open != "" {
			res, ok := s.ready[s.open]
			if !ok {
				return out
			}

			out = append(out, res)
			delete(s.ready, s.open)
			s.open = ""

			continue
		}

		if len(s.pending) == 0 {
			return out
		}

		call := s.pending[0]
		s.pending = s.pending[1:]
		s.open = call.ID

		out = append(out, SearchStart(call.StringArg("query")))
	}
}

// abandon pairs every search that will never complete with empty results.
func (s *Session) abandon() []Event {
	out := s.flush()

	for s.open != "" {
		s.ready[s.open] = SearchResults([]string{})
		out = append(out, s.flush()...)
	}

	clear(s.ready)

	return out
}

func (s *Session) toolEnd(ev core.Event) []Event {
	if fn, ok := s.opts.ToolEnd[ev.Call.Name]; ok {
		return fn(ev)
	}

	if s.opts.EmitToolEnd {
		return []Event{ToolEnd(ev.Call.Name)}
	}

	return nil
}

// ExtractURLs returns the url of every search result entry in order. The
// result may be an object with a results array or the array itself; entries
// without a url are dropped.
func ExtractURLs(result any) []string {
	var data []byte

	switch v := result.(type) {
	case nil:
		return []string{}
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return []string{}
		}
		data = b
	}

	doc := gjson.ParseBytes(data)

	path := "results.#.url"
	if doc.IsArray() {
		path = "#.url"
	}

	urls := []string{}

	for _, u := range doc.Get(path).Array() {
		if u.Type == gjson.String && u.Str != "" {
			urls = append(urls, u.Str)
		}
	}

	return urls
}

// String implements fmt.Stringer for logging.
func (e Event) String() string {
	b, err := e.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("stream.Event{Type:%s}", e.Type)
	}

	return string(b)
}
