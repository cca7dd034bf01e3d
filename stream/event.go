package stream

import (
	"encoding/json"
	"fmt"
)

// Type is the discriminator of an external event.
type Type string

const (
	TypeCheckpoint    Type = "checkpoint"
	TypeContent       Type = "content"
	TypeSearchStart   Type = "search_start"
	TypeSearchResults Type = "search_results"
	TypeToolEnd       Type = "tool_end"
	TypeError         Type = "error"
	TypeEnd           Type = "end"
)

// Event is one message of the external streaming protocol. Only the fields
// belonging to Type are encoded.
type Event struct {
	Type         Type
	CheckpointID string
	Content      string
	Query        string
	URLs         []string
	Tool         string
	Message      string
}

// Checkpoint announces the id of a new conversation.
func Checkpoint(id string) Event { return Event{Type: TypeCheckpoint, CheckpointID: id} }

// Content carries one text fragment.
func Content(text string) Event { return Event{Type: TypeContent, Content: text} }

// SearchStart announces a web search.
func SearchStart(query string) Event { return Event{Type: TypeSearchStart, Query: query} }

// SearchResults lists the urls a web search returned.
func SearchResults(urls []string) Event {
	if urls == nil {
		urls = []string{}
	}

	return Event{Type: TypeSearchResults, URLs: urls}
}

// ToolEnd reports a completed non-search tool call.
func ToolEnd(tool string) Event { return Event{Type: TypeToolEnd, Tool: tool} }

// Error reports the failure of a turn.
func Error(message string) Event { return Event{Type: TypeError, Message: message} }

// End terminates every stream.
func End() Event { return Event{Type: TypeEnd} }

type wireEvent struct {
	Type         Type   `json:"type"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
	Content      string `json:"content,omitempty"`
	Query        string `json:"query,omitempty"`
	URLs         string `json:"urls,omitempty"`
	Tool         string `json:"tool,omitempty"`
	Message      string `json:"message,omitempty"`
}

// MarshalJSON encodes the event as {"type": ..., fields}. The url list of
// search_results is itself JSON encoded and nested as a string.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{Type: e.Type}

	switch e.Type {
	case TypeCheckpoint:
		w.CheckpointID = e.CheckpointID
	case TypeContent:
		w.Content = e.Content
	case TypeSearchStart:
		w.Query = e.Query
	case TypeSearchResults:
		urls := e.URLs
		if urls == nil {
			urls = []string{}
		}

		b, err := json.Marshal(urls)
		if err != nil {
			return nil, err
		}

		w.URLs = string(b)
	case TypeToolEnd:
		w.Tool = e.Tool
	case TypeError:
		w.Message = e.Message
	case TypeEnd:
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = Event{
		Type:         w.Type,
		CheckpointID: w.CheckpointID,
		Content:      w.Content,
		Query:        w.Query,
		Tool:         w.Tool,
		Message:      w.Message,
	}

	if w.Type == TypeSearchResults {
		e.URLs = []string{}

		if w.URLs != "" {
			if err := json.Unmarshal([]byte(w.URLs), &e.URLs); err != nil {
				return fmt.Errorf("decode urls: %w", err)
			}
		}
	}

	return nil
}
